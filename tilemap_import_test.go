package rubble

import (
	"strings"
	"testing"
)

const validMapDoc = `{
  "width": 2, "height": 2, "tile_width": 32, "tile_height": 32,
  "tilesets": [{
    "first_gid": 1,
    "tiles": [
      {"id": 0, "properties": [
        {"name": "mesh_path", "value": "tiles/grass.obj"},
        {"name": "height", "value": 1.0},
        {"name": "collision_type", "value": "box"},
        {"name": "material_id", "value": 1},
        {"name": "walkable", "value": true},
        {"name": "blocks_sight", "value": false}
      ]}
    ]
  }],
  "layers": [
    {"name": "ground", "type": "tilelayer", "data": [1, 0, 1, 1]},
    {"name": "objects", "type": "objectgroup", "objects": [
      {"id": 1, "name": "player", "type": "spawn_point", "x": 16, "y": 16},
      {"id": 2, "name": "lamp", "type": "light", "x": 40, "y": 8},
      {"id": 3, "name": "door_zone", "type": "trigger", "x": 0, "y": 0, "width": 32, "height": 32},
      {"id": 4, "name": "mystery", "type": "custom_marker", "x": 1, "y": 2}
    ]}
  ]
}`

func TestImportTileMap(t *testing.T) {
	w := NewTilemapWorld()
	result, err := w.ImportTileMap(strings.NewReader(validMapDoc), 100)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if result.TilesPlaced != 3 {
		t.Errorf("3 non-empty cells expected, placed %d", result.TilesPlaced)
	}
	if w.TileCount() != 3 {
		t.Errorf("world should hold 3 tiles, has %d", w.TileCount())
	}
	// GID 0 is the empty cell.
	if _, ok := w.Tile(TileCoord{1, 0, 0}); ok {
		t.Errorf("gid 0 cell must stay empty")
	}

	tile, ok := w.Tile(TileCoord{0, 0, 0})
	if !ok {
		t.Fatalf("cell (0,0) missing")
	}
	def, _ := w.Definition(tile.DefId)
	if def.MeshPath != "tiles/grass.obj" || def.Collision != CollisionBox || !def.Walkable {
		t.Errorf("definition properties lost: %+v", def)
	}

	if len(result.SpawnPoints) != 1 || result.SpawnPoints[0].Name != "player" {
		t.Errorf("spawn_point not recognized: %+v", result.SpawnPoints)
	}
	if len(result.Lights) != 1 || len(result.Triggers) != 1 {
		t.Errorf("light/trigger not recognized")
	}
	if len(result.Objects) != 1 || result.Objects[0].Type != "custom_marker" {
		t.Errorf("unknown object types must pass through unchanged: %+v", result.Objects)
	}
}

func TestImportAggregatesErrors(t *testing.T) {
	doc := `{
	  "width": 2, "height": 1, "tile_width": 32, "tile_height": 32,
	  "tilesets": [{
	    "first_gid": 1,
	    "tiles": [{"id": 0, "properties": []}]
	  }],
	  "layers": [
	    {"name": "ground", "type": "tilelayer", "data": [1, 9]},
	    {"name": "weird", "type": "imagelayer"}
	  ]
	}`
	w := NewTilemapWorld()
	_, err := w.ImportTileMap(strings.NewReader(doc), 1)
	if err == nil {
		t.Fatalf("expected aggregated errors")
	}
	ie, ok := err.(*ImportErrors)
	if !ok {
		t.Fatalf("expected *ImportErrors, got %T", err)
	}
	// Missing mesh_path, unknown gid 9, unknown layer type.
	if len(ie.Errors) != 3 {
		t.Errorf("expected 3 aggregated errors, got %d: %v", len(ie.Errors), ie.Errors)
	}
	if w.TileCount() != 0 {
		t.Errorf("failed import must not mutate the world")
	}
}

func TestImportInvalidJSON(t *testing.T) {
	w := NewTilemapWorld()
	if _, err := w.ImportTileMap(strings.NewReader("{nope"), 1); err == nil {
		t.Errorf("bad JSON must fail")
	}
}
