package rubble

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Import of externally-authored tile maps (the editor's 2D format). The
// grid is X/columns by rows; row r lands at Z = r, tiles land at ground
// level y=0.

type importedMap struct {
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	TileWidth  int               `json:"tile_width"`
	TileHeight int               `json:"tile_height"`
	Tilesets   []importedTileset `json:"tilesets"`
	Layers     []importedLayer   `json:"layers"`
}

type importedTileset struct {
	FirstGid int                `json:"first_gid"`
	Source   string             `json:"source,omitempty"`
	Tiles    []importedTilesetT `json:"tiles,omitempty"`
}

type importedTilesetT struct {
	Id         int                `json:"id"`
	Properties []importedProperty `json:"properties"`
}

type importedProperty struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type importedLayer struct {
	Name    string           `json:"name"`
	Type    string           `json:"type"` // "tilelayer" | "objectgroup"
	Data    []int            `json:"data,omitempty"`
	Objects []importedObject `json:"objects,omitempty"`
}

type importedObject struct {
	Id         int                `json:"id"`
	Name       string             `json:"name"`
	Type       string             `json:"type"`
	X          float32            `json:"x"`
	Y          float32            `json:"y"`
	Width      float32            `json:"width"`
	Height     float32            `json:"height"`
	Rotation   float32            `json:"rotation"`
	Properties []importedProperty `json:"properties,omitempty"`
}

// MapObject is an imported non-tile object. Recognized kinds get their own
// slices in ImportResult; everything else passes through untouched.
type MapObject struct {
	Id         int
	Name       string
	Type       string
	X, Y       float32
	Width      float32
	Height     float32
	Rotation   float32
	Properties map[string]any
}

type ImportResult struct {
	TilesPlaced int
	SpawnPoints []MapObject
	Lights      []MapObject
	Triggers    []MapObject
	Objects     []MapObject // unrecognized types, passed through
}

// ImportErrors aggregates every problem found in a document. The import is
// all-or-nothing: any error means no world mutation.
type ImportErrors struct {
	Errors []error
}

func (e *ImportErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("world import failed with %d error(s): %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *ImportErrors) add(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Errorf(format, args...))
}

// ImportTileMap parses and validates the document, then commits tiles and
// definitions into the world. Definition ids are allocated from nextDefId.
func (w *TilemapWorld) ImportTileMap(in io.Reader, nextDefId TileDefId) (*ImportResult, error) {
	var doc importedMap
	if err := json.NewDecoder(in).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode tile map: %w", err)
	}

	errs := &ImportErrors{}
	if doc.Width <= 0 || doc.Height <= 0 {
		errs.add("invalid map dimensions %dx%d", doc.Width, doc.Height)
	}
	if len(doc.Tilesets) == 0 {
		errs.add("map has no tilesets")
	}

	// Resolve gid -> staged definition. External tilesets (source set, no
	// inline tiles) cannot be resolved here and are an error if referenced.
	type stagedDef struct {
		def      TileDefinition
		resolved bool
	}
	gidDefs := make(map[int]*stagedDef)
	tilesets := append([]importedTileset(nil), doc.Tilesets...)
	sort.Slice(tilesets, func(i, j int) bool { return tilesets[i].FirstGid < tilesets[j].FirstGid })

	defId := nextDefId
	for tsIdx, ts := range tilesets {
		if ts.FirstGid <= 0 {
			errs.add("tileset %d: first_gid must be positive, got %d", tsIdx, ts.FirstGid)
			continue
		}
		for _, t := range ts.Tiles {
			gid := ts.FirstGid + t.Id
			props := propertyMap(t.Properties)
			def := TileDefinition{
				Id:           defId,
				Name:         fmt.Sprintf("import_%d", gid),
				HeightMeters: 1.0,
				Walkable:     true,
			}
			resolved := true
			if v, ok := props["mesh_path"].(string); ok {
				def.MeshPath = v
			} else {
				errs.add("tileset %d tile gid %d: missing mesh_path property", tsIdx, gid)
				resolved = false
			}
			if _, exists := w.Definition(defId); exists {
				errs.add("tileset %d tile gid %d: definition id %d already registered", tsIdx, gid, defId)
				resolved = false
			}
			if v, ok := asFloat(props["height"]); ok {
				def.HeightMeters = float32(v)
			}
			if v, ok := props["collision_type"].(string); ok {
				def.Collision = ParseCollisionKind(v)
			}
			if v, ok := asFloat(props["material_id"]); ok {
				def.MaterialId = MaterialId(int(v))
			}
			if v, ok := props["walkable"].(bool); ok {
				def.Walkable = v
			}
			if v, ok := props["blocks_sight"].(bool); ok {
				def.BlocksSight = v
			}
			gidDefs[gid] = &stagedDef{def: def, resolved: resolved}
			defId++
		}
	}

	result := &ImportResult{}
	type placement struct {
		gid   int
		coord TileCoord
	}
	var placements []placement

	for layerIdx, layer := range doc.Layers {
		switch layer.Type {
		case "tilelayer":
			if len(layer.Data) != doc.Width*doc.Height {
				errs.add("layer %d (%s): data length %d != %d*%d", layerIdx, layer.Name, len(layer.Data), doc.Width, doc.Height)
				continue
			}
			for i, gid := range layer.Data {
				if gid == 0 {
					continue // empty cell
				}
				staged, ok := gidDefs[gid]
				if !ok {
					errs.add("layer %d (%s): cell %d references unknown gid %d", layerIdx, layer.Name, i, gid)
					continue
				}
				if !staged.resolved {
					continue // error already recorded for the definition
				}
				col := i % doc.Width
				row := i / doc.Width
				placements = append(placements, placement{
					gid:   gid,
					coord: TileCoord{X: col, Y: 0, Z: row},
				})
			}
		case "objectgroup":
			for _, obj := range layer.Objects {
				mo := MapObject{
					Id: obj.Id, Name: obj.Name, Type: obj.Type,
					X: obj.X, Y: obj.Y, Width: obj.Width, Height: obj.Height,
					Rotation:   obj.Rotation,
					Properties: propertyMap(obj.Properties),
				}
				switch obj.Type {
				case "spawn_point":
					result.SpawnPoints = append(result.SpawnPoints, mo)
				case "light":
					result.Lights = append(result.Lights, mo)
				case "trigger":
					result.Triggers = append(result.Triggers, mo)
				default:
					result.Objects = append(result.Objects, mo)
				}
			}
		default:
			errs.add("layer %d (%s): unknown layer type %q", layerIdx, layer.Name, layer.Type)
		}
	}

	if len(errs.Errors) > 0 {
		return nil, errs
	}

	// Validation passed; commit. Staged definitions register first, then
	// tiles place on top.
	for _, gid := range sortedKeys(gidDefs) {
		if err := w.RegisterDefinition(gidDefs[gid].def); err != nil {
			return nil, err
		}
	}
	for _, p := range placements {
		tile := TileInstance{
			DefId:  gidDefs[p.gid].def.Id,
			Coord:  p.coord,
			Active: true,
			Health: 1.0,
			State:  TileIntact,
		}
		if err := w.PlaceTile(tile); err != nil {
			if errors.Is(err, ErrTileOccupied) {
				// Later layers override earlier ones.
				_ = w.RemoveTile(p.coord)
				if err := w.PlaceTile(tile); err != nil {
					return nil, err
				}
				result.TilesPlaced++
				continue
			}
			return nil, err
		}
		result.TilesPlaced++
	}
	return result, nil
}

func propertyMap(props []importedProperty) map[string]any {
	if len(props) == 0 {
		return nil
	}
	m := make(map[string]any, len(props))
	for _, p := range props {
		m[p.Name] = p.Value
	}
	return m
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
