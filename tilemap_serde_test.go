package rubble

import (
	"bytes"
	"strings"
	"testing"
)

func TestWorldSerializeRoundtrip(t *testing.T) {
	w := testWorld(t)
	tint := [3]float32{0.5, 0.2, 0.2}
	mat := MaterialId(3)
	tiles := []TileInstance{
		{DefId: 1, Coord: TileCoord{0, 0, 0}, Active: true, Health: 1, State: TileIntact},
		{DefId: 2, Coord: TileCoord{-5, 2, 7}, RotationDegrees: 90, Active: true, Health: 0.7, State: TileCracked},
		{DefId: 1, Coord: TileCoord{16, 0, 16}, Active: false, Health: 0.3, CustomTint: &tint, CustomMaterial: &mat},
	}
	for _, tile := range tiles {
		if err := w.PlaceTile(tile); err != nil {
			t.Fatalf("place: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := w.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	restored := NewTilemapWorld()
	if err := restored.Deserialize(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	if restored.TileCount() != w.TileCount() {
		t.Fatalf("tile count mismatch: %d vs %d", restored.TileCount(), w.TileCount())
	}
	for _, want := range tiles {
		got, ok := restored.Tile(want.Coord)
		if !ok {
			t.Fatalf("tile %v lost in roundtrip", want.Coord)
		}
		if got.DefId != want.DefId || got.RotationDegrees != want.RotationDegrees ||
			got.Active != want.Active || got.Health != want.Health {
			t.Errorf("tile %v fields differ: got %+v want %+v", want.Coord, got, want)
		}
		if (want.CustomTint == nil) != (got.CustomTint == nil) {
			t.Errorf("tile %v custom tint lost", want.Coord)
		}
		if want.CustomMaterial != nil && (got.CustomMaterial == nil || *got.CustomMaterial != *want.CustomMaterial) {
			t.Errorf("tile %v custom material lost", want.Coord)
		}
	}

	for id := TileDefId(1); id <= 3; id++ {
		a, _ := w.Definition(id)
		b, ok := restored.Definition(id)
		if !ok {
			t.Fatalf("definition %d lost", id)
		}
		if a.Name != b.Name || a.Collision != b.Collision || a.Walkable != b.Walkable ||
			a.HeightMeters != b.HeightMeters || a.BlocksSight != b.BlocksSight {
			t.Errorf("definition %d differs: %+v vs %+v", id, a, b)
		}
	}
	checkLookup(t, restored)
}

func TestDeserializeRejectsNewerVersion(t *testing.T) {
	doc := `{"world_id":"x","version":99,"tile_definitions":[],"tiles":[]}`
	w := NewTilemapWorld()
	if err := w.Deserialize(strings.NewReader(doc)); err == nil {
		t.Errorf("newer format version must be rejected")
	}
}

func TestDeserializeLeavesWorldUntouchedOnError(t *testing.T) {
	w := testWorld(t)
	place(t, w, 1, 0, 0, 0)

	// Tile references an unregistered definition: the staged world fails,
	// the live one keeps its contents.
	doc := `{"world_id":"x","version":1,"tile_definitions":[],"tiles":[{"definition_id":42,"coord":[0,0,0],"is_active":true,"health":1}]}`
	if err := w.Deserialize(strings.NewReader(doc)); err == nil {
		t.Fatalf("expected error for unknown definition")
	}
	if w.TileCount() != 1 {
		t.Errorf("failed deserialize must not mutate the world")
	}
}
