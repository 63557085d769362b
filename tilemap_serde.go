package rubble

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
)

// Persistent world format. The document round-trips: serialize then
// deserialize reproduces the identical definition and tile sets (chunk
// iteration order is not part of the contract).

type worldDocument struct {
	WorldId         string          `json:"world_id"`
	Version         int             `json:"version"`
	TileDefinitions []tileDefRecord `json:"tile_definitions"`
	Tiles           []tileRecord    `json:"tiles"`
}

type tileDefRecord struct {
	Id               int               `json:"id"`
	Name             string            `json:"name"`
	MeshPath         string            `json:"mesh_path"`
	HeightMeters     float32           `json:"height_meters"`
	CollisionType    string            `json:"collision_type"`
	Walkable         bool              `json:"walkable"`
	MaterialId       int               `json:"material_id"`
	TintColor        [3]float32        `json:"tint_color"`
	BlocksSight      bool              `json:"blocks_sight"`
	Transparency     float32           `json:"transparency"`
	IsFoliage        bool              `json:"is_foliage"`
	Interactable     bool              `json:"interactable"`
	InteractionType  string            `json:"interaction_type,omitempty"`
	CustomProperties map[string]string `json:"custom_properties,omitempty"`
}

type tileRecord struct {
	DefinitionId    int         `json:"definition_id"`
	Coord           [3]int      `json:"coord"`
	RotationDegrees float32     `json:"rotation_degrees"`
	IsActive        bool        `json:"is_active"`
	Health          float32     `json:"health"`
	CustomTint      *[3]float32 `json:"custom_tint,omitempty"`
	CustomMaterial  *int        `json:"custom_material,omitempty"`
}

const worldFormatVersion = 1

// Serialize writes the canonical JSON form. Definitions and tiles are
// emitted in deterministic order; each call stamps a fresh random world_id,
// so two serializations of the same world differ only in that field.
func (w *TilemapWorld) Serialize(out io.Writer) error {
	w.mu.Lock()

	doc := worldDocument{
		WorldId: uuid.NewString(),
		Version: worldFormatVersion,
	}

	for _, def := range w.definitions {
		doc.TileDefinitions = append(doc.TileDefinitions, tileDefRecord{
			Id:               int(def.Id),
			Name:             def.Name,
			MeshPath:         def.MeshPath,
			HeightMeters:     def.HeightMeters,
			CollisionType:    def.Collision.String(),
			Walkable:         def.Walkable,
			MaterialId:       int(def.MaterialId),
			TintColor:        def.TintColor,
			BlocksSight:      def.BlocksSight,
			Transparency:     def.Transparency,
			IsFoliage:        def.IsFoliage,
			Interactable:     def.Interactable,
			InteractionType:  def.InteractionType,
			CustomProperties: def.CustomProperties,
		})
	}
	sort.Slice(doc.TileDefinitions, func(i, j int) bool {
		return doc.TileDefinitions[i].Id < doc.TileDefinitions[j].Id
	})

	for _, chunk := range w.chunks {
		for i := range chunk.Tiles {
			tile := &chunk.Tiles[i]
			rec := tileRecord{
				DefinitionId:    int(tile.DefId),
				Coord:           [3]int{tile.Coord.X, tile.Coord.Y, tile.Coord.Z},
				RotationDegrees: tile.RotationDegrees,
				IsActive:        tile.Active,
				Health:          tile.Health,
				CustomTint:      tile.CustomTint,
			}
			if tile.CustomMaterial != nil {
				m := int(*tile.CustomMaterial)
				rec.CustomMaterial = &m
			}
			doc.Tiles = append(doc.Tiles, rec)
		}
	}
	sort.Slice(doc.Tiles, func(i, j int) bool {
		a, b := doc.Tiles[i].Coord, doc.Tiles[j].Coord
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})

	w.mu.Unlock()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(&doc)
}

// Deserialize replaces the world's contents with the document. Nothing is
// mutated unless the whole document parses and validates.
func (w *TilemapWorld) Deserialize(in io.Reader) error {
	var doc worldDocument
	if err := json.NewDecoder(in).Decode(&doc); err != nil {
		return fmt.Errorf("decode world: %w", err)
	}
	if doc.Version > worldFormatVersion {
		return fmt.Errorf("world format version %d is newer than supported %d", doc.Version, worldFormatVersion)
	}

	// Stage into a fresh world first; commit by swapping contents.
	staged := NewTilemapWorld()
	for _, d := range doc.TileDefinitions {
		def := TileDefinition{
			Id:               TileDefId(d.Id),
			Name:             d.Name,
			MeshPath:         d.MeshPath,
			HeightMeters:     d.HeightMeters,
			Collision:        ParseCollisionKind(d.CollisionType),
			Walkable:         d.Walkable,
			MaterialId:       MaterialId(d.MaterialId),
			TintColor:        d.TintColor,
			BlocksSight:      d.BlocksSight,
			Transparency:     d.Transparency,
			IsFoliage:        d.IsFoliage,
			Interactable:     d.Interactable,
			InteractionType:  d.InteractionType,
			CustomProperties: d.CustomProperties,
		}
		if err := staged.RegisterDefinition(def); err != nil {
			return err
		}
	}
	for _, rec := range doc.Tiles {
		tile := TileInstance{
			DefId:           TileDefId(rec.DefinitionId),
			Coord:           TileCoord{X: rec.Coord[0], Y: rec.Coord[1], Z: rec.Coord[2]},
			RotationDegrees: rec.RotationDegrees,
			Active:          rec.IsActive,
			Health:          rec.Health,
			State:           StateForHealth(rec.Health),
			CustomTint:      rec.CustomTint,
		}
		if rec.CustomMaterial != nil {
			m := MaterialId(*rec.CustomMaterial)
			tile.CustomMaterial = &m
		}
		if err := staged.PlaceTile(tile); err != nil {
			return fmt.Errorf("tile at %v: %w", rec.Coord, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.definitions = staged.definitions
	w.chunks = staged.chunks
	w.lookup = staged.lookup
	return nil
}
