package rubble

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// Tiles are 1 m cubes on an integer grid, grouped into 16^3 chunks. The
// world is Y-up, matching the rest of the engine.
const (
	TileSize  float32 = 1.0
	ChunkSize         = 16
)

var (
	ErrTileNotFound  = errors.New("tile not found")
	ErrTileOccupied  = errors.New("tile coordinate already occupied")
	ErrUnknownTileId = errors.New("unknown tile definition id")
)

type CollisionKind int

const (
	CollisionNone CollisionKind = iota
	CollisionBox
	CollisionSphere
	CollisionMesh
)

func (k CollisionKind) String() string {
	switch k {
	case CollisionNone:
		return "none"
	case CollisionBox:
		return "box"
	case CollisionSphere:
		return "sphere"
	case CollisionMesh:
		return "mesh"
	}
	return "none"
}

func ParseCollisionKind(s string) CollisionKind {
	switch s {
	case "box":
		return CollisionBox
	case "sphere":
		return CollisionSphere
	case "mesh":
		return CollisionMesh
	}
	return CollisionNone
}

type TileDefId int

// TileDefinition is the immutable shared description of a tile kind.
// Created at scene load, never mutated afterwards.
type TileDefinition struct {
	Id               TileDefId
	Name             string
	MeshPath         string
	HeightMeters     float32
	Collision        CollisionKind
	MaterialId       MaterialId
	Walkable         bool
	BlocksSight      bool
	Transparency     float32
	IsFoliage        bool
	TintColor        [3]float32
	Interactable     bool
	InteractionType  string
	CustomProperties map[string]string
}

type TileState int

const (
	TileIntact TileState = iota
	TileScratched
	TileCracked
	TileDamaged
	TileFailing
	TileCritical
	TileCollapsed
)

func (s TileState) String() string {
	switch s {
	case TileIntact:
		return "Intact"
	case TileScratched:
		return "Scratched"
	case TileCracked:
		return "Cracked"
	case TileDamaged:
		return "Damaged"
	case TileFailing:
		return "Failing"
	case TileCritical:
		return "Critical"
	case TileCollapsed:
		return "Collapsed"
	}
	return "Intact"
}

// StateForHealth maps remaining health onto the damage ladder.
func StateForHealth(health float32) TileState {
	switch {
	case health >= 0.999:
		return TileIntact
	case health >= 0.85:
		return TileScratched
	case health >= 0.6:
		return TileCracked
	case health >= 0.4:
		return TileDamaged
	case health >= 0.2:
		return TileFailing
	case health > 0:
		return TileCritical
	}
	return TileCollapsed
}

type TileCoord struct {
	X, Y, Z int
}

func (c TileCoord) Chunk() TileCoord {
	return TileCoord{
		X: floorDiv(c.X, ChunkSize),
		Y: floorDiv(c.Y, ChunkSize),
		Z: floorDiv(c.Z, ChunkSize),
	}
}

// TileInstance is one placed tile. Owned by exactly one chunk.
type TileInstance struct {
	DefId           TileDefId
	Coord           TileCoord
	RotationDegrees float32
	Active          bool
	Health          float32 // 0..1
	State           TileState

	// Optional per-instance overrides
	CustomTint     *[3]float32
	CustomMaterial *MaterialId
}

// TileChunk owns an ordered sequence of instances. Removal swaps the last
// tile into the vacated slot; the world rewrites the moved tile's lookup.
type TileChunk struct {
	Coord            TileCoord
	Tiles            []TileInstance
	NeedsMeshRebuild bool
}

type tileRef struct {
	chunk TileCoord
	index int
}

// TilemapWorld is the sparse chunked store. One mutex guards mutation; the
// read-heavy phases (raycast, vision) run while no mutator holds it.
type TilemapWorld struct {
	mu          sync.Mutex
	definitions map[TileDefId]*TileDefinition
	chunks      map[TileCoord]*TileChunk
	lookup      map[TileCoord]tileRef
}

func NewTilemapWorld() *TilemapWorld {
	return &TilemapWorld{
		definitions: make(map[TileDefId]*TileDefinition),
		chunks:      make(map[TileCoord]*TileChunk),
		lookup:      make(map[TileCoord]tileRef),
	}
}

func (w *TilemapWorld) RegisterDefinition(def TileDefinition) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.definitions[def.Id]; ok {
		return fmt.Errorf("tile definition %d already registered", def.Id)
	}
	d := def
	w.definitions[def.Id] = &d
	return nil
}

func (w *TilemapWorld) Definition(id TileDefId) (*TileDefinition, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.definitions[id]
	return d, ok
}

// PlaceTile inserts a tile. At most one tile per coordinate.
func (w *TilemapWorld) PlaceTile(tile TileInstance) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.definitions[tile.DefId]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTileId, tile.DefId)
	}
	if _, ok := w.lookup[tile.Coord]; ok {
		return fmt.Errorf("%w: %v", ErrTileOccupied, tile.Coord)
	}

	chunkCoord := tile.Coord.Chunk()
	chunk, ok := w.chunks[chunkCoord]
	if !ok {
		chunk = &TileChunk{Coord: chunkCoord}
		w.chunks[chunkCoord] = chunk
	}

	chunk.Tiles = append(chunk.Tiles, tile)
	w.lookup[tile.Coord] = tileRef{chunk: chunkCoord, index: len(chunk.Tiles) - 1}
	chunk.NeedsMeshRebuild = true
	return nil
}

// RemoveTile deletes the tile at coord. The chunk's last tile is swapped
// into the vacated slot and its lookup entry rewritten, keeping the
// sequence dense. An emptied chunk stays resident until Clear.
func (w *TilemapWorld) RemoveTile(coord TileCoord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ref, ok := w.lookup[coord]
	if !ok {
		return fmt.Errorf("%w: %v", ErrTileNotFound, coord)
	}
	chunk := w.chunks[ref.chunk]

	last := len(chunk.Tiles) - 1
	if ref.index != last {
		moved := chunk.Tiles[last]
		chunk.Tiles[ref.index] = moved
		w.lookup[moved.Coord] = tileRef{chunk: ref.chunk, index: ref.index}
	}
	chunk.Tiles = chunk.Tiles[:last]
	delete(w.lookup, coord)
	chunk.NeedsMeshRebuild = true
	return nil
}

// Tile returns a pointer into chunk storage; valid until the next mutation.
func (w *TilemapWorld) Tile(coord TileCoord) (*TileInstance, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tileLocked(coord)
}

func (w *TilemapWorld) tileLocked(coord TileCoord) (*TileInstance, bool) {
	ref, ok := w.lookup[coord]
	if !ok {
		return nil, false
	}
	return &w.chunks[ref.chunk].Tiles[ref.index], true
}

// MarkTileDirty flags the owning chunk after in-place mutation (damage).
func (w *TilemapWorld) MarkTileDirty(coord TileCoord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ref, ok := w.lookup[coord]; ok {
		w.chunks[ref.chunk].NeedsMeshRebuild = true
	}
}

func (w *TilemapWorld) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = make(map[TileCoord]*TileChunk)
	w.lookup = make(map[TileCoord]tileRef)
}

func (w *TilemapWorld) TileCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.lookup)
}

func (w *TilemapWorld) ChunkCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.chunks)
}

// DirtyChunks drains and returns the coords of chunks needing mesh rebuild.
// Called once per frame in Finale; the renderer consumes the result.
func (w *TilemapWorld) DirtyChunks() []TileCoord {
	w.mu.Lock()
	defer w.mu.Unlock()
	var dirty []TileCoord
	for coord, chunk := range w.chunks {
		if chunk.NeedsMeshRebuild {
			dirty = append(dirty, coord)
			chunk.NeedsMeshRebuild = false
		}
	}
	return dirty
}

func WorldToTile(v mgl32.Vec3) TileCoord {
	return TileCoord{
		X: floorf(v.X() / TileSize),
		Y: floorf(v.Y() / TileSize),
		Z: floorf(v.Z() / TileSize),
	}
}

// TileToWorld returns the center of the tile.
func TileToWorld(c TileCoord) mgl32.Vec3 {
	return mgl32.Vec3{
		(float32(c.X) + 0.5) * TileSize,
		(float32(c.Y) + 0.5) * TileSize,
		(float32(c.Z) + 0.5) * TileSize,
	}
}

// IsWalkable reports whether the position is passable: no tile, or a tile
// whose definition permits walking.
func (w *TilemapWorld) IsWalkable(p mgl32.Vec3) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	tile, ok := w.tileLocked(WorldToTile(p))
	if !ok {
		return true
	}
	def, ok := w.definitions[tile.DefId]
	if !ok {
		return true
	}
	return def.Walkable
}

// GroundHeight scans downward from height 0 for the top surface of the
// highest walkable tile in the column, bounded to y >= -100.
func (w *TilemapWorld) GroundHeight(x, z float32) float32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx := floorf(x / TileSize)
	tz := floorf(z / TileSize)
	for ty := 0; ty >= -100; ty-- {
		tile, ok := w.tileLocked(TileCoord{X: tx, Y: ty, Z: tz})
		if !ok {
			continue
		}
		def, ok := w.definitions[tile.DefId]
		if !ok || !def.Walkable {
			continue
		}
		return float32(ty)*TileSize + def.HeightMeters
	}
	return -100 * TileSize
}

// VisionTile is the read-only occlusion view of one tile, for the sight/AI
// layer. It exposes nothing about chunk storage.
type VisionTile struct {
	BlocksSight  bool
	Transparency float32
	HeightMeters float32
	IsFoliage    bool
}

// VisionAdapter is the narrow contract the vision system consumes.
type VisionAdapter interface {
	TileAt(coord TileCoord) (VisionTile, bool)
}

type worldVisionAdapter struct {
	world *TilemapWorld
}

func (a worldVisionAdapter) TileAt(coord TileCoord) (VisionTile, bool) {
	a.world.mu.Lock()
	defer a.world.mu.Unlock()
	tile, ok := a.world.tileLocked(coord)
	if !ok {
		return VisionTile{}, false
	}
	def, ok := a.world.definitions[tile.DefId]
	if !ok {
		return VisionTile{}, false
	}
	return VisionTile{
		BlocksSight:  def.BlocksSight,
		Transparency: def.Transparency,
		HeightMeters: def.HeightMeters,
		IsFoliage:    def.IsFoliage,
	}, true
}

func (w *TilemapWorld) Vision() VisionAdapter {
	return worldVisionAdapter{world: w}
}

// TilemapModule installs the world and the Finale system that publishes
// dirty chunks for the renderer.
type TilemapModule struct {
	World *TilemapWorld
}

// DirtyChunkList is refreshed every frame in Finale.
type DirtyChunkList struct {
	Coords []TileCoord
}

func (m TilemapModule) Install(app *App, cmd *Commands) {
	world := m.World
	if world == nil {
		world = NewTilemapWorld()
	}
	cmd.AddResources(world, &DirtyChunkList{})
	app.UseSystem(Use(publishDirtyChunksSystem).InStage(Finale))
}

func publishDirtyChunksSystem(world *TilemapWorld, out *DirtyChunkList) {
	out.Coords = world.DirtyChunks()
}
