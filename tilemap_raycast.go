package rubble

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// TileRaycastHit describes the first solid tile along a ray.
type TileRaycastHit struct {
	Coord    TileCoord
	Distance float32
	Point    mgl32.Vec3
	Normal   mgl32.Vec3 // inward-facing, axis-aligned
	Tile     TileInstance
}

// Worst case cost bound for a single cast.
const raycastMaxSteps = 1000

// Raycast walks the voxel grid with the Amanatides-Woo DDA and returns the
// first tile whose definition has collision. A zero-length ray misses.
func (w *TilemapWorld) Raycast(start, end mgl32.Vec3) (TileRaycastHit, bool) {
	dir := end.Sub(start)
	length := dir.Len()
	if length <= 1e-6 {
		return TileRaycastHit{}, false
	}
	dir = dir.Mul(1.0 / length)

	w.mu.Lock()
	defer w.mu.Unlock()

	cur := WorldToTile(start)

	var step [3]int
	var tMax, tDelta [3]float32
	pos := [3]float32{start.X(), start.Y(), start.Z()}
	d := [3]float32{dir.X(), dir.Y(), dir.Z()}
	c := [3]int{cur.X, cur.Y, cur.Z}

	for i := 0; i < 3; i++ {
		if d[i] > 0 {
			step[i] = 1
			tMax[i] = (float32(c[i]+1)*TileSize - pos[i]) / d[i]
			tDelta[i] = TileSize / d[i]
		} else if d[i] < 0 {
			step[i] = -1
			tMax[i] = (float32(c[i])*TileSize - pos[i]) / d[i]
			tDelta[i] = -TileSize / d[i]
		} else {
			step[i] = 0
			tMax[i] = float32(math.Inf(1))
			tDelta[i] = float32(math.Inf(1))
		}
	}

	// Axis whose boundary we crossed to enter the current voxel; -1 means
	// the ray starts inside it.
	enteredAxis := -1
	t := float32(0)

	for stepCount := 0; stepCount < raycastMaxSteps; stepCount++ {
		coord := TileCoord{X: c[0], Y: c[1], Z: c[2]}
		if tile, ok := w.tileLocked(coord); ok {
			def := w.definitions[tile.DefId]
			if def != nil && def.Collision != CollisionNone && tile.Active {
				normal := mgl32.Vec3{}
				if enteredAxis >= 0 {
					normal[enteredAxis] = -float32(step[enteredAxis])
				} else {
					normal = dir.Mul(-1)
				}
				return TileRaycastHit{
					Coord:    coord,
					Distance: t,
					Point:    start.Add(dir.Mul(t)),
					Normal:   normal,
					Tile:     *tile,
				}, true
			}
		}

		// Advance to the next voxel across the nearest boundary.
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		t = tMax[axis]
		if t > length {
			return TileRaycastHit{}, false
		}
		c[axis] += step[axis]
		tMax[axis] += tDelta[axis]
		enteredAxis = axis
	}
	return TileRaycastHit{}, false
}

// SceneQuery is the read-only facade handed to outside collaborators
// (projectile code, AI): raycasts and ground probes, nothing else.
type SceneQuery interface {
	Raycast(start, end mgl32.Vec3) (TileRaycastHit, bool)
	GroundHeight(x, z float32) float32
}

// The world itself satisfies SceneQuery.
var _ SceneQuery = (*TilemapWorld)(nil)
