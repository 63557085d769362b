package rubble

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// SpatialHashGrid buckets entity ids by world-space cell. Rebuilt from
// scratch each phase that needs it; queries return broadphase candidates
// only (callers do the exact distance check).
type SpatialHashGrid struct {
	cellSize float32
	cells    map[uint64][]EntityId
}

func NewSpatialHashGrid(cellSize float32) *SpatialHashGrid {
	if cellSize <= 0 {
		cellSize = 2.0
	}
	return &SpatialHashGrid{
		cellSize: cellSize,
		cells:    make(map[uint64][]EntityId),
	}
}

func (grid *SpatialHashGrid) Clear() {
	clear(grid.cells)
}

func (grid *SpatialHashGrid) InsertPoint(id EntityId, pos mgl32.Vec3) {
	key := grid.hashKey(
		grid.cellIndex(pos.X()),
		grid.cellIndex(pos.Y()),
		grid.cellIndex(pos.Z()),
	)
	grid.cells[key] = append(grid.cells[key], id)
}

func (grid *SpatialHashGrid) InsertAABB(id EntityId, box AABB) {
	minX, maxX := grid.cellIndex(box.Min.X()), grid.cellIndex(box.Max.X())
	minY, maxY := grid.cellIndex(box.Min.Y()), grid.cellIndex(box.Max.Y())
	minZ, maxZ := grid.cellIndex(box.Min.Z()), grid.cellIndex(box.Max.Z())

	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for z := minZ; z <= maxZ; z++ {
				key := grid.hashKey(x, y, z)
				grid.cells[key] = append(grid.cells[key], id)
			}
		}
	}
}

// QueryRadius returns candidates whose cell overlaps the sphere's AABB,
// deduplicated, optionally capped (maxResults <= 0 means unbounded).
func (grid *SpatialHashGrid) QueryRadius(center mgl32.Vec3, radius float32, maxResults int) []EntityId {
	minX, maxX := grid.cellIndex(center.X()-radius), grid.cellIndex(center.X()+radius)
	minY, maxY := grid.cellIndex(center.Y()-radius), grid.cellIndex(center.Y()+radius)
	minZ, maxZ := grid.cellIndex(center.Z()-radius), grid.cellIndex(center.Z()+radius)

	unique := make(map[EntityId]struct{})
	var results []EntityId

	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for z := minZ; z <= maxZ; z++ {
				for _, id := range grid.cells[grid.hashKey(x, y, z)] {
					if _, ok := unique[id]; ok {
						continue
					}
					unique[id] = struct{}{}
					results = append(results, id)
					if maxResults > 0 && len(results) >= maxResults {
						return results
					}
				}
			}
		}
	}
	return results
}

func (grid *SpatialHashGrid) cellIndex(pos float32) int {
	return int(math.Floor(float64(pos / grid.cellSize)))
}

// Large-prime mixing for 3D cell keys.
func (grid *SpatialHashGrid) hashKey(x, y, z int) uint64 {
	const p1 = 73856093
	const p2 = 19349663
	const p3 = 83492791
	return uint64(x*p1 ^ y*p2 ^ z*p3)
}
