package fracture

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestSingleSeedCellIsTheBox(t *testing.T) {
	min := mgl32.Vec3{0, 0, 0}
	max := mgl32.Vec3{2, 1, 1}
	cells := BuildCells(min, max, []mgl32.Vec3{{1, 0.5, 0.5}})

	if len(cells) != 1 {
		t.Fatalf("one seed yields one cell, got %d", len(cells))
	}
	vol, centroid := cells[0].VolumeCentroid()
	if math.Abs(vol-2.0) > 1e-9 {
		t.Errorf("unclipped cell volume should equal the box (2.0), got %f", vol)
	}
	want := r3.Vec{X: 1, Y: 0.5, Z: 0.5}
	if r3.Norm(r3.Sub(centroid, want)) > 1e-9 {
		t.Errorf("centroid should be the box center, got %+v", centroid)
	}
}

func TestTwoSeedsSplitTheVolume(t *testing.T) {
	min := mgl32.Vec3{0, 0, 0}
	max := mgl32.Vec3{1, 1, 1}
	cells := BuildCells(min, max, []mgl32.Vec3{{0.25, 0.5, 0.5}, {0.75, 0.5, 0.5}})

	if len(cells) != 2 {
		t.Fatalf("two seeds yield two cells, got %d", len(cells))
	}
	v0, _ := cells[0].VolumeCentroid()
	v1, _ := cells[1].VolumeCentroid()
	if math.Abs(v0-0.5) > 1e-6 || math.Abs(v1-0.5) > 1e-6 {
		t.Errorf("symmetric seeds halve the box: %f + %f", v0, v1)
	}
}

func TestCellVolumesTileTheBox(t *testing.T) {
	min := mgl32.Vec3{0, 0, 0}
	max := mgl32.Vec3{1, 1, 1}
	seeds := []mgl32.Vec3{
		{0.2, 0.3, 0.4}, {0.8, 0.2, 0.7}, {0.5, 0.9, 0.1},
		{0.1, 0.8, 0.8}, {0.6, 0.5, 0.5},
	}
	cells := BuildCells(min, max, seeds)
	if len(cells) != len(seeds) {
		t.Fatalf("every seed keeps a nonempty cell, got %d of %d", len(cells), len(seeds))
	}

	total := 0.0
	for i := range cells {
		v, _ := cells[i].VolumeCentroid()
		if v <= 0 {
			t.Errorf("cell %d has nonpositive volume %f", i, v)
		}
		total += v
	}
	if math.Abs(total-1.0) > 1e-6 {
		t.Errorf("cells must tile the box exactly: sum %f", total)
	}
}

func TestCellContainsItsSeed(t *testing.T) {
	min := mgl32.Vec3{0, 0, 0}
	max := mgl32.Vec3{1, 1, 1}
	seeds := []mgl32.Vec3{{0.2, 0.2, 0.2}, {0.8, 0.8, 0.8}, {0.5, 0.1, 0.9}}
	cells := BuildCells(min, max, seeds)

	for i := range cells {
		if !cells[i].Contains(cells[i].Seed) {
			t.Errorf("cell %d does not contain its own seed", i)
		}
	}
	// A point clearly in the other seed's half must not be contained.
	if cells[0].Contains(r3.Vec{X: 0.8, Y: 0.8, Z: 0.8}) {
		t.Errorf("cell 0 leaks into cell 1's region")
	}
}

func TestCoincidentSeedsDoNotExplode(t *testing.T) {
	min := mgl32.Vec3{0, 0, 0}
	max := mgl32.Vec3{1, 1, 1}
	cells := BuildCells(min, max, []mgl32.Vec3{{0.5, 0.5, 0.5}, {0.5, 0.5, 0.5}})
	if len(cells) == 0 {
		t.Errorf("coincident seeds should degrade gracefully, got no cells")
	}
}
