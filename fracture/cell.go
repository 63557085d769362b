package fracture

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/spatial/r3"
)

// Bounded Voronoi construction. Every cell starts as the mesh AABB and is
// cut down by the perpendicular-bisector half-space against every other
// seed. All of it runs in float64: bisector cascades amplify float32 noise
// into cracked or leaking cells.

const clipEpsilon = 1e-9

// Cell is one convex Voronoi region.
type Cell struct {
	Seed  r3.Vec
	Faces [][]r3.Vec
	// Half-space set (n·p <= d) that carved the cell; reused for inside
	// tests during voxelization.
	planes []halfSpace
}

type halfSpace struct {
	n r3.Vec
	d float64
}

func (c *Cell) Contains(p r3.Vec) bool {
	for _, h := range c.planes {
		if r3.Dot(h.n, p) > h.d+clipEpsilon {
			return false
		}
	}
	return true
}

func (c *Cell) Empty() bool {
	return len(c.Faces) < 4
}

// BuildCells constructs the bounded diagram for all seeds. Empty cells
// (fully cut away) are dropped.
func BuildCells(min, max mgl32.Vec3, seeds []mgl32.Vec3) []Cell {
	bMin := toR3(min)
	bMax := toR3(max)

	cells := make([]Cell, 0, len(seeds))
	for i, seed := range seeds {
		cell := Cell{
			Seed:  toR3(seed),
			Faces: boxFaces(bMin, bMax),
		}
		cell.planes = boxPlanes(bMin, bMax)

		for j, other := range seeds {
			if i == j {
				continue
			}
			si, sj := toR3(seed), toR3(other)
			n := r3.Sub(sj, si)
			if r3.Norm(n) < clipEpsilon {
				continue // coincident seeds: no bisector, so neither clips the other and both keep the region
			}
			n = r3.Unit(n)
			mid := r3.Scale(0.5, r3.Add(si, sj))
			h := halfSpace{n: n, d: r3.Dot(n, mid)}

			cell.Faces = clipFaces(cell.Faces, h)
			if len(cell.Faces) == 0 {
				break
			}
			cell.planes = append(cell.planes, h)
		}

		if !cell.Empty() {
			cells = append(cells, cell)
		}
	}
	return cells
}

// clipFaces cuts the polyhedron by one half-space: Sutherland-Hodgman on
// every face, then a cap polygon over the cut.
func clipFaces(faces [][]r3.Vec, h halfSpace) [][]r3.Vec {
	var out [][]r3.Vec
	var capPoints []r3.Vec

	for _, face := range faces {
		clipped, crossings := clipPolygon(face, h)
		if len(clipped) >= 3 {
			out = append(out, clipped)
		}
		capPoints = append(capPoints, crossings...)
	}

	if capFace := buildCapFace(capPoints, h); len(capFace) >= 3 {
		out = append(out, capFace)
	}
	return out
}

// clipPolygon keeps the part of the polygon inside n·p <= d and reports the
// edge crossings it produced.
func clipPolygon(poly []r3.Vec, h halfSpace) (kept []r3.Vec, crossings []r3.Vec) {
	n := len(poly)
	for i := 0; i < n; i++ {
		cur := poly[i]
		next := poly[(i+1)%n]
		curIn := r3.Dot(h.n, cur) <= h.d+clipEpsilon
		nextIn := r3.Dot(h.n, next) <= h.d+clipEpsilon

		if curIn {
			kept = append(kept, cur)
		}
		if curIn != nextIn {
			x := intersect(cur, next, h)
			kept = append(kept, x)
			crossings = append(crossings, x)
		}
	}
	return kept, crossings
}

func intersect(a, b r3.Vec, h halfSpace) r3.Vec {
	da := r3.Dot(h.n, a) - h.d
	db := r3.Dot(h.n, b) - h.d
	t := da / (da - db)
	return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
}

// buildCapFace closes the hole the cut opened: deduplicate the crossing
// points and order them around their centroid in the plane.
func buildCapFace(points []r3.Vec, h halfSpace) []r3.Vec {
	unique := dedupePoints(points, 1e-7)
	if len(unique) < 3 {
		return nil
	}

	centroid := r3.Vec{}
	for _, p := range unique {
		centroid = r3.Add(centroid, p)
	}
	centroid = r3.Scale(1/float64(len(unique)), centroid)

	// In-plane basis.
	u := perpendicular(h.n)
	v := r3.Cross(h.n, u)

	sort.Slice(unique, func(i, j int) bool {
		di := r3.Sub(unique[i], centroid)
		dj := r3.Sub(unique[j], centroid)
		ai := math.Atan2(r3.Dot(di, v), r3.Dot(di, u))
		aj := math.Atan2(r3.Dot(dj, v), r3.Dot(dj, u))
		return ai < aj
	})
	return unique
}

func dedupePoints(points []r3.Vec, eps float64) []r3.Vec {
	var out []r3.Vec
	for _, p := range points {
		dup := false
		for _, q := range out {
			if r3.Norm(r3.Sub(p, q)) < eps {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p)
		}
	}
	return out
}

func perpendicular(n r3.Vec) r3.Vec {
	a := r3.Vec{X: 1}
	if math.Abs(n.X) > 0.9 {
		a = r3.Vec{Y: 1}
	}
	return r3.Unit(r3.Cross(n, a))
}

// faceOutward reports whether the face winding is outward as seen from an
// interior point. Cap faces come back from the angular sort with arbitrary
// orientation, so every consumer orients before integrating.
func faceOutward(face []r3.Vec, interior r3.Vec) bool {
	n := r3.Cross(r3.Sub(face[1], face[0]), r3.Sub(face[2], face[0]))
	return r3.Dot(n, r3.Sub(face[0], interior)) >= 0
}

// VolumeCentroid integrates the cell via signed tetrahedra against the
// seed point, orienting each face outward first.
func (c *Cell) VolumeCentroid() (float64, r3.Vec) {
	var volume float64
	var weighted r3.Vec
	ref := c.Seed

	for _, face := range c.Faces {
		if len(face) < 3 {
			continue
		}
		flip := !faceOutward(face, ref)
		for i := 2; i < len(face); i++ {
			a := r3.Sub(face[0], ref)
			b := r3.Sub(face[i-1], ref)
			d := r3.Sub(face[i], ref)
			if flip {
				b, d = d, b
			}
			v := r3.Dot(a, r3.Cross(b, d)) / 6.0
			volume += v
			center := r3.Add(ref, r3.Scale(0.25, r3.Add(a, r3.Add(b, d))))
			weighted = r3.Add(weighted, r3.Scale(v, center))
		}
	}
	if math.Abs(volume) < 1e-12 {
		return 0, ref
	}
	centroid := r3.Scale(1/volume, weighted)
	return math.Abs(volume), centroid
}

func boxFaces(min, max r3.Vec) [][]r3.Vec {
	v := [8]r3.Vec{
		{X: min.X, Y: min.Y, Z: min.Z},
		{X: max.X, Y: min.Y, Z: min.Z},
		{X: max.X, Y: max.Y, Z: min.Z},
		{X: min.X, Y: max.Y, Z: min.Z},
		{X: min.X, Y: min.Y, Z: max.Z},
		{X: max.X, Y: min.Y, Z: max.Z},
		{X: max.X, Y: max.Y, Z: max.Z},
		{X: min.X, Y: max.Y, Z: max.Z},
	}
	return [][]r3.Vec{
		{v[0], v[3], v[2], v[1]}, // -Z
		{v[4], v[5], v[6], v[7]}, // +Z
		{v[0], v[1], v[5], v[4]}, // -Y
		{v[3], v[7], v[6], v[2]}, // +Y
		{v[0], v[4], v[7], v[3]}, // -X
		{v[1], v[2], v[6], v[5]}, // +X
	}
}

func boxPlanes(min, max r3.Vec) []halfSpace {
	return []halfSpace{
		{n: r3.Vec{X: -1}, d: -min.X},
		{n: r3.Vec{X: 1}, d: max.X},
		{n: r3.Vec{Y: -1}, d: -min.Y},
		{n: r3.Vec{Y: 1}, d: max.Y},
		{n: r3.Vec{Z: -1}, d: -min.Z},
		{n: r3.Vec{Z: 1}, d: max.Z},
	}
}

func toR3(v mgl32.Vec3) r3.Vec {
	return r3.Vec{X: float64(v.X()), Y: float64(v.Y()), Z: float64(v.Z())}
}

func toVec3(v r3.Vec) mgl32.Vec3 {
	return mgl32.Vec3{float32(v.X), float32(v.Y), float32(v.Z)}
}
