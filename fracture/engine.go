package fracture

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/spatial/r3"
)

// Engine turns fracture requests into fragments. The CPU path here is the
// behavioral reference; when a Dispatcher is attached and requested, the
// job goes to it and any failure falls back to this path.
type Engine struct {
	dispatcher Dispatcher
}

func NewEngine(dispatcher Dispatcher) *Engine {
	return &Engine{dispatcher: dispatcher}
}

// Generate runs the full pipeline: seeds, cells, mesh extraction, physics.
// With a fixed Config.Seed the output is deterministic on the CPU path.
func (e *Engine) Generate(req *Request) ([]Fragment, error) {
	seeds := GenerateSeeds(req)

	var fragments []Fragment
	if req.Config.UseGPU && e.dispatcher != nil {
		future := e.dispatcher.DispatchVoronoi(req, seeds)
		var err error
		fragments, err = future.Await()
		if err != nil {
			fragments = nil // fall through to the CPU path
		}
	}
	if fragments == nil {
		fragments = buildFragmentsCPU(req, seeds)
	}

	seedPhysics(req, fragments)
	return fragments, nil
}

// buildFragmentsCPU extracts a mesh per Voronoi cell. The convex cell
// polyhedron, clipped to the source bounds, is accepted as the fragment
// (see the engine notes on CSG in DESIGN.md).
func buildFragmentsCPU(req *Request, seeds []mgl32.Vec3) []Fragment {
	min, max := req.Mesh.Bounds()
	cells := BuildCells(min, max, seeds)

	fragments := make([]Fragment, 0, len(cells))
	for i := range cells {
		frag, ok := fragmentFromCell(&cells[i])
		if ok {
			fragments = append(fragments, frag)
		}
	}
	return fragments
}

// fragmentFromCell triangulates the cell's faces into an origin-centered
// mesh with flat normals and dominant-axis planar UVs.
func fragmentFromCell(cell *Cell) (Fragment, bool) {
	volume, centroidR3 := cell.VolumeCentroid()
	if volume < 1e-9 {
		return Fragment{}, false
	}
	centroid := toVec3(centroidR3)

	var frag Fragment
	frag.Centroid = centroid
	frag.Position = centroid
	frag.Rotation = mgl32.QuatIdent()

	for _, face := range cell.Faces {
		if len(face) < 3 {
			continue
		}
		// Flat-shaded face: its own vertices, one normal, outward winding.
		normal := faceNormal(face, centroidR3)
		flip := !faceOutward(face, centroidR3)
		base := uint32(len(frag.Vertices))
		for _, p := range face {
			frag.Vertices = append(frag.Vertices, toVec3(p).Sub(centroid))
			frag.Normals = append(frag.Normals, normal)
		}
		for i := uint32(2); i < uint32(len(face)); i++ {
			if flip {
				frag.Indices = append(frag.Indices, base, base+i, base+i-1)
			} else {
				frag.Indices = append(frag.Indices, base, base+i-1, base+i)
			}
		}
	}
	if len(frag.Indices) < 12 { // fewer than 4 triangles cannot close
		return Fragment{}, false
	}

	frag.Min, frag.Max = localBounds(frag.Vertices)
	frag.UVs = projectUVs(frag.Vertices, frag.Min, frag.Max)
	frag.TriangleCount = len(frag.Indices) / 3
	voxelize(&frag, cell)
	return frag, true
}

// faceNormal orients the face plane normal away from the cell interior.
func faceNormal(face []r3.Vec, interior r3.Vec) mgl32.Vec3 {
	a := r3.Sub(face[1], face[0])
	b := r3.Sub(face[2], face[0])
	n := r3.Cross(a, b)
	if r3.Norm(n) < 1e-12 {
		return mgl32.Vec3{0, 1, 0}
	}
	n = r3.Unit(n)
	if r3.Dot(n, r3.Sub(face[0], interior)) < 0 {
		n = r3.Scale(-1, n)
	}
	return toVec3(n)
}

func localBounds(verts []mgl32.Vec3) (min, max mgl32.Vec3) {
	if len(verts) == 0 {
		return
	}
	min, max = verts[0], verts[0]
	for _, v := range verts[1:] {
		for i := 0; i < 3; i++ {
			if v[i] < min[i] {
				min[i] = v[i]
			}
			if v[i] > max[i] {
				max[i] = v[i]
			}
		}
	}
	return
}

// projectUVs maps vertices by planar projection along the fragment's
// dominant axis.
func projectUVs(verts []mgl32.Vec3, min, max mgl32.Vec3) []mgl32.Vec2 {
	ext := max.Sub(min)
	// Dominant axis projects away; the two remaining span UV.
	axis := 0
	if ext.Y() > ext[axis] {
		axis = 1
	}
	if ext.Z() > ext[axis] {
		axis = 2
	}
	u := (axis + 1) % 3
	v := (axis + 2) % 3

	du := ext[u]
	dv := ext[v]
	if du < 1e-6 {
		du = 1
	}
	if dv < 1e-6 {
		dv = 1
	}

	uvs := make([]mgl32.Vec2, len(verts))
	for i, p := range verts {
		uvs[i] = mgl32.Vec2{
			(p[u] - min[u]) / du,
			(p[v] - min[v]) / dv,
		}
	}
	return uvs
}

// voxelize fills the 4^3 occupancy used by fluid coupling, sampling voxel
// centers against the cell's half-space set.
func voxelize(frag *Fragment, cell *Cell) {
	ext := frag.Max.Sub(frag.Min)
	for z := 0; z < VoxelRes; z++ {
		for y := 0; y < VoxelRes; y++ {
			for x := 0; x < VoxelRes; x++ {
				local := mgl32.Vec3{
					frag.Min.X() + (float32(x)+0.5)/VoxelRes*ext.X(),
					frag.Min.Y() + (float32(y)+0.5)/VoxelRes*ext.Y(),
					frag.Min.Z() + (float32(z)+0.5)/VoxelRes*ext.Z(),
				}
				world := local.Add(frag.Centroid)
				idx := x + y*VoxelRes + z*VoxelRes*VoxelRes
				frag.VoxelOccupancy[idx] = cell.Contains(toR3(world))
			}
		}
	}
}

func perpendicularTo(v mgl32.Vec3) mgl32.Vec3 {
	axis := mgl32.Vec3{1, 0, 0}
	if math.Abs(float64(v.X())) > 0.9 {
		axis = mgl32.Vec3{0, 1, 0}
	}
	return v.Cross(axis).Normalize()
}

// seedPhysics fills mass, inertia and initial velocities. Angular velocity
// is deterministic per piece: run seed plus piece index.
func seedPhysics(req *Request, fragments []Fragment) {
	impact := req.ImpactPoint
	dir := req.ImpactDir
	if dir.Len() > 1e-6 {
		dir = dir.Normalize()
	}

	for i := range fragments {
		frag := &fragments[i]

		ext := frag.Max.Sub(frag.Min)
		volume := float64(ext.X() * ext.Y() * ext.Z())
		mass := float32(volume * req.DensityKgM3)
		floor := req.Config.MinPieceMass
		if floor <= 0 {
			floor = 0.1
		}
		if mass < floor {
			mass = floor
		}
		frag.MassKg = mass

		// Diagonal box inertia.
		w, h, d := ext.X(), ext.Y(), ext.Z()
		frag.Inertia = mgl32.Vec3{
			(1.0 / 12.0) * mass * (h*h + d*d),
			(1.0 / 12.0) * mass * (w*w + d*d),
			(1.0 / 12.0) * mass * (w*w + h*h),
		}

		radial := frag.Centroid.Sub(impact)
		distance := radial.Len()
		if distance > 1e-6 {
			radial = radial.Mul(1.0 / distance)
		} else {
			radial = mgl32.Vec3{0, 1, 0}
		}

		impulse := float32(math.Sqrt(2.0 * req.EnergyJ * float64(mass)))
		speed := (impulse / mass) / float32(math.Max(0.5, float64(distance)))

		var direction mgl32.Vec3
		scale := float32(1.0)
		switch req.Kind {
		case PointImpact:
			direction = dir.Mul(0.7).Add(radial.Mul(0.3))
		case Explosion:
			direction = radial
			scale = 1.5
		case BluntForce:
			direction = dir.Mul(0.5).Add(radial.Mul(0.5))
		case Cutting:
			direction = radial.Sub(dir.Mul(radial.Dot(dir)))
			scale = 0.7
		case Crushing:
			direction = radial
			direction[1] *= 0.3
		case Shearing:
			direction = radial.Sub(dir.Mul(radial.Dot(dir)))
		default:
			direction = radial
		}
		if direction.Len() < 1e-6 {
			// Degenerate (radial parallel to the hit direction): keep the
			// pattern's plane rather than falling back onto the hit axis.
			switch req.Kind {
			case Cutting, Shearing:
				direction = perpendicularTo(dir)
			default:
				direction = radial
			}
		}
		frag.LinearVelocity = direction.Normalize().Mul(speed * scale)

		// Tumble proportional to linear speed, reproducible per piece.
		prng := rand.New(rand.NewSource(req.Config.Seed + int64(i)))
		tumble := mgl32.Vec3{
			float32(prng.NormFloat64()),
			float32(prng.NormFloat64()),
			float32(prng.NormFloat64()),
		}
		if tumble.Len() > 1e-6 {
			frag.AngularVelocity = tumble.Normalize().Mul(frag.LinearVelocity.Len() * 0.5)
		}
	}
}
