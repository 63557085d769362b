// Package fracture generates debris fragments from an impact: Poisson-disk
// seed scattering shaped by the impact kind, a bounded Voronoi diagram
// clipped from the mesh bounds, and per-fragment physics seeding. The cell
// math runs in float64 (gonum r3); the engine-facing API speaks mgl32 like
// the rest of the engine.
package fracture

import (
	"github.com/go-gl/mathgl/mgl32"
)

type ImpactKind int

const (
	PointImpact ImpactKind = iota
	BluntForce
	Explosion
	Cutting
	Crushing
	Shearing
)

func (k ImpactKind) String() string {
	switch k {
	case PointImpact:
		return "PointImpact"
	case BluntForce:
		return "BluntForce"
	case Explosion:
		return "Explosion"
	case Cutting:
		return "Cutting"
	case Crushing:
		return "Crushing"
	case Shearing:
		return "Shearing"
	}
	return "PointImpact"
}

type Behavior int

const (
	Brittle Behavior = iota
	Ductile
	Fibrous
	Granular
)

// Properties shape the fragment pattern for one material.
type Properties struct {
	Behavior              Behavior
	MinPieces             int
	MaxPieces             int
	SizeVariance          float32 // 0..1
	RadialPatternStrength float32 // 0..1
	PlanarTendency        float32 // 0..1, grain strength
	GrainDirection        mgl32.Vec3
	EdgeSharpness         float32
	SurfaceRoughness      float32
	ShatterCompletely     bool
}

// Config is per-call tuning; the seed makes a run fully reproducible.
type Config struct {
	NumFragments   int
	SeedClustering float32 // 0..1, bias of seeds toward the impact
	Seed           int64
	UseGPU         bool
	MinPieceMass   float32
}

// SourceMesh is the geometry being destroyed, in world space.
type SourceMesh struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   []uint32
}

func (m *SourceMesh) Bounds() (min, max mgl32.Vec3) {
	if len(m.Positions) == 0 {
		return
	}
	min, max = m.Positions[0], m.Positions[0]
	for _, p := range m.Positions[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < min[i] {
				min[i] = p[i]
			}
			if p[i] > max[i] {
				max[i] = p[i]
			}
		}
	}
	return
}

// Request is one fracture job.
type Request struct {
	Mesh        SourceMesh
	ImpactPoint mgl32.Vec3
	ImpactDir   mgl32.Vec3
	EnergyJ     float64
	Kind        ImpactKind
	Props       Properties
	DensityKgM3 float64
	Config      Config
}

// VoxelRes is the side of the per-fragment occupancy grid used for fluid
// sampling.
const VoxelRes = 4

// Fragment is one output piece: geometry plus seeded rigid-body state.
type Fragment struct {
	Vertices []mgl32.Vec3
	Indices  []uint32
	Normals  []mgl32.Vec3
	UVs      []mgl32.Vec2

	Min, Max mgl32.Vec3 // local AABB around the origin-centered geometry
	Centroid mgl32.Vec3 // world position the geometry was centered on

	MassKg  float32
	Inertia mgl32.Vec3 // diagonal box approximation

	Position        mgl32.Vec3
	Rotation        mgl32.Quat
	LinearVelocity  mgl32.Vec3
	AngularVelocity mgl32.Vec3

	TriangleCount int

	// Occupancy of the local AABB at VoxelRes^3, row-major x+y*4+z*16.
	VoxelOccupancy [VoxelRes * VoxelRes * VoxelRes]bool
}

// Future is the async handle for a dispatched job. Await blocks until the
// backend finishes or fails.
type Future struct {
	ch chan futureResult
}

type futureResult struct {
	fragments []Fragment
	err       error
}

func NewFuture() *Future {
	return &Future{ch: make(chan futureResult, 1)}
}

func (f *Future) Complete(fragments []Fragment, err error) {
	f.ch <- futureResult{fragments: fragments, err: err}
}

func (f *Future) Await() ([]Fragment, error) {
	res := <-f.ch
	return res.fragments, res.err
}

// Dispatcher is the compute backend contract. The GPU implementation lives
// in fracture/gpu; absence or failure falls back to the CPU path, which is
// the behavioral reference.
type Dispatcher interface {
	DispatchVoronoi(req *Request, seeds []mgl32.Vec3) *Future
}
