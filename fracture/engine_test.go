package fracture

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestGenerateDeterministicOnCPU(t *testing.T) {
	engine := NewEngine(nil)

	a, err := engine.Generate(testRequest(PointImpact, 1234))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := engine.Generate(testRequest(PointImpact, 1234))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("fixed seed must give identical fragment counts: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if math.Abs(float64(a[i].MassKg-b[i].MassKg)) > 1e-5 {
			t.Errorf("fragment %d mass differs: %f vs %f", i, a[i].MassKg, b[i].MassKg)
		}
		if a[i].Min.Sub(b[i].Min).Len() > 1e-5 || a[i].Max.Sub(b[i].Max).Len() > 1e-5 {
			t.Errorf("fragment %d AABB differs", i)
		}
		if a[i].TriangleCount != b[i].TriangleCount {
			t.Errorf("fragment %d triangle count differs", i)
		}
	}
}

func TestFragmentCountWithinBounds(t *testing.T) {
	engine := NewEngine(nil)
	frags, err := engine.Generate(testRequest(Explosion, 5))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(frags) < 5 || len(frags) > 15 {
		t.Errorf("fragment count %d outside the material's [5,15]", len(frags))
	}
}

func TestFragmentPhysicsSeeding(t *testing.T) {
	engine := NewEngine(nil)
	req := testRequest(PointImpact, 11)
	frags, err := engine.Generate(req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	for i := range frags {
		f := &frags[i]
		if f.MassKg < req.Config.MinPieceMass && f.MassKg < 0.1 {
			t.Errorf("fragment %d mass below the floor: %f", i, f.MassKg)
		}
		if f.Inertia.X() <= 0 || f.Inertia.Y() <= 0 || f.Inertia.Z() <= 0 {
			t.Errorf("fragment %d inertia must be positive: %v", i, f.Inertia)
		}
		if f.TriangleCount*3 != len(f.Indices) {
			t.Errorf("fragment %d triangle bookkeeping off", i)
		}
		if len(f.UVs) != len(f.Vertices) || len(f.Normals) != len(f.Vertices) {
			t.Errorf("fragment %d attribute arrays must match vertices", i)
		}

		// Speed falls off as 1/max(0.5, d) from the impact.
		d := float64(f.Centroid.Sub(req.ImpactPoint).Len())
		expected := math.Sqrt(2.0*req.EnergyJ/float64(f.MassKg)) / math.Max(0.5, d)
		got := float64(f.LinearVelocity.Len())
		if math.Abs(got-expected) > expected*0.01+1e-3 {
			t.Errorf("fragment %d speed %f, want %f (d=%f)", i, got, expected, d)
		}
	}
}

func TestExplosionVelocitiesPointAway(t *testing.T) {
	engine := NewEngine(nil)
	req := testRequest(Explosion, 21)
	frags, err := engine.Generate(req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	for i := range frags {
		f := &frags[i]
		radial := f.Centroid.Sub(req.ImpactPoint)
		if radial.Len() < 1e-4 || f.LinearVelocity.Len() < 1e-6 {
			continue
		}
		if f.LinearVelocity.Normalize().Dot(radial.Normalize()) < 0.99 {
			t.Errorf("explosion fragment %d velocity not radial", i)
		}
	}
}

func TestAngularVelocityDeterministicPerPiece(t *testing.T) {
	engine := NewEngine(nil)
	a, _ := engine.Generate(testRequest(BluntForce, 77))
	b, _ := engine.Generate(testRequest(BluntForce, 77))
	for i := range a {
		if a[i].AngularVelocity.Sub(b[i].AngularVelocity).Len() > 1e-5 {
			t.Errorf("fragment %d tumble must be reproducible", i)
		}
	}
}

func TestVoxelOccupancyNonEmpty(t *testing.T) {
	engine := NewEngine(nil)
	frags, _ := engine.Generate(testRequest(PointImpact, 3))
	for i := range frags {
		occupied := 0
		for _, o := range frags[i].VoxelOccupancy {
			if o {
				occupied++
			}
		}
		if occupied == 0 {
			t.Errorf("fragment %d has an empty voxel approximation", i)
		}
	}
}

func TestFragmentsCenteredOnCentroid(t *testing.T) {
	engine := NewEngine(nil)
	frags, _ := engine.Generate(testRequest(Crushing, 8))
	for i := range frags {
		f := &frags[i]
		// The local AABB must straddle the origin.
		for axis := 0; axis < 3; axis++ {
			if f.Min[axis] > 1e-4 || f.Max[axis] < -1e-4 {
				t.Errorf("fragment %d local bounds do not straddle the origin: %v %v", i, f.Min, f.Max)
				break
			}
		}
		if f.Position != f.Centroid {
			t.Errorf("fragment %d spawns at its centroid", i)
		}
	}
}

// The cutting pattern throws pieces perpendicular to the blade direction.
func TestCuttingVelocityPerpendicular(t *testing.T) {
	engine := NewEngine(nil)
	req := testRequest(Cutting, 13)
	frags, _ := engine.Generate(req)
	dir := req.ImpactDir.Normalize()
	for i := range frags {
		v := frags[i].LinearVelocity
		if v.Len() < 1e-6 {
			continue
		}
		if f := mgl32.Abs(v.Normalize().Dot(dir)); f > 0.05 {
			t.Errorf("cutting fragment %d velocity has %f along the blade", i, f)
		}
	}
}
