package rubble

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func testStructuralConfig() StructuralConfig {
	return StructuralConfig{
		Gravity:            9.81,
		EffectiveAreaM2:    0.01,
		CharacteristicLen:  0.1,
		CrackPropagationMS: 300,
	}
}

// Three stacked vertices; vertex 0 carries the whole column. Edges are
// listed top-down so one sweep accumulates the chain.
func columnComponent(massPerVertex float64) StructuralComponent {
	pos := []mgl32.Vec3{{0, 0, 0}, {0, 1, 0}, {0, 2, 0}}
	normals := []mgl32.Vec3{{1, 0, 0}, {1, 0, 0}, {1, 0, 0}}
	edges := []LoadBearingEdge{
		{A: 1, B: 2, CapacityN: 1e6},
		{A: 0, B: 1, CapacityN: 1e6, Critical: true},
	}
	return NewStructuralComponent(0, pos, normals, massPerVertex, edges)
}

func TestLoadPropagation(t *testing.T) {
	sim := NewStructuralSim(testStructuralConfig())
	sc := columnComponent(10)
	mat := &StructuralMaterial{
		TensileStrength: 1e9, CompressiveStrength: 1e9, UltimateStrength: 1e9, YieldStrength: 1e9,
	}

	res := sim.tick(&sc, mat)
	if len(res.FailedVertices) != 0 {
		t.Fatalf("strong material must not fail under 30 kg")
	}
	// The bottom edge carries the two vertices above it.
	want := 2 * 10 * 9.81
	if got := sc.Edges[1].CurrentLoadN; got < want-0.1 || got > want+0.1 {
		t.Errorf("bottom edge load: got %f, want %f", got, want)
	}
}

func TestCompressiveFailure(t *testing.T) {
	sim := NewStructuralSim(testStructuralConfig())
	sc := columnComponent(1000)
	mat := &StructuralMaterial{
		TensileStrength: 1e9, CompressiveStrength: 1e6, UltimateStrength: 1e9, YieldStrength: 1e9,
	}

	// Bottom vertex: 3000 kg * g / 0.01 m^2 = 2.94 MPa > 1 MPa.
	res := sim.tick(&sc, mat)
	if len(res.FailedVertices) == 0 {
		t.Fatalf("overloaded column must fail")
	}
	failedBottom := false
	for _, v := range res.FailedVertices {
		if v == 0 {
			failedBottom = true
		}
	}
	if !failedBottom {
		t.Errorf("the bottom vertex carries the most load and must fail, got %v", res.FailedVertices)
	}
}

func TestCriticalEdgeSeveranceMeansFullCollapse(t *testing.T) {
	sim := NewStructuralSim(testStructuralConfig())
	sc := columnComponent(10)
	sc.Edges[1].CapacityN = 50 // bottom critical edge cannot carry 196 N
	mat := &StructuralMaterial{
		TensileStrength: 1e9, CompressiveStrength: 1e9, UltimateStrength: 1e9, YieldStrength: 1e9,
	}

	res := sim.tick(&sc, mat)
	if !res.CriticalSevered {
		t.Fatalf("overloaded critical edge must sever")
	}
	if res.Approach() != ApproachFullFracture {
		t.Errorf("severed critical edge implies full fracture, got %v", res.Approach())
	}
}

func TestImpactStressPulse(t *testing.T) {
	sc := columnComponent(10)
	cfg := testStructuralConfig()

	// Striking into the +X-facing surface compresses it.
	ApplyImpactStress(&sc, cfg, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{-1, 0, 0}, 500, 1.5)
	if sc.Stress[0].CompressivePa <= 0 {
		t.Errorf("impact into the surface normal loads compression")
	}
	if sc.Stress[0].VonMisesPa <= 0 {
		t.Errorf("von Mises must be recomputed after the pulse")
	}

	// Pulling along the normal (from behind) loads tension.
	sc2 := columnComponent(10)
	ApplyImpactStress(&sc2, cfg, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 0}, 500, 1.5)
	if sc2.Stress[0].TensilePa <= 0 {
		t.Errorf("impact along the surface normal is tensile")
	}
}

func TestBrittleCrackPropagation(t *testing.T) {
	sim := NewStructuralSim(testStructuralConfig())
	sc := columnComponent(1000)
	mat := &StructuralMaterial{
		TensileStrength: 1e9, CompressiveStrength: 1e6, UltimateStrength: 1.5e6,
		YieldStrength: 1e6, IsBrittle: true,
	}

	res := sim.tick(&sc, mat)
	// Vertex 0 fails outright (2.94 MPa); vertex 1 at 1.96 MPa exceeds
	// half the ultimate strength and the crack runs into it.
	if len(res.FailedVertices) < 2 {
		t.Errorf("brittle crack should propagate along the edge graph, failed %v", res.FailedVertices)
	}
}

func TestClearCriticalEdges(t *testing.T) {
	sc := columnComponent(10)
	sc.Edges[0].Severed = true
	sc.Stress[1].Fractured = true

	sc.ClearCriticalEdges()
	for _, e := range sc.Edges {
		if e.Severed {
			t.Errorf("severed flags must reset")
		}
	}
	for _, st := range sc.Stress {
		if st.Fractured {
			t.Errorf("vertex stress must reset")
		}
	}
}
