package rubble

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// FractureApproach is the dispatcher's verdict for one impact.
type FractureApproach int

const (
	ApproachNone FractureApproach = iota
	ApproachSurfaceDamage
	ApproachPartialFracture
	ApproachFullFracture
)

func (a FractureApproach) String() string {
	switch a {
	case ApproachNone:
		return "NoFracture"
	case ApproachSurfaceDamage:
		return "SurfaceDamage"
	case ApproachPartialFracture:
		return "PartialFracture"
	case ApproachFullFracture:
		return "FullFracture"
	}
	return "NoFracture"
}

// StressState is the accumulated stress at one mesh vertex.
type StressState struct {
	TensilePa     float64
	CompressivePa float64
	ShearPa       float64
	VonMisesPa    float64
	Yielding      bool
	Fractured     bool
}

// LoadBearingEdge is one strut of the static load graph: vertex A supports
// vertex B. Severing a critical edge collapses the whole body.
type LoadBearingEdge struct {
	A, B         int
	CapacityN    float64
	CurrentLoadN float64
	Critical     bool
	Severed      bool
}

// StructuralComponent is the per-entity load graph plus vertex state.
type StructuralComponent struct {
	MaterialId   MaterialId
	VertexPos    []mgl32.Vec3
	VertexNormal []mgl32.Vec3
	VertexMassKg []float64
	Stress       []StressState
	Edges        []LoadBearingEdge
}

// NewStructuralComponent builds a load graph over the given vertices. Edges
// must be supplied by the builder (mesh import or tile construction).
func NewStructuralComponent(mat MaterialId, pos []mgl32.Vec3, normals []mgl32.Vec3, massPerVertex float64, edges []LoadBearingEdge) StructuralComponent {
	masses := make([]float64, len(pos))
	for i := range masses {
		masses[i] = massPerVertex
	}
	return StructuralComponent{
		MaterialId:   mat,
		VertexPos:    pos,
		VertexNormal: normals,
		VertexMassKg: masses,
		Stress:       make([]StressState, len(pos)),
		Edges:        edges,
	}
}

// StructuralResult summarizes one entity's tick for the impact dispatcher.
type StructuralResult struct {
	FailedVertices []int
	CriticalSevered bool
}

// Approach reports the fracture approach implied by this tick alone.
func (r *StructuralResult) Approach() FractureApproach {
	if r.CriticalSevered {
		return ApproachFullFracture
	}
	if len(r.FailedVertices) > 0 {
		return ApproachPartialFracture
	}
	return ApproachNone
}

type StructuralSim struct {
	Config  StructuralConfig
	Results map[EntityId]StructuralResult
}

func NewStructuralSim(cfg StructuralConfig) *StructuralSim {
	return &StructuralSim{Config: cfg, Results: make(map[EntityId]StructuralResult)}
}

type StructuralModule struct {
	Config StructuralConfig
}

func (m StructuralModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(NewStructuralSim(m.Config))
	app.UseSystem(Use(StructuralUpdateSystem).InStage(Structural))
}

// StructuralUpdateSystem propagates gravity loads through every load graph,
// recomputes stress, and records the per-entity failure summary the impact
// dispatcher reads in the next stage.
func StructuralUpdateSystem(cmd *Commands, sim *StructuralSim, materials *MaterialTable) {
	clear(sim.Results)
	MakeQuery1[StructuralComponent](cmd).Map(func(eid EntityId, sc *StructuralComponent) bool {
		mat := &materials.Get(sc.MaterialId).Structural
		sim.Results[eid] = sim.tick(sc, mat)
		return true
	})
}

// tick runs load propagation and the failure criteria for one body.
func (sim *StructuralSim) tick(sc *StructuralComponent, mat *StructuralMaterial) StructuralResult {
	g := sim.Config.Gravity
	area := sim.Config.EffectiveAreaM2

	// Per-vertex supported load: own weight plus the weight carried in
	// over support edges. Edges are sorted top-down by the builder; a
	// single sweep accumulates the supported chain.
	load := make([]float64, len(sc.VertexPos))
	for i, m := range sc.VertexMassKg {
		load[i] = m * g
	}
	for e := range sc.Edges {
		edge := &sc.Edges[e]
		if edge.Severed {
			continue
		}
		load[edge.A] += load[edge.B]
		edge.CurrentLoadN = load[edge.B]
		if edge.CapacityN > 0 && edge.CurrentLoadN > edge.CapacityN {
			edge.Severed = true
		}
	}

	res := StructuralResult{}
	for i := range sc.Stress {
		st := &sc.Stress[i]
		sigma := load[i] / area

		// Static load is compressive; impact pulses folded in earlier may
		// have pushed either component.
		st.CompressivePa += sigma
		st.VonMisesPa = vonMises(st.TensilePa, st.CompressivePa, st.ShearPa)
		st.Yielding = st.VonMisesPa > mat.YieldStrength

		failed := st.TensilePa > mat.TensileStrength ||
			st.CompressivePa > mat.CompressiveStrength ||
			st.VonMisesPa > mat.UltimateStrength
		if failed && !st.Fractured {
			st.Fractured = true
			res.FailedVertices = append(res.FailedVertices, i)
		}

		// Static contribution decays; only sustained overload accumulates.
		st.CompressivePa -= sigma
	}

	// Brittle cracks run along the edge graph from every newly failed
	// vertex, while the destination still exceeds half its threshold.
	if mat.IsBrittle && len(res.FailedVertices) > 0 {
		sim.propagateCracks(sc, mat, &res)
	}

	for e := range sc.Edges {
		edge := &sc.Edges[e]
		if !edge.Severed {
			continue
		}
		if edge.Critical {
			res.CriticalSevered = true
		}
	}
	return res
}

func (sim *StructuralSim) propagateCracks(sc *StructuralComponent, mat *StructuralMaterial, res *StructuralResult) {
	frontier := append([]int(nil), res.FailedVertices...)
	adj := make(map[int][]int)
	for _, e := range sc.Edges {
		adj[e.A] = append(adj[e.A], e.B)
		adj[e.B] = append(adj[e.B], e.A)
	}

	for len(frontier) > 0 {
		v := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for _, n := range adj[v] {
			st := &sc.Stress[n]
			if st.Fractured {
				continue
			}
			if st.VonMisesPa > mat.UltimateStrength*0.5 ||
				st.TensilePa > mat.TensileStrength*0.5 {
				st.Fractured = true
				res.FailedVertices = append(res.FailedVertices, n)
				frontier = append(frontier, n)
				// A crack severs the edges it crosses.
				for e := range sc.Edges {
					edge := &sc.Edges[e]
					if (edge.A == v && edge.B == n) || (edge.A == n && edge.B == v) {
						edge.Severed = true
					}
				}
			}
		}
	}
}

// ApplyImpactStress folds an external hit into vertex stress near the
// impact point: magnitude E/(A*L), sign from the impact direction against
// the vertex normal (with the grain tensile, against it compressive).
func ApplyImpactStress(sc *StructuralComponent, cfg StructuralConfig, point mgl32.Vec3, dir mgl32.Vec3, energyJ float64, radius float32) {
	if radius <= 0 {
		radius = 0.5
	}
	pulse := energyJ / (math.Pi * float64(radius) * float64(radius) * cfg.CharacteristicLen)

	for i, p := range sc.VertexPos {
		d := p.Sub(point).Len()
		if d > radius {
			continue
		}
		falloff := 1.0 - float64(d/radius)
		mag := pulse * falloff

		sign := 1.0
		if i < len(sc.VertexNormal) {
			if float64(dir.Dot(sc.VertexNormal[i])) > 0 {
				sign = -1.0 // hit from behind the surface: tension
			}
		}
		st := &sc.Stress[i]
		if sign > 0 {
			st.CompressivePa += mag
		} else {
			st.TensilePa += mag
		}
		st.ShearPa += mag * 0.3
		st.VonMisesPa = vonMises(st.TensilePa, st.CompressivePa, st.ShearPa)
	}
}

// ClearCriticalEdges resets severed state after the body has fractured; the
// replacement bodies get fresh graphs.
func (sc *StructuralComponent) ClearCriticalEdges() {
	for e := range sc.Edges {
		sc.Edges[e].Severed = false
		sc.Edges[e].CurrentLoadN = 0
	}
	for i := range sc.Stress {
		sc.Stress[i] = StressState{}
	}
}

// vonMises for a principal tensile/compressive pair plus shear.
func vonMises(tensile, compressive, shear float64) float64 {
	s1 := tensile
	s2 := -compressive
	return math.Sqrt(s1*s1 - s1*s2 + s2*s2 + 3*shear*shear)
}
