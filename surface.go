package rubble

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type DamageType int

const (
	DamageBulletHole DamageType = iota
	DamageChip
	DamageDent
	DamageScratch
	DamageBurn
	DamageCrack
)

func (d DamageType) String() string {
	switch d {
	case DamageBulletHole:
		return "BulletHole"
	case DamageChip:
		return "Chip"
	case DamageDent:
		return "Dent"
	case DamageScratch:
		return "Scratch"
	case DamageBurn:
		return "Burn"
	case DamageCrack:
		return "Crack"
	}
	return "Unknown"
}

// DamageRecord captures one applied displacement so damage can later be
// merged, repaired, or rolled back.
type DamageRecord struct {
	Position         mgl32.Vec3
	Normal           mgl32.Vec3
	Radius           float32
	Depth            float32
	Type             DamageType
	AffectedVertices []int
}

// Decal is the cheap fallback once the vertex budget is spent (or the hit
// is too weak to deform geometry).
type Decal struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	Radius   float32
	Type     DamageType
}

// DeformableMeshComponent is an entity's in-place-damageable geometry, a
// private copy of the source mesh that surface damage may displace.
type DeformableMeshComponent struct {
	Mesh       MeshData
	MaterialId MaterialId
}

// SurfaceDamageComponent tracks the per-entity deformation budget and the
// full damage history.
type SurfaceDamageComponent struct {
	VerticesUsed int
	Records      []DamageRecord
	Decals       []Decal
}

type SurfaceDamageSim struct {
	Config SurfaceConfig
}

func NewSurfaceDamageSim(cfg SurfaceConfig) *SurfaceDamageSim {
	if cfg.VertexBudget <= 0 {
		cfg.VertexBudget = 500
	}
	return &SurfaceDamageSim{Config: cfg}
}

type SurfaceDamageModule struct {
	Config SurfaceConfig
}

func (m SurfaceDamageModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(NewSurfaceDamageSim(m.Config))
}

// SurfaceHitResult reports what a hit produced.
type SurfaceHitResult struct {
	Deformed   bool
	DecalOnly  bool
	HoleRadius float32
	Depth      float32
	ChipCount  int
}

// ApplyHit deforms the mesh around the impact: a cone-shaped inward push,
// deepest at the center, zero at the rim. If displacing the affected
// vertices would blow the budget the mesh is left untouched and a decal is
// recorded instead. Brittle, granular and fibrous materials shed 3..8
// chips, which the caller turns into debris.
func (s *SurfaceDamageSim) ApplyHit(
	mesh *DeformableMeshComponent,
	dmg *SurfaceDamageComponent,
	mat *MaterialRecord,
	point mgl32.Vec3,
	dir mgl32.Vec3,
	energyJ float64,
	seed int64,
) SurfaceHitResult {
	radius := s.holeRadius(energyJ)
	depth := s.penetrationDepth(energyJ, mat.Structural.Hardness)

	// Enumerate affected vertices first; the budget check must precede any
	// mutation.
	var affected []int
	for i, p := range mesh.Mesh.Positions {
		if p.Sub(point).Len() <= radius {
			affected = append(affected, i)
		}
	}

	if len(affected) == 0 || dmg.VerticesUsed+len(affected) > s.Config.VertexBudget {
		dmg.Decals = append(dmg.Decals, Decal{
			Position: point,
			Normal:   dir.Mul(-1),
			Radius:   radius,
			Type:     DamageBulletHole,
		})
		return SurfaceHitResult{DecalOnly: true, HoleRadius: radius, Depth: depth}
	}

	push := dir.Normalize()
	for _, i := range affected {
		d := mesh.Mesh.Positions[i].Sub(point).Len()
		// Cone profile: full depth at center, zero at the rim.
		t := 1.0 - d/radius
		mesh.Mesh.Positions[i] = mesh.Mesh.Positions[i].Add(push.Mul(depth * t))
	}
	dmg.VerticesUsed += len(affected)
	dmg.Records = append(dmg.Records, DamageRecord{
		Position:         point,
		Normal:           push.Mul(-1),
		Radius:           radius,
		Depth:            depth,
		Type:             DamageBulletHole,
		AffectedVertices: affected,
	})

	result := SurfaceHitResult{Deformed: true, HoleRadius: radius, Depth: depth}

	behavior := mat.Fracture.Behavior
	if behavior == FractureBrittle || behavior == FractureGranular || behavior == FractureFibrous {
		span := s.Config.ChipMax - s.Config.ChipMin
		if span < 0 {
			span = 0
		}
		result.ChipCount = s.Config.ChipMin + int(seed%int64(span+1))
	}
	return result
}

// holeRadius grows linearly with energy up to the configured cap.
func (s *SurfaceDamageSim) holeRadius(energyJ float64) float32 {
	r := float32(energyJ) * s.Config.RadiusPerJoule
	if r > s.Config.MaxHoleRadius {
		r = s.Config.MaxHoleRadius
	}
	if r < 0.005 {
		r = 0.005
	}
	return r
}

// penetrationDepth is inversely proportional to hardness.
func (s *SurfaceDamageSim) penetrationDepth(energyJ float64, hardness float64) float32 {
	if hardness < 0.5 {
		hardness = 0.5
	}
	depth := float32(energyJ / (hardness * 2000.0))
	if depth > 0.2 {
		depth = 0.2
	}
	if depth < 0.002 {
		depth = 0.002
	}
	return depth
}

// MergeRecords collapses overlapping damage records of the same type into
// one larger record; repair tools work on the merged set.
func (dmg *SurfaceDamageComponent) MergeRecords() {
	if len(dmg.Records) < 2 {
		return
	}
	var merged []DamageRecord
	used := make([]bool, len(dmg.Records))
	for i := range dmg.Records {
		if used[i] {
			continue
		}
		cur := dmg.Records[i]
		for j := i + 1; j < len(dmg.Records); j++ {
			if used[j] || dmg.Records[j].Type != cur.Type {
				continue
			}
			dist := dmg.Records[j].Position.Sub(cur.Position).Len()
			if dist < (cur.Radius+dmg.Records[j].Radius)*0.5 {
				used[j] = true
				cur.Radius = float32(math.Max(float64(cur.Radius), float64(dist+dmg.Records[j].Radius)))
				if dmg.Records[j].Depth > cur.Depth {
					cur.Depth = dmg.Records[j].Depth
				}
				cur.AffectedVertices = append(cur.AffectedVertices, dmg.Records[j].AffectedVertices...)
			}
		}
		merged = append(merged, cur)
	}
	dmg.Records = merged
}
