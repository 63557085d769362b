package rubble

import (
	"hash/fnv"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/rubble/fracture"
)

// DebrisComponent is one simulated fragment: its geometry, rigid-body
// state, and bookkeeping for the pool's budgets.
type DebrisComponent struct {
	Vertices []mgl32.Vec3
	Indices  []uint32
	Normals  []mgl32.Vec3
	UVs      []mgl32.Vec2

	LocalMin mgl32.Vec3
	LocalMax mgl32.Vec3

	MassKg  float32
	Inertia mgl32.Vec3 // diagonal

	Velocity        mgl32.Vec3
	AngularVelocity mgl32.Vec3
	Sleeping        bool
	IdleTime        float64

	TimeSinceCreation float64
	TriangleCount     int
	MaterialId        MaterialId

	// LODFactor is the render-triangle multiplier chosen by distance:
	// 1.0 full, 0.5 mid band, Config.LODReductionFar beyond.
	LODFactor float32

	GeometryHash uint64

	VoxelOccupancy [fracture.VoxelRes * fracture.VoxelRes * fracture.VoxelRes]bool
}

func (d *DebrisComponent) WorldAABB(tr *TransformComponent) AABB {
	// Conservative: rotate the local box by bounding-sphere expansion.
	// The sphere is centered on the piece origin and reaches its farthest
	// local corner, so off-center boxes stay covered.
	var far mgl32.Vec3
	for i := 0; i < 3; i++ {
		lo, hi := d.LocalMin[i], d.LocalMax[i]
		if lo < 0 {
			lo = -lo
		}
		if hi < 0 {
			hi = -hi
		}
		far[i] = hi
		if lo > hi {
			far[i] = lo
		}
	}
	r := far.Len()
	return AABB{
		Min: tr.Position.Sub(mgl32.Vec3{r, r, r}),
		Max: tr.Position.Add(mgl32.Vec3{r, r, r}),
	}
}

// DebrisPool enforces the entity and triangle budgets and tracks insertion
// order for oldest-first eviction.
type DebrisPool struct {
	Config DebrisConfig

	// ViewerPos drives distance LOD; the host updates it per frame.
	ViewerPos mgl32.Vec3

	entities    []EntityId // insertion order, oldest first
	triangles   int
	triByEntity map[EntityId]int

	// Instancing groups rebuilt each update: geometry hash -> entities.
	InstanceGroups map[uint64][]EntityId

	mergeGrid *SpatialHashGrid
}

func NewDebrisPool(cfg DebrisConfig) *DebrisPool {
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = 500
	}
	if cfg.MaxTotalTriangles <= 0 {
		cfg.MaxTotalTriangles = 50000
	}
	return &DebrisPool{
		Config:         cfg,
		InstanceGroups: make(map[uint64][]EntityId),
		triByEntity:    make(map[EntityId]int),
		mergeGrid:      NewSpatialHashGrid(cfg.MergeDistance * 2),
	}
}

func (p *DebrisPool) Count() int         { return len(p.entities) }
func (p *DebrisPool) TriangleTotal() int { return p.triangles }

// Insert spawns one fragment as a debris entity. Never blocks: if either
// budget would overflow, the oldest debris are evicted until the piece
// fits.
func (p *DebrisPool) Insert(cmd *Commands, frag *fracture.Fragment, mat MaterialId) EntityId {
	for len(p.entities) >= p.Config.MaxEntities ||
		(p.triangles+frag.TriangleCount > p.Config.MaxTotalTriangles && len(p.entities) > 0) {
		p.evictOldest(cmd)
	}

	debris := DebrisComponent{
		Vertices:        frag.Vertices,
		Indices:         frag.Indices,
		Normals:         frag.Normals,
		UVs:             frag.UVs,
		LocalMin:        frag.Min,
		LocalMax:        frag.Max,
		MassKg:          frag.MassKg,
		Inertia:         frag.Inertia,
		Velocity:        frag.LinearVelocity,
		AngularVelocity: frag.AngularVelocity,
		TriangleCount:   frag.TriangleCount,
		MaterialId:      mat,
		LODFactor:       1.0,
		GeometryHash:    hashGeometry(frag.Vertices, frag.Indices),
		VoxelOccupancy:  frag.VoxelOccupancy,
	}

	eid := cmd.AddEntity(
		&TransformComponent{
			Position: frag.Position,
			Rotation: frag.Rotation,
			Scale:    mgl32.Vec3{1, 1, 1},
		},
		&debris,
	)
	p.entities = append(p.entities, eid)
	p.triangles += frag.TriangleCount
	p.triByEntity[eid] = frag.TriangleCount
	return eid
}

func (p *DebrisPool) evictOldest(cmd *Commands) {
	if len(p.entities) == 0 {
		return
	}
	oldest := p.entities[0]
	p.entities = p.entities[1:]
	p.triangles -= p.triByEntity[oldest]
	delete(p.triByEntity, oldest)
	cmd.RemoveEntity(oldest)
}

func (p *DebrisPool) remove(cmd *Commands, eid EntityId) {
	for i, e := range p.entities {
		if e == eid {
			p.entities = append(p.entities[:i], p.entities[i+1:]...)
			break
		}
	}
	p.triangles -= p.triByEntity[eid]
	delete(p.triByEntity, eid)
	cmd.RemoveEntity(eid)
}

type DebrisModule struct {
	Config DebrisConfig
}

func (m DebrisModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(NewDebrisPool(m.Config))
	app.UseSystem(Use(DebrisUpdateSystem).InStage(Debris))
}

// DebrisUpdateSystem runs the pool's frame work in order: lifetime expiry,
// pressure-triggered merging, distance LOD, instancing groups.
func DebrisUpdateSystem(cmd *Commands, time *Time, pool *DebrisPool) {
	dt := time.Dt

	// 1. Expiry.
	var expired []EntityId
	MakeQuery1[DebrisComponent](cmd).Map(func(eid EntityId, d *DebrisComponent) bool {
		d.TimeSinceCreation += dt
		if d.TimeSinceCreation > pool.Config.LifetimeS {
			expired = append(expired, eid)
		}
		return true
	})
	for _, eid := range expired {
		pool.remove(cmd, eid)
	}

	// 2. Merge under pressure.
	if float64(len(pool.entities)) > float64(pool.Config.MaxEntities)*pool.Config.MergePressure {
		pool.mergePass(cmd)
	}

	// 3. Distance LOD.
	if pool.Config.EnableLOD {
		MakeQuery2[TransformComponent, DebrisComponent](cmd).Map(
			func(eid EntityId, tr *TransformComponent, d *DebrisComponent) bool {
				dist := tr.Position.Sub(pool.ViewerPos).Len()
				switch {
				case dist < pool.Config.LODNear:
					d.LODFactor = 1.0
				case dist < pool.Config.LODFar:
					d.LODFactor = 0.5
				default:
					d.LODFactor = pool.Config.LODReductionFar
				}
				return true
			})
	}

	// 4. Instancing groups for the renderer.
	clear(pool.InstanceGroups)
	MakeQuery1[DebrisComponent](cmd).Map(func(eid EntityId, d *DebrisComponent) bool {
		pool.InstanceGroups[d.GeometryHash] = append(pool.InstanceGroups[d.GeometryHash], eid)
		return true
	})
}

// mergePass collapses debris lying within MergeDistance of each other into
// one piece: summed mass, union bounds as the combined hull approximation.
func (p *DebrisPool) mergePass(cmd *Commands) {
	p.mergeGrid.Clear()
	positions := make(map[EntityId]mgl32.Vec3)
	MakeQuery2[TransformComponent, DebrisComponent](cmd).Map(
		func(eid EntityId, tr *TransformComponent, d *DebrisComponent) bool {
			p.mergeGrid.InsertPoint(eid, tr.Position)
			positions[eid] = tr.Position
			return true
		})

	absorbed := make(map[EntityId]bool)
	for _, eid := range p.entities {
		if absorbed[eid] {
			continue
		}
		pos, ok := positions[eid]
		if !ok {
			continue
		}
		keeper := GetComponent[DebrisComponent](cmd, eid)
		keeperTr := GetComponent[TransformComponent](cmd, eid)
		if keeper == nil || keeperTr == nil {
			continue
		}

		for _, nid := range p.mergeGrid.QueryRadius(pos, p.Config.MergeDistance, 0) {
			if nid == eid || absorbed[nid] {
				continue
			}
			npos, ok := positions[nid]
			if !ok || npos.Sub(pos).Len() > p.Config.MergeDistance {
				continue
			}
			other := GetComponent[DebrisComponent](cmd, nid)
			otherTr := GetComponent[TransformComponent](cmd, nid)
			if other == nil || otherTr == nil {
				continue
			}

			mergeInto(keeper, keeperTr, other, otherTr)
			absorbed[nid] = true
		}
	}

	for eid := range absorbed {
		p.remove(cmd, eid)
	}

	// Recount: merges rebuilt keeper geometry.
	p.triangles = 0
	MakeQuery1[DebrisComponent](cmd).Map(func(eid EntityId, d *DebrisComponent) bool {
		p.triByEntity[eid] = d.TriangleCount
		p.triangles += d.TriangleCount
		return true
	})
}

// mergeInto grows the keeper to the union of both pieces. Momentum is
// conserved; the combined shape is the union AABB rebuilt as a box hull.
func mergeInto(keeper *DebrisComponent, keeperTr *TransformComponent, other *DebrisComponent, otherTr *TransformComponent) {
	totalMass := keeper.MassKg + other.MassKg
	if totalMass <= 0 {
		totalMass = 0.1
	}

	keeperTr.Position = keeperTr.Position.Mul(keeper.MassKg / totalMass).
		Add(otherTr.Position.Mul(other.MassKg / totalMass))
	keeper.Velocity = keeper.Velocity.Mul(keeper.MassKg / totalMass).
		Add(other.Velocity.Mul(other.MassKg / totalMass))

	a := keeper.WorldAABB(keeperTr)
	b := other.WorldAABB(otherTr)
	union := AABB{
		Min: mgl32.Vec3{
			minf(a.Min.X(), b.Min.X()), minf(a.Min.Y(), b.Min.Y()), minf(a.Min.Z(), b.Min.Z()),
		},
		Max: mgl32.Vec3{
			maxf(a.Max.X(), b.Max.X()), maxf(a.Max.Y(), b.Max.Y()), maxf(a.Max.Z(), b.Max.Z()),
		},
	}
	half := union.Extents().Mul(0.5)

	verts, indices, normals, uvs := boxGeometry(half)
	keeper.Vertices = verts
	keeper.Indices = indices
	keeper.Normals = normals
	keeper.UVs = uvs
	keeper.LocalMin = half.Mul(-1)
	keeper.LocalMax = half
	keeper.TriangleCount = len(indices) / 3
	keeper.MassKg = totalMass
	keeper.GeometryHash = hashGeometry(verts, indices)

	w, h, d := half.X()*2, half.Y()*2, half.Z()*2
	keeper.Inertia = mgl32.Vec3{
		(1.0 / 12.0) * totalMass * (h*h + d*d),
		(1.0 / 12.0) * totalMass * (w*w + d*d),
		(1.0 / 12.0) * totalMass * (w*w + h*h),
	}
	for i := range keeper.VoxelOccupancy {
		keeper.VoxelOccupancy[i] = true
	}
	keeper.Sleeping = false
	keeper.IdleTime = 0
	if other.TimeSinceCreation < keeper.TimeSinceCreation {
		keeper.TimeSinceCreation = other.TimeSinceCreation
	}
}

// boxGeometry emits an axis-aligned box around the origin, flat-shaded.
func boxGeometry(half mgl32.Vec3) ([]mgl32.Vec3, []uint32, []mgl32.Vec3, []mgl32.Vec2) {
	x, y, z := half.X(), half.Y(), half.Z()
	faces := [6][4]mgl32.Vec3{
		{{x, -y, -z}, {x, y, -z}, {x, y, z}, {x, -y, z}},     // +X
		{{-x, -y, z}, {-x, y, z}, {-x, y, -z}, {-x, -y, -z}}, // -X
		{{-x, y, -z}, {-x, y, z}, {x, y, z}, {x, y, -z}},     // +Y
		{{-x, -y, z}, {-x, -y, -z}, {x, -y, -z}, {x, -y, z}}, // -Y
		{{-x, -y, z}, {x, -y, z}, {x, y, z}, {-x, y, z}},     // +Z
		{{x, -y, -z}, {-x, -y, -z}, {-x, y, -z}, {x, y, -z}}, // -Z
	}
	faceNormals := [6]mgl32.Vec3{
		{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1},
	}

	var verts, normals []mgl32.Vec3
	var uvs []mgl32.Vec2
	var indices []uint32
	for f := 0; f < 6; f++ {
		base := uint32(len(verts))
		for c, v := range faces[f] {
			verts = append(verts, v)
			normals = append(normals, faceNormals[f])
			uvs = append(uvs, mgl32.Vec2{float32(c & 1), float32(c >> 1)})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return verts, indices, normals, uvs
}

func hashGeometry(verts []mgl32.Vec3, indices []uint32) uint64 {
	h := fnv.New64a()
	var buf [4]byte
	for _, v := range verts {
		for i := 0; i < 3; i++ {
			bits := math.Float32bits(v[i])
			buf[0] = byte(bits)
			buf[1] = byte(bits >> 8)
			buf[2] = byte(bits >> 16)
			buf[3] = byte(bits >> 24)
			h.Write(buf[:])
		}
	}
	for _, idx := range indices {
		buf[0] = byte(idx)
		buf[1] = byte(idx >> 8)
		buf[2] = byte(idx >> 16)
		buf[3] = byte(idx >> 24)
		h.Write(buf[:])
	}
	return h.Sum64()
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
