package rubble

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/rubble/fracture"
)

// MaterialComponent binds an entity to the material table.
type MaterialComponent struct {
	Id MaterialId
}

// ImpactEvent is one incoming hit. Exactly one of Target / TargetTile is
// set.
type ImpactEvent struct {
	Source     EntityId
	Target     EntityId
	TargetTile *TileCoord
	Point      mgl32.Vec3
	Dir        mgl32.Vec3
	EnergyJ    float64
	Kind       fracture.ImpactKind
}

// ImpactQueue buffers hits between frames; the dispatcher drains it in the
// Impacts stage. This is the only place approach thresholds are read.
type ImpactQueue struct {
	Config ImpactConfig

	events []ImpactEvent

	// Decals recorded against tiles (entities keep theirs on their own
	// SurfaceDamageComponent).
	WorldDecals []Decal
}

func NewImpactQueue(cfg ImpactConfig) *ImpactQueue {
	return &ImpactQueue{Config: cfg}
}

func (q *ImpactQueue) Enqueue(ev ImpactEvent) {
	q.events = append(q.events, ev)
}

func (q *ImpactQueue) Pending() int { return len(q.events) }

// FractureService owns the engine, its config, the per-operation seed
// sequence that keeps runs reproducible, and the job queue between the
// Impacts and Fracture stages.
type FractureService struct {
	Engine   *fracture.Engine
	Config   FractureConfig
	BaseSeed int64

	// Completed counts finished fracture operations over the service's
	// lifetime; the metrics exporter publishes the delta.
	Completed int64

	opCount int64
	pending []fractureJob
}

// fractureJob is one queued fracture: the dispatcher decides it during
// Impacts, FractureSystem generates and inserts during Fracture.
type fractureJob struct {
	req   *fracture.Request
	matId MaterialId
}

func NewFractureService(engine *fracture.Engine, cfg FractureConfig, baseSeed int64) *FractureService {
	return &FractureService{Engine: engine, Config: cfg, BaseSeed: baseSeed}
}

func (s *FractureService) nextSeed() int64 {
	s.opCount++
	return s.BaseSeed + s.opCount
}

func (s *FractureService) PendingJobs() int { return len(s.pending) }

type ImpactModule struct {
	Config     ImpactConfig
	Fracture   FractureConfig
	Dispatcher fracture.Dispatcher
	Seed       int64
}

func (m ImpactModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(
		NewImpactQueue(m.Config),
		NewFractureService(fracture.NewEngine(m.Dispatcher), m.Fracture, m.Seed),
	)
	app.UseSystem(Use(ImpactSystem).InStage(Impacts))
	app.UseSystem(Use(FractureSystem).InStage(Fracture))
}

// DetermineApproach gates the response by kinetic energy against the
// material's toughness-scaled thresholds. An energy exactly at a threshold
// selects the higher approach.
func DetermineApproach(cfg *ImpactConfig, energyJ float64, mat *StructuralMaterial) FractureApproach {
	scale := mat.FractureToughness / cfg.ToughnessNorm
	if scale <= 0 {
		scale = 0.1
	}
	switch {
	case energyJ < cfg.DecalMaxJ*scale:
		return ApproachNone
	case energyJ < cfg.SurfaceMaxJ*scale:
		return ApproachSurfaceDamage
	case energyJ < cfg.PartialMaxJ*scale:
		return ApproachPartialFracture
	}
	return ApproachFullFracture
}

// healthLoss converts impact energy to a health decrement; brittle
// materials chip worse than ductile ones.
func healthLoss(cfg *ImpactConfig, energyJ float64, mat *StructuralMaterial) float32 {
	factor := 1.0
	if mat.IsBrittle {
		factor = 1.3
	}
	return float32(energyJ / 1000.0 * cfg.HealthPerKJ * factor)
}

// ImpactSystem drains the queue. Each event resolves material and fracture
// properties, picks an approach, and performs exactly the mutations that
// approach implies.
func ImpactSystem(
	cmd *Commands,
	queue *ImpactQueue,
	svc *FractureService,
	materials *MaterialTable,
	world *TilemapWorld,
	pool *DebrisPool,
	structSim *StructuralSim,
	surfSim *SurfaceDamageSim,
) {
	events := queue.events
	queue.events = queue.events[:0]

	for i := range events {
		ev := &events[i]
		if ev.TargetTile != nil {
			dispatchTileImpact(cmd, queue, svc, materials, world, pool, ev)
		} else {
			dispatchEntityImpact(cmd, queue, svc, materials, pool, structSim, surfSim, ev)
		}
	}
}

func dispatchTileImpact(
	cmd *Commands,
	queue *ImpactQueue,
	svc *FractureService,
	materials *MaterialTable,
	world *TilemapWorld,
	pool *DebrisPool,
	ev *ImpactEvent,
) {
	coord := *ev.TargetTile
	tile, ok := world.Tile(coord)
	if !ok {
		return
	}
	def, ok := world.Definition(tile.DefId)
	if !ok {
		return
	}
	matId := def.MaterialId
	if tile.CustomMaterial != nil {
		matId = *tile.CustomMaterial
	}
	rec := materials.Get(matId)

	approach := DetermineApproach(&queue.Config, ev.EnergyJ, &rec.Structural)

	tile.Health -= healthLoss(&queue.Config, ev.EnergyJ, &rec.Structural)
	if tile.Health < 0 {
		tile.Health = 0
	}
	state := StateForHealth(tile.Health)
	// Below full fracture a single hit advances the damage ladder at most
	// to Cracked.
	if approach < ApproachFullFracture && state > TileCracked && tile.State <= TileCracked {
		state = TileCracked
	}
	tile.State = state
	if tile.Health <= 0 || tile.State == TileCollapsed {
		approach = ApproachFullFracture
	}

	switch approach {
	case ApproachNone:
		queue.WorldDecals = append(queue.WorldDecals, Decal{
			Position: ev.Point,
			Normal:   ev.Dir.Mul(-1),
			Radius:   0.02,
			Type:     DamageBulletHole,
		})
		world.MarkTileDirty(coord)

	case ApproachSurfaceDamage:
		queue.WorldDecals = append(queue.WorldDecals, Decal{
			Position: ev.Point,
			Normal:   ev.Dir.Mul(-1),
			Radius:   float32(ev.EnergyJ) * 0.00025,
			Type:     DamageBulletHole,
		})
		spawnChips(cmd, svc, pool, rec, matId, ev)
		world.MarkTileDirty(coord)

	case ApproachPartialFracture:
		// Fracture a sub-volume around the hit; the tile survives damaged.
		center := TileToWorld(coord)
		half := float32(0.25)
		mesh := boxSourceMesh(center, mgl32.Vec3{half, half, half})
		queueFracture(svc, rec, matId, ev, mesh)
		world.MarkTileDirty(coord)

	case ApproachFullFracture:
		center := TileToWorld(coord)
		mesh := boxSourceMesh(center, mgl32.Vec3{0.5, 0.5, def.HeightMeters * 0.5})
		queueFracture(svc, rec, matId, ev, mesh)
		if err := world.RemoveTile(coord); err != nil {
			cmd.app.Logger().Errorf("impact: removing collapsed tile %v: %v", coord, err)
		}
		WakeDebrisInRadius(cmd, ev.Point, 3.0)
	}
}

func dispatchEntityImpact(
	cmd *Commands,
	queue *ImpactQueue,
	svc *FractureService,
	materials *MaterialTable,
	pool *DebrisPool,
	structSim *StructuralSim,
	surfSim *SurfaceDamageSim,
	ev *ImpactEvent,
) {
	matComp := GetComponent[MaterialComponent](cmd, ev.Target)
	if matComp == nil {
		return
	}
	rec := materials.Get(matComp.Id)

	approach := DetermineApproach(&queue.Config, ev.EnergyJ, &rec.Structural)

	// A severed critical edge overrides the energy verdict: the body is
	// coming down regardless.
	sc := GetComponent[StructuralComponent](cmd, ev.Target)
	if res, ok := structSim.Results[ev.Target]; ok && res.CriticalSevered {
		approach = ApproachFullFracture
	}

	mesh := GetComponent[DeformableMeshComponent](cmd, ev.Target)

	switch approach {
	case ApproachNone:
		if dmg := GetComponent[SurfaceDamageComponent](cmd, ev.Target); dmg != nil {
			dmg.Decals = append(dmg.Decals, Decal{
				Position: ev.Point,
				Normal:   ev.Dir.Mul(-1),
				Radius:   0.02,
				Type:     DamageBulletHole,
			})
		}
		return

	case ApproachSurfaceDamage:
		if mesh != nil {
			dmg := GetComponent[SurfaceDamageComponent](cmd, ev.Target)
			if dmg == nil {
				return
			}
			result := surfSim.ApplyHit(mesh, dmg, rec, ev.Point, ev.Dir, ev.EnergyJ, svc.nextSeed())
			if result.ChipCount > 0 {
				spawnChipCount(cmd, svc, pool, rec, matComp.Id, ev, result.ChipCount)
			}
		}

	case ApproachPartialFracture:
		src := entitySourceMesh(mesh, ev.Point)
		queueFracture(svc, rec, matComp.Id, ev, src)

	case ApproachFullFracture:
		var src fracture.SourceMesh
		if mesh != nil {
			src = fracture.SourceMesh{
				Positions: mesh.Mesh.Positions,
				Normals:   mesh.Mesh.Normals,
				UVs:       mesh.Mesh.UVs,
				Indices:   mesh.Mesh.Indices,
			}
		} else {
			src = boxSourceMesh(ev.Point, mgl32.Vec3{0.5, 0.5, 0.5})
		}
		queueFracture(svc, rec, matComp.Id, ev, src)
		cmd.RemoveEntity(ev.Target)
		WakeDebrisInRadius(cmd, ev.Point, 3.0)
	}

	// Any fracture implies a structural response: fold the pulse in and
	// reset the severed graph for whatever survives.
	if approach >= ApproachPartialFracture && sc != nil {
		ApplyImpactStress(sc, structSim.Config, ev.Point, ev.Dir, ev.EnergyJ, 1.0)
		sc.ClearCriticalEdges()
	}
}

// queueFracture records the decided fracture for the Fracture stage.
func queueFracture(
	svc *FractureService,
	rec *MaterialRecord,
	matId MaterialId,
	ev *ImpactEvent,
	mesh fracture.SourceMesh,
) {
	req := &fracture.Request{
		Mesh:        mesh,
		ImpactPoint: ev.Point,
		ImpactDir:   ev.Dir,
		EnergyJ:     ev.EnergyJ,
		Kind:        ev.Kind,
		Props:       toFractureProps(&rec.Fracture),
		DensityKgM3: rec.Structural.Density,
		Config: fracture.Config{
			NumFragments:   svc.Config.NumFragments,
			SeedClustering: svc.Config.SeedClustering,
			Seed:           svc.nextSeed(),
			UseGPU:         svc.Config.UseGPU,
			MinPieceMass:   svc.Config.MinPieceMass,
		},
	}
	svc.pending = append(svc.pending, fractureJob{req: req, matId: matId})
}

// FractureSystem drains the queued jobs: the engine generates fragments
// (GPU dispatch or CPU reference) and the pieces land in the pool, before
// the Debris stage runs its expiry/merge/LOD pass.
func FractureSystem(cmd *Commands, svc *FractureService, pool *DebrisPool) {
	jobs := svc.pending
	svc.pending = svc.pending[:0]

	for _, job := range jobs {
		fragments, err := svc.Engine.Generate(job.req)
		if err != nil {
			cmd.app.Logger().Errorf("fracture: generation failed: %v", err)
			continue
		}
		for i := range fragments {
			pool.Insert(cmd, &fragments[i], job.matId)
		}
		svc.Completed++
	}
}

func spawnChips(cmd *Commands, svc *FractureService, pool *DebrisPool, rec *MaterialRecord, matId MaterialId, ev *ImpactEvent) {
	behavior := rec.Fracture.Behavior
	if behavior != FractureBrittle && behavior != FractureGranular && behavior != FractureFibrous {
		return
	}
	count := 3 + int(svc.nextSeed()%6) // 3..8
	spawnChipCount(cmd, svc, pool, rec, matId, ev, count)
}

// spawnChipCount emits small box shards flying off the surface.
func spawnChipCount(cmd *Commands, svc *FractureService, pool *DebrisPool, rec *MaterialRecord, matId MaterialId, ev *ImpactEvent, count int) {
	for i := 0; i < count; i++ {
		seed := svc.nextSeed()
		size := 0.02 + float32(seed%5)*0.005
		half := mgl32.Vec3{size, size, size}
		verts, indices, normals, uvs := boxGeometry(half)

		frag := fracture.Fragment{
			Vertices:      verts,
			Indices:       indices,
			Normals:       normals,
			UVs:           uvs,
			Min:           half.Mul(-1),
			Max:           half,
			Centroid:      ev.Point,
			Position:      ev.Point,
			Rotation:      mgl32.QuatIdent(),
			TriangleCount: len(indices) / 3,
			MassKg:        0.1,
		}
		// Shards bounce back along the impact normal with spread.
		back := ev.Dir.Mul(-1)
		spread := mgl32.Vec3{
			float32(seed%7-3) * 0.15,
			float32(seed%5) * 0.2,
			float32(seed%9-4) * 0.1,
		}
		speed := float32(math.Sqrt(ev.EnergyJ)) * 0.3
		frag.LinearVelocity = back.Add(spread).Normalize().Mul(speed)
		frag.AngularVelocity = spread.Mul(4)
		for v := range frag.VoxelOccupancy {
			frag.VoxelOccupancy[v] = true
		}

		pool.Insert(cmd, &frag, matId)
	}
}

// entitySourceMesh clips the mesh choice for a partial fracture: the region
// around the hit, or a fallback cube when the entity has no geometry.
func entitySourceMesh(mesh *DeformableMeshComponent, point mgl32.Vec3) fracture.SourceMesh {
	if mesh == nil {
		return boxSourceMesh(point, mgl32.Vec3{0.3, 0.3, 0.3})
	}
	bounds := mesh.Mesh.Bounds()
	half := bounds.Extents().Mul(0.25)
	for i := 0; i < 3; i++ {
		if half[i] < 0.1 {
			half[i] = 0.1
		}
	}
	return boxSourceMesh(point, half)
}

// boxSourceMesh builds a world-space cuboid as fracture input.
func boxSourceMesh(center mgl32.Vec3, half mgl32.Vec3) fracture.SourceMesh {
	verts, indices, normals, uvs := boxGeometry(half)
	src := fracture.SourceMesh{
		Positions: make([]mgl32.Vec3, len(verts)),
		Normals:   normals,
		UVs:       uvs,
		Indices:   indices,
	}
	for i, v := range verts {
		src.Positions[i] = v.Add(center)
	}
	return src
}

func toFractureProps(p *FractureProperties) fracture.Properties {
	return fracture.Properties{
		Behavior:              fracture.Behavior(p.Behavior),
		MinPieces:             p.MinPieces,
		MaxPieces:             p.MaxPieces,
		SizeVariance:          p.SizeVariance,
		RadialPatternStrength: p.RadialPatternStrength,
		PlanarTendency:        p.PlanarTendency,
		GrainDirection:        mgl32.Vec3{p.GrainDirection[0], p.GrainDirection[1], p.GrainDirection[2]},
		EdgeSharpness:         p.EdgeSharpness,
		SurfaceRoughness:      p.SurfaceRoughness,
		ShatterCompletely:     p.ShatterCompletely,
	}
}
