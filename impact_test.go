package rubble

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/rubble/fracture"
)

type impactRig struct {
	app       *App
	cmd       *Commands
	queue     *ImpactQueue
	svc       *FractureService
	materials *MaterialTable
	world     *TilemapWorld
	pool      *DebrisPool
	structSim *StructuralSim
	surfSim   *SurfaceDamageSim
}

func newImpactRig(t *testing.T) *impactRig {
	t.Helper()
	cfg := DefaultConfig()
	app := NewApp()
	rig := &impactRig{
		app:       app,
		cmd:       app.Commands(),
		queue:     NewImpactQueue(cfg.Impact),
		svc:       NewFractureService(fracture.NewEngine(nil), cfg.Fracture, 42),
		materials: NewMaterialTable(),
		world:     NewTilemapWorld(),
		pool:      NewDebrisPool(cfg.Debris),
		structSim: NewStructuralSim(cfg.Structural),
		surfSim:   NewSurfaceDamageSim(cfg.Surface),
	}
	return rig
}

func (r *impactRig) placeTileOf(t *testing.T, material string, defId TileDefId, coord TileCoord) {
	t.Helper()
	matId, ok := r.materials.Lookup(material)
	if !ok {
		t.Fatalf("material %s missing", material)
	}
	if _, exists := r.world.Definition(defId); !exists {
		err := r.world.RegisterDefinition(TileDefinition{
			Id: defId, Name: material, HeightMeters: 1, Collision: CollisionBox, MaterialId: matId,
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	err := r.world.PlaceTile(TileInstance{
		DefId: defId, Coord: coord, Active: true, Health: 1, State: TileIntact,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
}

// run drives one event through both stages: dispatch, then fracture
// collection, with the stage-boundary flush in between.
func (r *impactRig) run(ev ImpactEvent) {
	r.queue.Enqueue(ev)
	ImpactSystem(r.cmd, r.queue, r.svc, r.materials, r.world, r.pool, r.structSim, r.surfSim)
	r.app.FlushCommands()
	FractureSystem(r.cmd, r.svc, r.pool)
	r.app.FlushCommands()
}

// 15 J pistol round on concrete: no fracture, one decal, a 0.0195 health
// decrement, no debris, no geometry change.
func TestImpactPistolOnConcrete(t *testing.T) {
	rig := newImpactRig(t)
	coord := TileCoord{0, 0, 0}
	rig.placeTileOf(t, "concrete", 1, coord)

	rig.run(ImpactEvent{
		TargetTile: &coord,
		Point:      mgl32.Vec3{0.0, 0.5, 0.5},
		Dir:        mgl32.Vec3{1, 0, 0},
		EnergyJ:    15,
		Kind:       fracture.PointImpact,
	})

	if len(rig.queue.WorldDecals) != 1 {
		t.Errorf("expected exactly one decal, got %d", len(rig.queue.WorldDecals))
	}
	if rig.pool.Count() != 0 {
		t.Errorf("no debris below the surface threshold, got %d", rig.pool.Count())
	}
	tile, ok := rig.world.Tile(coord)
	if !ok {
		t.Fatalf("wall must survive")
	}
	want := float32(1.0 - 15.0/1000.0*1.3)
	if math.Abs(float64(tile.Health-want)) > 1e-4 {
		t.Errorf("health should drop to %f, got %f", want, tile.Health)
	}
}

// 80 J rifle round on a wood plank: surface damage with 3..8 splinters;
// the plank holds, at most Cracked.
func TestImpactRifleOnWood(t *testing.T) {
	rig := newImpactRig(t)
	coord := TileCoord{0, 0, 0}
	rig.placeTileOf(t, "wood", 2, coord)

	rig.run(ImpactEvent{
		TargetTile: &coord,
		Point:      mgl32.Vec3{0.0, 0.5, 0.5},
		Dir:        mgl32.Vec3{1, 0, 0},
		EnergyJ:    80,
		Kind:       fracture.PointImpact,
	})

	if rig.pool.Count() < 3 || rig.pool.Count() > 8 {
		t.Errorf("3..8 splinters expected, got %d", rig.pool.Count())
	}
	tile, ok := rig.world.Tile(coord)
	if !ok {
		t.Fatalf("plank must survive a surface hit")
	}
	if tile.State > TileCracked {
		t.Errorf("state advances at most to Cracked, got %v", tile.State)
	}

	woodId, _ := rig.materials.Lookup("wood")
	if rig.materials.Get(woodId).Fracture.Behavior != FractureFibrous {
		t.Errorf("wood fracture pattern is fibrous")
	}
}

// 1200 J blast beside a brick wall: full fracture, 5..15 pieces flying
// away from the blast, the wall tile destroyed.
func TestImpactGrenadeOnBrick(t *testing.T) {
	rig := newImpactRig(t)
	coord := TileCoord{0, 0, 0}
	rig.placeTileOf(t, "brick", 3, coord)

	impact := mgl32.Vec3{0.0, 0.5, 0.5}
	rig.run(ImpactEvent{
		TargetTile: &coord,
		Point:      impact,
		Dir:        mgl32.Vec3{1, 0, 0},
		EnergyJ:    1200,
		Kind:       fracture.Explosion,
	})

	if _, ok := rig.world.Tile(coord); ok {
		t.Fatalf("wall must be destroyed by a full fracture")
	}
	n := rig.pool.Count()
	if n < 5 || n > 15 {
		t.Errorf("5..15 pieces expected, got %d", n)
	}

	MakeQuery2[TransformComponent, DebrisComponent](rig.cmd).Map(
		func(eid EntityId, tr *TransformComponent, d *DebrisComponent) bool {
			radial := tr.Position.Sub(impact)
			if radial.Len() > 1e-4 && d.Velocity.Len() > 1e-4 {
				if d.Velocity.Normalize().Dot(radial.Normalize()) < -0.01 {
					t.Errorf("piece at %v flies toward the blast: v %v", tr.Position, d.Velocity)
				}
			}
			return true
		})
}

// Dispatch and generation are split across stages: the Impacts pass only
// queues the job, the Fracture pass produces the debris.
func TestFractureJobsCollectedInFractureStage(t *testing.T) {
	rig := newImpactRig(t)
	coord := TileCoord{0, 0, 0}
	rig.placeTileOf(t, "brick", 3, coord)

	rig.queue.Enqueue(ImpactEvent{
		TargetTile: &coord,
		Point:      mgl32.Vec3{0.0, 0.5, 0.5},
		Dir:        mgl32.Vec3{1, 0, 0},
		EnergyJ:    1200,
		Kind:       fracture.Explosion,
	})
	ImpactSystem(rig.cmd, rig.queue, rig.svc, rig.materials, rig.world, rig.pool, rig.structSim, rig.surfSim)
	rig.app.FlushCommands()

	if rig.svc.PendingJobs() != 1 {
		t.Fatalf("dispatch should queue one fracture job, got %d", rig.svc.PendingJobs())
	}
	if rig.pool.Count() != 0 {
		t.Fatalf("no debris before the fracture stage runs, got %d", rig.pool.Count())
	}

	FractureSystem(rig.cmd, rig.svc, rig.pool)
	rig.app.FlushCommands()

	if rig.svc.PendingJobs() != 0 {
		t.Errorf("fracture stage must drain the queue")
	}
	if rig.pool.Count() == 0 {
		t.Errorf("fracture stage must insert the pieces")
	}
	if rig.svc.Completed != 1 {
		t.Errorf("completed counter should advance, got %d", rig.svc.Completed)
	}
}

func TestApproachThresholdSelectsHigher(t *testing.T) {
	cfg := DefaultConfig().Impact
	table := NewMaterialTable()
	concreteId, _ := table.Lookup("concrete")
	concrete := &table.Get(concreteId).Structural

	// Concrete toughness 1.5 / norm 0.5 scales thresholds x3: 30/300/1500.
	cases := []struct {
		energy float64
		want   FractureApproach
	}{
		{15, ApproachNone},
		{29.99, ApproachNone},
		{30, ApproachSurfaceDamage}, // exactly at the boundary: higher
		{299, ApproachSurfaceDamage},
		{300, ApproachPartialFracture},
		{1499, ApproachPartialFracture},
		{1500, ApproachFullFracture},
		{5000, ApproachFullFracture},
	}
	for _, c := range cases {
		if got := DetermineApproach(&cfg, c.energy, concrete); got != c.want {
			t.Errorf("%.2f J: got %v, want %v", c.energy, got, c.want)
		}
	}
}

func TestEntityFullFractureDestroysTarget(t *testing.T) {
	rig := newImpactRig(t)
	glassId, _ := rig.materials.Lookup("glass")

	target := rig.cmd.AddEntity(
		&TransformComponent{Position: mgl32.Vec3{0, 1, 0}, Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}},
		&MaterialComponent{Id: glassId},
	)
	rig.app.FlushCommands()

	rig.run(ImpactEvent{
		Target:  target,
		Point:   mgl32.Vec3{0, 1, 0},
		Dir:     mgl32.Vec3{0, -1, 0},
		EnergyJ: 5000,
		Kind:    fracture.PointImpact,
	})

	if rig.cmd.HasEntity(target) {
		t.Errorf("fully fractured entity must be destroyed")
	}
	if rig.pool.Count() == 0 {
		t.Errorf("full fracture must spawn debris")
	}
}

func TestCriticalSeveranceEscalatesToFull(t *testing.T) {
	rig := newImpactRig(t)
	glassId, _ := rig.materials.Lookup("glass")

	sc := columnComponent(10)
	target := rig.cmd.AddEntity(
		&TransformComponent{Position: mgl32.Vec3{0, 1, 0}, Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}},
		&MaterialComponent{Id: glassId},
		&sc,
	)
	rig.app.FlushCommands()
	rig.structSim.Results[target] = StructuralResult{CriticalSevered: true}

	// 20 J would normally be minor surface damage; severance overrides.
	rig.run(ImpactEvent{
		Target:  target,
		Point:   mgl32.Vec3{0, 1, 0},
		Dir:     mgl32.Vec3{1, 0, 0},
		EnergyJ: 20,
		Kind:    fracture.BluntForce,
	})

	if rig.cmd.HasEntity(target) {
		t.Errorf("severed critical edge forces a full collapse")
	}
}
