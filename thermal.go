package rubble

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

type Phase int

const (
	PhaseSolid Phase = iota
	PhaseLiquid
	PhaseGas
)

func (p Phase) String() string {
	switch p {
	case PhaseSolid:
		return "Solid"
	case PhaseLiquid:
		return "Liquid"
	case PhaseGas:
		return "Gas"
	}
	return "Solid"
}

const (
	minTemperatureK = 1.0
	maxTemperatureK = 10000.0

	stefanBoltzmann = 5.670374419e-8 // W/(m^2*K^4)
)

// ThermalStateComponent tracks the heat state of one entity.
type ThermalStateComponent struct {
	TemperatureK  float64
	MassKg        float64
	SurfaceAreaM2 float64
	SpecificHeat  float64 // J/(kg*K)
	Conductivity  float64 // W/(m*K)
	Emissivity    float64 // 0..1
	MeltingK      float64
	BoilingK      float64
	IgnitionK     float64
	Phase         Phase
	LatentFusion  float64 // J/kg
	LatentVapor   float64 // J/kg

	overflowWarned bool
}

// NewThermalState seeds a state from material properties at ambient temp.
func NewThermalState(props ThermalProperties, massKg, surfaceAreaM2, ambientK float64) ThermalStateComponent {
	return ThermalStateComponent{
		TemperatureK:  ambientK,
		MassKg:        massKg,
		SurfaceAreaM2: surfaceAreaM2,
		SpecificHeat:  props.SpecificHeat,
		Conductivity:  props.Conductivity,
		Emissivity:    props.Emissivity,
		MeltingK:      props.MeltingK,
		BoilingK:      props.BoilingK,
		IgnitionK:     props.IgnitionK,
		Phase:         PhaseSolid,
		LatentFusion:  props.LatentFusion,
		LatentVapor:   props.LatentVapor,
	}
}

// AddHeat applies joules directly (flame contact, explosion flash).
func (t *ThermalStateComponent) AddHeat(joules float64) {
	if t.MassKg <= 0 || t.SpecificHeat <= 0 {
		return
	}
	t.TemperatureK += joules / (t.MassKg * t.SpecificHeat)
}

type ChemicalComponent struct {
	ChemicalComposition
}

// CombustionComponent is attached while an entity burns and removed when
// its fuel is spent. Never attached twice.
type CombustionComponent struct {
	Active                bool
	FuelRemainingKg       float64
	ConsumptionRateKgS    float64
	FlameTemperatureK     float64
	IgnitionRadiusM       float32
	OxygenConsumptionMolS float64
	SmokeSpawnRate        float64 // particles/s, consumed by the host's effects layer
	EmberSpawnRate        float64
	FlameHeightM          float32
	FlameRadiusM          float32
}

// AnatomyComponent marks creatures that take damage from heat.
type AnatomyComponent struct {
	Health float32
}

// ThermalSim is the module state: fixed-rate ticker, neighbor grid, spread
// cadence, deterministic rng.
type ThermalSim struct {
	Config ThermalConfig

	ticker      *FixedTicker
	grid        *SpatialHashGrid
	spreadAccum float64
	rng         *rand.Rand

	// Ignitions queued this frame but not yet flushed into the ECS;
	// guards against double-attach across fixed sub-steps.
	pendingIgnite map[EntityId]bool

	snapshots []thermalSnapshot
	deltas    []float64
}

type thermalSnapshot struct {
	eid      EntityId
	pos      mgl32.Vec3
	state    *ThermalStateComponent
	chem     *ChemicalComponent
	neighbor []int // indices into snapshots
}

func NewThermalSim(cfg ThermalConfig, seed int64) *ThermalSim {
	hz := cfg.UpdateHz
	if hz <= 0 {
		hz = 30
	}
	return &ThermalSim{
		Config:        cfg,
		ticker:        NewFixedTicker(hz),
		grid:          NewSpatialHashGrid(cfg.GridCellSize),
		rng:           rand.New(rand.NewSource(seed)),
		pendingIgnite: make(map[EntityId]bool),
	}
}

type ThermalModule struct {
	Config ThermalConfig
	Seed   int64
}

func (m ThermalModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(NewThermalSim(m.Config, m.Seed))
	app.UseSystem(Use(ThermalUpdateSystem).InStage(ThermalS))
}

// ThermalUpdateSystem runs the fixed-rate heat pipeline: neighbor pass,
// conduction, radiation, convection, phase changes, ignition, combustion,
// damage, then the slower fire-spread cadence.
func ThermalUpdateSystem(cmd *Commands, time *Time, sim *ThermalSim) {
	steps := sim.ticker.Advance(time.Dt)
	if steps == 0 {
		return
	}
	dt := sim.ticker.StepDt
	clear(sim.pendingIgnite)

	for s := 0; s < steps; s++ {
		sim.collect(cmd)
		sim.exchangeHeat(dt)
		sim.applyAndTransition(cmd, dt)
		sim.burn(cmd, dt)

		sim.spreadAccum += dt
		if sim.spreadAccum >= sim.Config.SpreadInterval && sim.Config.SpreadInterval > 0 {
			sim.spreadFire(cmd, sim.spreadAccum)
			sim.spreadAccum = 0
		}
	}
}

func (sim *ThermalSim) collect(cmd *Commands) {
	sim.snapshots = sim.snapshots[:0]
	sim.grid.Clear()

	MakeQuery3[TransformComponent, ThermalStateComponent, ChemicalComponent](cmd).Map(
		func(eid EntityId, tr *TransformComponent, ts *ThermalStateComponent, chem *ChemicalComponent) bool {
			sim.grid.InsertPoint(eid, tr.Position)
			sim.snapshots = append(sim.snapshots, thermalSnapshot{
				eid:   eid,
				pos:   tr.Position,
				state: ts,
				chem:  chem,
			})
			return true
		}, ChemicalComponent{})

	// Resolve neighbor index lists once; both conduction and radiation
	// reuse them. Bounded per entity to keep the pass O(n*k).
	byId := make(map[EntityId]int, len(sim.snapshots))
	for i := range sim.snapshots {
		byId[sim.snapshots[i].eid] = i
	}
	searchRange := sim.Config.RadiationRange
	if sim.Config.ConductionRange > searchRange {
		searchRange = sim.Config.ConductionRange
	}
	for i := range sim.snapshots {
		snap := &sim.snapshots[i]
		snap.neighbor = snap.neighbor[:0]
		for _, nid := range sim.grid.QueryRadius(snap.pos, searchRange, sim.Config.MaxNeighbors+1) {
			if nid == snap.eid {
				continue
			}
			if j, ok := byId[nid]; ok {
				snap.neighbor = append(snap.neighbor, j)
				if len(snap.neighbor) >= sim.Config.MaxNeighbors {
					break
				}
			}
		}
	}
}

// exchangeHeat computes per-entity temperature deltas from pairwise
// conduction and radiation plus ambient convection. Deltas accumulate into
// a scratch buffer and apply afterwards, so ordering never matters.
func (sim *ThermalSim) exchangeHeat(dt float64) {
	n := len(sim.snapshots)
	if cap(sim.deltas) < n {
		sim.deltas = make([]float64, n)
	}
	sim.deltas = sim.deltas[:n]
	for i := range sim.deltas {
		sim.deltas[i] = 0
	}

	ambient := sim.Config.AmbientK

	parallelFor(n, func(i int) {
		a := &sim.snapshots[i]
		ts := a.state
		if ts.MassKg <= 0 || ts.SpecificHeat <= 0 {
			return
		}
		heatJ := 0.0

		for _, j := range a.neighbor {
			b := &sim.snapshots[j]
			bs := b.state
			dist := float64(a.pos.Sub(b.pos).Len())
			if dist < 1e-3 {
				dist = 1e-3
			}

			// Conduction: Fourier's law through a constant contact patch,
			// harmonic-mean conductivity of the pair.
			if dist <= float64(sim.Config.ConductionRange) && ts.Conductivity > 0 && bs.Conductivity > 0 {
				k := 2 * ts.Conductivity * bs.Conductivity / (ts.Conductivity + bs.Conductivity)
				q := k * sim.Config.ContactArea * (bs.TemperatureK - ts.TemperatureK) / dist
				heatJ += q * dt
			}

			// Radiation: Stefan-Boltzmann with an inverse-square view
			// factor and the pair's averaged emissivity.
			if dist <= float64(sim.Config.RadiationRange) {
				eps := (ts.Emissivity + bs.Emissivity) * 0.5
				view := 1.0 / (4 * math.Pi * dist * dist)
				q := eps * stefanBoltzmann * ts.SurfaceAreaM2 * view *
					(math.Pow(bs.TemperatureK, 4) - math.Pow(ts.TemperatureK, 4))
				heatJ += q * dt
			}
		}

		// Convection to ambient air, Newton's law of cooling.
		heatJ += sim.Config.ConvectionCoeff * ts.SurfaceAreaM2 * (ambient - ts.TemperatureK) * dt

		sim.deltas[i] = heatJ / (ts.MassKg * ts.SpecificHeat)
	})
}

func (sim *ThermalSim) applyAndTransition(cmd *Commands, dt float64) {
	for i := range sim.snapshots {
		snap := &sim.snapshots[i]
		ts := snap.state
		ts.TemperatureK += sim.deltas[i]
		sim.clampTemperature(cmd, snap.eid, ts)
		sim.transitionPhase(ts)

		// Auto-ignition. The combustion record carries fuel equal to the
		// thermal mass; never re-attached while one exists.
		if ts.IgnitionK > 0 && ts.TemperatureK >= ts.IgnitionK &&
			snap.chem != nil && snap.chem.Combustible {
			if !sim.pendingIgnite[snap.eid] && GetComponent[CombustionComponent](cmd, snap.eid) == nil {
				sim.pendingIgnite[snap.eid] = true
				cmd.AddComponents(snap.eid, igniteCombustion(ts, snap.chem))
			}
		}

		// Heat damage to anatomy above the pain threshold.
		if anatomy := GetComponent[AnatomyComponent](cmd, snap.eid); anatomy != nil {
			if ts.TemperatureK > sim.Config.DamageThresholdK {
				over := ts.TemperatureK - sim.Config.DamageThresholdK
				anatomy.Health -= float32(over * sim.Config.DamageRate * dt / 100.0)
				if anatomy.Health < 0 {
					anatomy.Health = 0
				}
			}
		}
	}
}

func (sim *ThermalSim) clampTemperature(cmd *Commands, eid EntityId, ts *ThermalStateComponent) {
	if ts.TemperatureK >= minTemperatureK && ts.TemperatureK <= maxTemperatureK &&
		!math.IsNaN(ts.TemperatureK) {
		return
	}
	if !ts.overflowWarned {
		cmd.app.Logger().Warnf("thermal: entity %d temperature %.1fK out of range, clamping", eid, ts.TemperatureK)
		ts.overflowWarned = true
	}
	if math.IsNaN(ts.TemperatureK) {
		ts.TemperatureK = sim.Config.AmbientK
		return
	}
	ts.TemperatureK = clamp64(ts.TemperatureK, minTemperatureK, maxTemperatureK)
}

// transitionPhase applies melting/solidifying and boiling/condensing with
// hysteresis. Latent heat is consumed or released exactly once per
// transition, as a temperature offset at the crossing.
func (sim *ThermalSim) transitionPhase(ts *ThermalStateComponent) {
	hys := sim.Config.PhaseHysteresisK
	cp := ts.SpecificHeat
	if cp <= 0 {
		return
	}

	// The latent offset is clamped at the transition point itself, so a
	// large latent/cp ratio cannot fling the temperature across the
	// opposite hysteresis band and oscillate.
	switch ts.Phase {
	case PhaseSolid:
		if ts.MeltingK > 0 && ts.TemperatureK >= ts.MeltingK+hys {
			ts.Phase = PhaseLiquid
			ts.TemperatureK = math.Max(ts.TemperatureK-ts.LatentFusion/cp, ts.MeltingK)
		}
	case PhaseLiquid:
		if ts.BoilingK > 0 && ts.TemperatureK >= ts.BoilingK+hys {
			ts.Phase = PhaseGas
			ts.TemperatureK = math.Max(ts.TemperatureK-ts.LatentVapor/cp, ts.BoilingK)
		} else if ts.MeltingK > 0 && ts.TemperatureK <= ts.MeltingK-hys {
			ts.Phase = PhaseSolid
			ts.TemperatureK = math.Min(ts.TemperatureK+ts.LatentFusion/cp, ts.MeltingK)
		}
	case PhaseGas:
		if ts.BoilingK > 0 && ts.TemperatureK <= ts.BoilingK-hys {
			ts.Phase = PhaseLiquid
			ts.TemperatureK = math.Min(ts.TemperatureK+ts.LatentVapor/cp, ts.BoilingK)
		}
	}
	ts.TemperatureK = clamp64(ts.TemperatureK, minTemperatureK, maxTemperatureK)
}

func igniteCombustion(ts *ThermalStateComponent, chem *ChemicalComponent) *CombustionComponent {
	flameTemp := ts.IgnitionK + 700
	radius := float32(math.Cbrt(ts.MassKg/100.0)) + 0.5
	return &CombustionComponent{
		Active:                true,
		FuelRemainingKg:       ts.MassKg,
		ConsumptionRateKgS:    math.Max(0.005, ts.MassKg*0.002),
		FlameTemperatureK:     flameTemp,
		IgnitionRadiusM:       radius * 2,
		OxygenConsumptionMolS: chem.OxygenPerKgFuel * math.Max(0.005, ts.MassKg*0.002),
		SmokeSpawnRate:        10 * chem.SootFraction * ts.MassKg,
		EmberSpawnRate:        2,
		FlameHeightM:          radius * 1.5,
		FlameRadiusM:          radius,
	}
}

// burn consumes fuel, releases combustion heat into the entity, and removes
// spent combustion records.
func (sim *ThermalSim) burn(cmd *Commands, dt float64) {
	MakeQuery2[ThermalStateComponent, CombustionComponent](cmd).Map(
		func(eid EntityId, ts *ThermalStateComponent, comb *CombustionComponent) bool {
			if !comb.Active {
				return true
			}
			chem := GetComponent[ChemicalComponent](cmd, eid)

			// Fuel burn is limited by the oxygen the flame volume can pull
			// from ambient air this step.
			burn := comb.ConsumptionRateKgS * dt
			if chem != nil && chem.OxygenPerKgFuel > 0 {
				flameVol := (4.0 / 3.0) * math.Pi * math.Pow(float64(comb.FlameRadiusM), 3)
				oxygenAvail := sim.Config.AmbientOxygenMolM3 * flameVol * dt
				if maxBurn := oxygenAvail / chem.OxygenPerKgFuel; burn > maxBurn {
					burn = maxBurn
				}
			}
			if burn > comb.FuelRemainingKg {
				burn = comb.FuelRemainingKg
			}
			comb.FuelRemainingKg -= burn

			if chem != nil {
				// Released heat feeds back into the body, capped so the
				// flame approaches but does not exceed its own temperature.
				ts.AddHeat(burn * chem.HeatOfCombustion * 0.1)
				if ts.TemperatureK > comb.FlameTemperatureK {
					ts.TemperatureK = comb.FlameTemperatureK
				}
			}

			if comb.FuelRemainingKg <= 0 {
				cmd.RemoveComponents(eid, CombustionComponent{})
			}
			return true
		})
}

// spreadFire checks ignition of neighbors around every active flame, on the
// slow cadence. Probability scales with the material constant and the
// elapsed interval. Line-of-sight gating is accepted in config but not yet
// consulted here.
func (sim *ThermalSim) spreadFire(cmd *Commands, interval float64) {
	type flame struct {
		pos  mgl32.Vec3
		comb *CombustionComponent
	}
	var flames []flame
	MakeQuery2[TransformComponent, CombustionComponent](cmd).Map(
		func(eid EntityId, tr *TransformComponent, comb *CombustionComponent) bool {
			if comb.Active && comb.FuelRemainingKg > 0 {
				flames = append(flames, flame{pos: tr.Position, comb: comb})
			}
			return true
		})
	if len(flames) == 0 {
		return
	}

	for i := range sim.snapshots {
		snap := &sim.snapshots[i]
		if snap.chem == nil || !snap.chem.Combustible {
			continue
		}
		if snap.state.IgnitionK <= 0 || snap.state.TemperatureK >= snap.state.IgnitionK {
			continue
		}
		if GetComponent[CombustionComponent](cmd, snap.eid) != nil {
			continue
		}
		for _, f := range flames {
			dist := snap.pos.Sub(f.pos).Len()
			if dist > f.comb.IgnitionRadiusM {
				continue
			}
			// Closer targets and longer intervals raise the chance.
			base := 0.15 * (1.0 - float64(dist/f.comb.IgnitionRadiusM))
			p := base * (interval / sim.Config.SpreadInterval)
			if sim.rng.Float64() < p {
				// Radiant preheat pushes the target toward its own
				// auto-ignition on following ticks.
				snap.state.TemperatureK = math.Max(snap.state.TemperatureK, snap.state.IgnitionK+sim.Config.PhaseHysteresisK)
				break
			}
		}
	}
}
