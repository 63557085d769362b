package rubble

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func testThermalConfig() ThermalConfig {
	return ThermalConfig{
		UpdateHz:           30,
		GridCellSize:       2,
		MaxNeighbors:       8,
		ConductionRange:    2,
		RadiationRange:     10,
		ContactArea:        0.01,
		AmbientK:           293.15,
		ConvectionCoeff:    10,
		PhaseHysteresisK:   5,
		DamageThresholdK:   340,
		DamageRate:         0.05,
		SpreadInterval:     0.5,
		AmbientOxygenMolM3: 8.6,
	}
}

func stepThermal(app *App, sim *ThermalSim, frames int) {
	cmd := app.Commands()
	tm := &Time{Dt: 1.0 / 30.0}
	for i := 0; i < frames; i++ {
		ThermalUpdateSystem(cmd, tm, sim)
		app.FlushCommands()
	}
}

func TestConvectionCoolsTowardAmbient(t *testing.T) {
	app := NewApp()
	cmd := app.Commands()
	sim := NewThermalSim(testThermalConfig(), 1)

	eid := cmd.AddEntity(
		&TransformComponent{Position: mgl32.Vec3{}, Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}},
		&ThermalStateComponent{
			TemperatureK: 400, MassKg: 1, SurfaceAreaM2: 1,
			SpecificHeat: 1000, Conductivity: 1, Emissivity: 0,
		},
	)
	app.FlushCommands()

	stepThermal(app, sim, 60)

	ts := GetComponent[ThermalStateComponent](cmd, eid)
	if ts.TemperatureK >= 400 {
		t.Errorf("hot body in cool air must lose heat, still %f", ts.TemperatureK)
	}
	if ts.TemperatureK < sim.Config.AmbientK-1 {
		t.Errorf("convection must not undershoot ambient, got %f", ts.TemperatureK)
	}
}

func TestTemperatureClamped(t *testing.T) {
	app := NewApp()
	cmd := app.Commands()
	sim := NewThermalSim(testThermalConfig(), 1)

	eid := cmd.AddEntity(
		&TransformComponent{Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}},
		&ThermalStateComponent{
			TemperatureK: 50000, MassKg: 1, SurfaceAreaM2: 1,
			SpecificHeat: 1000, Conductivity: 1, Emissivity: 0.5,
		},
	)
	app.FlushCommands()

	stepThermal(app, sim, 1)

	ts := GetComponent[ThermalStateComponent](cmd, eid)
	if ts.TemperatureK > maxTemperatureK {
		t.Errorf("temperature must clamp to %f, got %f", maxTemperatureK, ts.TemperatureK)
	}
}

// A wood beam next to a 600 K source crosses its 573 K ignition point
// within 10 simulated seconds, attaches a combustion record exactly once,
// and burns fuel monotonically.
func TestBeamIgnitesFromNearbyHeatSource(t *testing.T) {
	app := NewApp()
	cmd := app.Commands()
	sim := NewThermalSim(testThermalConfig(), 1)

	beam := cmd.AddEntity(
		&TransformComponent{Position: mgl32.Vec3{0, 0, 0}, Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}},
		&ThermalStateComponent{
			TemperatureK: 293, MassKg: 10, SurfaceAreaM2: 3,
			SpecificHeat: 1000, Conductivity: 0.15, Emissivity: 0.9,
			IgnitionK: 573,
		},
		&ChemicalComponent{ChemicalComposition{
			Combustible: true, OxygenPerKgFuel: 44, HeatOfCombustion: 15e6,
		}},
	)
	// Massive source so its own temperature barely moves.
	cmd.AddEntity(
		&TransformComponent{Position: mgl32.Vec3{0.05, 0, 0}, Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}},
		&ThermalStateComponent{
			TemperatureK: 600, MassKg: 1e9, SurfaceAreaM2: 3,
			SpecificHeat: 500, Conductivity: 50, Emissivity: 0.9,
		},
	)
	app.FlushCommands()

	stepThermal(app, sim, 300) // 10 simulated seconds

	ts := GetComponent[ThermalStateComponent](cmd, beam)
	if ts.TemperatureK < 573 {
		t.Fatalf("beam should cross ignition within 10s, reached %f K", ts.TemperatureK)
	}
	comb := GetComponent[CombustionComponent](cmd, beam)
	if comb == nil {
		t.Fatalf("combustion record should be attached after ignition")
	}
	if comb.FuelRemainingKg > 10 {
		t.Errorf("fuel starts at the thermal mass (10 kg), got %f", comb.FuelRemainingKg)
	}

	// Fuel decreases monotonically frame over frame.
	prev := comb.FuelRemainingKg
	for i := 0; i < 30; i++ {
		stepThermal(app, sim, 1)
		cur := GetComponent[CombustionComponent](cmd, beam)
		if cur == nil {
			t.Fatalf("fuel cannot run out this quickly")
		}
		if cur.FuelRemainingKg > prev {
			t.Fatalf("fuel must decrease monotonically: %f -> %f", prev, cur.FuelRemainingKg)
		}
		prev = cur.FuelRemainingKg
	}
}

func TestCombustionRemovedWhenFuelSpent(t *testing.T) {
	app := NewApp()
	cmd := app.Commands()
	sim := NewThermalSim(testThermalConfig(), 1)

	eid := cmd.AddEntity(
		&TransformComponent{Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}},
		&ThermalStateComponent{
			TemperatureK: 800, MassKg: 1, SurfaceAreaM2: 1,
			SpecificHeat: 1700, Conductivity: 0.15, Emissivity: 0.9,
		},
		&CombustionComponent{
			Active: true, FuelRemainingKg: 0.001, ConsumptionRateKgS: 1,
			FlameTemperatureK: 1200, FlameRadiusM: 0.5,
		},
	)
	app.FlushCommands()

	stepThermal(app, sim, 2)

	if GetComponent[CombustionComponent](cmd, eid) != nil {
		t.Errorf("spent combustion record must be removed")
	}
}

func TestIgnitionAttachesOnlyOnce(t *testing.T) {
	app := NewApp()
	cmd := app.Commands()
	sim := NewThermalSim(testThermalConfig(), 1)

	eid := cmd.AddEntity(
		&TransformComponent{Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}},
		&ThermalStateComponent{
			TemperatureK: 900, MassKg: 5, SurfaceAreaM2: 1,
			SpecificHeat: 1700, Conductivity: 0.15, Emissivity: 0.0,
			IgnitionK: 573,
		},
		&ChemicalComponent{ChemicalComposition{Combustible: true, OxygenPerKgFuel: 44, HeatOfCombustion: 15e6}},
	)
	app.FlushCommands()

	stepThermal(app, sim, 5)
	comb := GetComponent[CombustionComponent](cmd, eid)
	if comb == nil {
		t.Fatalf("hot combustible body should ignite")
	}
	comb.FuelRemainingKg = 3.5 // distinguishable from a fresh record

	stepThermal(app, sim, 5)
	after := GetComponent[CombustionComponent](cmd, eid)
	if after == nil || after.FuelRemainingKg > 3.5 {
		t.Errorf("a second record must never replace a live one (fuel reset to %v)", after)
	}
}

func TestPhaseTransitionLatentHeat(t *testing.T) {
	app := NewApp()
	cmd := app.Commands()
	sim := NewThermalSim(testThermalConfig(), 1)

	eid := cmd.AddEntity(
		&TransformComponent{Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}},
		&ThermalStateComponent{
			TemperatureK: 279, MassKg: 1, SurfaceAreaM2: 0.01,
			SpecificHeat: 4200, Conductivity: 0.6, Emissivity: 0,
			MeltingK: 273, BoilingK: 373, LatentFusion: 334000,
		},
	)
	app.FlushCommands()

	stepThermal(app, sim, 1)
	ts := GetComponent[ThermalStateComponent](cmd, eid)
	if ts.Phase != PhaseLiquid {
		t.Fatalf("crossing melting + hysteresis should melt, phase %v", ts.Phase)
	}
	if ts.TemperatureK < ts.MeltingK-0.01 {
		t.Errorf("latent heat must not drag temperature below the transition, got %f", ts.TemperatureK)
	}

	// No flip-flop on the next steps.
	stepThermal(app, sim, 3)
	ts = GetComponent[ThermalStateComponent](cmd, eid)
	if ts.Phase != PhaseLiquid {
		t.Errorf("phase must stay liquid inside the hysteresis band")
	}
}

func TestThermalDamageToAnatomy(t *testing.T) {
	app := NewApp()
	cmd := app.Commands()
	sim := NewThermalSim(testThermalConfig(), 1)

	eid := cmd.AddEntity(
		&TransformComponent{Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}},
		&ThermalStateComponent{
			TemperatureK: 400, MassKg: 70, SurfaceAreaM2: 1.8,
			SpecificHeat: 3500, Conductivity: 0.5, Emissivity: 0,
		},
		&AnatomyComponent{Health: 1.0},
	)
	app.FlushCommands()

	stepThermal(app, sim, 30)

	anatomy := GetComponent[AnatomyComponent](cmd, eid)
	if anatomy.Health >= 1.0 {
		t.Errorf("heat above the damage threshold must hurt, health %f", anatomy.Health)
	}
}
