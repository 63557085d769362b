package rubble

import (
	"fmt"
	"slices"
)

// Stage names a slot in the per-frame pipeline. Systems registered into the
// same stage run in registration order; stages run in pipeline order.
type Stage struct {
	Name string
}

// The pipeline mirrors the intra-frame ordering contract: meshes resolve
// first, heat before stress, stress before impacts, fracture results land
// before the debris pool runs, bodies integrate before fluid forces, and
// Finale publishes dirty chunks to the renderer.
var (
	Prelude    = Stage{Name: "Prelude"}
	ThermalS   = Stage{Name: "Thermal"}
	Structural = Stage{Name: "Structural"}
	Impacts    = Stage{Name: "Impacts"}
	Fracture   = Stage{Name: "Fracture"}
	Debris     = Stage{Name: "Debris"}
	Integrate  = Stage{Name: "Integrate"}
	Fluid      = Stage{Name: "Fluid"}
	Finale     = Stage{Name: "Finale"}
)

var DefaultStages = []Stage{
	Prelude, ThermalS, Structural, Impacts, Fracture, Debris, Integrate, Fluid, Finale,
}

type systemScheduleBuilder struct {
	inStage Stage
	system  System
}

// Use registers a system for a stage:
//
//	app.UseSystem(Use(ThermalUpdateSystem).InStage(ThermalS))
func Use(system System) systemScheduleBuilder {
	return systemScheduleBuilder{
		system:  system,
		inStage: Prelude,
	}
}

func (sched systemScheduleBuilder) InStage(s Stage) systemScheduleBuilder {
	return systemScheduleBuilder{
		system:  sched.system,
		inStage: s,
	}
}

type stagePosition int

const (
	stageBefore stagePosition = iota
	stageAfter
)

type stagePositionBuilder struct {
	position stagePosition
	target   Stage
}

func BeforeStage(s Stage) stagePositionBuilder {
	return stagePositionBuilder{position: stageBefore, target: s}
}

func AfterStage(s Stage) stagePositionBuilder {
	return stagePositionBuilder{position: stageAfter, target: s}
}

// UseStage inserts a custom stage relative to an existing one. Host engines
// use this to splice their own systems into the pipeline.
func (app *App) UseStage(stage Stage, where stagePositionBuilder) *App {
	stageIdx := -1
	for i, s := range app.stages {
		if s.Name == where.target.Name {
			stageIdx = i
			break
		}
	}
	if stageIdx == -1 {
		panic(fmt.Sprintf("stage %v not found", where.target.Name))
	}

	insertAt := stageIdx
	if where.position == stageAfter {
		insertAt = stageIdx + 1
	}

	app.stages = slices.Insert(app.stages, insertAt, stage)
	app.systems[stage.Name] = make([]System, 0)
	return app
}

func (app *App) UseSystem(system systemScheduleBuilder) *App {
	if _, ok := app.systems[system.inStage.Name]; !ok {
		panic(fmt.Sprintf("stage %v doesn't exist", system.inStage.Name))
	}
	app.systems[system.inStage.Name] = append(app.systems[system.inStage.Name], system.system)
	return app
}
