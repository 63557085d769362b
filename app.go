package rubble

import (
	"fmt"
	"reflect"
	"runtime"
	"time"
)

// System is any function whose parameters are resolvable by the App:
// *Commands, or pointers to registered resources. Invoked via reflection.
type System any

// Module wires a simulation component into the App: its resources, its
// systems, and the stages they run in.
type Module interface {
	Install(app *App, cmd *Commands)
}

// App owns the resource table, the entity store, and the per-stage system
// lists. It is driven externally: the host engine calls Step once per frame
// on its simulation thread. There is no internal loop and no global state;
// every App is independent.
type App struct {
	stages  []Stage
	systems map[string][]System

	resources map[reflect.Type]any
	ecs       *Ecs
	modules   []Module
	built     bool

	// Deferred structural changes, flushed between stages so systems never
	// observe mid-phase mutation of the entity index.
	pendingAdds         []pendingAdd
	pendingRemovals     []EntityId
	pendingCompAdds     []pendingCompAdd
	pendingCompRemovals []pendingCompRemoval

	profile *Profiler
}

type pendingAdd struct {
	eid        EntityId
	components []any
}

type pendingCompAdd struct {
	eid        EntityId
	components []any
}

type pendingCompRemoval struct {
	eid        EntityId
	components []any
}

func NewApp() *App {
	app := &App{
		systems:   make(map[string][]System),
		resources: make(map[reflect.Type]any),
		ecs:       newEcs(),
		profile:   NewProfiler(),
	}
	app.stages = append(app.stages, DefaultStages...)
	for _, s := range app.stages {
		app.systems[s.Name] = make([]System, 0)
	}
	return app
}

func (app *App) UseModules(modules ...Module) *App {
	app.modules = append(app.modules, modules...)
	return app
}

// Build installs all modules. Called implicitly by the first Step.
func (app *App) Build() *App {
	if app.built {
		return app
	}
	app.built = true

	app.addResources(app.profile)

	cmd := &Commands{app: app}
	for _, module := range app.modules {
		module.Install(app, cmd)
	}
	app.FlushCommands()
	return app
}

// Step advances the whole pipeline by one host frame. Stages execute in
// order; deferred entity commands flush at every stage boundary.
func (app *App) Step() {
	if !app.built {
		app.Build()
	}

	for _, stage := range app.stages {
		start := time.Now()
		for _, system := range app.systems[stage.Name] {
			app.invokeSystem(system)
		}
		app.FlushCommands()
		app.profile.Record(stage.Name, time.Since(start))
	}
}

func (app *App) Commands() *Commands {
	return &Commands{app: app}
}

func (app *App) addResources(resources ...any) {
	for _, resource := range resources {
		resourceType := reflect.TypeOf(resource)
		if resourceType.Kind() != reflect.Pointer {
			panic(fmt.Sprintf("resources must be pointers, got %s", resourceType))
		}
		if _, ok := app.resources[resourceType.Elem()]; ok {
			panic(fmt.Sprintf("%s is already in resources", resourceType))
		}
		app.resources[resourceType.Elem()] = resource
	}
}

var typeOfCommands = reflect.TypeOf(Commands{})

func (app *App) invokeSystem(system System) {
	systemType := reflect.TypeOf(system)
	systemValue := reflect.ValueOf(system)

	args := make([]reflect.Value, systemType.NumIn())
	for i := 0; i < systemType.NumIn(); i++ {
		argType := systemType.In(i)
		if argType.Kind() != reflect.Pointer {
			app.failResolve(systemValue, systemType, argType)
		}
		underlying := argType.Elem()

		if underlying == typeOfCommands {
			args[i] = reflect.ValueOf(&Commands{app: app})
			continue
		}
		if resource, ok := app.resources[underlying]; ok {
			args[i] = reflect.ValueOf(resource)
			continue
		}
		app.failResolve(systemValue, systemType, argType)
	}
	systemValue.Call(args)
}

func (app *App) failResolve(systemValue reflect.Value, systemType reflect.Type, argType reflect.Type) {
	panic(fmt.Sprintf("unable to resolve system dependency\nsystem: %s\nsignature: %s\ndependency: %s",
		runtime.FuncForPC(systemValue.Pointer()).Name(),
		fmt.Sprint(systemType),
		fmt.Sprint(argType),
	))
}

// FlushCommands applies all deferred entity/component changes. Runs at stage
// boundaries; exposed for tests that call systems directly.
func (app *App) FlushCommands() {
	for _, add := range app.pendingAdds {
		app.ecs.spawn(add.eid, add.components...)
	}
	app.pendingAdds = app.pendingAdds[:0]

	for _, ca := range app.pendingCompAdds {
		app.ecs.attach(ca.eid, ca.components...)
	}
	app.pendingCompAdds = app.pendingCompAdds[:0]

	for _, cr := range app.pendingCompRemovals {
		app.ecs.detach(cr.eid, cr.components...)
	}
	app.pendingCompRemovals = app.pendingCompRemovals[:0]

	for _, eid := range app.pendingRemovals {
		app.ecs.despawn(eid)
	}
	app.pendingRemovals = app.pendingRemovals[:0]
}

// Logger returns the first Logger resource if present, otherwise a no-op
// logger. Safe to call at any time; never returns nil.
func (app *App) Logger() Logger {
	if app == nil {
		return NewNopLogger()
	}
	for _, r := range app.resources {
		if l, ok := r.(Logger); ok {
			return l
		}
	}
	return NewNopLogger()
}
