package rubble

import (
	"github.com/gekko3d/rubble/fracture"
)

// MaterialsModule installs the shared material table.
type MaterialsModule struct {
	Table *MaterialTable
}

func (m MaterialsModule) Install(app *App, cmd *Commands) {
	table := m.Table
	if table == nil {
		table = NewMaterialTable()
	}
	cmd.AddResources(table)
}

// CoreModules wires the whole destruction pipeline from one config. Hosts
// that need custom mesh sources, GPU dispatchers or material tables install
// the modules individually instead.
func CoreModules(cfg *Config, opts CoreOptions) []Module {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return []Module{
		LoggingModule{Prefix: "rubble", Debug: opts.Debug, Structured: opts.StructuredLogs},
		TimeModule{},
		MaterialsModule{Table: opts.Materials},
		MeshCacheModule{Source: opts.MeshSource, Backend: opts.GpuBackend, Config: cfg.MeshCache},
		TilemapModule{World: opts.World},
		ThermalModule{Config: cfg.Thermal, Seed: opts.Seed},
		StructuralModule{Config: cfg.Structural},
		SurfaceDamageModule{Config: cfg.Surface},
		ImpactModule{Config: cfg.Impact, Fracture: cfg.Fracture, Dispatcher: opts.Fracture, Seed: opts.Seed},
		DebrisModule{Config: cfg.Debris},
		PhysicsModule{Config: cfg.Physics},
		FluidCouplingModule{Config: cfg.Fluid},
	}
}

// CoreOptions are the host-provided collaborators.
type CoreOptions struct {
	Debug          bool
	StructuredLogs bool
	Seed           int64
	Materials      *MaterialTable
	MeshSource     MeshSource
	GpuBackend     GpuBackend
	World          *TilemapWorld
	Fracture       fracture.Dispatcher
}
