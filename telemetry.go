package rubble

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
)

// FrameStat is one row of the perf capture.
type FrameStat struct {
	Frame       uint64  `csv:"frame"`
	DtMs        float64 `csv:"dt_ms"`
	DebrisCount int     `csv:"debris_count"`
	Triangles   int     `csv:"triangles"`
	Tiles       int     `csv:"tiles"`
	ThermalMs   float64 `csv:"thermal_ms"`
	ImpactMs    float64 `csv:"impact_ms"`
	IntegrateMs float64 `csv:"integrate_ms"`
	FluidMs     float64 `csv:"fluid_ms"`
}

// Telemetry buffers frame stats in memory and flushes them to CSV on
// demand. Used for perf tuning sessions, not shipped gameplay.
type Telemetry struct {
	Enabled bool
	Rows    []FrameStat
}

type TelemetryModule struct {
	Enabled bool
}

func (m TelemetryModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(&Telemetry{Enabled: m.Enabled})
	app.UseSystem(Use(telemetrySystem).InStage(Finale))
}

func telemetrySystem(tel *Telemetry, time *Time, pool *DebrisPool, world *TilemapWorld, prof *Profiler) {
	if !tel.Enabled {
		return
	}
	tel.Rows = append(tel.Rows, FrameStat{
		Frame:       time.FrameCount,
		DtMs:        time.Dt * 1000,
		DebrisCount: pool.Count(),
		Triangles:   pool.TriangleTotal(),
		Tiles:       world.TileCount(),
		ThermalMs:   prof.Stage(ThermalS.Name).Seconds() * 1000,
		ImpactMs:    prof.Stage(Impacts.Name).Seconds() * 1000,
		IntegrateMs: prof.Stage(Integrate.Name).Seconds() * 1000,
		FluidMs:     prof.Stage(Fluid.Name).Seconds() * 1000,
	})
}

// Flush writes the buffered rows and clears them.
func (t *Telemetry) Flush(path string) error {
	if len(t.Rows) == 0 {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&t.Rows, f); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	t.Rows = t.Rows[:0]
	return nil
}
