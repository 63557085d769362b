package rubble

import (
	"sync"
	"time"
)

type Time struct {
	Time       time.Time
	Duration   time.Duration
	Dt         float64
	FrameCount uint64
}

type TimeModule struct{}

func (mod TimeModule) Install(app *App, cmd *Commands) {
	app.UseSystem(
		Use(timeSystem).InStage(Prelude),
	)

	cmd.AddResources(&Time{
		Time: time.Now(),
		Dt:   0,
	})
}

func timeSystem(timeResource *Time) {
	now := time.Now()

	dur := now.Sub(timeResource.Time)
	dt := dur.Seconds()
	// Clamp dt to 10fps minimum to prevent the simulators from exploding
	// during hitches/startup
	if dt > 0.1 {
		dt = 0.1
	}

	timeResource.Duration = dur
	timeResource.Dt = dt
	timeResource.Time = now
	timeResource.FrameCount++
}

// FixedTicker decouples a fixed-rate simulator from the host frame rate.
// Feed it frame dt; it yields the number of fixed steps to run, capped to
// avoid spiral-of-death after a long stall.
type FixedTicker struct {
	StepDt   float64
	MaxSteps int
	accum    float64
}

func NewFixedTicker(hz float64) *FixedTicker {
	return &FixedTicker{StepDt: 1.0 / hz, MaxSteps: 4}
}

func (t *FixedTicker) Advance(dt float64) int {
	t.accum += dt
	steps := 0
	for t.accum >= t.StepDt && steps < t.MaxSteps {
		t.accum -= t.StepDt
		steps++
	}
	if steps == t.MaxSteps && t.accum > t.StepDt {
		// Drop the backlog; better to run slow than to stall the frame.
		t.accum = 0
	}
	return steps
}

// Profiler records wall time per pipeline stage for the current frame.
type Profiler struct {
	mu     sync.Mutex
	stages map[string]time.Duration
}

func NewProfiler() *Profiler {
	return &Profiler{stages: make(map[string]time.Duration)}
}

func (p *Profiler) Record(stage string, d time.Duration) {
	p.mu.Lock()
	p.stages[stage] = d
	p.mu.Unlock()
}

func (p *Profiler) Stage(stage string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stages[stage]
}

func (p *Profiler) FrameTotal() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total time.Duration
	for _, d := range p.stages {
		total += d
	}
	return total
}
