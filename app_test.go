package rubble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorderResource struct {
	order []string
}

type stageAModule struct{}

func (stageAModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(&recorderResource{})
	app.UseSystem(Use(func(rec *recorderResource) {
		rec.order = append(rec.order, "thermal")
	}).InStage(ThermalS))
	app.UseSystem(Use(func(rec *recorderResource) {
		rec.order = append(rec.order, "integrate")
	}).InStage(Integrate))
	app.UseSystem(Use(func(rec *recorderResource) {
		rec.order = append(rec.order, "impacts")
	}).InStage(Impacts))
}

func TestStageOrdering(t *testing.T) {
	app := NewApp().UseModules(stageAModule{}).Build()
	app.Step()

	var rec *recorderResource
	for _, r := range app.resources {
		if got, ok := r.(*recorderResource); ok {
			rec = got
		}
	}
	require.NotNil(t, rec)
	assert.Equal(t, []string{"thermal", "impacts", "integrate"}, rec.order,
		"systems must run in pipeline stage order regardless of registration order")
}

func TestResourceInjection(t *testing.T) {
	app := NewApp()
	cmd := app.Commands()
	cmd.AddResources(&recorderResource{})

	called := false
	app.UseSystem(Use(func(c *Commands, rec *recorderResource) {
		called = true
		require.NotNil(t, c)
		require.NotNil(t, rec)
	}).InStage(Prelude))

	app.Build()
	app.Step()
	assert.True(t, called)
}

func TestDuplicateResourcePanics(t *testing.T) {
	app := NewApp()
	cmd := app.Commands()
	cmd.AddResources(&recorderResource{})
	assert.Panics(t, func() {
		cmd.AddResources(&recorderResource{})
	})
}

func TestUnresolvableDependencyPanics(t *testing.T) {
	app := NewApp()
	app.UseSystem(Use(func(rec *recorderResource) {}).InStage(Prelude))
	assert.Panics(t, func() {
		app.Step()
	})
}

func TestCustomStageInsertion(t *testing.T) {
	app := NewApp()
	render := Stage{Name: "HostRender"}
	app.UseStage(render, AfterStage(Finale))

	ran := false
	app.UseSystem(Use(func(c *Commands) {
		ran = true
	}).InStage(render))
	app.Step()
	assert.True(t, ran)
}

func TestProfilerRecordsStages(t *testing.T) {
	app := NewApp().UseModules(TimeModule{}).Build()
	app.Step()
	// Every stage records something, even empty ones.
	total := app.profile.FrameTotal()
	assert.GreaterOrEqual(t, total.Nanoseconds(), int64(0))
}
