package plugins

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetalcott/fixiplug/hooks"
)

func newSchedulerEngine(t *testing.T) (*hooks.Engine, *Scheduler) {
	t.Helper()
	engine := hooks.NewEngine(hooks.Options{})
	scheduler := NewScheduler(zerolog.Nop())
	_, err := engine.Register(scheduler.Plugin())
	require.NoError(t, err)
	t.Cleanup(func() { scheduler.Close() })
	return engine, scheduler
}

func TestScheduleListRemove(t *testing.T) {
	engine, _ := newSchedulerEngine(t)

	result, err := engine.Dispatch(context.Background(), "agent:scheduleJob", hooks.Event{
		"name":  "nightly",
		"spec":  "@daily",
		"hook":  "internal:cleanup",
		"event": map[string]any{"scope": "all"},
	})
	require.NoError(t, err)
	scheduled := result.(map[string]any)
	assert.Equal(t, "nightly", scheduled["name"])

	result, err = engine.Dispatch(context.Background(), "api:listJobs", hooks.Event{})
	require.NoError(t, err)
	jobs := result.([]JobInfo)
	require.Len(t, jobs, 1)
	assert.Equal(t, "nightly", jobs[0].Name)
	assert.Equal(t, "@daily", jobs[0].Spec)
	assert.Equal(t, "internal:cleanup", jobs[0].Hook)
	assert.False(t, jobs[0].Next.IsZero())

	result, err = engine.Dispatch(context.Background(), "agent:removeJob", hooks.Event{"name": "nightly"})
	require.NoError(t, err)
	assert.Equal(t, true, result.(map[string]any)["removed"])

	result, err = engine.Dispatch(context.Background(), "agent:removeJob", hooks.Event{"name": "nightly"})
	require.NoError(t, err)
	assert.Equal(t, false, result.(map[string]any)["removed"])

	result, err = engine.Dispatch(context.Background(), "api:listJobs", hooks.Event{})
	require.NoError(t, err)
	assert.Empty(t, result.([]JobInfo))
}

func TestScheduleReplacesSameName(t *testing.T) {
	engine, _ := newSchedulerEngine(t)

	for _, spec := range []string{"@hourly", "@daily"} {
		_, err := engine.Dispatch(context.Background(), "agent:scheduleJob", hooks.Event{
			"name": "sync",
			"spec": spec,
			"hook": "internal:sync",
		})
		require.NoError(t, err)
	}

	result, err := engine.Dispatch(context.Background(), "api:listJobs", hooks.Event{})
	require.NoError(t, err)
	jobs := result.([]JobInfo)
	require.Len(t, jobs, 1)
	assert.Equal(t, "@daily", jobs[0].Spec)
}

func TestScheduleInvalidSpec(t *testing.T) {
	engine, _ := newSchedulerEngine(t)

	_, err := engine.Dispatch(context.Background(), "agent:scheduleJob", hooks.Event{
		"name": "broken",
		"spec": "not a cron spec",
		"hook": "internal:x",
	})
	require.Error(t, err)
	assert.True(t, hooks.IsKind(err, hooks.KindBadRequest))

	result, err := engine.Dispatch(context.Background(), "api:listJobs", hooks.Event{})
	require.NoError(t, err)
	assert.Empty(t, result.([]JobInfo))
}

func TestScheduleMissingFields(t *testing.T) {
	engine, _ := newSchedulerEngine(t)

	_, err := engine.Dispatch(context.Background(), "agent:scheduleJob", hooks.Event{
		"name": "partial",
	})
	require.Error(t, err)
	assert.True(t, hooks.IsKind(err, hooks.KindBadRequest))
}
