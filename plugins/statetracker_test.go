package plugins

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetalcott/fixiplug/hooks"
)

func newTrackerEngine(t *testing.T, capacity int) (*hooks.Engine, *StateTracker) {
	t.Helper()
	engine := hooks.NewEngine(hooks.Options{})
	tracker := NewStateTracker(capacity)
	_, err := engine.Register(tracker.Plugin())
	require.NoError(t, err)
	return engine, tracker
}

func TestInitialState(t *testing.T) {
	engine, _ := newTrackerEngine(t, 0)

	result, err := engine.Dispatch(context.Background(), "api:getCurrentState", hooks.Event{})
	require.NoError(t, err)
	record, ok := result.(StateRecord)
	require.True(t, ok, "expected a StateRecord, got %T", result)
	assert.Equal(t, InitialState, record.Status)
}

func TestSetStateUpdatesHistoryAndEmitsEvents(t *testing.T) {
	engine, tracker := newTrackerEngine(t, 0)

	var transitions []hooks.Event
	var entered []hooks.Event
	var exited []hooks.Event
	_, err := engine.Register(&hooks.Plugin{
		Name: "observer",
		Setup: func(ctx *hooks.Ctx) error {
			ctx.On("state:transition", func(_ context.Context, e hooks.Event) (any, error) {
				transitions = append(transitions, e)
				return nil, nil
			})
			ctx.On("state:entered:loading", func(_ context.Context, e hooks.Event) (any, error) {
				entered = append(entered, e)
				return nil, nil
			})
			ctx.On("state:exited:idle", func(_ context.Context, e hooks.Event) (any, error) {
				exited = append(exited, e)
				return nil, nil
			})
			return nil
		},
	})
	require.NoError(t, err)

	result, err := engine.Dispatch(context.Background(), "api:setState", hooks.Event{
		"state": "loading",
		"data":  map[string]any{"url": "/x"},
	})
	require.NoError(t, err)
	record := result.(StateRecord)
	assert.Equal(t, "loading", record.Status)
	assert.Equal(t, InitialState, record.Previous)

	// Derived events are deferred but delivered before Dispatch returns.
	require.Len(t, transitions, 1)
	assert.Equal(t, InitialState, transitions[0]["from"])
	assert.Equal(t, "loading", transitions[0]["to"])
	require.Len(t, entered, 1)
	require.Len(t, exited, 1)
	assert.Equal(t, "loading", exited[0]["to"])

	history := tracker.History()
	require.Len(t, history, 2)
	assert.Equal(t, InitialState, history[0].Status)
	assert.Equal(t, "loading", history[1].Status)
}

// State transition and wait: one task waits for "success" while another walks
// idle -> loading -> success.
func TestWaitForStateResolvedByTransition(t *testing.T) {
	engine, tracker := newTrackerEngine(t, 0)

	type waitResult struct {
		record StateRecord
		err    error
	}
	done := make(chan waitResult, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := engine.Dispatch(context.Background(), "api:waitForState", hooks.Event{
			"state":   "success",
			"timeout": 5000,
		})
		if err != nil {
			done <- waitResult{err: err}
			return
		}
		done <- waitResult{record: result.(StateRecord)}
	}()

	// Make sure the waiter is registered before transitioning.
	require.Eventually(t, func() bool {
		return tracker.PendingWaiters("success") == 1
	}, time.Second, time.Millisecond)

	_, err := engine.Dispatch(context.Background(), "api:setState", hooks.Event{"state": "loading"})
	require.NoError(t, err)
	_, err = engine.Dispatch(context.Background(), "api:setState", hooks.Event{
		"state": "success",
		"data":  map[string]any{"n": 1},
	})
	require.NoError(t, err)

	wg.Wait()
	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, "success", result.record.Status)
	assert.Equal(t, 1, result.record.Data["n"])
	assert.Equal(t, 0, tracker.PendingWaiters("success"))

	history := tracker.History()
	require.GreaterOrEqual(t, len(history), 3)
	tail := history[len(history)-3:]
	assert.Equal(t, InitialState, tail[0].Status)
	assert.Equal(t, "loading", tail[1].Status)
	assert.Equal(t, "success", tail[2].Status)
}

func TestWaitForStateAlreadyThere(t *testing.T) {
	engine, _ := newTrackerEngine(t, 0)

	result, err := engine.Dispatch(context.Background(), "api:waitForState", hooks.Event{
		"state": InitialState,
	})
	require.NoError(t, err)
	assert.Equal(t, InitialState, result.(StateRecord).Status)
}

func TestWaitForStateTimeout(t *testing.T) {
	engine, tracker := newTrackerEngine(t, 0)

	start := time.Now()
	_, err := engine.Dispatch(context.Background(), "api:waitForState", hooks.Event{
		"state":   "never",
		"timeout": 20,
	})
	require.Error(t, err)
	assert.True(t, hooks.IsKind(err, hooks.KindWaitTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 0, tracker.PendingWaiters("never"), "timed-out waiter must be removed")
}

func TestWaitForStateNonPositiveTimeout(t *testing.T) {
	engine, _ := newTrackerEngine(t, 0)

	_, err := engine.Dispatch(context.Background(), "api:waitForState", hooks.Event{
		"state":   "never",
		"timeout": 0,
	})
	require.Error(t, err)
	assert.True(t, hooks.IsKind(err, hooks.KindWaitTimeout))
}

func TestTimeoutRejectsOnlyItsWaiter(t *testing.T) {
	_, tracker := newTrackerEngine(t, 0)

	shortErr := make(chan error, 1)
	longDone := make(chan StateRecord, 1)
	go func() {
		_, err := tracker.WaitForState("target", 20*time.Millisecond)
		shortErr <- err
	}()
	go func() {
		record, err := tracker.WaitForState("target", 5*time.Second)
		if err == nil {
			longDone <- record
		}
	}()

	require.Eventually(t, func() bool {
		return tracker.PendingWaiters("target") == 2
	}, time.Second, time.Millisecond)

	err := <-shortErr
	require.Error(t, err)
	assert.Equal(t, 1, tracker.PendingWaiters("target"))

	_, err = tracker.SetState("target", nil)
	require.NoError(t, err)

	select {
	case record := <-longDone:
		assert.Equal(t, "target", record.Status)
	case <-time.After(time.Second):
		t.Fatal("surviving waiter never resolved")
	}
}

func TestSchemaValidation(t *testing.T) {
	engine, tracker := newTrackerEngine(t, 0)

	_, err := engine.Dispatch(context.Background(), "api:registerStateSchema", hooks.Event{
		"schema": map[string]any{
			"states": []any{"idle", "loading", "success", "error"},
			"transitions": map[string]any{
				"idle":    []any{"loading"},
				"loading": []any{"success", "error"},
			},
		},
	})
	require.NoError(t, err)

	// idle -> success is not declared.
	_, err = engine.Dispatch(context.Background(), "api:setState", hooks.Event{"state": "success"})
	require.Error(t, err)
	assert.True(t, hooks.IsKind(err, hooks.KindInvalidTransition))
	assert.Equal(t, InitialState, tracker.Current().Status, "failed transition must not change state")

	// Undeclared state.
	_, err = engine.Dispatch(context.Background(), "api:setState", hooks.Event{"state": "bogus"})
	require.Error(t, err)
	assert.True(t, hooks.IsKind(err, hooks.KindInvalidTransition))

	// The declared path works.
	_, err = engine.Dispatch(context.Background(), "api:setState", hooks.Event{"state": "loading"})
	require.NoError(t, err)
	_, err = engine.Dispatch(context.Background(), "api:setState", hooks.Event{"state": "success"})
	require.NoError(t, err)
	assert.Equal(t, "success", tracker.Current().Status)
}

func TestHistoryCapacity(t *testing.T) {
	engine, tracker := newTrackerEngine(t, 5)

	for i := 0; i < 20; i++ {
		state := "even"
		if i%2 == 1 {
			state = "odd"
		}
		_, err := engine.Dispatch(context.Background(), "api:setState", hooks.Event{"state": state})
		require.NoError(t, err)
	}

	history := tracker.History()
	assert.Len(t, history, 5, "history must be capped")
	assert.Equal(t, "odd", history[len(history)-1].Status, "newest entry at the tail")

	result, err := engine.Dispatch(context.Background(), "api:getStateHistory", hooks.Event{})
	require.NoError(t, err)
	payload := result.(map[string]any)
	assert.Equal(t, 5, payload["capacity"])
	assert.Len(t, payload["history"].([]StateRecord), 5)
}

func TestSetStateMissingName(t *testing.T) {
	engine, _ := newTrackerEngine(t, 0)

	_, err := engine.Dispatch(context.Background(), "api:setState", hooks.Event{})
	require.Error(t, err)
	assert.True(t, hooks.IsKind(err, hooks.KindBadRequest))
}
