// Package plugins - statetracker.go
//
// This file implements the state tracker, the bundled state machine plugin.
//
// The tracker maintains a single current state per instance, a bounded history
// of past states, and a set of pending waiters keyed by target state. External
// agents coordinate with the core through its reserved hooks:
//
//	api:getCurrentState      -> {status, data, timestamp, previous}
//	api:setState             {state, data?} -> transition, resolve waiters
//	api:waitForState         {state, timeout?} -> block until entered
//	api:getStateHistory      -> {history, capacity}
//	api:registerStateSchema  {schema} -> constrain states and transitions
//
// After a successful transition the tracker emits three derived events through
// the deferred-emission protocol: state:transition, state:entered:<to> and
// state:exited:<from>. They are delivered after the setState dispatch chain
// completes, so observers see the post-transition world.
//
// Invalid transitions and waiter timeouts are caller errors: the dispatch
// promise rejects and no pluginError event is produced.
package plugins

import (
	"context"
	"sync"
	"time"

	"github.com/codetalcott/fixiplug/hooks"
)

const (
	// DefaultHistoryCapacity bounds the state history ring.
	DefaultHistoryCapacity = 50

	// DefaultWaitTimeout applies when api:waitForState carries no timeout.
	DefaultWaitTimeout = 30 * time.Second

	// InitialState is the status every tracker starts in.
	InitialState = "idle"
)

// StateRecord describes one entered state.
type StateRecord struct {
	Status    string         `json:"status"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Previous  string         `json:"previous,omitempty"`
}

// StateSchema constrains the allowed states and transitions. A nil schema
// allows everything.
type StateSchema struct {
	States      []string            `json:"states"`
	Transitions map[string][]string `json:"transitions"`
}

// allowsState reports whether status is a declared state.
func (s *StateSchema) allowsState(status string) bool {
	if len(s.States) == 0 {
		return true
	}
	for _, state := range s.States {
		if state == status {
			return true
		}
	}
	return false
}

// allowsTransition reports whether from -> to is declared.
func (s *StateSchema) allowsTransition(from, to string) bool {
	if s.Transitions == nil {
		return true
	}
	for _, next := range s.Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// waiter is one pending api:waitForState call. The resolving side sends the
// entered state on ch (buffered, never blocks) and stops the timer; the
// waiting side races ch against the timer.
type waiter struct {
	ch    chan StateRecord
	timer *time.Timer
}

// StateTracker is the tracker's mutable state. It is exported so embedders can
// build it directly, but the usual entry point is the Plugin method via the
// state-tracker feature.
type StateTracker struct {
	mu       sync.Mutex
	current  StateRecord
	history  []StateRecord
	capacity int
	waiters  map[string][]*waiter
	schema   *StateSchema
}

// NewStateTracker creates a tracker in the idle state with the given history
// capacity (DefaultHistoryCapacity when <= 0).
func NewStateTracker(capacity int) *StateTracker {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	initial := StateRecord{
		Status:    InitialState,
		Data:      map[string]any{},
		Timestamp: time.Now(),
	}
	return &StateTracker{
		current:  initial,
		history:  []StateRecord{initial},
		capacity: capacity,
		waiters:  make(map[string][]*waiter),
	}
}

// Plugin wraps the tracker as the "state-tracker" plugin.
func (t *StateTracker) Plugin() *hooks.Plugin {
	return &hooks.Plugin{
		Name: "state-tracker",
		Setup: func(ctx *hooks.Ctx) error {
			ctx.On("api:getCurrentState", func(_ context.Context, _ hooks.Event) (any, error) {
				return t.Current(), nil
			})

			ctx.On("api:setState", func(_ context.Context, event hooks.Event) (any, error) {
				state, ok := event.String("state")
				if !ok || state == "" {
					return nil, hooks.CallerError(
						hooks.NewError(hooks.KindBadRequest, "api:setState requires a state name"))
				}
				data, _ := event.Map("data")
				record, err := t.SetState(state, data)
				if err != nil {
					return nil, hooks.CallerError(err)
				}
				ctx.Emit("state:transition", hooks.Event{
					"from":      record.Previous,
					"to":        record.Status,
					"data":      record.Data,
					"timestamp": record.Timestamp,
				})
				ctx.Emit("state:entered:"+record.Status, hooks.Event{
					"from": record.Previous,
					"data": record.Data,
				})
				ctx.Emit("state:exited:"+record.Previous, hooks.Event{
					"to":   record.Status,
					"data": record.Data,
				})
				return record, nil
			})

			ctx.On("api:waitForState", func(_ context.Context, event hooks.Event) (any, error) {
				state, ok := event.String("state")
				if !ok || state == "" {
					return nil, hooks.CallerError(
						hooks.NewError(hooks.KindBadRequest, "api:waitForState requires a state name"))
				}
				timeout := event.DurationOr("timeout", DefaultWaitTimeout)
				record, err := t.WaitForState(state, timeout)
				if err != nil {
					return nil, hooks.CallerError(err)
				}
				return record, nil
			})

			ctx.On("api:getStateHistory", func(_ context.Context, _ hooks.Event) (any, error) {
				history := t.History()
				return map[string]any{
					"history":  history,
					"capacity": t.capacity,
				}, nil
			})

			ctx.On("api:registerStateSchema", func(_ context.Context, event hooks.Event) (any, error) {
				schema, err := parseSchema(event)
				if err != nil {
					return nil, hooks.CallerError(err)
				}
				t.SetSchema(schema)
				return map[string]any{"registered": schema != nil}, nil
			})

			return nil
		},
	}
}

// Current returns the current state record.
func (t *StateTracker) Current() StateRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// History returns a copy of the state history, most recent last.
func (t *StateTracker) History() []StateRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	history := make([]StateRecord, len(t.history))
	copy(history, t.history)
	return history
}

// SetSchema installs (or clears, with nil) the transition schema.
func (t *StateTracker) SetSchema(schema *StateSchema) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schema = schema
}

// SetState transitions to state, records history, and resolves every waiter
// pending on it. Schema violations leave the state untouched.
func (t *StateTracker) SetState(state string, data map[string]any) (StateRecord, error) {
	if data == nil {
		data = map[string]any{}
	}

	t.mu.Lock()
	if t.schema != nil {
		if !t.schema.allowsState(state) {
			t.mu.Unlock()
			return StateRecord{}, hooks.NewError(hooks.KindInvalidTransition,
				"state %q is not declared in the schema", state)
		}
		if !t.schema.allowsTransition(t.current.Status, state) {
			t.mu.Unlock()
			return StateRecord{}, hooks.NewError(hooks.KindInvalidTransition,
				"transition %s -> %s is not allowed", t.current.Status, state)
		}
	}

	record := StateRecord{
		Status:    state,
		Data:      data,
		Timestamp: time.Now(),
		Previous:  t.current.Status,
	}
	t.current = record
	t.history = append(t.history, record)
	if len(t.history) > t.capacity {
		t.history = t.history[len(t.history)-t.capacity:]
	}

	pending := t.waiters[state]
	delete(t.waiters, state)
	for _, w := range pending {
		w.timer.Stop()
		w.ch <- record
	}
	t.mu.Unlock()

	return record, nil
}

// WaitForState blocks until state is entered or timeout elapses. If the
// tracker is already in state it returns immediately. A timeout <= 0 fails
// immediately with a wait-timeout error.
func (t *StateTracker) WaitForState(state string, timeout time.Duration) (StateRecord, error) {
	if timeout <= 0 {
		return StateRecord{}, hooks.NewError(hooks.KindWaitTimeout,
			"timed out waiting for state %q", state)
	}

	t.mu.Lock()
	if t.current.Status == state {
		record := t.current
		t.mu.Unlock()
		return record, nil
	}
	w := &waiter{
		ch:    make(chan StateRecord, 1),
		timer: time.NewTimer(timeout),
	}
	t.waiters[state] = append(t.waiters[state], w)
	t.mu.Unlock()

	select {
	case record := <-w.ch:
		return record, nil
	case <-w.timer.C:
		if t.cancelWaiter(state, w) {
			return StateRecord{}, hooks.NewError(hooks.KindWaitTimeout,
				"timed out waiting for state %q after %s", state, timeout)
		}
		// Resolved concurrently with the timer; the record is already buffered.
		return <-w.ch, nil
	}
}

// cancelWaiter removes w from the pending list. It returns false when the
// waiter was already resolved (and therefore no longer listed).
func (t *StateTracker) cancelWaiter(state string, w *waiter) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := t.waiters[state]
	for i, candidate := range pending {
		if candidate == w {
			t.waiters[state] = append(pending[:i:i], pending[i+1:]...)
			if len(t.waiters[state]) == 0 {
				delete(t.waiters, state)
			}
			return true
		}
	}
	return false
}

// PendingWaiters returns the number of unresolved waiters for state.
func (t *StateTracker) PendingWaiters(state string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters[state])
}

// parseSchema reads the schema out of an api:registerStateSchema event.
func parseSchema(event hooks.Event) (*StateSchema, error) {
	raw, ok := event["schema"]
	if !ok || raw == nil {
		return nil, nil
	}
	switch schema := raw.(type) {
	case *StateSchema:
		return schema, nil
	case StateSchema:
		return &schema, nil
	case map[string]any:
		parsed := &StateSchema{Transitions: make(map[string][]string)}
		if states, ok := schema["states"].([]any); ok {
			for _, s := range states {
				if name, ok := s.(string); ok {
					parsed.States = append(parsed.States, name)
				}
			}
		} else if states, ok := schema["states"].([]string); ok {
			parsed.States = states
		}
		switch transitions := schema["transitions"].(type) {
		case map[string][]string:
			parsed.Transitions = transitions
		case map[string]any:
			for from, tos := range transitions {
				switch targets := tos.(type) {
				case []string:
					parsed.Transitions[from] = targets
				case []any:
					for _, to := range targets {
						if name, ok := to.(string); ok {
							parsed.Transitions[from] = append(parsed.Transitions[from], name)
						}
					}
				}
			}
		}
		return parsed, nil
	default:
		return nil, hooks.NewError(hooks.KindBadRequest, "unsupported schema type %T", raw)
	}
}
