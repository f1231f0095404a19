// Package hooks - dispatch.go
//
// This file implements the dispatch engine and the deferred-emission queue.
//
// # Dispatch Protocol
//
// Dispatch walks the ordered handler list for one hook, invoking each enabled
// handler sequentially on the calling goroutine. The engine tracks a running
// result: a handler returning a non-nil value replaces it, nil leaves it
// untouched, and a strict boolean false records itself (if no result has been
// recorded yet) and stops propagation. The running result is returned after the last handler.
//
// Dispatch never panics and its error return is reserved for caller-induced
// misuse (see errors.go). A handler failure — returned error or panic — is
// converted into an asynchronous dispatch on the pluginError hook and the walk
// continues with the remaining handlers. Dispatching a hook with zero handlers
// returns (nil, nil).
//
// # Deferred Emission
//
// Emit schedules a dispatch instead of executing one. Scheduled events are
// appended to an engine-wide FIFO queue and drained only when no dispatch is
// in flight, so a handler never observes the partial state of the dispatch
// that scheduled it. Enqueues during a drain append to the tail of the same
// pass; a second drain is never started concurrently.
//
// # Recursion Protection
//
// A drain pass counts queued entries per hook name. The entry whose count
// reaches the engine's recursion limit, and every later entry for that hook,
// is dropped, and a single pluginError event with kind "recursion-bound" is
// emitted for it. A pass thus runs at most limit-1 deferred dispatches of one
// hook; together with the dispatch that started the chain, a self-emitting
// hook runs at most limit times. The bound is reachable only by pathological emit loops.
package hooks

import (
	"context"
	"fmt"
)

// deferredEvent is one pending emit: the hook to dispatch, its event, and the
// plugin that scheduled it.
type deferredEvent struct {
	hook    string
	event   Event
	emitter string
}

// Dispatch invokes all enabled handlers for hook in priority order and returns
// the final running result.
//
// The error return is non-nil only when a handler signals caller-induced
// misuse via CallerError (for example api:setState on an invalid transition);
// it is never non-nil because a handler failed. After the dispatch and its
// handler chain complete, the deferred queue is drained, so events emitted by
// the handlers are delivered before Dispatch returns to a top-level caller.
func (e *Engine) Dispatch(ctx context.Context, hook string, event Event) (any, error) {
	e.active.Add(1)
	result, err := e.run(ctx, hook, event)
	e.active.Add(-1)
	e.maybeDrain()
	return result, err
}

// run executes one dispatch without touching the deferred queue.
func (e *Engine) run(ctx context.Context, hook string, event Event) (any, error) {
	entries := e.snapshot(hook)

	var last any
	for _, entry := range entries {
		if !e.pluginEnabled(entry.Plugin) {
			continue
		}
		result, err := invoke(ctx, entry, event)
		if err != nil {
			if IsCallerError(err) {
				return nil, unwrapCallerError(err)
			}
			e.routeError(entry.Plugin, hook, err)
			continue
		}
		if b, ok := result.(bool); ok && !b {
			// false is the stop-propagation sentinel.
			if last == nil {
				last = false
			}
			break
		}
		if result != nil {
			last = result
		}
	}
	return last, nil
}

// invoke calls one handler, converting a panic into an error.
func invoke(ctx context.Context, entry *HandlerEntry, event Event) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return entry.Handler(ctx, event)
}

// routeError schedules a pluginError dispatch for a failed handler. The event
// is queued rather than dispatched inline so a failing error handler cannot
// recurse unboundedly.
func (e *Engine) routeError(plugin, hook string, err error) {
	e.log.Warn().
		Str("plugin", plugin).
		Str("hook", hook).
		Err(err).
		Msg("handler failed")
	e.enqueue(HookPluginError, Event{
		"plugin":   plugin,
		"hookName": hook,
		"error":    err,
	}, plugin)
}

// Emit schedules a deferred dispatch of hook on behalf of emitter. If no
// dispatch is in flight the queue is drained immediately on the calling
// goroutine; otherwise the drain runs when the current dispatch chain
// completes.
func (e *Engine) Emit(hook string, event Event, emitter string) {
	e.enqueue(hook, event, emitter)
	e.maybeDrain()
}

// enqueue appends one pending event to the deferred queue.
func (e *Engine) enqueue(hook string, event Event, emitter string) {
	e.queueMu.Lock()
	e.queue = append(e.queue, deferredEvent{hook: hook, event: event, emitter: emitter})
	e.queueMu.Unlock()
}

// maybeDrain drains the deferred queue unless a dispatch is still in flight.
func (e *Engine) maybeDrain() {
	if e.active.Load() != 0 {
		return
	}
	e.drain()
}

// drain pops queued events in FIFO order and dispatches each. Entries enqueued
// while draining are processed within the same pass. Per hook name, the entry
// whose count reaches the recursion limit and every later one are dropped and
// reported once.
func (e *Engine) drain() {
	e.queueMu.Lock()
	if e.draining || len(e.queue) == 0 {
		e.queueMu.Unlock()
		return
	}
	e.draining = true

	counts := make(map[string]int)
	reported := make(map[string]bool)
	for len(e.queue) > 0 {
		d := e.queue[0]
		e.queue = e.queue[1:]

		counts[d.hook]++
		if counts[d.hook] >= e.recursionLimit {
			if !reported[d.hook] && d.hook != HookPluginError {
				reported[d.hook] = true
				boundErr := NewError(KindRecursionBound,
					"hook %q exceeded recursion limit %d", d.hook, e.recursionLimit)
				e.queue = append(e.queue, deferredEvent{
					hook: HookPluginError,
					event: Event{
						"plugin":   d.emitter,
						"hookName": d.hook,
						"error":    boundErr,
						"kind":     KindRecursionBound,
					},
					emitter: CorePlugin,
				})
				e.log.Warn().
					Str("hook", d.hook).
					Str("emitter", d.emitter).
					Int("limit", e.recursionLimit).
					Msg("recursion bound hit, dropping deferred events")
			}
			continue
		}

		e.queueMu.Unlock()
		if _, err := e.run(context.Background(), d.hook, d.event); err != nil {
			// A deferred dispatch has no caller to reject; surface in the log.
			e.log.Warn().Str("hook", d.hook).Err(err).Msg("deferred dispatch rejected")
		}
		e.queueMu.Lock()
	}

	e.draining = false
	e.queueMu.Unlock()
}

// QueueLength returns the number of pending deferred events.
func (e *Engine) QueueLength() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}
