package hooks

import (
	"context"
	"sync"
)

// Ctx is the restricted surface a plugin receives at setup time. It is bound
// to the plugin's identity: every handler registered through it is owned by
// that plugin and cleaned up when the plugin is removed. The context never
// exposes the raw registries.
type Ctx struct {
	engine *Engine
	name   string
}

// On registers a handler for hook under this plugin's name. The optional
// priority defaults to 0; higher priorities run first. Returns the context for
// chaining.
func (c *Ctx) On(hook string, handler Handler, priority ...int) *Ctx {
	p := 0
	if len(priority) > 0 {
		p = priority[0]
	}
	c.engine.AddHandler(hook, handler, p, c.name)
	return c
}

// Off removes a previously registered handler from hook. Returns the context
// for chaining.
func (c *Ctx) Off(hook string, handler Handler) *Ctx {
	c.engine.RemoveHandler(hook, handler)
	return c
}

// Emit schedules a deferred dispatch of hook. The event is delivered after the
// currently executing dispatch chain completes, never re-entrantly within the
// emitting handler.
func (c *Ctx) Emit(hook string, event Event) {
	c.engine.Emit(hook, event, c.name)
}

// Dispatch invokes hook immediately, bypassing the deferred queue. Use it for
// request/response patterns where deferral is inappropriate; prefer Emit for
// notifications.
func (c *Ctx) Dispatch(ctx context.Context, hook string, event Event) (any, error) {
	return c.engine.Dispatch(ctx, hook, event)
}

// PluginName returns the plugin's bound name.
func (c *Ctx) PluginName() string {
	return c.name
}

// Storage returns the plugin's private key-value store, shared across all of
// the plugin's handlers. Returns nil after the plugin has been removed.
func (c *Ctx) Storage() *Storage {
	return c.engine.pluginStorage(c.name)
}

// RegisterSkill attaches named skill metadata to this plugin, retrievable via
// the introspection skills manifest.
func (c *Ctx) RegisterSkill(name string, skill map[string]any) {
	c.engine.registerSkill(c.name, name, skill)
}

// Storage is a per-plugin key-value store for cross-handler state.
type Storage struct {
	mu   sync.RWMutex
	data map[string]any
}

func newStorage() *Storage {
	return &Storage{data: make(map[string]any)}
}

// Get returns the value stored under key.
func (s *Storage) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	return value, ok
}

// Set stores value under key.
func (s *Storage) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes key.
func (s *Storage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Len returns the number of stored keys.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
