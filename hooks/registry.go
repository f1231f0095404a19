// Package hooks - registry.go
//
// This file implements the hook registry and plugin registry, the two aggregates
// owned by an Engine.
//
// # Hook Registry
//
// A hook is a named extension point holding an ordered list of handler entries.
// Entries are kept in descending-priority insertion order: a new entry with
// priority P is placed before the first existing entry whose priority is
// strictly less than P, else appended. Insertion is stable for equal
// priorities, so two handlers registered at the same priority run in
// registration order.
//
// Hooks are created implicitly: adding a handler under an unknown hook name
// creates the hook. Hook names are plain strings by convention lowercase, with
// an optional "ns:name" form for the reserved namespaces (api:*, agent:*,
// state:*, internal:*).
//
// # Plugin Registry
//
// Each registered plugin gets a record holding its name, the original plugin
// value, an enabled flag, optional skill metadata, and a back-pointer list of
// every handler entry the plugin registered through its context. The
// back-pointer list makes removal atomic and cheap: unregistering a plugin
// walks its own entries instead of scanning every hook.
//
// Plugin names are unique. Re-registration under a taken name is rejected with
// a recoverable error and the first registration stays intact. Anonymous
// plugins (bare setup functions) derive a name from the function's symbol, and
// fall back to "anonymous" with a collision counter.
//
// # Registration Flow
//
//	┌────────────────────────────────────────────────────┐
//	│  Register(plugin)                                  │
//	│    - normalize function / object form              │
//	│    - reject duplicate names                        │
//	│    - create record + bound context                 │
//	└──────────────────────┬─────────────────────────────┘
//	                       │
//	                       ▼
//	┌────────────────────────────────────────────────────┐
//	│  Setup(ctx) runs synchronously                     │
//	│    - ctx.On() inserts handler entries              │
//	│    - failures are caught and routed to pluginError │
//	│      with hookName "init"; the record is retained  │
//	└────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// Both registries are guarded by a single RWMutex. Dispatch takes a snapshot of
// a hook's entry slice under the read lock and runs handlers unlocked, so
// registry mutation from inside a handler never deadlocks.
package hooks

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultRecursionLimit is the default per-hook bound of one drain pass: at
// most DefaultRecursionLimit-1 deferred emissions of a single hook name are
// processed, so a self-emitting hook runs at most DefaultRecursionLimit times
// including the dispatch that started the chain.
const DefaultRecursionLimit = 500

// PluginRecord tracks one registered plugin.
type PluginRecord struct {
	Name    string
	Enabled bool

	// plugin is the original registered value, kept for introspection.
	plugin any

	// skills maps skill name to the metadata registered for it. The object
	// form's Skill field is stored under the plugin's own name.
	skills map[string]map[string]any

	// entries back-points every handler entry owned by this plugin.
	entries []entryRef

	storage *Storage
}

// entryRef locates one handler entry for cleanup on plugin removal.
type entryRef struct {
	hook  string
	entry *HandlerEntry
}

// Options configures a new Engine.
type Options struct {
	// RecursionLimit overrides DefaultRecursionLimit when > 0.
	RecursionLimit int

	// Logger receives structured engine diagnostics.
	Logger zerolog.Logger
}

// Engine owns the hook registry, the plugin registry and the deferred-emission
// queue. All public instance operations ultimately land here.
type Engine struct {
	mu      sync.RWMutex
	hooks   map[string][]*HandlerEntry
	plugins map[string]*PluginRecord
	anonSeq int

	queueMu        sync.Mutex
	queue          []deferredEvent
	draining       bool
	recursionLimit int

	// active counts in-flight dispatches. The deferred queue drains only when
	// it returns to zero, so handlers never observe a partial dispatch.
	active atomic.Int32

	log zerolog.Logger
}

// NewEngine creates an empty engine.
func NewEngine(opts Options) *Engine {
	limit := opts.RecursionLimit
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}
	return &Engine{
		hooks:          make(map[string][]*HandlerEntry),
		plugins:        make(map[string]*PluginRecord),
		recursionLimit: limit,
		log:            opts.Logger,
	}
}

// RecursionLimit returns the per-hook bound applied during queue drains.
func (e *Engine) RecursionLimit() int {
	return e.recursionLimit
}

// Register adds a plugin and runs its setup. Accepted forms:
//
//   - *Plugin / Plugin
//   - SetupFunc or any func(*Ctx) error
//   - func(*Ctx) (setup that cannot fail)
//
// The resolved plugin name is returned. A duplicate name is rejected without
// touching the existing registration; the rejected name accompanies the error
// so callers can report which plugin failed. A setup failure (error or panic) is
// routed to pluginError with hookName "init"; the record is retained so the
// handlers registered before the failure stay live.
func (e *Engine) Register(plugin any) (string, error) {
	p, err := normalizePlugin(plugin)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	name := p.Name
	anonymous := false
	if name == "" {
		name, anonymous = e.deriveNameLocked(p.Setup)
	}
	if _, exists := e.plugins[name]; exists {
		if !anonymous {
			e.mu.Unlock()
			return name, NewError(KindDuplicatePlugin, "plugin %q already registered", name)
		}
		name = e.suffixLocked(name)
	}
	record := &PluginRecord{
		Name:    name,
		Enabled: true,
		plugin:  plugin,
		skills:  make(map[string]map[string]any),
		storage: newStorage(),
	}
	if p.Skill != nil {
		record.skills[name] = p.Skill
	}
	e.plugins[name] = record
	e.mu.Unlock()

	e.log.Debug().Str("plugin", name).Msg("plugin registered")

	if p.Setup != nil {
		ctx := &Ctx{engine: e, name: name}
		if err := runSetup(p.Setup, ctx); err != nil {
			e.log.Warn().Str("plugin", name).Err(err).Msg("plugin setup failed")
			e.enqueue(HookPluginError, Event{
				"plugin":   name,
				"hookName": "init",
				"error":    err,
			}, name)
		}
	}

	// Registration counts as a top-level operation: emits scheduled during
	// setup (and the init error event) are delivered before Register returns.
	e.maybeDrain()
	return name, nil
}

// runSetup invokes a plugin's setup, converting a panic into an error.
func runSetup(setup SetupFunc, ctx *Ctx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("setup panic: %v", r)
		}
	}()
	return setup(ctx)
}

// normalizePlugin converts the accepted registration forms into Plugin.
func normalizePlugin(plugin any) (Plugin, error) {
	switch p := plugin.(type) {
	case *Plugin:
		if p == nil {
			return Plugin{}, NewError(KindBadRequest, "nil plugin")
		}
		return *p, nil
	case Plugin:
		return p, nil
	case SetupFunc:
		return Plugin{Setup: p}, nil
	case func(*Ctx) error:
		return Plugin{Setup: p}, nil
	case func(*Ctx):
		return Plugin{Setup: func(ctx *Ctx) error {
			p(ctx)
			return nil
		}}, nil
	default:
		return Plugin{}, NewError(KindBadRequest, "unsupported plugin type %T", plugin)
	}
}

// deriveNameLocked names a nameless plugin from its setup function's symbol.
// Closures carry no useful symbol and fall back to "anonymous"; the second
// return reports that fallback, which collides by suffixing rather than by
// rejection. Caller holds e.mu.
func (e *Engine) deriveNameLocked(setup SetupFunc) (string, bool) {
	if setup != nil {
		if fn := runtime.FuncForPC(reflect.ValueOf(setup).Pointer()); fn != nil {
			sym := fn.Name()
			sym = sym[strings.LastIndex(sym, "/")+1:]
			if i := strings.LastIndex(sym, "."); i >= 0 {
				sym = sym[i+1:]
			}
			// Closures compile to funcN symbols, which name nothing useful.
			if sym != "" && !strings.HasPrefix(sym, "func") {
				return strings.ToLower(sym), false
			}
		}
	}
	return "anonymous", true
}

// suffixLocked finds a free collision-suffixed variant of name. Caller holds
// e.mu.
func (e *Engine) suffixLocked(name string) string {
	for {
		e.anonSeq++
		candidate := fmt.Sprintf("%s-%d", name, e.anonSeq+1)
		if _, taken := e.plugins[candidate]; !taken {
			return candidate
		}
	}
}

// AddHandler inserts a handler entry for hook under the owning plugin name,
// per the descending-priority ordering rule. The hook is created if absent.
func (e *Engine) AddHandler(hook string, handler Handler, priority int, plugin string) {
	entry := &HandlerEntry{
		Handler:  handler,
		Priority: priority,
		Plugin:   plugin,
		ref:      handlerRef(handler),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.hooks[hook]
	pos := len(entries)
	for i, existing := range entries {
		if existing.Priority < priority {
			pos = i
			break
		}
	}
	entries = append(entries, nil)
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = entry
	e.hooks[hook] = entries

	if record, ok := e.plugins[plugin]; ok {
		record.entries = append(record.entries, entryRef{hook: hook, entry: entry})
	}

	e.log.Debug().
		Str("plugin", plugin).
		Str("hook", hook).
		Int("priority", priority).
		Msg("handler registered")
}

// RemoveHandler removes the first entry for hook whose handler is
// reference-equal to handler. Removing an absent handler is a no-op.
func (e *Engine) RemoveHandler(hook string, handler Handler) {
	ref := handlerRef(handler)

	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.hooks[hook]
	for i, entry := range entries {
		if entry.ref != ref {
			continue
		}
		e.hooks[hook] = append(entries[:i:i], entries[i+1:]...)
		if len(e.hooks[hook]) == 0 {
			delete(e.hooks, hook)
		}
		if record, ok := e.plugins[entry.Plugin]; ok {
			record.dropEntry(entry)
		}
		e.log.Debug().Str("hook", hook).Str("plugin", entry.Plugin).Msg("handler removed")
		return
	}
}

// RemovePlugin removes a plugin and every handler entry it owns, atomically.
// Removing an unknown plugin is a no-op.
func (e *Engine) RemovePlugin(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.plugins[name]
	if !ok {
		return
	}
	for _, ref := range record.entries {
		entries := e.hooks[ref.hook]
		for i, entry := range entries {
			if entry == ref.entry {
				e.hooks[ref.hook] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(e.hooks[ref.hook]) == 0 {
			delete(e.hooks, ref.hook)
		}
	}
	delete(e.plugins, name)

	e.log.Debug().Str("plugin", name).Int("handlers", len(record.entries)).Msg("plugin removed")
}

// dropEntry removes one back-pointer from the record's entry list.
func (r *PluginRecord) dropEntry(entry *HandlerEntry) {
	for i, ref := range r.entries {
		if ref.entry == entry {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// SetEnabled toggles a plugin's enabled flag. Disabling keeps the plugin's
// entries in place (order is preserved); dispatch skips them. Unknown names
// are a no-op.
func (e *Engine) SetEnabled(name string, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.plugins[name]
	if !ok {
		return
	}
	record.Enabled = enabled
	e.log.Debug().Str("plugin", name).Bool("enabled", enabled).Msg("plugin toggled")
}

// pluginEnabled reports whether entries owned by name should run. The core
// sentinel is always enabled; entries whose owner has vanished are skipped.
func (e *Engine) pluginEnabled(name string) bool {
	if name == CorePlugin {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	record, ok := e.plugins[name]
	return ok && record.Enabled
}

// snapshot copies a hook's entry slice for lock-free iteration.
func (e *Engine) snapshot(hook string) []*HandlerEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entries := e.hooks[hook]
	if len(entries) == 0 {
		return nil
	}
	out := make([]*HandlerEntry, len(entries))
	copy(out, entries)
	return out
}

// HookNames returns all hook names with at least one handler, sorted.
func (e *Engine) HookNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.hooks))
	for name := range e.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandlerCount returns the number of entries registered for hook.
func (e *Engine) HandlerCount(hook string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.hooks[hook])
}

// HookCounts returns hook name -> handler count for every known hook.
func (e *Engine) HookCounts() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	counts := make(map[string]int, len(e.hooks))
	for name, entries := range e.hooks {
		counts[name] = len(entries)
	}
	return counts
}

// PluginNames returns all registered plugin names, sorted.
func (e *Engine) PluginNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.plugins))
	for name := range e.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasPlugin reports whether name is registered.
func (e *Engine) HasPlugin(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.plugins[name]
	return ok
}

// PluginInfo returns the read-only view of one plugin.
func (e *Engine) PluginInfo(name string) (PluginInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	record, ok := e.plugins[name]
	if !ok {
		return PluginInfo{}, false
	}
	return record.infoLocked(), true
}

// PluginsInfo returns the read-only view of every plugin, sorted by name.
func (e *Engine) PluginsInfo() []PluginInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	infos := make([]PluginInfo, 0, len(e.plugins))
	for _, record := range e.plugins {
		infos = append(infos, record.infoLocked())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// infoLocked builds the snapshot view. Caller holds e.mu.
func (r *PluginRecord) infoLocked() PluginInfo {
	info := PluginInfo{
		Name:    r.Name,
		Enabled: r.Enabled,
		Hooks:   make([]HookRef, 0, len(r.entries)),
	}
	for _, ref := range r.entries {
		info.Hooks = append(info.Hooks, HookRef{Hook: ref.hook, Priority: ref.entry.Priority})
	}
	return info
}

// registerSkill attaches named skill metadata to a plugin record.
func (e *Engine) registerSkill(plugin, name string, skill map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.plugins[plugin]
	if !ok {
		return
	}
	record.skills[name] = skill
	e.log.Debug().Str("plugin", plugin).Str("skill", name).Msg("skill registered")
}

// PluginSkills returns the skill records attached to one plugin.
func (e *Engine) PluginSkills(name string) (map[string]map[string]any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	record, ok := e.plugins[name]
	if !ok {
		return nil, false
	}
	skills := make(map[string]map[string]any, len(record.skills))
	for skillName, skill := range record.skills {
		skills[skillName] = skill
	}
	return skills, true
}

// SkillsManifest returns one entry per registered skill across all plugins,
// sorted by plugin then skill name.
func (e *Engine) SkillsManifest() []SkillEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	manifest := make([]SkillEntry, 0)
	for _, record := range e.plugins {
		for skillName, skill := range record.skills {
			manifest = append(manifest, SkillEntry{
				PluginName: record.Name,
				SkillName:  skillName,
				Skill:      skill,
			})
		}
	}
	sort.Slice(manifest, func(i, j int) bool {
		if manifest[i].PluginName != manifest[j].PluginName {
			return manifest[i].PluginName < manifest[j].PluginName
		}
		return manifest[i].SkillName < manifest[j].SkillName
	})
	return manifest
}

// pluginStorage returns a plugin's key-value storage, nil for unknown plugins.
func (e *Engine) pluginStorage(name string) *Storage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	record, ok := e.plugins[name]
	if !ok {
		return nil
	}
	return record.storage
}
