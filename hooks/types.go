package hooks

import (
	"context"
	"reflect"
)

// Event is the payload carried by a single dispatch. Events are opaque records
// shared by reference down the handler chain: a mutation made by one handler is
// observable to every handler after it. Plugins that need isolation must clone.
type Event map[string]any

// Handler is a function invoked for one dispatched event.
//
// The result protocol follows the dispatch contract:
//   - returning (nil, nil) leaves the running result untouched
//   - returning a strict boolean false stops propagation for this dispatch
//   - any other non-nil result becomes the running result
//   - a non-nil error (or a panic) is routed to the pluginError hook unless it
//     is marked with CallerError, in which case it is returned to the caller
type Handler func(ctx context.Context, event Event) (any, error)

// SetupFunc is a plugin's setup entry point. It receives the plugin's bound
// context, the only surface through which the plugin should touch the core.
type SetupFunc func(ctx *Ctx) error

// Plugin is the object form of a registration. A bare SetupFunc may be
// registered directly; its name is then derived from the function.
type Plugin struct {
	// Name uniquely identifies the plugin. Registration under a taken name is
	// rejected and the first registration stays intact.
	Name string

	// Setup is invoked synchronously at registration time with a fresh context.
	Setup SetupFunc

	// Skill is optional free-form metadata describing what the plugin
	// contributes. Retained verbatim and served through the skills manifest.
	Skill map[string]any
}

// CorePlugin is the reserved owner name for handler entries that do not belong
// to any registered plugin. Entries owned by it are never disabled.
const CorePlugin = "core"

// HookPluginError is the reserved error-routing hook. Every handler failure is
// dispatched here with an Event carrying "plugin", "hookName" and "error".
const HookPluginError = "pluginError"

// HandlerEntry is one ordered element of a hook's handler list.
type HandlerEntry struct {
	Handler  Handler
	Priority int
	Plugin   string

	// ref is the handler's code pointer, used for removal equality.
	ref uintptr
}

// handlerRef returns the comparable identity of a handler function.
func handlerRef(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}

// HookRef identifies one handler registration from a plugin's point of view.
type HookRef struct {
	Hook     string `json:"hookName"`
	Priority int    `json:"priority"`
}

// PluginInfo is the read-only registry view of one plugin.
type PluginInfo struct {
	Name    string    `json:"name"`
	Enabled bool      `json:"enabled"`
	Hooks   []HookRef `json:"hooks"`
}

// SkillEntry is one row of the skills manifest.
type SkillEntry struct {
	PluginName string         `json:"pluginName"`
	SkillName  string         `json:"skillName"`
	Skill      map[string]any `json:"skill"`
}
