// Package fixiplug is an event-driven plugin framework built around a typed
// hook dispatch engine. Application code and independently authored plugins
// meet at named hooks: plugins register ordered handlers through a restricted
// context, and the engine guarantees priority ordering, failure isolation,
// deferred re-entrant emission and dynamic enable/disable across all of them.
//
// A configured instance is produced by the factory:
//
//	plug := fixiplug.New(fixiplug.Config{
//	    Features: []string{fixiplug.FeatureIntrospection, fixiplug.FeatureStateTracker},
//	})
//	defer plug.Close()
//
//	plug.Use(&hooks.Plugin{
//	    Name: "greeter",
//	    Setup: func(ctx *hooks.Ctx) error {
//	        ctx.On("greet", func(_ context.Context, e hooks.Event) (any, error) {
//	            return "hello " + e["who"].(string), nil
//	        })
//	        return nil
//	    },
//	})
//
//	result, _ := plug.Dispatch(context.Background(), "greet", hooks.Event{"who": "world"})
//
// External agents discover and drive an instance through the reserved api:*
// hooks served by the introspection and state-tracker features, or remotely
// through the httpapi package.
package fixiplug

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/codetalcott/fixiplug/hooks"
	"github.com/codetalcott/fixiplug/internal/logger"
	"github.com/codetalcott/fixiplug/plugins"
)

// Version is the framework version reported by api:introspect.
const Version = "0.9.0"

// Instance is a configured fixiplug core: the owned hook and plugin
// registries, the dispatch engine, and the feature set selected at
// construction.
type Instance struct {
	engine   *hooks.Engine
	features map[string]bool
	tracker  *plugins.StateTracker
	closers  []io.Closer
	log      zerolog.Logger
}

// New produces a configured instance. A nil Features slice installs the
// default feature set; an explicitly empty slice installs none. Unknown
// feature names are logged and skipped.
func New(cfg Config) *Instance {
	inst := &Instance{
		engine: hooks.NewEngine(hooks.Options{
			RecursionLimit: cfg.RecursionLimit,
			Logger:         logger.Hooks(),
		}),
		features: make(map[string]bool),
		log:      logger.Plugins(),
	}

	features := cfg.Features
	if features == nil {
		features = DefaultFeatures()
	}
	for _, name := range features {
		if !inst.installFeature(name, cfg) {
			inst.log.Warn().Str("feature", name).Msg("unknown feature ignored")
			continue
		}
		inst.features[name] = true
	}
	return inst
}

// Use registers a plugin: either a *hooks.Plugin / hooks.Plugin value or a
// bare setup function. Registration never fails the caller; a duplicate name
// is rejected with the first registration intact and reported through a
// pluginError event. Returns the instance for chaining.
func (inst *Instance) Use(plugin any) *Instance {
	if name, err := inst.Register(plugin); err != nil {
		inst.log.Warn().Str("plugin", name).Err(err).Msg("plugin registration rejected")
		inst.engine.Emit(hooks.HookPluginError, hooks.Event{
			"plugin":   name,
			"hookName": "register",
			"error":    err,
		}, hooks.CorePlugin)
	}
	return inst
}

// Register is Use with the resolved plugin name and rejection error exposed.
func (inst *Instance) Register(plugin any) (string, error) {
	return inst.engine.Register(plugin)
}

// Unuse removes a plugin and every handler it owns. Unknown names are a
// no-op. Returns the instance for chaining.
func (inst *Instance) Unuse(name string) *Instance {
	inst.engine.RemovePlugin(name)
	return inst
}

// Enable clears a plugin's skip flag. Unknown names are a no-op.
func (inst *Instance) Enable(name string) *Instance {
	inst.engine.SetEnabled(name, true)
	return inst
}

// Disable sets a plugin's skip flag. Its handlers stay registered, keep their
// order, and are skipped by dispatch until re-enabled.
func (inst *Instance) Disable(name string) *Instance {
	inst.engine.SetEnabled(name, false)
	return inst
}

// Dispatch invokes all enabled handlers for hook in priority order. See
// hooks.Engine.Dispatch for the full contract.
func (inst *Instance) Dispatch(ctx context.Context, hook string, event hooks.Event) (any, error) {
	return inst.engine.Dispatch(ctx, hook, event)
}

// Off removes a handler from hook. Returns the instance for chaining.
func (inst *Instance) Off(hook string, handler hooks.Handler) *Instance {
	inst.engine.RemoveHandler(hook, handler)
	return inst
}

// HasFeature reports whether the named feature was selected at construction.
// Features registered later through plain Use calls do not count.
func (inst *Instance) HasFeature(name string) bool {
	return inst.features[name]
}

// HookNames returns all hook names with at least one handler, sorted.
func (inst *Instance) HookNames() []string {
	return inst.engine.HookNames()
}

// PluginNames returns all registered plugin names, sorted.
func (inst *Instance) PluginNames() []string {
	return inst.engine.PluginNames()
}

// Engine exposes the underlying engine for embedders and adapters that need
// registry snapshots beyond the public surface.
func (inst *Instance) Engine() *hooks.Engine {
	return inst.engine
}

// Close shuts down features that own background resources (the scheduler's
// cron loop, the bridge's broker connection).
func (inst *Instance) Close() error {
	var errs []error
	for i := len(inst.closers) - 1; i >= 0; i-- {
		if err := inst.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	inst.closers = nil
	return errors.Join(errs...)
}
