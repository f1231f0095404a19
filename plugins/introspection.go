// Package plugins provides the plugins bundled with fixiplug: introspection,
// the state tracker, the cron scheduler, the event log and the NATS bridge.
// Each is an ordinary plugin registered through the same context surface that
// external plugins use; only introspection additionally reads the engine's
// registry snapshots.
package plugins

import (
	"context"
	"strings"

	"github.com/codetalcott/fixiplug/hooks"
)

// HookSchema is the inferred contract of a hook, derived from its namespace.
type HookSchema struct {
	Type    string `json:"type"`
	Returns string `json:"returns"`
}

// HookSummary extends the schema with a human-readable description for the
// available-hooks listing.
type HookSummary struct {
	Type        string `json:"type"`
	Returns     string `json:"returns"`
	Description string `json:"description"`
}

// Snapshot is the complete capability view returned by api:introspect.
type Snapshot struct {
	Version string                `json:"version"`
	Plugins []hooks.PluginInfo    `json:"plugins"`
	Hooks   map[string]int        `json:"hooks"`
	Schemas map[string]HookSchema `json:"schemas"`
}

// PluginDetails is the record returned by api:getPluginDetails.
type PluginDetails struct {
	Name    string                    `json:"name"`
	Enabled bool                      `json:"enabled"`
	Hooks   []hooks.HookRef           `json:"hooks"`
	Skills  map[string]map[string]any `json:"skills,omitempty"`
}

// InferSchema derives a hook's schema from its reserved-namespace prefix.
func InferSchema(hook string) HookSchema {
	switch {
	case strings.HasPrefix(hook, "api:"):
		return HookSchema{Type: "query", Returns: "data"}
	case strings.HasPrefix(hook, "agent:"):
		return HookSchema{Type: "command", Returns: "result"}
	case strings.HasPrefix(hook, "state:"):
		return HookSchema{Type: "event", Returns: "state"}
	case strings.HasPrefix(hook, "internal:"):
		return HookSchema{Type: "system", Returns: "data"}
	default:
		return HookSchema{Type: "generic", Returns: "unknown"}
	}
}

// summarize builds the available-hooks row for one hook name.
func summarize(hook string) HookSummary {
	schema := InferSchema(hook)
	description := ""
	switch schema.Type {
	case "query":
		description = "read-only query, returns plain data"
	case "command":
		description = "command targeted at an agent-facing plugin"
	case "event":
		description = "state tracker event"
	case "system":
		description = "reserved for the core and privileged plugins"
	default:
		description = "application-defined hook"
	}
	return HookSummary{Type: schema.Type, Returns: schema.Returns, Description: description}
}

// reservedPrefixes are the namespaces included in the introspection schema map.
var reservedPrefixes = []string{"api:", "agent:", "state:", "internal:"}

// Introspection builds the introspection plugin. Its handlers are pure: they
// read registry snapshots and return plain data records safe to serialize, and
// never mutate the registries.
//
// Registered hooks: api:introspect, api:getPluginCapabilities,
// api:getAvailableHooks, api:getPluginDetails, api:getHookSchema,
// api:getSkillsManifest, api:getPluginSkills.
func Introspection(engine *hooks.Engine, version string) *hooks.Plugin {
	return &hooks.Plugin{
		Name: "introspection",
		Setup: func(ctx *hooks.Ctx) error {
			ctx.On("api:introspect", func(_ context.Context, _ hooks.Event) (any, error) {
				schemas := make(map[string]HookSchema)
				for _, hook := range engine.HookNames() {
					for _, prefix := range reservedPrefixes {
						if strings.HasPrefix(hook, prefix) {
							schemas[hook] = InferSchema(hook)
							break
						}
					}
				}
				return Snapshot{
					Version: version,
					Plugins: engine.PluginsInfo(),
					Hooks:   engine.HookCounts(),
					Schemas: schemas,
				}, nil
			})

			ctx.On("api:getPluginCapabilities", func(_ context.Context, _ hooks.Event) (any, error) {
				return engine.PluginsInfo(), nil
			})

			ctx.On("api:getAvailableHooks", func(_ context.Context, _ hooks.Event) (any, error) {
				available := make(map[string]HookSummary)
				for _, hook := range engine.HookNames() {
					available[hook] = summarize(hook)
				}
				return available, nil
			})

			ctx.On("api:getPluginDetails", func(_ context.Context, event hooks.Event) (any, error) {
				name, _ := event.String("pluginName")
				info, ok := engine.PluginInfo(name)
				if !ok {
					return map[string]any{
						"error":      hooks.KindUnknownPlugin,
						"pluginName": name,
					}, nil
				}
				skills, _ := engine.PluginSkills(name)
				return PluginDetails{
					Name:    info.Name,
					Enabled: info.Enabled,
					Hooks:   info.Hooks,
					Skills:  skills,
				}, nil
			})

			ctx.On("api:getHookSchema", func(_ context.Context, event hooks.Event) (any, error) {
				hook, _ := event.String("hookName")
				return InferSchema(hook), nil
			})

			ctx.On("api:getSkillsManifest", func(_ context.Context, event hooks.Event) (any, error) {
				manifest := engine.SkillsManifest()
				if event.BoolOr("includeInstructions", true) {
					return manifest, nil
				}
				trimmed := make([]hooks.SkillEntry, len(manifest))
				for i, entry := range manifest {
					entry.Skill = trimSkill(entry.Skill)
					trimmed[i] = entry
				}
				return trimmed, nil
			})

			ctx.On("api:getPluginSkills", func(_ context.Context, event hooks.Event) (any, error) {
				name, _ := event.String("pluginName")
				skills, ok := engine.PluginSkills(name)
				if !ok {
					return map[string]any{
						"error":      hooks.KindUnknownPlugin,
						"pluginName": name,
					}, nil
				}
				return skills, nil
			})

			return nil
		},
	}
}

// trimSkill drops the large free-text fields from a skill record, keeping the
// rest intact for listing purposes.
func trimSkill(skill map[string]any) map[string]any {
	trimmed := make(map[string]any, len(skill))
	for key, value := range skill {
		if key == "instructions" || key == "content" {
			continue
		}
		trimmed[key] = value
	}
	return trimmed
}
