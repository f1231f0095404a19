package plugins

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/codetalcott/fixiplug/hooks"
)

// eventLogPriority keeps the log observers behind every functional handler.
const eventLogPriority = -1000

// EventLog builds the "event-log" plugin: low-priority observers that write
// structured log entries for routed plugin errors and state transitions. It is
// purely observational and never alters dispatch results.
func EventLog(log zerolog.Logger) *hooks.Plugin {
	return &hooks.Plugin{
		Name: "event-log",
		Setup: func(ctx *hooks.Ctx) error {
			ctx.On(hooks.HookPluginError, func(_ context.Context, event hooks.Event) (any, error) {
				plugin, _ := event.String("plugin")
				hook, _ := event.String("hookName")
				entry := log.Warn().Str("plugin", plugin).Str("hook", hook)
				if err, ok := event["error"].(error); ok {
					entry = entry.Err(err)
				} else if event["error"] != nil {
					entry = entry.Str("error", fmt.Sprint(event["error"]))
				}
				if kind, ok := event.String("kind"); ok {
					entry = entry.Str("kind", kind)
				}
				entry.Msg("plugin error")
				return nil, nil
			}, eventLogPriority)

			ctx.On("state:transition", func(_ context.Context, event hooks.Event) (any, error) {
				from, _ := event.String("from")
				to, _ := event.String("to")
				log.Info().Str("from", from).Str("to", to).Msg("state transition")
				return nil, nil
			}, eventLogPriority)

			return nil
		},
	}
}
