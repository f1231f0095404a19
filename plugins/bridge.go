// Package plugins - bridge.go
//
// This file implements the NATS event bridge, which mirrors selected hook
// traffic onto a message broker so out-of-process agents can observe an
// instance without polling its introspection surface.
//
// Subject layout:
//
//	fixiplug.state.transition   every state:transition event
//	fixiplug.plugin.error       every pluginError event
//	fixiplug.event.<name>       payloads published via agent:publish
//
// Every message is a JSON envelope stamped with a UUID and timestamp. The
// bridge is strictly one-way: it publishes and never injects broker traffic
// back into the dispatch engine.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/codetalcott/fixiplug/hooks"
)

// NATS subjects published by the bridge.
const (
	SubjectStateTransition = "fixiplug.state.transition"
	SubjectPluginError     = "fixiplug.plugin.error"
	SubjectEventPrefix     = "fixiplug.event"
)

// bridgePriority keeps the bridge behind functional handlers, mirroring the
// event-log observers.
const bridgePriority = -900

// BridgeConfig configures the NATS connection.
type BridgeConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Envelope is the wire format for bridged events.
type Envelope struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Hook      string         `json:"hook"`
	Payload   map[string]any `json:"payload"`
}

// Bridge publishes hook traffic to NATS.
type Bridge struct {
	cfg  BridgeConfig
	log  zerolog.Logger
	conn *nats.Conn
}

// NewBridge creates an unconnected bridge; the connection is established when
// the plugin's setup runs.
func NewBridge(cfg BridgeConfig, log zerolog.Logger) *Bridge {
	return &Bridge{cfg: cfg, log: log}
}

// Plugin wraps the bridge as the "nats-bridge" plugin. A connection failure
// surfaces as a setup error (routed to pluginError with hookName "init"); the
// plugin is retained but publishes nothing until re-registered.
func (b *Bridge) Plugin() *hooks.Plugin {
	return &hooks.Plugin{
		Name: "nats-bridge",
		Setup: func(ctx *hooks.Ctx) error {
			if err := b.connect(); err != nil {
				return fmt.Errorf("nats connect: %w", err)
			}

			ctx.On("state:transition", func(_ context.Context, event hooks.Event) (any, error) {
				b.publish(SubjectStateTransition, "state:transition", event)
				return nil, nil
			}, bridgePriority)

			ctx.On(hooks.HookPluginError, func(_ context.Context, event hooks.Event) (any, error) {
				b.publish(SubjectPluginError, hooks.HookPluginError, event)
				return nil, nil
			}, bridgePriority)

			ctx.On("agent:publish", func(_ context.Context, event hooks.Event) (any, error) {
				name, ok := event.String("subject")
				if !ok || name == "" {
					return nil, hooks.CallerError(hooks.NewError(hooks.KindBadRequest,
						"agent:publish requires a subject"))
				}
				data, _ := event.Map("data")
				b.publish(SubjectEventPrefix+"."+name, "agent:publish", data)
				return map[string]any{"published": true}, nil
			})

			return nil
		},
	}
}

// connect dials the broker with the bridge's reconnect policy.
func (b *Bridge) connect() error {
	opts := []nats.Option{
		nats.Name("fixiplug-bridge"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			b.log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			b.log.Error().Err(err).Msg("NATS error")
		}),
	}
	if b.cfg.User != "" {
		opts = append(opts, nats.UserInfo(b.cfg.User, b.cfg.Password))
	}

	conn, err := nats.Connect(b.cfg.URL, opts...)
	if err != nil {
		return err
	}
	b.conn = conn
	b.log.Info().Str("url", b.cfg.URL).Msg("NATS bridge connected")
	return nil
}

// publish sends one envelope, sanitizing non-serializable payload values.
// Publish failures are logged rather than routed: a broken broker must not
// feed the error hook the bridge itself observes.
func (b *Bridge) publish(subject, hook string, payload map[string]any) {
	if b.conn == nil {
		return
	}
	envelope := Envelope{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		Hook:      hook,
		Payload:   sanitize(payload),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		b.log.Error().Err(err).Str("subject", subject).Msg("envelope marshal failed")
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.log.Error().Err(err).Str("subject", subject).Msg("publish failed")
	}
}

// sanitize copies a payload, flattening error values to strings so the
// envelope always marshals.
func sanitize(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}

// Close drains and closes the broker connection.
func (b *Bridge) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Drain()
	b.conn = nil
	return err
}
