package fixiplug

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetalcott/fixiplug/hooks"
)

func TestNewDefaultFeatures(t *testing.T) {
	plug := New(Config{})
	defer plug.Close()

	assert.True(t, plug.HasFeature(FeatureIntrospection))
	assert.False(t, plug.HasFeature(FeatureStateTracker))
	assert.Contains(t, plug.PluginNames(), "introspection")

	result, err := plug.Dispatch(context.Background(), "api:introspect", hooks.Event{})
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestNewEmptyFeatures(t *testing.T) {
	plug := New(Config{Features: []string{}})
	defer plug.Close()

	assert.Empty(t, plug.PluginNames(), "an explicitly empty feature list installs nothing")
	assert.False(t, plug.HasFeature(FeatureIntrospection))
}

func TestNewUnknownFeatureIgnored(t *testing.T) {
	plug := New(Config{Features: []string{"dom-integration", FeatureIntrospection}})
	defer plug.Close()

	assert.False(t, plug.HasFeature("dom-integration"))
	assert.True(t, plug.HasFeature(FeatureIntrospection))
}

func TestFullLocalFeatureSet(t *testing.T) {
	plug := New(Config{Features: []string{
		FeatureIntrospection,
		FeatureStateTracker,
		FeatureScheduler,
		FeatureEventLog,
	}})
	defer plug.Close()

	names := plug.PluginNames()
	assert.Contains(t, names, "introspection")
	assert.Contains(t, names, "state-tracker")
	assert.Contains(t, names, "scheduler")
	assert.Contains(t, names, "event-log")
	require.NotNil(t, plug.StateTracker())

	_, err := plug.Dispatch(context.Background(), "api:setState", hooks.Event{"state": "ready"})
	require.NoError(t, err)
	assert.Equal(t, "ready", plug.StateTracker().Current().Status)
}

// hasFeature uses the narrow reading: only features requested at construction
// count, not plugins registered later.
func TestHasFeatureNarrowReading(t *testing.T) {
	plug := New(Config{Features: []string{}})
	defer plug.Close()

	plug.Use(&hooks.Plugin{Name: "state-tracker"})
	assert.False(t, plug.HasFeature(FeatureStateTracker))
}

func TestUseChainingAndDispatch(t *testing.T) {
	plug := New(Config{Features: []string{}})
	defer plug.Close()

	var got hooks.Event
	returned := plug.Use(&hooks.Plugin{
		Name: "recorder",
		Setup: func(ctx *hooks.Ctx) error {
			ctx.On("ping", func(_ context.Context, e hooks.Event) (any, error) {
				got = e
				return "pong", nil
			})
			return nil
		},
	})
	assert.Same(t, plug, returned, "Use returns the instance for chaining")

	result, err := plug.Dispatch(context.Background(), "ping", hooks.Event{"n": 7})
	require.NoError(t, err)
	assert.Equal(t, "pong", result)
	assert.Equal(t, 7, got["n"])
}

// A duplicate registration is rejected with the first intact and reported
// through a pluginError event.
func TestUseDuplicateEmitsPluginError(t *testing.T) {
	plug := New(Config{Features: []string{}})
	defer plug.Close()

	var payload hooks.Event
	plug.Use(&hooks.Plugin{
		Name: "watcher",
		Setup: func(ctx *hooks.Ctx) error {
			ctx.On(hooks.HookPluginError, func(_ context.Context, e hooks.Event) (any, error) {
				payload = e
				return nil, nil
			})
			return nil
		},
	})

	firstRan := false
	plug.Use(&hooks.Plugin{
		Name:  "dup",
		Setup: func(ctx *hooks.Ctx) error { firstRan = true; return nil },
	})
	require.True(t, firstRan)

	plug.Use(&hooks.Plugin{
		Name:  "dup",
		Setup: func(ctx *hooks.Ctx) error { t.Fatal("second setup must not run"); return nil },
	})

	require.NotNil(t, payload, "duplicate registration must surface a pluginError event")
	assert.Equal(t, "dup", payload["plugin"])
	assert.Equal(t, "register", payload["hookName"])
	assert.True(t, hooks.IsKind(payload["error"].(error), hooks.KindDuplicatePlugin))
}

func TestUnuseAndOff(t *testing.T) {
	plug := New(Config{Features: []string{}})
	defer plug.Close()

	handler := func(_ context.Context, _ hooks.Event) (any, error) { return "hit", nil }
	plug.Use(&hooks.Plugin{
		Name: "temp",
		Setup: func(ctx *hooks.Ctx) error {
			ctx.On("h", handler)
			return nil
		},
	})

	plug.Off("h", handler)
	result, err := plug.Dispatch(context.Background(), "h", hooks.Event{})
	require.NoError(t, err)
	assert.Nil(t, result)

	plug.Unuse("temp")
	assert.NotContains(t, plug.PluginNames(), "temp")
	assert.Empty(t, plug.HookNames())

	// Unknown targets are no-ops.
	plug.Unuse("ghost").Enable("ghost").Disable("ghost")
}

func TestDisableEnableRoundTrip(t *testing.T) {
	plug := New(Config{Features: []string{}})
	defer plug.Close()

	calls := 0
	plug.Use(&hooks.Plugin{
		Name: "counted",
		Setup: func(ctx *hooks.Ctx) error {
			ctx.On("h", func(_ context.Context, _ hooks.Event) (any, error) {
				calls++
				return nil, nil
			})
			return nil
		},
	})

	plug.Disable("counted")
	_, err := plug.Dispatch(context.Background(), "h", hooks.Event{})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)

	plug.Enable("counted")
	_, err = plug.Dispatch(context.Background(), "h", hooks.Event{})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixiplug.yaml")
	content := []byte(`
features:
  - introspection
  - state-tracker
recursion_limit: 200
history_capacity: 10
log_level: debug
listen: ":9000"
nats:
  url: nats://broker:4222
advanced:
  scheduler:
    timezone: UTC
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"introspection", "state-tracker"}, cfg.Features)
	assert.Equal(t, 200, cfg.RecursionLimit)
	assert.Equal(t, 10, cfg.HistoryCapacity)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Contains(t, cfg.Advanced, "scheduler")
}

func TestLoadConfigDistinguishesEmptyFeatures(t *testing.T) {
	dir := t.TempDir()

	withEmpty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(withEmpty, []byte("features: []\n"), 0o644))
	cfg, err := LoadConfig(withEmpty)
	require.NoError(t, err)
	require.NotNil(t, cfg.Features)
	assert.Empty(t, cfg.Features)

	withoutKey := filepath.Join(dir, "absent.yaml")
	require.NoError(t, os.WriteFile(withoutKey, []byte("log_level: warn\n"), 0o644))
	cfg, err = LoadConfig(withoutKey)
	require.NoError(t, err)
	assert.Nil(t, cfg.Features, "absent key keeps the default feature set")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	require.Error(t, err)
}
