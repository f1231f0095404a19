package fixiplug

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/codetalcott/fixiplug/plugins"
)

// Config is the factory configuration.
//
// The Features slice distinguishes unset from empty: nil selects the default
// feature set, an empty slice installs no bundled plugins. This matters when
// loading from YAML, where an absent key stays nil and `features: []` is
// explicit.
type Config struct {
	// Features selects the bundled plugins installed at construction.
	Features []string `yaml:"features"`

	// RecursionLimit bounds deferred emissions per hook per drain pass.
	// Zero selects hooks.DefaultRecursionLimit.
	RecursionLimit int `yaml:"recursion_limit"`

	// HistoryCapacity bounds the state tracker's history ring. Zero selects
	// plugins.DefaultHistoryCapacity.
	HistoryCapacity int `yaml:"history_capacity"`

	// LogLevel and LogPretty configure the process logger (server binary).
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// Listen is the HTTP API bind address (server binary).
	Listen string `yaml:"listen"`

	// NATS configures the nats-bridge feature.
	NATS plugins.BridgeConfig `yaml:"nats"`

	// Advanced is reserved for per-plugin configuration passthrough.
	Advanced map[string]any `yaml:"advanced"`
}

// LoadConfig reads a YAML config file and applies server defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Listen == "" {
		c.Listen = ":8000"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
}
