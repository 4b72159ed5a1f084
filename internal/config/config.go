// Package config loads the daemon's layer and socket configuration,
// following the defaulting/validation style of a
// cmd-level loadConfig but reading YAML instead of JSON, per the
// corpus's gopkg.in/yaml.v3 usage.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/buxton-project/buxtond/internal/ratelimit"
	"github.com/buxton-project/buxtond/internal/store"
)

// LayerConfig is one entry of the configured layer list.
type LayerConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // "system" or "user"
	Priority int    `yaml:"priority"`
	ReadOnly bool   `yaml:"readonly"`
	Path     string `yaml:"path"`
}

// Config is the daemon's full runtime configuration.
type Config struct {
	Socket    string           `yaml:"socket"`
	Layers    []LayerConfig    `yaml:"layers"`
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	// HTTPListen is the address the daemon's /metrics and /healthz
	// endpoints bind to. Empty disables the HTTP server entirely.
	HTTPListen string `yaml:"http_listen"`
}

// Load reads and validates a YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Socket == "" {
		cfg.Socket = "/run/buxton/buxtond.socket"
	}
	if len(cfg.Layers) == 0 {
		return nil, fmt.Errorf("config must declare at least one layer")
	}
	for i, l := range cfg.Layers {
		if l.Name == "" {
			return nil, fmt.Errorf("layer %d: name is required", i)
		}
		if l.Type != "system" && l.Type != "user" {
			return nil, fmt.Errorf("layer %q: type must be \"system\" or \"user\"", l.Name)
		}
		if l.Path == "" {
			return nil, fmt.Errorf("layer %q: path is required", l.Name)
		}
	}
	return &cfg, nil
}

// StoreLayers converts the configured layers into store.Layer values,
// preserving declaration order for insertion-order tie-breaking.
func (c *Config) StoreLayers() []store.Layer {
	out := make([]store.Layer, len(c.Layers))
	for i, l := range c.Layers {
		t := store.User
		if l.Type == "system" {
			t = store.System
		}
		out[i] = store.Layer{
			Name:     l.Name,
			Type:     t,
			Priority: l.Priority,
			ReadOnly: l.ReadOnly,
			Path:     l.Path,
		}
	}
	return out
}
