// Package config provides configuration loading and management for the
// automaton server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	HTTP   HTTPConfig   `yaml:"http"`
	NATS   NATSConfig   `yaml:"nats"`
	Rules  RulesConfig  `yaml:"rules"`
	Engine EngineConfig `yaml:"engine"`
}

// HTTPConfig configures the command surface listener.
type HTTPConfig struct {
	// Addr is the listen address for the HTTP API and metrics.
	Addr string `yaml:"addr"`
}

// NATSConfig configures the event bus connection.
type NATSConfig struct {
	// URL is the NATS server URL. Empty disables the bus bridge; events
	// then arrive only via the manual trigger surface.
	URL string `yaml:"url"`

	// SubjectPrefix is the subject namespace carrying system events.
	SubjectPrefix string `yaml:"subject_prefix"`

	// PublishPrefix is the namespace for published execution events.
	PublishPrefix string `yaml:"publish_prefix"`

	// AllowPatterns optionally narrows forwarded event names (globs).
	AllowPatterns []string `yaml:"allow_patterns"`
}

// RulesConfig configures rule persistence.
type RulesConfig struct {
	// Path is the YAML rules file location.
	Path string `yaml:"path"`

	// Watch enables hot reload when the rules file changes on disk.
	Watch bool `yaml:"watch"`

	// WatchDebounce is how long to wait for further file changes before
	// reloading.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// EngineConfig tunes the automation engine.
type EngineConfig struct {
	// HistorySize bounds retained execution records.
	HistorySize int `yaml:"history_size"`

	// RecentWindow is how many recent executions the status surface
	// returns.
	RecentWindow int `yaml:"recent_window"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		NATS: NATSConfig{
			URL:           "",
			SubjectPrefix: "events",
			PublishPrefix: "automation.execution",
		},
		Rules: RulesConfig{
			Path:          "automation-rules.yaml",
			Watch:         false,
			WatchDebounce: 500 * time.Millisecond,
		},
		Engine: EngineConfig{
			HistorySize:  1000,
			RecentWindow: 20,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Rules.Path == "" {
		return fmt.Errorf("rules.path is required")
	}
	if c.Engine.HistorySize < 0 {
		return fmt.Errorf("engine.history_size must not be negative")
	}
	if c.Engine.RecentWindow < 0 {
		return fmt.Errorf("engine.recent_window must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file, layered over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile writes the configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one; non-zero values in other take
// precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}
	if other.NATS.PublishPrefix != "" {
		c.NATS.PublishPrefix = other.NATS.PublishPrefix
	}
	if len(other.NATS.AllowPatterns) > 0 {
		c.NATS.AllowPatterns = other.NATS.AllowPatterns
	}
	if other.Rules.Path != "" {
		c.Rules.Path = other.Rules.Path
	}
	if other.Rules.Watch {
		c.Rules.Watch = true
	}
	if other.Rules.WatchDebounce != 0 {
		c.Rules.WatchDebounce = other.Rules.WatchDebounce
	}
	if other.Engine.HistorySize != 0 {
		c.Engine.HistorySize = other.Engine.HistorySize
	}
	if other.Engine.RecentWindow != 0 {
		c.Engine.RecentWindow = other.Engine.RecentWindow
	}
}
