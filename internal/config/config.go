// Package config loads brokerd's configuration through a layered
// koanf stack: built-in defaults, an optional YAML file, then
// environment variables, each layer overriding the last — matching
// spec.md §6's "environment variables override file values; file
// values override defaults" contract.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every timing, limit, and feature toggle spec.md §3/§4
// calls out as configurable.
type Config struct {
	DataDir  string `koanf:"data_dir"`
	LogLevel string `koanf:"log_level"`

	Relay struct {
		URL                  string   `koanf:"url"`
		EnsureCommand        []string `koanf:"ensure_command"`
		EnsureTimeoutSeconds int      `koanf:"ensure_timeout_seconds"`
	} `koanf:"relay"`

	Session struct {
		PollSeconds     int `koanf:"poll_seconds"`
		CacheTTLSeconds int `koanf:"cache_ttl_seconds"`
	} `koanf:"session"`

	MessageTTLSeconds int `koanf:"message_ttl_seconds"`
	AgentStaleSeconds int `koanf:"agent_stale_seconds"`

	GC struct {
		IntervalSeconds int `koanf:"interval_seconds"`
	} `koanf:"gc"`

	Injection struct {
		Workers        int `koanf:"workers"`
		Retries        int `koanf:"retries"`
		TimeoutSeconds int `koanf:"timeout_seconds"`
	} `koanf:"injection"`

	MetricsIntervalSeconds int `koanf:"metrics_interval_seconds"`

	RateLimit struct {
		Enabled         bool `koanf:"enabled"`
		Max             int  `koanf:"max"`
		WindowSeconds   int  `koanf:"window_seconds"`
		CooldownSeconds int  `koanf:"cooldown_seconds"`
	} `koanf:"rate_limit"`

	Coordinator struct {
		Enabled          bool     `koanf:"enabled"`
		Model            string   `koanf:"model"`
		Directory        string   `koanf:"directory"`
		InstructionsPath []string `koanf:"instructions_path"`
		Command          []string `koanf:"command"`
	} `koanf:"coordinator"`

	MCP struct {
		RequiredServerName string `koanf:"required_server_name"`
		ConfigPath         string `koanf:"config_path"`
	} `koanf:"mcp"`
}

func defaults() map[string]any {
	return map[string]any{
		"data_dir":                 "./broker-data",
		"log_level":                "info",
		"relay.url":                "http://127.0.0.1:4756",
		"relay.ensure_command":     []string{},
		"relay.ensure_timeout_seconds": 15,
		"session.poll_seconds":     5,
		"session.cache_ttl_seconds": 30,
		"message_ttl_seconds":      3600,
		"agent_stale_seconds":      1800,
		"gc.interval_seconds":      60,
		"injection.workers":        4,
		"injection.retries":        3,
		"injection.timeout_seconds": 2,
		"metrics_interval_seconds": 15,
		"rate_limit.enabled":       true,
		"rate_limit.max":           20,
		"rate_limit.window_seconds": 60,
		"rate_limit.cooldown_seconds": 0,
		"coordinator.enabled":      false,
		"coordinator.model":        "",
		"coordinator.directory":    "",
		"coordinator.instructions_path": []string{},
		"coordinator.command":      []string{},
		"mcp.required_server_name": "agent-hub",
		"mcp.config_path":          "",
	}
}

// Load builds a Config from defaults, an optional file at path (may
// be empty, in which case the file layer is skipped), and environment
// variables prefixed BROKER_ (double underscore separates nested
// keys, e.g. BROKER_RATE_LIMIT__MAX=10 sets rate_limit.max).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("BROKER_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BROKER_")
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// InjectionGracePeriod is the shutdown drain window spec.md §5
// specifies as injection.timeout × injection.retries.
func (c *Config) InjectionGracePeriod() time.Duration {
	return time.Duration(c.Injection.TimeoutSeconds) * time.Duration(c.Injection.Retries) * time.Second
}
