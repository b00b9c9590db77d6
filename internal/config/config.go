// Package config loads relay settings from defaults, an optional YAML file and
// environment variables, then sanitizes them into a usable Config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultProjectKey is used when no key is configured. Production deployments
// must override it.
const DefaultProjectKey = "default-project-key-12345"

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst" env:"BURST"`
	RefillInterval time.Duration `yaml:"refill_interval" env:"REFILL_INTERVAL"`
}

// Config holds the relay settings.
type Config struct {
	Port              string          `yaml:"port" env:"PORT"`
	ProjectKey        string          `yaml:"project_key" env:"PROJECT_KEY"`
	AllowedOrigins    []string        `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	LogLevel          string          `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat         string          `yaml:"log_format" env:"LOG_FORMAT"`
	MaxMessageSize    int64           `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	MaxRoomNameLength int             `yaml:"max_room_name_length" env:"MAX_ROOM_NAME_LENGTH"`
	RateLimit         RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	RequireKeyForHTTP bool            `yaml:"require_key_for_http" env:"REQUIRE_KEY_FOR_HTTP"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	ignoredOrigins []string
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Port:       ":3000",
		ProjectKey: DefaultProjectKey,
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://localhost:3001",
		},
		LogLevel:          "info",
		LogFormat:         "console",
		MaxMessageSize:    64 * 1024,
		MaxRoomNameLength: 128,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then environment variables. The result is sanitized.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Sanitize replaces missing or invalid values with defaults and normalizes
// the port and origin list in place.
func (c *Config) Sanitize() {
	defaults := Default()

	c.Port = strings.TrimSpace(c.Port)
	if c.Port == "" {
		c.Port = defaults.Port
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}

	if c.ProjectKey == "" {
		c.ProjectKey = defaults.ProjectKey
	}

	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaults.LogFormat
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}

	if c.MaxRoomNameLength <= 0 {
		c.MaxRoomNameLength = defaults.MaxRoomNameLength
	}

	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}

	var ignored []string
	c.AllowedOrigins, ignored = normalizeOrigins(c.AllowedOrigins)
	c.ignoredOrigins = append(c.ignoredOrigins, ignored...)
}

// IgnoredOrigins returns the configured origins Sanitize dropped as invalid.
// Sanitize runs before logging is set up, so callers log these afterwards.
func (c *Config) IgnoredOrigins() []string {
	return c.ignoredOrigins
}

// UsingDefaultKey reports whether the built-in development key is active.
func (c *Config) UsingDefaultKey() bool {
	return c.ProjectKey == DefaultProjectKey
}
