// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (HAVEN_* runtime override)
//  2. Config file (~/.haven/config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can check with errors.Is().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the OpenAI API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidHistoryWindow indicates the history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidGenerationTimeout indicates the generation timeout is out of range.
	ErrInvalidGenerationTimeout = errors.New("invalid generation timeout")

	// ErrInvalidDatabasePath indicates the database path is empty.
	ErrInvalidDatabasePath = errors.New("invalid database path")
)

const (
	// DefaultAddr is the default listen address for the HTTP server.
	DefaultAddr = "127.0.0.1:5000"

	// DefaultModelName is the provider-qualified completion model.
	DefaultModelName = "openai/gpt-4o"

	// DefaultHistoryWindow is the number of recent messages sent to the
	// completion service as conversational context.
	DefaultHistoryWindow = 10

	// DefaultGenerationTimeout bounds a single reply generation. A reply
	// that exceeds it is treated the same as a provider failure.
	DefaultGenerationTimeout = 2 * time.Minute

	// MaxHistoryWindow is the absolute maximum context window.
	MaxHistoryWindow = 100
)

// Config stores application configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `mapstructure:"addr"`

	// DatabasePath is the SQLite database file location.
	DatabasePath string `mapstructure:"database_path"`

	// ModelName is the provider-qualified completion model (e.g. "openai/gpt-4o").
	ModelName string `mapstructure:"model_name"`

	// HistoryWindow is the number of recent messages used as reply context.
	HistoryWindow int `mapstructure:"history_window"`

	// GenerationTimeout bounds a single reply generation.
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`

	// RateLimit is the sustained completion requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`

	// RateBurst is the completion request burst size.
	RateBurst int `mapstructure:"rate_burst"`

	// Debug enables debug-level logging.
	Debug bool `mapstructure:"debug"`
}

// configDir returns the haven configuration directory (~/.haven).
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".haven"), nil
}

// defaultDatabasePath returns the default SQLite file location.
func defaultDatabasePath() string {
	dir, err := configDir()
	if err != nil {
		return "haven.db"
	}
	return filepath.Join(dir, "haven.db")
}

// Load reads configuration from defaults, config file, and environment.
// A missing config file is not an error; environment variables always win.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("database_path", defaultDatabasePath())
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("history_window", DefaultHistoryWindow)
	v.SetDefault("generation_timeout", DefaultGenerationTimeout)
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_burst", 30)
	v.SetDefault("debug", false)

	if dir, err := configDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("HAVEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration ranges. It does not require credentials;
// commands that talk to the completion provider call ValidateServe.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return ErrInvalidDatabasePath
	}
	if c.ModelName == "" || !strings.Contains(c.ModelName, "/") {
		return fmt.Errorf("%w: %q (want provider-qualified, e.g. openai/gpt-4o)", ErrInvalidModelName, c.ModelName)
	}
	if c.HistoryWindow < 1 || c.HistoryWindow > MaxHistoryWindow {
		return fmt.Errorf("%w: %d (want 1-%d)", ErrInvalidHistoryWindow, c.HistoryWindow, MaxHistoryWindow)
	}
	if c.GenerationTimeout < time.Second || c.GenerationTimeout > time.Hour {
		return fmt.Errorf("%w: %s (want 1s-1h)", ErrInvalidGenerationTimeout, c.GenerationTimeout)
	}
	return nil
}

// ValidateServe performs the checks required to run the server, including
// the presence of the completion provider credential.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY not set", ErrMissingAPIKey)
	}
	return nil
}
