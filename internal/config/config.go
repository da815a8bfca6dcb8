// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatd configuration.
type Config struct {
	// Server settings
	Server ServerConfig `toml:"server"`

	// Auth settings
	Auth AuthConfig `toml:"auth"`

	// Gemini (model collaborator) settings
	Gemini GeminiConfig `toml:"gemini"`

	// Storage settings
	Storage StorageConfig `toml:"storage"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:8790)
	Addr string `toml:"addr"`
	// RateLimitRPS is the per-client request rate (default: 10)
	RateLimitRPS float64 `toml:"rate_limit_rps"`
	// RateLimitBurst is the per-client burst allowance (default: 20)
	RateLimitBurst int `toml:"rate_limit_burst"`
	// ReadTimeoutSecs bounds request reads (default: 30)
	ReadTimeoutSecs int `toml:"read_timeout_secs"`
	// WriteTimeoutSecs bounds response writes; generous because model
	// turns stream for a long time (default: 300)
	WriteTimeoutSecs int `toml:"write_timeout_secs"`
}

// AuthConfig contains identity resolution configuration.
//
// Authentication itself is delegated to an external provider; chatd only
// maps presented bearer tokens to owning-user identifiers.
type AuthConfig struct {
	// Enabled requires a resolvable bearer token on every API request.
	Enabled bool `toml:"enabled"`
	// Tokens maps bearer tokens to user identifiers.
	Tokens map[string]string `toml:"tokens"`
}

// GeminiConfig contains model collaborator configuration.
type GeminiConfig struct {
	// APIKey is the Gemini API credential. Required: requests fail
	// closed without it.
	APIKey string `toml:"api_key"`
	// Model is the default model identifier (default: gemini-2.0-flash)
	Model string `toml:"model"`
	// Models lists the identifiers selectable by clients.
	Models []string `toml:"models"`
	// BaseURL overrides the API endpoint, used by tests.
	BaseURL string `toml:"base_url"`
	// TimeoutSecs bounds non-streaming calls (default: 60)
	TimeoutSecs int `toml:"timeout_secs"`
}

// StorageConfig contains persistence configuration.
type StorageConfig struct {
	// DatabasePath is the SQLite database location
	// (default: ~/.chatd/chatd.db)
	DatabasePath string `toml:"database_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             "127.0.0.1:8790",
			RateLimitRPS:     10,
			RateLimitBurst:   20,
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 300,
		},
		Auth: AuthConfig{
			Enabled: false,
			Tokens:  map[string]string{},
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.0-flash",
			Models:      []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"},
			TimeoutSecs: 60,
		},
		Storage: StorageConfig{
			DatabasePath: defaultDatabasePath(),
		},
	}
}

// defaultDatabasePath returns ~/.chatd/chatd.db, or a relative fallback
// when the home directory cannot be resolved.
func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatd.db"
	}
	return filepath.Join(home, ".chatd", "chatd.db")
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".chatd", "config.toml")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration from the default location, falling back
// to defaults if no file exists. Environment overrides apply last.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads the configuration from the given path. A missing file
// is not an error; malformed TOML is.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variables over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHATD_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CHATD_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("CHATD_MODEL"); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
}

// fillDefaults replaces zero values left by a sparse config file.
func (c *Config) fillDefaults() {
	def := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.RateLimitRPS <= 0 {
		c.Server.RateLimitRPS = def.Server.RateLimitRPS
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = def.Server.RateLimitBurst
	}
	if c.Server.ReadTimeoutSecs <= 0 {
		c.Server.ReadTimeoutSecs = def.Server.ReadTimeoutSecs
	}
	if c.Server.WriteTimeoutSecs <= 0 {
		c.Server.WriteTimeoutSecs = def.Server.WriteTimeoutSecs
	}
	if c.Auth.Tokens == nil {
		c.Auth.Tokens = map[string]string{}
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = def.Gemini.Model
	}
	if len(c.Gemini.Models) == 0 {
		c.Gemini.Models = def.Gemini.Models
	}
	if c.Gemini.TimeoutSecs <= 0 {
		c.Gemini.TimeoutSecs = def.Gemini.TimeoutSecs
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = def.Storage.DatabasePath
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Auth.Enabled && len(c.Auth.Tokens) == 0 {
		return errors.New("auth is enabled but no tokens are configured")
	}
	for token, user := range c.Auth.Tokens {
		if token == "" || user == "" {
			return errors.New("auth tokens must map non-empty tokens to non-empty user ids")
		}
	}
	return nil
}

// GeminiTimeout returns the model collaborator timeout as a duration.
func (c *Config) GeminiTimeout() time.Duration {
	return time.Duration(c.Gemini.TimeoutSecs) * time.Second
}
