// Package config handles configuration loading and validation for autopilot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
	_ "time/tzdata" // schedule timezones must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"

	"github.com/colonyops/autopilot/internal/core/mode"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Database DatabaseConfig           `yaml:"database"`
	Engine   EngineConfig             `yaml:"engine"`
	Modules  []string                 `yaml:"modules"`
	Handlers map[string]HandlerConfig `yaml:"handlers"`
	DataDir  string                   `yaml:"-"` // set by caller, not from config file
}

// ServerConfig configures the REST API.
type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	DefaultWorkspace string        `yaml:"default_workspace"` // used when a request sends no X-Workspace-ID
}

// DatabaseConfig tunes the sqlite connection pool.
type DatabaseConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	BusyTimeout  int `yaml:"busy_timeout"` // milliseconds
}

// EngineConfig configures the rule engine loop and the action executor.
type EngineConfig struct {
	Enabled        bool          `yaml:"enabled"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	Timezone       string        `yaml:"timezone"` // IANA name used for schedule triggers
}

// Location resolves Timezone, falling back to UTC.
func (e EngineConfig) Location() *time.Location {
	if e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FallbackHandler is the handlers key whose webhook serves every module without
// its own entry. Without it those modules are record-only.
const FallbackHandler = "*"

// HandlerConfig points a module's actions at an HTTP webhook.
type HandlerConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     60 * time.Second,
			DefaultWorkspace: "default",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			BusyTimeout:  5000,
		},
		Engine: EngineConfig{
			Enabled:        true,
			TickInterval:   60 * time.Second,
			HandlerTimeout: 30 * time.Second,
			Timezone:       "UTC",
		},
		Modules:  slices.Clone(mode.DefaultModules),
		Handlers: map[string]HandlerConfig{},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if c.Server.DefaultWorkspace == "" {
		c.Server.DefaultWorkspace = defaults.Server.DefaultWorkspace
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = defaults.Database.BusyTimeout
	}
	if c.Engine.TickInterval == 0 {
		c.Engine.TickInterval = defaults.Engine.TickInterval
	}
	if c.Engine.HandlerTimeout == 0 {
		c.Engine.HandlerTimeout = defaults.Engine.HandlerTimeout
	}
	if c.Engine.Timezone == "" {
		c.Engine.Timezone = defaults.Engine.Timezone
	}
	if len(c.Modules) == 0 {
		c.Modules = defaults.Modules
	}
	if c.Handlers == nil {
		c.Handlers = map[string]HandlerConfig{}
	}
}

// Catalog returns the automatable module catalog described by Modules.
func (c *Config) Catalog() *mode.Catalog {
	return mode.NewCatalog(c.Modules)
}

// DatabaseDir returns the directory holding the sqlite database.
func (c *Config) DatabaseDir() string {
	return filepath.Join(c.DataDir, "db")
}
