// Package config loads and validates the engine configuration from a YAML
// file, with environment variable overrides and hot reload of the rule
// enablement section.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file omits a value.
const (
	DefaultHTTPHost       = "127.0.0.1"
	DefaultHTTPPort       = 8080
	DefaultDatabasePath   = "corese.db"
	DefaultLogLevel       = "info"
	DefaultSearchMaxDepth = 50
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PathfindConfig holds traversal defaults.
type PathfindConfig struct {
	// MaxDepth bounds searches that do not set their own depth limit.
	MaxDepth int `yaml:"max_depth"`
}

// RulesConfig controls which consistency rules run. This section is hot
// reloaded when the config file changes.
type RulesConfig struct {
	// Disabled lists rule IDs that are skipped by every check run.
	Disabled []string `yaml:"disabled"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the root configuration for the engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Pathfind PathfindConfig `yaml:"pathfind"`
	Rules    RulesConfig    `yaml:"rules"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns a config populated with defaults.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: DefaultHTTPHost, Port: DefaultHTTPPort},
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Pathfind: PathfindConfig{MaxDepth: DefaultSearchMaxDepth},
		Logging:  LoggingConfig{Level: DefaultLogLevel},
	}
}

// Load reads the config file at path, applies defaults for missing values,
// applies environment overrides, and validates the result. A missing file is
// not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	// #nosec G304 -- path is provided by the operator at startup
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Run on defaults.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides lets deployment environments override file settings
// without editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORESE_HTTP_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CORESE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CORESE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CORESE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the config for values that would break startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.Pathfind.MaxDepth < 1 {
		return fmt.Errorf("pathfind max_depth must be positive, got %d", c.Pathfind.MaxDepth)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
