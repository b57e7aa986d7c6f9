// Package config loads agileboard configuration from YAML with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
	"github.com/ChimfwembeMLF/tekrem-erp-sub005/internal/auth"
)

// DefaultPath is read when no --config flag is given and the file exists.
const DefaultPath = "agileboard.yaml"

// Config holds all agileboard configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`

	// Column templates applied to boards created without explicit columns
	Boards agile.Templates `yaml:"boards"`

	Auth auth.Policy `yaml:"auth"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Database drivers.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"   // JSON snapshot file
	DriverMemory = "memory" // nothing persisted
)

// DatabaseConfig selects the persistence collaborator.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// NotificationsConfig configures the event dispatcher.
type NotificationsConfig struct {
	Buffer    int           `yaml:"buffer"`
	Timeout   time.Duration `yaml:"timeout"`
	LogEvents bool          `yaml:"log_events"`
}

// Default returns the configuration used for every key a file omits.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join("data", "agileboard.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Notifications: NotificationsConfig{
			Buffer:    256,
			Timeout:   5 * time.Second,
			LogEvents: true,
		},
		Boards: agile.DefaultTemplates(),
		Auth:   auth.DefaultPolicy(),
	}
}

// Load reads the YAML file at path over the defaults. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := cfg.decode(data); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("AGILEBOARD_DB"); path != "" {
		c.Database.Path = path
	}
	if driver := os.Getenv("AGILEBOARD_DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if addr := os.Getenv("AGILEBOARD_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if level := os.Getenv("AGILEBOARD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks the configuration for values the program cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverFile:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %q", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Notifications.Buffer < 1 {
		return fmt.Errorf("notifications.buffer must be positive, got %d", c.Notifications.Buffer)
	}
	if c.Notifications.Timeout < 0 {
		return fmt.Errorf("notifications.timeout must not be negative")
	}

	if err := c.Boards.Settings.Validate(); err != nil {
		return fmt.Errorf("boards.settings: %w", err)
	}
	if len(c.Boards.Kanban) == 0 || len(c.Boards.Scrum) == 0 {
		return fmt.Errorf("boards: kanban and scrum templates need at least one column")
	}
	for _, tmpl := range [][]string{c.Boards.Kanban, c.Boards.Scrum} {
		if len(tmpl) > c.Boards.Settings.MaxColumns {
			return fmt.Errorf("boards: template has %d columns, more than max_columns %d",
				len(tmpl), c.Boards.Settings.MaxColumns)
		}
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
