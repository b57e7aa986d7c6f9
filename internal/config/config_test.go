package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agileboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  shutdown_timeout: 3s
database:
  driver: memory
logging:
  level: debug
  format: console
boards:
  kanban: [Ideas, Doing, Shipped]
  done_names: [Shipped]
  settings:
    max_columns: 8
    default_sprint_days: 10
auth:
  allow_anonymous: false
  default_role: viewer
  users:
    alice: admin
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "omitted keys keep defaults")
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, []string{"Ideas", "Doing", "Shipped"}, cfg.Boards.Kanban)
	assert.Equal(t, agile.DefaultTemplates().Scrum, cfg.Boards.Scrum)
	assert.Equal(t, agile.BoardSettings{MaxColumns: 8, DefaultSprintDays: 10}, cfg.Boards.Settings)
	assert.False(t, cfg.Auth.AllowAnonymous)
	assert.Equal(t, "admin", cfg.Auth.Users["alice"])
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "server:\n  adress: \":1\"\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGILEBOARD_DB", "/tmp/other.db")
	t.Setenv("AGILEBOARD_DB_DRIVER", "file")
	t.Setenv("AGILEBOARD_ADDR", "127.0.0.1:7000")
	t.Setenv("AGILEBOARD_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, DriverFile, cfg.Database.Driver)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(c *Config)
		wantErr string
	}{
		"empty addr":       {func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		"unknown driver":   {func(c *Config) { c.Database.Driver = "postgres" }, "unknown database.driver"},
		"sqlite no path":   {func(c *Config) { c.Database.Path = "" }, "database.path"},
		"bad level":        {func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		"bad format":       {func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		"zero buffer":      {func(c *Config) { c.Notifications.Buffer = 0 }, "notifications.buffer"},
		"too many columns": {func(c *Config) { c.Boards.Settings.MaxColumns = 200 }, "boards.settings"},
		"template too big": {func(c *Config) { c.Boards.Settings.MaxColumns = 2 }, "more than max_columns"},
		"empty template":   {func(c *Config) { c.Boards.Kanban = nil }, "at least one column"},
		"bad role":         {func(c *Config) { c.Auth.DefaultRole = "nobody" }, "auth:"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	mem := Default()
	mem.Database = DatabaseConfig{Driver: DriverMemory}
	assert.NoError(t, mem.Validate())
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.yaml")
	cfg := Default()
	cfg.Server.Addr = ":1234"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
