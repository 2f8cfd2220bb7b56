package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/autopilot/internal/core/mode"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load("", dataDir)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "default", cfg.Server.DefaultWorkspace)
	assert.Equal(t, 60*time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, 30*time.Second, cfg.Engine.HandlerTimeout)
	assert.True(t, cfg.Engine.Enabled)
	assert.Equal(t, mode.DefaultModules, cfg.Modules)
	assert.Equal(t, dataDir, cfg.DataDir)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
engine:
  enabled: false
  tick_interval: 5s
  timezone: America/New_York
modules: [ad_manager, review_responder]
handlers:
  ad_manager:
    url: https://hooks.example.com/ads
    timeout: 3s
    headers:
      Authorization: Bearer token
`)

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "default", cfg.Server.DefaultWorkspace, "unset fields keep defaults")
	assert.False(t, cfg.Engine.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, "America/New_York", cfg.Engine.Location().String())
	assert.Equal(t, []string{"ad_manager", "review_responder"}, cfg.Catalog().IDs())

	h := cfg.Handlers["ad_manager"]
	assert.Equal(t, 3*time.Second, h.Timeout)
	assert.Equal(t, "Bearer token", h.Headers["Authorization"])
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")

	_, err := Load(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeConfig(t, `
engine:
  tick_interval: 10ms
`)

	_, err := Load(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at least 1s")
}

func TestEngineConfig_LocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, EngineConfig{}.Location())
	assert.Equal(t, time.UTC, EngineConfig{Timezone: "Nowhere/Special"}.Location())
}
