package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_HasSaneDefaults(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, 32, cfg.Pipeline.Shards)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.SessionIdle)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestApplyEnvOverrides_OverridesDefaults(t *testing.T) {
	t.Setenv("BUS_URL", "nats://bus.internal:4222")
	t.Setenv("SHARDS", "64")
	t.Setenv("SESSION_IDLE_MS", "60000")
	t.Setenv("TENANT_RATE_LIMIT", "250.5")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, "nats://bus.internal:4222", cfg.Bus.URL)
	assert.Equal(t, 64, cfg.Pipeline.Shards)
	assert.Equal(t, time.Minute, cfg.Pipeline.SessionIdle)
	assert.Equal(t, 250.5, cfg.Server.TenantRateLimit)
}

func TestApplyEnvOverrides_IgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("SHARDS", "not-a-number")
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	assert.Equal(t, 32, cfg.Pipeline.Shards)
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Pipeline.Shards)
}

func TestLoad_ParsesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	yamlBody := "server:\n  max_connections: 5000\npipeline:\n  shards: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Server.MaxConnections)
	assert.Equal(t, 8, cfg.Pipeline.Shards)
	// Untouched sections keep their defaults.
	assert.Equal(t, "nats://localhost:4222", cfg.Bus.URL)
}

func TestDiff_ReportsChangedFields(t *testing.T) {
	old := defaultConfig()
	newCfg := defaultConfig()
	newCfg.Pipeline.Shards = 64
	newCfg.Bus.URL = "nats://other:4222"

	changes := Diff(old, newCfg)
	assert.Len(t, changes, 2)
}

func TestDiff_NoChangesReturnsEmpty(t *testing.T) {
	old := defaultConfig()
	newCfg := defaultConfig()
	assert.Empty(t, Diff(old, newCfg))
}
