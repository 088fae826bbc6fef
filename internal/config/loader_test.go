package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
server:
  port: 9000
  mode: test
log:
  level: debug
  format: console
engine:
  resolution: 20
  batch_size: 50
cache:
  grid_ttl: 10m
storage:
  backend: memory
training:
  valuation_samples: 200
  epoch_override: 3
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Engine.Resolution)
	assert.Equal(t, 50, cfg.Engine.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Cache.GridTTL)
	assert.Equal(t, time.Hour, cfg.Cache.AnalysisTTL)
	assert.Equal(t, 200, cfg.Training.ValuationSamples)
	assert.Equal(t, 3, cfg.Training.EpochOverride)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidValuesFailValidation(t *testing.T) {
	_, err := Load(writeConfig(t, "storage:\n  backend: tape\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("GEOVALUE_ENGINE_RESOLUTION", "7")
	t.Setenv("GEOVALUE_CACHE_ANALYSIS_TTL", "2h")
	t.Setenv("GEOVALUE_ENGINE_IMAGE_ITEM_TIMEOUT", "90s")

	cfg, err := Load(writeConfig(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Engine.Resolution)
	assert.Equal(t, 90*time.Second, cfg.Engine.ImageItemTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Cache.AnalysisTTL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GEOVALUE_STORAGE_BACKEND", "memory")
	t.Setenv("GEOVALUE_TRAINING_SEED", "7")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, int64(7), cfg.Training.Seed)
	assert.Equal(t, DefaultResolution, cfg.Engine.Resolution)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GEOVALUE_TEST_DOTENV_KEY=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("GEOVALUE_TEST_DOTENV_KEY") })

	require.NoError(t, LoadDotEnv("", filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("GEOVALUE_TEST_DOTENV_KEY"))
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "absent.yaml")) })
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "absent.yaml"), func(*Config) {}, nil)
	assert.Error(t, err)
}
