package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/pkg/schema"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	ecfg, err := cfg.engineConfig()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig(), ecfg)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := writeSettings(t, `{"log_level": "debug", "workers": 4, "pass_timeout": "1s", "max_retries": 1}`)
	t.Setenv("ACTIONKIT_WORKERS", "8")
	t.Setenv("ACTIONKIT_FAST_TRACK_TIMEOUT", "0s")
	t.Setenv("ACTIONKIT_ASYNC_UPDATES", "false")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Workers, "env beats file")

	ecfg, err := cfg.engineConfig()
	require.NoError(t, err)
	assert.Equal(t, 8, ecfg.Workers)
	assert.Equal(t, time.Second, ecfg.PassTimeout)
	assert.Zero(t, ecfg.FastTrackTimeout, "zero disables fast track")
	assert.Equal(t, 1, ecfg.Retry.MaxRetries)
	assert.False(t, ecfg.AsyncUpdates)
}

func TestLoadConfig_Malformed(t *testing.T) {
	_, err := loadConfig(writeSettings(t, `{"workers": `))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))
}

func TestEngineConfig_RejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.PassTimeout = "soon"
	_, err := cfg.engineConfig()
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))

	cfg = defaultConfig()
	cfg.FastTrackTimeout = "-5ms"
	_, err = cfg.engineConfig()
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))

	cfg = defaultConfig()
	cfg.MaxRetries = -1
	_, err = cfg.engineConfig()
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))

	cfg = defaultConfig()
	cfg.RefreshTick = "fast"
	_, err = cfg.refreshTick()
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))
}
