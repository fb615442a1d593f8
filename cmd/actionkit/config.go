package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/internal/scheduler"
	"github.com/rendis/actionkit/pkg/schema"
)

// Config holds the CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	LogLevel         string `json:"log_level"`
	Workers          int    `json:"workers"`
	PassTimeout      string `json:"pass_timeout"`
	FastTrackTimeout string `json:"fast_track_timeout"`
	MaxRetries       int    `json:"max_retries"`
	MaxNesting       int    `json:"max_nesting"`
	ProbeCap         int    `json:"probe_cap"`
	AsyncUpdates     bool   `json:"async_updates"`
	MetricsAddr      string `json:"metrics_addr"`
	RefreshTick      string `json:"refresh_tick"`
}

func defaultConfig() Config {
	d := engine.DefaultConfig()
	return Config{
		LogLevel:         "info",
		Workers:          d.Workers,
		PassTimeout:      d.PassTimeout.String(),
		FastTrackTimeout: d.FastTrackTimeout.String(),
		MaxRetries:       d.Retry.MaxRetries,
		MaxNesting:       d.MaxNesting,
		ProbeCap:         d.ProbeCap,
		AsyncUpdates:     d.AsyncUpdates,
		RefreshTick:      scheduler.DefaultTick.String(),
	}
}

func actionkitDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".actionkit"
	}
	return filepath.Join(home, ".actionkit")
}

func settingsPath() string {
	return filepath.Join(actionkitDir(), "settings.json")
}

// loadConfig layers path (settings.json when empty) and ACTIONKIT_* env
// vars over the defaults. A missing settings file is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		path = settingsPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, schema.NewErrorf(schema.ErrCodeConfig, "parse %s: %v", path, err).WithCause(err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return cfg, schema.NewErrorf(schema.ErrCodeConfig, "read %s: %v", path, err).WithCause(err)
	}

	if v := os.Getenv("ACTIONKIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ACTIONKIT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("ACTIONKIT_PASS_TIMEOUT"); v != "" {
		cfg.PassTimeout = v
	}
	if v := os.Getenv("ACTIONKIT_FAST_TRACK_TIMEOUT"); v != "" {
		cfg.FastTrackTimeout = v
	}
	if v := os.Getenv("ACTIONKIT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("ACTIONKIT_ASYNC_UPDATES"); v != "" {
		cfg.AsyncUpdates = v == "true" || v == "1"
	}
	if v := os.Getenv("ACTIONKIT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("ACTIONKIT_REFRESH_TICK"); v != "" {
		cfg.RefreshTick = v
	}
	return cfg, nil
}

// engineConfig maps c onto the driver tunables. Fields left zero keep the
// driver defaults.
func (c Config) engineConfig() (engine.Config, error) {
	out := engine.DefaultConfig()
	var err error
	if out.PassTimeout, err = parseDuration("pass_timeout", c.PassTimeout, out.PassTimeout); err != nil {
		return out, err
	}
	if out.FastTrackTimeout, err = parseDuration("fast_track_timeout", c.FastTrackTimeout, out.FastTrackTimeout); err != nil {
		return out, err
	}
	if c.Workers > 0 {
		out.Workers = c.Workers
	}
	if c.MaxRetries < 0 {
		return out, schema.NewErrorf(schema.ErrCodeConfig, "max_retries must not be negative, got %d", c.MaxRetries)
	}
	out.Retry.MaxRetries = c.MaxRetries
	if c.MaxNesting > 0 {
		out.MaxNesting = c.MaxNesting
	}
	if c.ProbeCap > 0 {
		out.ProbeCap = c.ProbeCap
	}
	out.AsyncUpdates = c.AsyncUpdates
	return out, nil
}

func (c Config) refreshTick() (time.Duration, error) {
	return parseDuration("refresh_tick", c.RefreshTick, scheduler.DefaultTick)
}

func parseDuration(field, v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeConfig, "%s: %v", field, err).WithCause(err)
	}
	if d < 0 {
		return 0, schema.NewErrorf(schema.ErrCodeConfig, "%s must not be negative, got %s", field, v)
	}
	return d, nil
}
