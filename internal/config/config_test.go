package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv("")
	require.NoError(t, err)

	assert.Equal(t, DefaultLabelPrefix, cfg.LabelPrefix)
	assert.Equal(t, DefaultNamespace, cfg.Namespace)
	assert.Equal(t, time.Duration(DefaultResyncSeconds)*time.Second, cfg.ResyncInterval)
	assert.Equal(t, DefaultMetricsPort, cfg.MetricsPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ModeAuto, cfg.Mode)
	assert.Equal(t, DefaultWorkerCount, cfg.WorkerCount)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PERSIST_LABEL_PREFIX", "cost.acme.io/")
	t.Setenv("RESYNC_INTERVAL_SECONDS", "60")
	t.Setenv("METRICS_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WATCH_MODE", "filesystem")
	t.Setenv("SNAPSHOT_DIR", t.TempDir())
	t.Setenv("WORKER_COUNT", "4")

	cfg, err := FromEnv("")
	require.NoError(t, err)

	assert.Equal(t, "cost.acme.io/", cfg.LabelPrefix)
	assert.Equal(t, time.Minute, cfg.ResyncInterval)
	assert.Equal(t, 9999, cfg.MetricsPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ModeFilesystem, cfg.Mode)
	assert.Equal(t, 4, cfg.WorkerCount)
}

func TestFromEnv_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("RESYNC_INTERVAL_SECONDS", "soon")

	cfg, err := FromEnv("")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(DefaultResyncSeconds)*time.Second, cfg.ResyncInterval)
}

func TestFromEnv_DotenvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "demo.env")
	require.NoError(t, os.WriteFile(envFile, []byte("PERSIST_LABEL_PREFIX=demo.env/\n"), 0o644))

	// godotenv does not override existing process vars, so make sure the
	// key is unset first.
	os.Unsetenv("PERSIST_LABEL_PREFIX")

	cfg, err := FromEnv(envFile)
	require.NoError(t, err)
	assert.Equal(t, "demo.env/", cfg.LabelPrefix)
}

func TestFromEnv_MissingDotenvIsFine(t *testing.T) {
	_, err := FromEnv(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		LabelPrefix:    "persist.demo/",
		Namespace:      "ns",
		ResyncInterval: time.Minute,
		MetricsPort:    9090,
		Mode:           ModeAuto,
		WorkerCount:    2,
		MaxRetries:     5,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty prefix", func(c *Config) { c.LabelPrefix = "" }, true},
		{"zero resync", func(c *Config) { c.ResyncInterval = 0 }, true},
		{"bad port", func(c *Config) { c.MetricsPort = 70000 }, true},
		{"zero workers", func(c *Config) { c.WorkerCount = 0 }, true},
		{"unknown mode", func(c *Config) { c.Mode = "polling" }, true},
		{"filesystem without dir", func(c *Config) { c.Mode = ModeFilesystem }, true},
		{"filesystem with dir", func(c *Config) { c.Mode = ModeFilesystem; c.SnapshotDir = "/tmp/nodes" }, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := base
			test.mutate(&cfg)
			err := cfg.Validate()
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
