package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodelabels/internal/config"
)

func filesystemConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		LabelPrefix:    "persist.demo/",
		Namespace:      "node-label-operator",
		ResyncInterval: time.Minute,
		MetricsPort:    0,
		LogLevel:       "error",
		Mode:           config.ModeFilesystem,
		SnapshotDir:    t.TempDir(),
		RecordDir:      t.TempDir(),
		WorkerCount:    1,
		MaxRetries:     2,
	}
}

func TestInitializeComponents_FilesystemMode(t *testing.T) {
	components, err := initializeComponents(filesystemConfig(t))
	require.NoError(t, err)

	assert.NotNil(t, components.Store)
	assert.NotNil(t, components.Patcher)
	assert.NotNil(t, components.Detector)
	assert.NotNil(t, components.Manager)
	assert.NotNil(t, components.Sink)
	assert.NotNil(t, components.Exporter)
}

func TestInitializeComponents_RecordDirDefaultsUnderSnapshotDir(t *testing.T) {
	cfg := filesystemConfig(t)
	cfg.RecordDir = ""

	components, err := initializeComponents(cfg)
	require.NoError(t, err)
	assert.NotNil(t, components.Store)
}

func TestResolveMode_ExplicitModesPassThrough(t *testing.T) {
	for _, mode := range []config.Mode{config.ModeKubernetes, config.ModeFilesystem} {
		got, err := resolveMode(config.Config{Mode: mode})
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}
}

func TestResolveMode_UnknownModeFails(t *testing.T) {
	_, err := resolveMode(config.Config{Mode: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewApplication_FilesystemMode(t *testing.T) {
	application, err := NewApplication(filesystemConfig(t))
	require.NoError(t, err)

	assert.NotNil(t, application.Manager())
	assert.NotNil(t, application.Sink())
	assert.False(t, application.Manager().IsRunning())
}
