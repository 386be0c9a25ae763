package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "MAX_FILES", "MAX_FILE_SIZE", "QUEUE_REDIS_URL", "PREVIEW_SCALE", "GIN_MODE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 50, cfg.MaxFiles)
	assert.Equal(t, int64(104857600), cfg.MaxFileSize)
	assert.Equal(t, 1.5, cfg.PreviewScale)
	assert.False(t, cfg.AsyncEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("MAX_FILES", "7")
	t.Setenv("MAX_PAGES", "not-a-number")
	t.Setenv("PREVIEW_SCALE", "2.5")
	t.Setenv("QUEUE_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxFiles)
	assert.Equal(t, 2000, cfg.MaxPages)
	assert.Equal(t, 2.5, cfg.PreviewScale)
	assert.True(t, cfg.AsyncEnabled())
}

func TestValidate(t *testing.T) {
	valid := Config{MaxFiles: 1, MaxFileSize: 1, PreviewScale: 1, GinMode: "debug"}
	require.NoError(t, valid.Validate())

	release := valid
	release.GinMode = "release"
	assert.ErrorContains(t, release.Validate(), "SESSION_SECRET")

	release.SessionSecret = "secret"
	release.GhostscriptPath = "gs"
	assert.NoError(t, release.Validate())

	noFiles := valid
	noFiles.MaxFiles = 0
	assert.Error(t, noFiles.Validate())
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, (&Config{LogLevel: in}).SlogLevel(), in)
	}
}
