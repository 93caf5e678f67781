package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmbg "github.com/josuedeavila/rmbg-service"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "server.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
addr: 127.0.0.1:9000
processed_dir: /srv/rmbg/processed
retention: 30m
sweep_schedule: "*/5 * * * *"
model:
  model_path: /models/u2net.onnx
  disable_fallback: true
`), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
		assert.Equal(t, "/srv/rmbg/processed", cfg.ProcessedDir)
		assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.MaxUploadBytes)
		assert.Equal(t, 30*time.Minute, cfg.Retention)
		assert.Equal(t, "*/5 * * * *", cfg.SweepSchedule)
		assert.Equal(t, "/models/u2net.onnx", cfg.Model.ModelPath)
		assert.Equal(t, rmbg.DefaultModelURL, cfg.Model.ModelURL)
		assert.True(t, cfg.Model.DisableFallback)
	})

	t.Run("ZeroValuesFallBack", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "server.yaml")
		require.NoError(t, os.WriteFile(path, []byte("max_upload_bytes: 0\nretention: 0s\nsweep_schedule: \"\"\n"), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.MaxUploadBytes)
		assert.Equal(t, DefaultRetention, cfg.Retention)
		assert.Equal(t, DefaultSweepSchedule, cfg.SweepSchedule)
	})

	t.Run("Example", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join("..", "config.example.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Addr, cfg.Addr)
		assert.Equal(t, time.Hour, cfg.Retention)
		assert.Equal(t, 60*time.Second, cfg.Model.InferenceTimeout)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
