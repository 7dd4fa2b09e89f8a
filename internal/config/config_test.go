package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RECALLBOX_ROOT", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Store.DefaultProject)
	assert.Equal(t, 8020, cfg.HTTP.Port)
	assert.True(t, cfg.HTTP.Enabled)
	assert.Empty(t, cfg.AI.Endpoint)
	assert.Equal(t, 6, cfg.Backup.IntervalHours)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadSettingsFileThenEnvOverride(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0o755))
	settings := `{"default_project":"research","http_port":9000,"ai_endpoint":"http://localhost:11434","log_level":"debug"}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "settings.json"), []byte(settings), 0o644))

	t.Setenv("RECALLBOX_ROOT", root)
	t.Setenv("RECALLBOX_HTTP_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "research", cfg.Store.DefaultProject)
	assert.Equal(t, 9100, cfg.HTTP.Port, "environment wins over the settings file")
	assert.Equal(t, "http://localhost:11434", cfg.AI.Endpoint)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsMalformedSettings(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "settings.json"), []byte("{not json"), 0o644))
	t.Setenv("RECALLBOX_ROOT", root)

	_, err := Load()
	require.Error(t, err)
}
