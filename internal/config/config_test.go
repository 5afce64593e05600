package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, env, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	file := filepath.Join(dir, "config", "config."+env+".yaml")
	require.NoError(t, os.WriteFile(file, []byte(body), 0o644))
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "test")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret")
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "test", "mode: debug\nport: 9090\nsecret: test-secret\nchat_limit: 5\n")
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "test-secret", cfg.Secret)
	assert.Equal(t, 5, cfg.ChatLimit)
	// Unset keys keep their defaults.
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, 256, cfg.SinkBuffer)
}
