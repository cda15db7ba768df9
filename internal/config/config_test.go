package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "does-not-exist")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 10*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, uint16(10000), cfg.Engine.RTCMinPort)
	assert.Equal(t, uint16(10100), cfg.Engine.RTCMaxPort)
	assert.NotEmpty(t, cfg.Engine.STUNServers)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte("mode: debug\nport: 4100\nengine:\n  call_timeout: 3s\n  rtc_min_port: 20000\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))

	t.Setenv("CONFIG_ENV", "test")
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 4100, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, uint16(20000), cfg.Engine.RTCMinPort)
	// Unset keys keep their defaults.
	assert.Equal(t, uint16(10100), cfg.Engine.RTCMaxPort)
}
