package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capnweb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "tcp", cfg.Transport)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
}

func TestParseAppliesDefaultsForOmittedFields(t *testing.T) {
	f := writeConfig(t, "listen: \":8080\"\n")
	cfg, err := Parse(f)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "tcp", cfg.Transport)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
}

func TestParseOverridesAllFields(t *testing.T) {
	f := writeConfig(t, `
listen: ":9999"
transport: ws
log_path: /tmp/capnweb.log
metrics_addr: ":2112"
call_timeout: 5s
`)
	cfg, err := Parse(f)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "ws", cfg.Transport)
	assert.Equal(t, "/tmp/capnweb.log", cfg.LogPath)
	assert.Equal(t, ":2112", cfg.MetricsAddr)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
}

func TestParseRejectsUnknownTransport(t *testing.T) {
	f := writeConfig(t, "transport: carrier-pigeon\n")
	_, err := Parse(f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capnweb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport: batch\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "batch", cfg.Transport)
}
