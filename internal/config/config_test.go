package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/previewd/internal/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestParseDiscoveryPorts(t *testing.T) {
	assert.Equal(t, []int{1024, 3000, 8080}, ParseDiscoveryPorts("80,443,1024,3000,8080"))
	assert.Equal(t, []int{3000, 5173}, ParseDiscoveryPorts(" 3000, abc, 5173 ,3000,70000,"))
	assert.Empty(t, ParseDiscoveryPorts(""))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", slog.Default())
	require.NoError(t, err)
	assert.True(t, cfg.Discovery.Enabled)
	assert.Equal(t, DefaultDiscoveryPorts, cfg.Discovery.Ports)
	assert.Equal(t, 30*time.Second, cfg.Discovery.Interval)
	assert.Equal(t, 8, cfg.Discovery.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Registry.StaleTimeout)
	assert.Equal(t, time.Minute, cfg.Registry.CleanupInterval)
	assert.Equal(t, 5*time.Second, cfg.Validation.PIDTolerance)
	assert.Equal(t, time.Hour, cfg.Supervisor.IdleTimeout)
	assert.Equal(t, 4000, cfg.Supervisor.PortMin)
	assert.Equal(t, 4999, cfg.Supervisor.PortMax)
	assert.Equal(t, 1000, cfg.Supervisor.LogCapacity)
	assert.Equal(t, 7777, cfg.APIPort())
	assert.Equal(t, filepath.Join(cfg.DataDir, "servers.json"), cfg.RegistryPath())
	assert.Equal(t, filepath.Join(cfg.DataDir, "locks"), cfg.LockDir())
}

func TestLoadEnvOverridesAndClamps(t *testing.T) {
	t.Setenv("PREVIEWD_DISCOVERY_PORTS", "80,443,1024,3000,8080")
	t.Setenv("PREVIEWD_DISCOVERY_ENABLED", "false")
	t.Setenv("PREVIEWD_DISCOVERY_INTERVAL_SECS", "1")
	t.Setenv("PREVIEWD_REGISTRY_STALE_TIMEOUT_MINS", "1000")
	t.Setenv("PREVIEWD_REGISTRY_CLEANUP_INTERVAL_MINS", "abc")
	t.Setenv("PREVIEWD_VALIDATION_PID_TOLERANCE_SECS", "90")

	var buf bytes.Buffer
	cfg, err := Load("", quietLogger(&buf))
	require.NoError(t, err)
	assert.False(t, cfg.Discovery.Enabled)
	assert.Equal(t, []int{1024, 3000, 8080}, cfg.Discovery.Ports)
	assert.Equal(t, 10*time.Second, cfg.Discovery.Interval)
	assert.Equal(t, 240*time.Minute, cfg.Registry.StaleTimeout)
	assert.Equal(t, time.Minute, cfg.Registry.CleanupInterval)
	assert.Equal(t, 60*time.Second, cfg.Validation.PIDTolerance)
	assert.Contains(t, buf.String(), "clamped")
	assert.Contains(t, buf.String(), "using default")
}

func TestLoadAllInvalidPortsFallBack(t *testing.T) {
	t.Setenv("PREVIEWD_DISCOVERY_PORTS", "22,80,nope")
	var buf bytes.Buffer
	cfg, err := Load("", quietLogger(&buf))
	require.NoError(t, err)
	assert.Equal(t, DefaultDiscoveryPorts, cfg.Discovery.Ports)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "previewd.toml")
	data := `
data_dir = "` + filepath.ToSlash(dir) + `"
log_dir = "` + filepath.ToSlash(filepath.Join(dir, "logs")) + `"

[api]
listen = "127.0.0.1:9911"

[discovery]
ports = [3000, 80, 5173]
concurrency = 4

[supervisor]
idle_timeout_mins = 0
port_min = 5000
port_max = 5099

[history]
dsn = ["sqlite://` + filepath.ToSlash(filepath.Join(dir, "h.db")) + `"]

[log]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	cfg, err := Load(p, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(dir), cfg.DataDir)
	assert.Equal(t, 9911, cfg.APIPort())
	assert.Equal(t, []int{3000, 5173}, cfg.Discovery.Ports)
	assert.Equal(t, 4, cfg.Discovery.Concurrency)
	assert.Equal(t, time.Duration(0), cfg.Supervisor.IdleTimeout)
	assert.Equal(t, 5000, cfg.Supervisor.PortMin)
	assert.Equal(t, 5099, cfg.Supervisor.PortMax)
	assert.Len(t, cfg.History.DSNs, 1)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadInvertedPortRange(t *testing.T) {
	t.Setenv("PREVIEWD_SUPERVISOR_PORT_MIN", "6000")
	t.Setenv("PREVIEWD_SUPERVISOR_PORT_MAX", "5000")
	var buf bytes.Buffer
	cfg, err := Load("", quietLogger(&buf))
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Supervisor.PortMin)
	assert.Equal(t, 4999, cfg.Supervisor.PortMax)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestHistoryDSNFromEnv(t *testing.T) {
	t.Setenv("PREVIEWD_HISTORY_DSN", "sqlite://a.db, postgres://u@h/db")
	cfg, err := Load("", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"sqlite://a.db", "postgres://u@h/db"}, cfg.History.DSNs)
}
