package detector

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
}

func TestParseStartTicks(t *testing.T) {
	line := "1234 (my (weird) proc) S 1 1234 1234 0 -1 4194560 100 0 0 0 1 2 0 0 20 0 1 0 98765 1000 10 18446744073709551615"
	ticks, ok := parseStartTicks(line)
	require.True(t, ok)
	assert.Equal(t, int64(98765), ticks)

	_, ok = parseStartTicks("garbage")
	assert.False(t, ok)
	_, ok = parseStartTicks("1 (x) S 1 2")
	assert.False(t, ok)
}

func TestParseBootTime(t *testing.T) {
	bt, ok := parseBootTime(strings.NewReader("cpu  1 2 3\nintr 5\nbtime 1760860800\nprocesses 9\n"))
	require.True(t, ok)
	assert.Equal(t, int64(1760860800), bt)

	_, ok = parseBootTime(strings.NewReader("cpu 1\n"))
	assert.False(t, ok)
	_, ok = parseBootTime(strings.NewReader("btime soon\n"))
	assert.False(t, ok)
}

func TestTicksToTime(t *testing.T) {
	got := ticksToTime(1000, 250, 100)
	assert.Equal(t, time.Unix(1002, 500_000_000), got)
	assert.Equal(t, time.Unix(1002, 500_000_000), ticksToTime(1000, 250, 0))
}

func TestProcStartSelf(t *testing.T) {
	start := procStart(os.Getpid())
	if start.IsZero() {
		t.Skip("process start time unavailable on this platform")
	}
	assert.True(t, start.Before(time.Now().Add(time.Second)))
	assert.True(t, procStart(0).IsZero())
}

func TestSystemInspectorChild(t *testing.T) {
	requireUnix(t)
	// #nosec G204
	cmd := exec.Command("/bin/sh", "-c", "sleep 2")
	require.NoError(t, cmd.Start())
	startedAt := time.Now()
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	snap, err := SystemInspector{}.Inspect(context.Background(), cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), snap.PPID)
	assert.True(t, OwnedByCurrentUser(snap))
	if !snap.StartTime.IsZero() {
		assert.NoError(t, Check(snap, Expectation{StartedAt: startedAt}, ModeDiscovery))
	}

	alive, _ := PIDDetector{PID: cmd.Process.Pid}.Alive()
	assert.True(t, alive)
}

func TestSystemInspectorMissing(t *testing.T) {
	_, err := SystemInspector{}.Inspect(context.Background(), 0)
	assert.ErrorIs(t, err, ErrProcessNotFound)
	alive, _ := PIDDetector{PID: 0}.Alive()
	assert.False(t, alive)
	assert.Equal(t, "pid:0", PIDDetector{}.Describe())
}
