package supervisor

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockFileRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	rec := LockFileRecord{
		ProjectID:   "team/app",
		PID:         4242,
		Port:        4100,
		StartedAt:   time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		PreviewURL:  "http://localhost:4100",
		ProjectRoot: "/home/dev/app",
	}
	require.NoError(t, writeLock(dir, rec))

	path := lockPath(dir, rec.ProjectID)
	assert.Equal(t, "team%2Fapp.lock", filepath.Base(path))
	got, err := readLock(path)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	if runtime.GOOS != "windows" {
		st, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
	}

	require.NoError(t, removeLockOf(dir, rec.ProjectID, 1))
	assert.FileExists(t, path)
	require.NoError(t, removeLockOf(dir, rec.ProjectID, 4242))
	assert.NoFileExists(t, path)
	require.NoError(t, removeLock(dir, rec.ProjectID))
}

func TestLockPathsDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	ids := []string{"external:3000", "external_3000", "external/3000", "external 3000", "external+3000", "..", "."}
	seen := make(map[string]string)
	for _, id := range ids {
		path := lockPath(dir, id)
		assert.Equal(t, dir, filepath.Dir(path), id)
		if other, dup := seen[path]; dup {
			t.Errorf("%q and %q share lock file %s", id, other, path)
		}
		seen[path] = id
	}

	require.NoError(t, writeLock(dir, LockFileRecord{ProjectID: "external:3000", PID: 10, Port: 3000}))
	require.NoError(t, writeLock(dir, LockFileRecord{ProjectID: "external_3000", PID: 20, Port: 3000}))
	a, err := readLock(lockPath(dir, "external:3000"))
	require.NoError(t, err)
	b, err := readLock(lockPath(dir, "external_3000"))
	require.NoError(t, err)
	assert.Equal(t, 10, a.PID)
	assert.Equal(t, 20, b.PID)
}

func TestReadLockRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.lock")
	require.NoError(t, os.WriteFile(path, []byte(`{"project_id":"x"}`), 0o600))
	_, err := readLock(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))
	_, err = readLock(path)
	assert.Error(t, err)
}
