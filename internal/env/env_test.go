package env

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/loykin/previewd/internal/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(kvs []string, key string) (string, bool) {
	for _, kv := range kvs {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v, true
		}
	}
	return "", false
}

func TestComposeLayering(t *testing.T) {
	base := []string{"PATH=/usr/bin", "PORT=9999", "PREVIEWD_DAEMON_CHILD=1", "HOME=/home/dev"}
	out := Compose(base, []string{"PREVIEWD_DAEMON_CHILD"},
		Var{"PORT": "3000", "API_URL": "http://localhost:8080"},
		Var{"PORT": "4001", "": "skipped", "A=B": "skipped"},
	)

	v, ok := lookup(out, "PORT")
	require.True(t, ok)
	assert.Equal(t, "4001", v)
	v, _ = lookup(out, "API_URL")
	assert.Equal(t, "http://localhost:8080", v)
	v, _ = lookup(out, "PATH")
	assert.Equal(t, "/usr/bin", v)
	_, ok = lookup(out, "PREVIEWD_DAEMON_CHILD")
	assert.False(t, ok)
	assert.Len(t, out, 4)
	assert.True(t, slices.IsSorted(out))
}

func TestComposeDropDoesNotMaskLayers(t *testing.T) {
	out := Compose([]string{"NODE_ENV=production"}, []string{"NODE_ENV"}, Var{"NODE_ENV": "development"})
	assert.Equal(t, []string{"NODE_ENV=development"}, out)
}

func TestPairs(t *testing.T) {
	m := Pairs([]string{"K=V", "=bad", "noeq", "E=", "K=W", "EQ=a=b"})
	assert.Equal(t, Var{"K": "W", "E": "", "EQ": "a=b"}, m)
}

func TestSafeDirAcceptsTemp(t *testing.T) {
	dir := t.TempDir()
	got, err := SafeDir(dir)
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(dir)
	assert.Equal(t, want, got)
}

func TestSafeDirRejectsOutside(t *testing.T) {
	if _, err := os.Stat("/etc"); err != nil {
		t.Skip("no /etc on this platform")
	}
	home, _ := os.UserHomeDir()
	if home == "/" || strings.HasPrefix(os.TempDir(), "/etc") {
		t.Skip("unusual home/temp layout")
	}
	_, err := SafeDir("/etc")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrValidationRejected)

	_, err = SafeDir("")
	assert.ErrorIs(t, err, errdefs.ErrValidationRejected)
}

func TestSafeDirRejectsSymlinkEscape(t *testing.T) {
	if _, err := os.Stat("/etc"); err != nil {
		t.Skip("no /etc on this platform")
	}
	dir := t.TempDir()
	link := filepath.Join(dir, "escape")
	if err := os.Symlink("/etc", link); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}
	_, err := SafeDir(link)
	assert.ErrorIs(t, err, errdefs.ErrValidationRejected)
}

func TestLoadProjectEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("A=base\nB=base\n# comment\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("B=local\nC=\"quoted value\"\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.development.local"), []byte("export D=dev\n"), 0o600))

	vars, err := LoadProjectEnv(dir)
	require.NoError(t, err)
	assert.Equal(t, "base", vars["A"])
	assert.Equal(t, "local", vars["B"])
	assert.Equal(t, "quoted value", vars["C"])
	assert.Equal(t, "dev", vars["D"])
}

func TestLoadProjectEnvMissingFiles(t *testing.T) {
	vars, err := LoadProjectEnv(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, vars)
}
