package supervisor

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/previewd/internal/errdefs"
)

// LockFileRecord is the per-project crash recovery file. It duplicates part
// of the registry record so a supervisor can recover its children even if
// the registry was never synced.
type LockFileRecord struct {
	ProjectID   string    `json:"project_id"`
	PID         int       `json:"pid"`
	Port        int       `json:"port"`
	StartedAt   time.Time `json:"started_at"`
	PreviewURL  string    `json:"preview_url"`
	ProjectRoot string    `json:"project_root"`
}

const lockExt = ".lock"

// fileKey maps a project id to a file name stem. The mapping is reversible,
// so distinct ids never share a lock or log file.
func fileKey(projectID string) string { return url.QueryEscape(projectID) }

func lockPath(dir, projectID string) string {
	return filepath.Join(dir, fileKey(projectID)+lockExt)
}

func writeLock(dir string, rec LockFileRecord) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errdefs.WrapErr(errdefs.ErrStorage, err, "create lock dir %s", dir)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	path := lockPath(dir, rec.ProjectID)
	tmp, err := os.CreateTemp(dir, ".lock-*")
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrStorage, err, "write lock %s", path)
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errdefs.WrapErr(errdefs.ErrStorage, err, "write lock %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errdefs.WrapErr(errdefs.ErrStorage, err, "write lock %s", path)
	}
	if err := os.Chmod(name, 0o600); err != nil {
		return errdefs.WrapErr(errdefs.ErrStorage, err, "chmod lock %s", path)
	}
	if err := os.Rename(name, path); err != nil {
		return errdefs.WrapErr(errdefs.ErrStorage, err, "rename lock %s", path)
	}
	return nil
}

func readLock(path string) (LockFileRecord, error) {
	var rec LockFileRecord
	data, err := os.ReadFile(path) // #nosec G304 -- path is inside the lock dir
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	if rec.ProjectID == "" || rec.PID <= 0 {
		return rec, errors.New("lock file is missing project_id or pid")
	}
	return rec, nil
}

func removeLock(dir, projectID string) error {
	err := os.Remove(lockPath(dir, projectID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errdefs.WrapErr(errdefs.ErrStorage, err, "remove lock for %s", projectID)
	}
	return nil
}

// removeLockOf removes the project's lock only if it still names pid, so a
// late exit never deletes the lock of a newer server.
func removeLockOf(dir, projectID string, pid int) error {
	rec, err := readLock(lockPath(dir, projectID))
	if err != nil || rec.PID != pid {
		return nil
	}
	return removeLock(dir, projectID)
}
