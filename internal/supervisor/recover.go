package supervisor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/loykin/previewd/internal/errdefs"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/registry"
)

// Recover adopts servers recorded in lock files by a previous run of this
// instance. Unparseable locks and locks whose pid no longer identifies the
// recorded process are deleted. It returns the number of servers adopted.
func (s *Supervisor) Recover(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.cfg.LockDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, errdefs.WrapErr(errdefs.ErrStorage, err, "read lock dir %s", s.cfg.LockDir)
	}
	adopted := 0
	for _, de := range entries {
		if ctx.Err() != nil {
			return adopted, ctx.Err()
		}
		if de.IsDir() || filepath.Ext(de.Name()) != lockExt {
			continue
		}
		path := filepath.Join(s.cfg.LockDir, de.Name())
		lock, err := readLock(path)
		if err != nil {
			s.logger.Warn("removing unreadable lock file", "path", path, "err", err)
			_ = os.Remove(path)
			continue
		}
		if !s.sameProcess(ctx, lock.PID, lock.StartedAt) {
			s.logger.Info("removing stale lock file", "project", lock.ProjectID, "pid", lock.PID)
			_ = os.Remove(path)
			s.history.Emit(ctx, history.EventPruned, history.Record{
				ProjectID: lock.ProjectID,
				PID:       lock.PID,
				Port:      lock.Port,
				Status:    string(registry.StatusStopped),
				Source:    string(registry.SourceManaged),
				Detail:    "stale lock file",
			})
			continue
		}
		unlock := s.lockProject(lock.ProjectID)
		s.adopt(lock)
		unlock()
		adopted++
	}
	return adopted, nil
}

// adoptFromLock is the Start-time variant of Recover for a single project.
// The caller holds the project lock.
func (s *Supervisor) adoptFromLock(ctx context.Context, projectID string) (Info, bool) {
	path := lockPath(s.cfg.LockDir, projectID)
	lock, err := readLock(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			_ = os.Remove(path)
		}
		return Info{}, false
	}
	if lock.ProjectID != projectID || !s.sameProcess(ctx, lock.PID, lock.StartedAt) {
		_ = os.Remove(path)
		return Info{}, false
	}
	return s.adopt(lock), true
}

// adopt installs a Running entry for a process this instance did not spawn
// in the current run and makes sure the registry knows about it.
func (s *Supervisor) adopt(lock LockFileRecord) Info {
	now := s.now()
	s.mu.Lock()
	if e, ok := s.servers[lock.ProjectID]; ok && e.active() {
		info := s.infoLocked(e)
		s.mu.Unlock()
		return info
	}
	e := &devServer{
		projectID:    lock.ProjectID,
		root:         lock.ProjectRoot,
		pid:          lock.PID,
		port:         lock.Port,
		previewURL:   lock.PreviewURL,
		status:       registry.StatusRunning,
		startedAt:    lock.StartedAt,
		lastActivity: now,
		logs:         newLogBuffer(s.cfg.LogCapacity),
	}
	if e.previewURL == "" {
		e.previewURL = previewURL(e.port)
	}
	s.servers[lock.ProjectID] = e
	s.mu.Unlock()

	var recordID string
	for _, r := range s.registry.FindByProject(lock.ProjectID) {
		if r.PID == lock.PID {
			recordID = r.ID
			break
		}
	}
	if recordID == "" {
		s.mu.RLock()
		rec := s.infoLocked(e).ServerRecord
		s.mu.RUnlock()
		stored, err := s.registry.Register(rec)
		if err != nil {
			s.logger.Warn("failed to register recovered server", "project", lock.ProjectID, "err", err)
		} else {
			recordID = stored.ID
		}
	}

	s.mu.Lock()
	e.recordID = recordID
	info := s.infoLocked(e)
	s.mu.Unlock()
	s.logger.Info("recovered dev server", "project", lock.ProjectID, "pid", lock.PID, "port", lock.Port)
	return info
}
