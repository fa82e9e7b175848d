package registry

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/loykin/previewd/internal/errdefs"
)

// Watch reloads the registry whenever another process rewrites the file and
// calls onChange with the new listing if it differs by (id, status, port).
// Our own writes are recognised and skipped. Watch blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func([]ServerRecord)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errdefs.WrapErr(errdefs.ErrStorage, err, "create registry dir")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrStorage, err, "create watcher")
	}
	defer func() { _ = w.Close() }()
	// The file is replaced by rename, so watch the directory.
	if err := w.Add(dir); err != nil {
		return errdefs.WrapErr(errdefs.ErrStorage, err, "watch %s", dir)
	}
	name := filepath.Base(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if changed, recs := s.reload(); changed && onChange != nil {
				onChange(recs)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("registry watcher error", "err", err)
		}
	}
}

// reload re-reads the file written by another instance. A missing or
// malformed file is ignored; the last good state is kept.
func (s *Store) reload() (bool, []ServerRecord) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("registry reload failed", "err", err)
		}
		return false, nil
	}
	if s.sameAsLastWrite(data) {
		return false, nil
	}
	recs, err := decode(data)
	if err != nil {
		s.logger.Debug("registry file mid-write or malformed, keeping current state", "err", err)
		return false, nil
	}
	before := s.ListAll()
	s.replace(recs, data)
	after := s.ListAll()
	return !Equivalent(before, after), after
}
