// Package registry persists the host-wide list of dev servers to a single
// JSON file shared by every previewd instance.
//
// Every mutation is committed disk first: the current records are cloned,
// the clone is mutated and written atomically, and only then does the clone
// replace the in-memory map. A failed write leaves memory untouched.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/previewd/internal/detector"
	"github.com/loykin/previewd/internal/errdefs"
	"github.com/loykin/previewd/internal/metrics"
)

const (
	DefaultStaleTimeout = 5 * time.Minute
	MaxStaleTimeout     = 240 * time.Minute
)

// LivenessChecker is the part of detector.Validator the store needs.
type LivenessChecker interface {
	IsLive(ctx context.Context, pid int, exp detector.Expectation) bool
}

type Store struct {
	path         string
	validator    LivenessChecker
	staleTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time

	// commitMu serializes whole commits so two writers cannot clone the
	// same snapshot and lose one update.
	commitMu sync.Mutex

	mu        sync.RWMutex
	records   map[string]ServerRecord
	lastWrite []byte
}

type Option func(*Store)

func WithValidator(v LivenessChecker) Option { return func(s *Store) { s.validator = v } }

// WithStaleTimeout sets the last_seen age after which records are
// revalidated. Values are clamped to [1m, 240m].
func WithStaleTimeout(d time.Duration) Option {
	return func(s *Store) { s.staleTimeout = min(max(d, time.Minute), MaxStaleTimeout) }
}

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns an empty store backed by path. Call Load to read existing records.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:         path,
		staleTimeout: DefaultStaleTimeout,
		logger:       slog.Default(),
		now:          time.Now,
		records:      make(map[string]ServerRecord),
	}
	for _, o := range opts {
		o(s)
	}
	if s.validator == nil {
		s.validator = detector.NewValidator(detector.WithLogger(s.logger))
	}
	return s
}

// Path returns the registry file location.
func (s *Store) Path() string { return s.path }

// Load replaces the in-memory records with the file contents. A missing
// file yields an empty registry; a malformed file is logged and treated as
// empty. Read errors are storage errors and leave memory untouched.
func (s *Store) Load() error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.replace(make(map[string]ServerRecord), nil)
			return nil
		}
		return errdefs.WrapErr(errdefs.ErrStorage, err, "read registry %s", s.path)
	}
	recs, err := decode(data)
	if err != nil {
		s.logger.Warn("registry file is malformed, starting empty", "path", s.path, "err", err)
		recs = make(map[string]ServerRecord)
	}
	s.replace(recs, data)
	return nil
}

// Save writes the current in-memory records to disk.
func (s *Store) Save() error {
	return s.commit(func(map[string]ServerRecord) (bool, error) { return true, nil })
}

// Register inserts or replaces rec, keyed by ID. An empty ID is assigned a
// UUID; zero timestamps default to now and last_seen never precedes
// started_at. The stored record is returned.
func (s *Store) Register(rec ServerRecord) (ServerRecord, error) {
	now := s.now()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = now
	}
	if rec.LastSeen.Before(rec.StartedAt) {
		rec.LastSeen = rec.StartedAt
	}
	err := s.commit(func(m map[string]ServerRecord) (bool, error) {
		m[rec.ID] = rec
		return true, nil
	})
	if err != nil {
		return ServerRecord{}, err
	}
	return rec, nil
}

// Unregister removes id. Removing an unknown id is a no-op.
func (s *Store) Unregister(id string) error {
	return s.commit(func(m map[string]ServerRecord) (bool, error) {
		if _, ok := m[id]; !ok {
			return false, nil
		}
		delete(m, id)
		return true, nil
	})
}

func (s *Store) Get(id string) (ServerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// ListAll returns every record ordered by start time.
func (s *Store) ListAll() []ServerRecord {
	s.mu.RLock()
	out := make([]ServerRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out
}

// FindByPortPID returns the record matching both port and pid.
func (s *Store) FindByPortPID(port, pid int) (ServerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.Port == port && r.PID == pid {
			return r, true
		}
	}
	return ServerRecord{}, false
}

// FindByProject returns records owned by projectID.
func (s *Store) FindByProject(projectID string) []ServerRecord {
	var out []ServerRecord
	for _, r := range s.ListAll() {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out
}

// UpdateStatus sets the status of id and refreshes last_seen.
func (s *Store) UpdateStatus(id string, status Status) error {
	now := s.now()
	return s.update(id, func(r *ServerRecord) {
		r.Status = status
		r.LastSeen = maxTime(now, r.StartedAt)
	})
}

// UpdatePort records a corrected port and preview URL for id.
func (s *Store) UpdatePort(id string, port int, previewURL string) error {
	now := s.now()
	return s.update(id, func(r *ServerRecord) {
		r.Port = port
		r.PreviewURL = previewURL
		r.LastSeen = maxTime(now, r.StartedAt)
	})
}

// Touch refreshes last_seen of the given ids in one write. Unknown ids are
// ignored.
func (s *Store) Touch(ids ...string) error {
	now := s.now()
	return s.commit(func(m map[string]ServerRecord) (bool, error) {
		changed := false
		for _, id := range ids {
			r, ok := m[id]
			if !ok {
				continue
			}
			r.LastSeen = maxTime(now, r.StartedAt)
			m[id] = r
			changed = true
		}
		return changed, nil
	})
}

func (s *Store) update(id string, fn func(*ServerRecord)) error {
	return s.commit(func(m map[string]ServerRecord) (bool, error) {
		r, ok := m[id]
		if !ok {
			return false, errdefs.Wrap(errdefs.ErrNotFound, "server %s", id)
		}
		fn(&r)
		m[id] = r
		return true, nil
	})
}

// mutation edits a private snapshot. Returning false skips the write.
type mutation func(map[string]ServerRecord) (bool, error)

func (s *Store) commit(fn mutation) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.commitLocked(fn)
}

// commitLocked requires commitMu. Readers are only blocked while the new
// map is swapped in.
func (s *Store) commitLocked(fn mutation) error {
	s.mu.RLock()
	snap := maps.Clone(s.records)
	s.mu.RUnlock()

	changed, err := fn(snap)
	if err != nil || !changed {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrStorage, err, "encode registry")
	}
	if err := writeAtomic(s.path, data); err != nil {
		metrics.IncRegistryWrite(false)
		return errdefs.WrapErr(errdefs.ErrStorage, err, "write registry %s", s.path)
	}
	metrics.IncRegistryWrite(true)
	s.replace(snap, data)
	return nil
}

func (s *Store) replace(recs map[string]ServerRecord, data []byte) {
	s.mu.Lock()
	s.records = recs
	s.lastWrite = data
	s.mu.Unlock()
	metrics.SetRegistryRecords(len(recs))
}

func (s *Store) sameAsLastWrite(data []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastWrite != nil && bytes.Equal(s.lastWrite, data)
}

func encode(m map[string]ServerRecord) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func decode(data []byte) (map[string]ServerRecord, error) {
	m := make(map[string]ServerRecord)
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]ServerRecord)
	}
	for k, r := range m {
		if r.ID == "" {
			r.ID = k
			m[k] = r
		}
	}
	return m, nil
}

// writeAtomic writes data to a uniquely named temp file in the target
// directory, restricts it to the owner, syncs and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func maxTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
