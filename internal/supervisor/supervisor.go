// Package supervisor spawns and tracks the dev servers owned by this
// previewd instance.
//
// Lock hierarchy (to prevent deadlocks):
//  1. per-project lock (Start and Stop of one project never interleave)
//  2. devServer.fileMu (lock file and registry writes for one server)
//  3. Supervisor.mu (in-memory state, never held across I/O except port checks)
//
// Log readers never take the per-project lock, so Stop may wait on them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/loykin/previewd/internal/detector"
	"github.com/loykin/previewd/internal/discovery"
	"github.com/loykin/previewd/internal/errdefs"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/project"
	"github.com/loykin/previewd/internal/registry"
)

const (
	DefaultIdleTimeout = time.Hour
	DefaultStopGrace   = 5 * time.Second
	killWait           = 2 * time.Second
)

// Registry is the subset of registry.Store the supervisor writes to.
type Registry interface {
	Register(rec registry.ServerRecord) (registry.ServerRecord, error)
	Unregister(id string) error
	UpdatePort(id string, port int, previewURL string) error
	Touch(ids ...string) error
	FindByProject(projectID string) []registry.ServerRecord
}

// Liveness confirms that a pid still identifies a recorded process.
// detector.Validator satisfies it.
type Liveness interface {
	IsLive(ctx context.Context, pid int, exp detector.Expectation) bool
}

// Config holds supervisor tunables. Zero values select defaults.
type Config struct {
	LockDir     string
	PortMin     int
	PortMax     int
	LogCapacity int
	// IdleTimeout of zero disables idle stops.
	IdleTimeout time.Duration
	StopGrace   time.Duration
	// APIPort tags registry records with the owning instance.
	APIPort  int
	LogFiles logger.FileConfig
}

// Info is the supervisor's view of one project's server.
type Info struct {
	registry.ServerRecord
	Error        string    `json:"error,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

type devServer struct {
	projectID  string
	root       string
	framework  string
	command    string
	recordID   string
	pid        int
	port       int
	previewURL string
	status     registry.Status
	lastErr    string
	startedAt  time.Time
	// lastActivity drives idle shutdown.
	lastActivity time.Time
	stopping     bool

	logs    *logBuffer
	logFile io.WriteCloser
	// cmd and done are nil for servers adopted from a lock file.
	cmd    *exec.Cmd
	done   chan struct{}
	cancel context.CancelFunc

	fileMu sync.Mutex
}

func (e *devServer) active() bool {
	return e.status == registry.StatusStarting || e.status == registry.StatusRunning
}

type Supervisor struct {
	cfg       Config
	registry  Registry
	history   *history.Fanout
	logger    *slog.Logger
	now       func() time.Time
	commands  func(p *project.Project, port int) [][]string
	lookPath  func(string) (string, error)
	preferred func(projectID string) int
	portFree  func(port int) bool
	portOwner discovery.Resolver
	validator Liveness
	inspector detector.Inspector

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu      sync.RWMutex
	servers map[string]*devServer
}

type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

func WithHistory(f *history.Fanout) Option { return func(s *Supervisor) { s.history = f } }

func WithClock(now func() time.Time) Option { return func(s *Supervisor) { s.now = now } }

// WithCommands replaces project.Project.Commands as the source of candidate
// command lines.
func WithCommands(fn func(p *project.Project, port int) [][]string) Option {
	return func(s *Supervisor) { s.commands = fn }
}

// WithPreferredPort replaces the project id hash used as the first candidate port.
func WithPreferredPort(fn func(projectID string) int) Option {
	return func(s *Supervisor) { s.preferred = fn }
}

// WithValidator replaces the identity check run before a process from a
// lock file is adopted, signalled or declared alive.
func WithValidator(v Liveness) Option { return func(s *Supervisor) { s.validator = v } }

// WithPortOwner replaces the lookup used to confirm that a port announced
// in a server's output is held by that server.
func WithPortOwner(r discovery.Resolver) Option { return func(s *Supervisor) { s.portOwner = r } }

// WithInspector replaces the process reader used to walk from a port owner
// up to the server it belongs to.
func WithInspector(i detector.Inspector) Option { return func(s *Supervisor) { s.inspector = i } }

// New returns a supervisor writing records to reg. Call Recover before
// serving requests to adopt servers left by a previous run.
func New(cfg Config, reg Registry, opts ...Option) *Supervisor {
	if cfg.PortMin <= 0 || cfg.PortMax < cfg.PortMin {
		cfg.PortMin, cfg.PortMax = DefaultPortMin, DefaultPortMax
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = DefaultLogCapacity
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	s := &Supervisor{
		cfg:       cfg,
		registry:  reg,
		logger:    slog.Default(),
		now:       time.Now,
		commands:  func(p *project.Project, port int) [][]string { return p.Commands(port) },
		lookPath:  exec.LookPath,
		portFree:  portFree,
		portOwner: discovery.DefaultResolver(),
		inspector: detector.SystemInspector{},
		locks:     make(map[string]*sync.Mutex),
		servers:   make(map[string]*devServer),
	}
	s.preferred = func(id string) int { return preferredPort(id, s.cfg.PortMin, s.cfg.PortMax) }
	for _, o := range opts {
		o(s)
	}
	if s.validator == nil {
		s.validator = detector.NewValidator(detector.WithInspector(s.inspector), detector.WithLogger(s.logger))
	}
	return s
}

func (s *Supervisor) lockProject(projectID string) func() {
	s.locksMu.Lock()
	m, ok := s.locks[projectID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[projectID] = m
	}
	s.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

// Start launches the dev server for projectID rooted at root. A port of 0
// picks one from the configured range. Starting a project that is already
// running returns the running server.
func (s *Supervisor) Start(ctx context.Context, projectID, root string, port int) (Info, error) {
	if projectID == "" {
		return Info{}, errdefs.Wrap(errdefs.ErrConfiguration, "project id is required")
	}
	if port != 0 && (port < 1024 || port > 65535) {
		return Info{}, errdefs.Wrap(errdefs.ErrConfiguration, "port %d is outside 1024-65535", port)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Info{}, errdefs.WrapErr(errdefs.ErrConfiguration, err, "resolve project root %s", root)
	}

	unlock := s.lockProject(projectID)
	defer unlock()

	if info, ok := s.Status(projectID); ok && (info.Status == registry.StatusRunning || info.Status == registry.StatusStarting) {
		return info, nil
	}
	if info, ok := s.adoptFromLock(ctx, projectID); ok {
		return info, nil
	}

	proj, err := project.Detect(abs)
	if err != nil {
		return Info{}, err
	}
	e, err := s.reserve(projectID, proj, port)
	if err != nil {
		metrics.IncServerStart(false)
		return Info{}, err
	}
	argv, err := s.resolveCommand(proj, e.port)
	if err != nil {
		return s.failStart(e, err)
	}
	return s.spawn(ctx, e, argv)
}

// reserve claims a port and installs a Starting entry for projectID.
func (s *Supervisor) reserve(projectID string, proj *project.Project, want int) (*devServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := make(map[int]bool)
	for id, e := range s.servers {
		if id != projectID && (e.active() || e.status == registry.StatusStopping) {
			taken[e.port] = true
		}
	}
	busy := func(p int) bool { return taken[p] || !s.portFree(p) }

	port := want
	if want > 0 {
		if busy(want) {
			return nil, errdefs.Wrap(errdefs.ErrResourceUnavailable, "port %d is already in use", want)
		}
	} else {
		p, ok := pickPort(s.preferred(projectID), s.cfg.PortMin, s.cfg.PortMax, busy)
		if !ok {
			return nil, errdefs.Wrap(errdefs.ErrResourceUnavailable, "no free port in %d-%d", s.cfg.PortMin, s.cfg.PortMax)
		}
		port = p
	}
	now := s.now()
	e := &devServer{
		projectID:    projectID,
		root:         proj.Root,
		framework:    proj.Framework,
		port:         port,
		previewURL:   previewURL(port),
		status:       registry.StatusStarting,
		startedAt:    now,
		lastActivity: now,
		logs:         newLogBuffer(s.cfg.LogCapacity),
	}
	s.servers[projectID] = e
	return e, nil
}

func (s *Supervisor) resolveCommand(proj *project.Project, port int) ([]string, error) {
	for _, argv := range s.commands(proj, port) {
		if len(argv) == 0 {
			continue
		}
		if _, err := s.lookPath(argv[0]); err == nil {
			return argv, nil
		}
	}
	return nil, errdefs.Wrap(errdefs.ErrSpawnFailure, "no runnable dev command for %s project at %s", proj.Type, proj.Root)
}

func (s *Supervisor) failStart(e *devServer, err error) (Info, error) {
	s.mu.Lock()
	e.status = registry.StatusError
	e.lastErr = err.Error()
	e.pid = 0
	info := s.infoLocked(e)
	s.mu.Unlock()
	metrics.IncServerStart(false)
	s.logger.Error("dev server failed to start", "project", e.projectID, "err", err)
	return info, err
}

// Stop terminates the project's server, removes its lock file and
// unregisters it. Stopping an unknown or already stopped project is a no-op.
func (s *Supervisor) Stop(ctx context.Context, projectID string) error {
	unlock := s.lockProject(projectID)
	defer unlock()

	s.mu.Lock()
	e := s.servers[projectID]
	if e == nil {
		s.mu.Unlock()
		return removeLock(s.cfg.LockDir, projectID)
	}
	wasActive := e.active()
	if wasActive {
		e.status = registry.StatusStopping
		e.stopping = true
	}
	pid, done, cancel, recordID := e.pid, e.done, e.cancel, e.recordID
	adopted, startedAt := e.cmd == nil, e.startedAt
	rec := s.historyRecordLocked(e)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasActive {
		if adopted && !s.sameProcess(ctx, pid, startedAt) {
			s.logger.Warn("adopted pid no longer identifies the dev server, not signalling", "project", projectID, "pid", pid)
		} else {
			s.terminate(ctx, projectID, pid, done)
		}
	}

	e.fileMu.Lock()
	lockErr := removeLock(s.cfg.LockDir, projectID)
	var regErr error
	if recordID != "" {
		regErr = s.registry.Unregister(recordID)
	}
	e.fileMu.Unlock()

	s.mu.Lock()
	if wasActive || e.status == registry.StatusStopping {
		e.status = registry.StatusStopped
	}
	if regErr == nil {
		e.recordID = ""
	}
	s.mu.Unlock()

	if wasActive {
		metrics.IncServerStop()
		metrics.ForgetServer(projectID)
		rec.Status = string(registry.StatusStopped)
		s.history.Emit(ctx, history.EventServerStop, rec)
		s.logger.Info("dev server stopped", "project", projectID, "pid", pid)
	}
	return errors.Join(lockErr, regErr)
}

// terminate signals the process group and waits up to StopGrace before
// escalating to a kill.
func (s *Supervisor) terminate(ctx context.Context, projectID string, pid int, done <-chan struct{}) {
	if pid <= 0 {
		return
	}
	if err := terminate(pid); err != nil {
		s.logger.Warn("failed to signal dev server", "project", projectID, "pid", pid, "err", err)
	}
	if s.waitExit(ctx, pid, done, s.cfg.StopGrace) {
		return
	}
	s.logger.Warn("dev server ignored termination, killing", "project", projectID, "pid", pid)
	_ = kill(pid)
	s.waitExit(ctx, pid, done, killWait)
}

func (s *Supervisor) waitExit(ctx context.Context, pid int, done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	if done != nil {
		select {
		case <-done:
			return true
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if !pidAlive(pid) {
			return true
		}
		select {
		case <-tick.C:
		case <-timer.C:
			return !pidAlive(pid)
		case <-ctx.Done():
			return false
		}
	}
}

// StopAll stops every active server, used at daemon shutdown.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var errs []error
	for _, info := range s.List() {
		if info.Status == registry.StatusStopped || info.Status == registry.StatusError {
			continue
		}
		errs = append(errs, s.Stop(ctx, info.ProjectID))
	}
	return errors.Join(errs...)
}

// Status returns the server tracked for projectID.
func (s *Supervisor) Status(projectID string) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.servers[projectID]
	if !ok {
		return Info{}, false
	}
	return s.infoLocked(e), true
}

// List returns every server this supervisor tracks, ordered by project id.
func (s *Supervisor) List() []Info {
	s.mu.RLock()
	out := make([]Info, 0, len(s.servers))
	for _, e := range s.servers {
		out = append(out, s.infoLocked(e))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

// Logs returns captured lines for projectID at or after since, keeping the
// newest limit lines when limit > 0.
func (s *Supervisor) Logs(projectID string, since time.Time, limit int) ([]LogLine, error) {
	s.mu.RLock()
	e, ok := s.servers[projectID]
	s.mu.RUnlock()
	if !ok {
		return nil, errdefs.Wrap(errdefs.ErrNotFound, "project %s", projectID)
	}
	return e.logs.since(since, limit), nil
}

// MarkActive postpones the idle shutdown of projectID.
func (s *Supervisor) MarkActive(projectID string) {
	s.mu.Lock()
	if e, ok := s.servers[projectID]; ok {
		e.lastActivity = s.now()
	}
	s.mu.Unlock()
}

func (s *Supervisor) infoLocked(e *devServer) Info {
	return Info{
		ServerRecord: registry.ServerRecord{
			ID:            e.recordID,
			ProjectID:     e.projectID,
			ProjectName:   filepath.Base(e.root),
			ProjectRoot:   e.root,
			Port:          e.port,
			PID:           e.pid,
			Status:        e.status,
			PreviewURL:    e.previewURL,
			FrameworkName: e.framework,
			ActualCommand: e.command,
			StartedAt:     e.startedAt,
			LastSeen:      e.lastActivity,
			APIPort:       s.cfg.APIPort,
			Source:        registry.SourceManaged,
		},
		Error:        e.lastErr,
		LastActivity: e.lastActivity,
	}
}

func (s *Supervisor) historyRecordLocked(e *devServer) history.Record {
	return history.Record{
		ServerID:  e.recordID,
		ProjectID: e.projectID,
		PID:       e.pid,
		Port:      e.port,
		Status:    string(e.status),
		Source:    string(registry.SourceManaged),
		Command:   e.command,
		Detail:    e.lastErr,
	}
}

func (e *devServer) lockRecord() LockFileRecord {
	return LockFileRecord{
		ProjectID:   e.projectID,
		PID:         e.pid,
		Port:        e.port,
		StartedAt:   e.startedAt,
		PreviewURL:  e.previewURL,
		ProjectRoot: e.root,
	}
}

func previewURL(port int) string { return fmt.Sprintf("http://localhost:%d", port) }
