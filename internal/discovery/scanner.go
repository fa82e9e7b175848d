// Package discovery finds dev servers started outside previewd by checking
// well-known ports and folds the trustworthy ones into the registry.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/previewd/internal/detector"
	"github.com/loykin/previewd/internal/env"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/registry"
)

const (
	DefaultConcurrency = 8
	MinUserPort        = 1024
)

// Rejection reasons specific to discovery, in addition to detector's.
const (
	ReasonForeignUser  = "foreign_user"
	ReasonNotDevServer = "not_dev_server"
)

// ProjectNameVar in a project's .env overrides the display name of a
// discovered server.
const ProjectNameVar = "PREVIEWD_PROJECT_NAME"

// Registry is the subset of registry.Store the scanner needs.
type Registry interface {
	ListAll() []registry.ServerRecord
	FindByPortPID(port, pid int) (registry.ServerRecord, bool)
	Register(rec registry.ServerRecord) (registry.ServerRecord, error)
}

type Scanner struct {
	ports       []int
	concurrency int
	resolver    Resolver
	inspector   detector.Inspector
	owned       func(*detector.Snapshot) bool
	associator  Associator
	registry    Registry
	history     *history.Fanout
	logger      *slog.Logger
	apiPort     int
}

type Option func(*Scanner)

func WithResolver(r Resolver) Option { return func(s *Scanner) { s.resolver = r } }

func WithInspector(i detector.Inspector) Option { return func(s *Scanner) { s.inspector = i } }

// WithOwnership replaces the same-user check, for tests.
func WithOwnership(fn func(*detector.Snapshot) bool) Option { return func(s *Scanner) { s.owned = fn } }

func WithAssociator(a Associator) Option { return func(s *Scanner) { s.associator = a } }

// WithConcurrency bounds parallel port lookups. Values below 1 select the
// default.
func WithConcurrency(n int) Option { return func(s *Scanner) { s.concurrency = n } }

func WithHistory(f *history.Fanout) Option { return func(s *Scanner) { s.history = f } }

func WithLogger(l *slog.Logger) Option { return func(s *Scanner) { s.logger = l } }

// WithAPIPort tags discovered records with the scanning instance.
func WithAPIPort(p int) Option { return func(s *Scanner) { s.apiPort = p } }

// NewScanner returns a scanner probing ports. Privileged ports are dropped.
func NewScanner(reg Registry, ports []int, opts ...Option) *Scanner {
	s := &Scanner{
		ports:     userPorts(ports),
		resolver:  DefaultResolver(),
		inspector: detector.SystemInspector{},
		owned:     detector.OwnedByCurrentUser,
		registry:  reg,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.concurrency < 1 {
		s.concurrency = DefaultConcurrency
	}
	return s
}

// Ports returns the ports the scanner checks.
func (s *Scanner) Ports() []int { return slices.Clone(s.ports) }

func userPorts(in []int) []int {
	var out []int
	for _, p := range in {
		if p >= MinUserPort && p <= 65535 && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

type candidate struct {
	port int
	snap *detector.Snapshot
}

// Scan checks every port once and registers newly found servers, which are
// returned. Servers already registered under the same port and PID are
// skipped, as are listeners spawned by a server registered on that port.
// Discovery never removes records.
func (s *Scanner) Scan(ctx context.Context) ([]registry.ServerRecord, error) {
	var (
		mu    sync.Mutex
		found []candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, port := range s.ports {
		g.Go(func() error {
			if c, ok := s.inspectPort(gctx, port); ok {
				mu.Lock()
				found = append(found, c)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		metrics.IncDiscoveryScan(false)
		return nil, err
	}
	sort.Slice(found, func(i, j int) bool { return found[i].port < found[j].port })

	var (
		added []registry.ServerRecord
		errs  []error
	)
	known := s.registry.ListAll()
	for _, c := range found {
		if _, ok := s.registry.FindByPortPID(c.port, c.snap.PID); ok {
			continue
		}
		if holder, ok := s.servedBy(ctx, c, known); ok {
			s.logger.Debug("listener belongs to a registered server", "port", c.port, "pid", c.snap.PID, "project", holder.ProjectID, "holder_pid", holder.PID)
			continue
		}
		stored, err := s.registry.Register(s.recordFor(c))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		added = append(added, stored)
		metrics.IncDiscoveryRegistered(string(stored.Source))
		s.history.Emit(ctx, history.EventDiscovered, history.Record{
			ServerID:  stored.ID,
			ProjectID: stored.ProjectID,
			PID:       stored.PID,
			Port:      stored.Port,
			Status:    string(stored.Status),
			Source:    string(stored.Source),
			Command:   stored.ActualCommand,
		})
		s.logger.Info("discovered dev server", "port", stored.Port, "pid", stored.PID, "project", stored.ProjectID, "framework", stored.FrameworkName)
	}
	err := errors.Join(errs...)
	metrics.IncDiscoveryScan(err == nil)
	return added, err
}

// servedBy returns the active record on c's port whose process is the
// listener or one of its ancestors, such as a managed "npm run dev" whose
// node child holds the socket.
func (s *Scanner) servedBy(ctx context.Context, c candidate, recs []registry.ServerRecord) (registry.ServerRecord, bool) {
	holders := make(map[int]registry.ServerRecord)
	for _, r := range recs {
		if r.Port == c.port && r.PID > 0 && (r.Status == registry.StatusRunning || r.Status == registry.StatusStarting) {
			holders[r.PID] = r
		}
	}
	if len(holders) == 0 {
		return registry.ServerRecord{}, false
	}
	for _, pid := range detector.Lineage(ctx, s.inspector, c.snap.PID) {
		if r, ok := holders[pid]; ok {
			return r, true
		}
	}
	return registry.ServerRecord{}, false
}

func (s *Scanner) inspectPort(ctx context.Context, port int) (candidate, bool) {
	pid, err := s.resolver.ResolvePID(ctx, port)
	if err != nil {
		s.logger.Debug("port owner lookup failed", "port", port, "err", err)
		return candidate{}, false
	}
	if pid <= 0 {
		return candidate{}, false
	}
	snap, err := s.admit(ctx, pid)
	if err != nil {
		s.logger.Debug("discovery rejected process", "port", port, "pid", pid, "reason", detector.Reason(err), "err", err)
		return candidate{}, false
	}
	return candidate{port: port, snap: snap}, true
}

// admit runs the discovery validation chain. It is stricter than liveness
// rechecks: foreign users and orphans are rejected outright.
func (s *Scanner) admit(ctx context.Context, pid int) (*detector.Snapshot, error) {
	snap, err := s.inspector.Inspect(ctx, pid)
	if err != nil {
		reason := detector.ReasonInspectionFailed
		if errors.Is(err, detector.ErrProcessNotFound) {
			reason = detector.ReasonNotFound
		}
		return nil, s.rejected(&detector.RejectError{PID: pid, Reason: reason, Detail: err.Error()})
	}
	if !s.owned(snap) {
		return nil, s.rejected(&detector.RejectError{PID: pid, Reason: ReasonForeignUser, Detail: snap.Username})
	}
	if err := detector.Check(snap, detector.Expectation{NamePatterns: DevProcessNames}, detector.ModeDiscovery); err != nil {
		return nil, s.rejected(err)
	}
	if !looksLikeDevServer(snap.Cmdline) {
		return nil, s.rejected(&detector.RejectError{PID: pid, Reason: ReasonNotDevServer, Detail: snap.Cmdline})
	}
	return snap, nil
}

func (s *Scanner) rejected(err error) error {
	metrics.IncValidationRejection(detector.Reason(err))
	return err
}

func (s *Scanner) recordFor(c candidate) registry.ServerRecord {
	rec := registry.ServerRecord{
		ProjectID:     fmt.Sprintf("external:%d", c.port),
		ProjectRoot:   c.snap.Cwd,
		Port:          c.port,
		PID:           c.snap.PID,
		Status:        registry.StatusRunning,
		PreviewURL:    fmt.Sprintf("http://localhost:%d", c.port),
		FrameworkName: DetectFramework(c.snap.Cmdline),
		ActualCommand: c.snap.Cmdline,
		StartedAt:     c.snap.StartTime,
		APIPort:       s.apiPort,
		Source:        registry.SourceExternal,
	}
	if c.snap.Cwd != "" {
		rec.ProjectName = filepath.Base(c.snap.Cwd)
	}
	if s.associator == nil || c.snap.Cwd == "" {
		return rec
	}
	id, root, ok := s.associator.Associate(c.snap.Cwd)
	if !ok {
		return rec
	}
	// A crafted cwd must not steer env loading outside the safe roots.
	safe, err := env.SafeDir(root)
	if err != nil {
		s.logger.Warn("not associating discovered server with project", "port", c.port, "root", root, "err", err)
		return rec
	}
	rec.ProjectID = id
	rec.ProjectRoot = safe
	rec.ProjectName = filepath.Base(safe)
	vars, err := env.LoadProjectEnv(safe)
	if err != nil {
		s.logger.Warn("ignoring project env files", "root", safe, "err", err)
	}
	if name := vars[ProjectNameVar]; name != "" {
		rec.ProjectName = name
	}
	rec.Source = registry.SourceDiscovered
	return rec
}
