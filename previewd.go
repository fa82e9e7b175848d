// Package previewd wires the registry, liveness validator, supervisor,
// discovery scanner and background loops into one embeddable daemon.
package previewd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/previewd/internal/config"
	"github.com/loykin/previewd/internal/detector"
	"github.com/loykin/previewd/internal/discovery"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/history/factory"
	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/registry"
	"github.com/loykin/previewd/internal/scheduler"
	iapi "github.com/loykin/previewd/internal/server"
	"github.com/loykin/previewd/internal/supervisor"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type ServerRecord = registry.ServerRecord

type Info = supervisor.Info

type LogLine = supervisor.LogLine

type HistorySink = history.Sink

// LoadConfig reads defaults, an optional TOML file and PREVIEWD_* variables.
func LoadConfig(path string, l *slog.Logger) (*Config, error) { return cfg.Load(path, l) }

// Daemon owns one previewd instance. It implements the HTTP service
// interface, so it can be handed to NewHTTPHandler directly.
type Daemon struct {
	cfg        *Config
	logger     *slog.Logger
	registry   *registry.Store
	validator  *detector.Validator
	supervisor *supervisor.Supervisor
	scanner    *discovery.Scanner
	history    *history.Fanout

	loops   scheduler.Group
	watchWg sync.WaitGroup
	cancel  context.CancelFunc
}

type options struct {
	logger    *slog.Logger
	inspector detector.Inspector
	resolver  discovery.Resolver
	sinks     []history.Sink
	supOpts   []supervisor.Option
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithInspector replaces OS process inspection for validation and discovery.
func WithInspector(i detector.Inspector) Option { return func(o *options) { o.inspector = i } }

// WithResolver replaces the platform port owner lookup used by discovery.
func WithResolver(r discovery.Resolver) Option { return func(o *options) { o.resolver = r } }

// WithHistorySinks adds sinks on top of those configured by history.dsn.
func WithHistorySinks(s ...HistorySink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s...) }
}

// WithSupervisorOptions passes options through to the supervisor.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(o *options) { o.supOpts = append(o.supOpts, opts...) }
}

// New builds a daemon from c and loads the registry file. Nothing runs in
// the background until Run.
func New(c *Config, opts ...Option) (*Daemon, error) {
	if c == nil {
		return nil, errors.New("previewd: nil config")
	}
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}

	sinks, err := factory.NewSinks(c.History.DSNs)
	if err != nil {
		return nil, err
	}
	fan := history.NewFanout(o.logger, append(sinks, o.sinks...)...)

	vopts := []detector.Option{detector.WithTolerance(c.Validation.PIDTolerance), detector.WithLogger(o.logger)}
	if o.inspector != nil {
		vopts = append(vopts, detector.WithInspector(o.inspector))
	}
	validator := detector.NewValidator(vopts...)

	reg := registry.New(c.RegistryPath(),
		registry.WithValidator(validator),
		registry.WithStaleTimeout(c.Registry.StaleTimeout),
		registry.WithLogger(o.logger))
	if err := reg.Load(); err != nil {
		_ = fan.Close()
		return nil, err
	}

	d := &Daemon{cfg: c, logger: o.logger, registry: reg, validator: validator, history: fan}

	supOpts := []supervisor.Option{
		supervisor.WithLogger(o.logger),
		supervisor.WithHistory(fan),
		supervisor.WithValidator(validator),
		supervisor.WithInspector(validator.Inspector()),
	}
	if o.resolver != nil {
		supOpts = append(supOpts, supervisor.WithPortOwner(o.resolver))
	}
	supOpts = append(supOpts, o.supOpts...)
	d.supervisor = supervisor.New(supervisor.Config{
		LockDir:     c.LockDir(),
		PortMin:     c.Supervisor.PortMin,
		PortMax:     c.Supervisor.PortMax,
		LogCapacity: c.Supervisor.LogCapacity,
		IdleTimeout: c.Supervisor.IdleTimeout,
		StopGrace:   c.Supervisor.StopGrace,
		APIPort:     c.APIPort(),
		LogFiles: logger.FileConfig{
			Dir:        c.LogDir,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}, reg, supOpts...)

	scanOpts := []discovery.Option{
		discovery.WithInspector(validator.Inspector()),
		discovery.WithAssociator(discovery.RootAssociator{Known: d.knownProjects}),
		discovery.WithConcurrency(c.Discovery.Concurrency),
		discovery.WithHistory(fan),
		discovery.WithLogger(o.logger),
		discovery.WithAPIPort(c.APIPort()),
	}
	if o.resolver != nil {
		scanOpts = append(scanOpts, discovery.WithResolver(o.resolver))
	}
	d.scanner = discovery.NewScanner(reg, c.Discovery.Ports, scanOpts...)
	return d, nil
}

// Run recovers servers left by a previous run, starts the registry watcher
// and the background loops, then returns. Call Close to stop them.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cancel != nil {
		return errors.New("previewd: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	n, err := d.supervisor.Recover(ctx)
	if err != nil {
		d.logger.Warn("lock file recovery incomplete", "err", err)
	}
	if n > 0 {
		d.logger.Info("recovered dev servers", "count", n)
	}

	d.watchWg.Add(1)
	go func() {
		defer d.watchWg.Done()
		err := d.registry.Watch(ctx, func(recs []registry.ServerRecord) {
			metrics.SetRegistryRecords(len(recs))
			d.logger.Debug("registry changed by another instance", "records", len(recs))
		})
		if err != nil {
			d.logger.Warn("registry watcher stopped", "err", err)
		}
	}()

	loops := []scheduler.Loop{
		{
			Name:     "cleanup",
			Interval: d.cfg.Registry.CleanupInterval,
			Task: func(ctx context.Context) error {
				_, err := d.Cleanup(ctx)
				return err
			},
			Logger: d.logger,
		},
		{
			Name:     "maintain",
			Interval: d.cfg.Registry.CleanupInterval,
			Task:     d.supervisor.Maintain,
			Logger:   d.logger,
		},
	}
	if d.cfg.Discovery.Enabled {
		loops = append(loops, scheduler.Loop{
			Name:     "discovery",
			Interval: d.cfg.Discovery.Interval,
			Task: func(ctx context.Context) error {
				_, err := d.Scan(ctx)
				return err
			},
			RunAtStart: true,
			Logger:     d.logger,
		})
	}
	d.loops.Start(ctx, loops...)
	return nil
}

// Close stops the background loops and every managed server, then closes
// the history sinks. Adopted servers are stopped too.
func (d *Daemon) Close(ctx context.Context) error {
	d.loops.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.watchWg.Wait()
	return errors.Join(d.supervisor.StopAll(ctx), d.history.Close())
}

func (d *Daemon) Start(ctx context.Context, projectID, root string, port int) (Info, error) {
	return d.supervisor.Start(ctx, projectID, root, port)
}

func (d *Daemon) Stop(ctx context.Context, projectID string) error {
	return d.supervisor.Stop(ctx, projectID)
}

// Status prefers the supervisor's view and falls back to the registry, so
// servers owned by another instance or found by discovery are reported too.
func (d *Daemon) Status(projectID string) (Info, bool) {
	if info, ok := d.supervisor.Status(projectID); ok {
		return info, true
	}
	recs := d.registry.FindByProject(projectID)
	if len(recs) == 0 {
		return Info{}, false
	}
	rec := recs[len(recs)-1]
	return Info{ServerRecord: rec, LastActivity: rec.LastSeen}, true
}

func (d *Daemon) Logs(projectID string, since time.Time, limit int) ([]LogLine, error) {
	return d.supervisor.Logs(projectID, since, limit)
}

func (d *Daemon) List() []ServerRecord { return d.registry.ListAll() }

func (d *Daemon) MarkActive(projectID string) { d.supervisor.MarkActive(projectID) }

// Scan runs one discovery pass.
func (d *Daemon) Scan(ctx context.Context) ([]ServerRecord, error) {
	added, err := d.scanner.Scan(ctx)
	metrics.SetRegistryRecords(len(d.registry.ListAll()))
	return added, err
}

// Cleanup runs one stale-record pass and reports each removal to history.
func (d *Daemon) Cleanup(ctx context.Context) ([]ServerRecord, error) {
	removed, err := d.registry.CleanupStale(ctx)
	for _, r := range removed {
		d.history.Emit(ctx, history.EventPruned, history.Record{
			ServerID:  r.ID,
			ProjectID: r.ProjectID,
			PID:       r.PID,
			Port:      r.Port,
			Status:    string(r.Status),
			Source:    string(r.Source),
			Detail:    "stale",
		})
	}
	metrics.SetRegistryRecords(len(d.registry.ListAll()))
	if removed == nil {
		removed = []ServerRecord{}
	}
	return removed, err
}

// Registry exposes the underlying store, mainly for one-shot CLI passes.
func (d *Daemon) Registry() *registry.Store { return d.registry }

// knownProjects feeds discovery's project association: managed servers and
// registry records that carry a real project id.
func (d *Daemon) knownProjects() []discovery.KnownProject {
	var out []discovery.KnownProject
	for _, info := range d.supervisor.List() {
		out = append(out, discovery.KnownProject{ID: info.ProjectID, Root: info.ProjectRoot})
	}
	for _, r := range d.registry.ListAll() {
		if r.Source == registry.SourceExternal || strings.HasPrefix(r.ProjectID, "external:") {
			continue
		}
		out = append(out, discovery.KnownProject{ID: r.ProjectID, Root: r.ProjectRoot})
	}
	return out
}

// NewHTTPHandler returns the gin API for d mounted at basePath, with
// /metrics when withMetrics is set.
func NewHTTPHandler(d *Daemon, basePath string, withMetrics bool) http.Handler {
	return iapi.NewRouter(d, basePath).WithMetrics(withMetrics).Handler()
}

// NewHTTPServer wraps NewHTTPHandler in an http.Server listening on addr.
func NewHTTPServer(addr, basePath string, d *Daemon, withMetrics bool) *http.Server {
	return iapi.NewServer(addr, NewHTTPHandler(d, basePath, withMetrics))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
