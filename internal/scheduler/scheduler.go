// Package scheduler runs the daemon's periodic background work.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Task is one pass of periodic work.
type Task func(ctx context.Context) error

// Loop runs a Task on a fixed interval until its context is cancelled. A
// failed pass is logged and the loop waits for the next tick.
type Loop struct {
	Name     string
	Interval time.Duration
	Task     Task
	// RunAtStart runs one pass immediately instead of waiting a full interval.
	RunAtStart bool
	Logger     *slog.Logger
}

// Run blocks until ctx is done.
func (l Loop) Run(ctx context.Context) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := l.Interval
	if interval <= 0 {
		interval = time.Second
	}
	logger = logger.With("loop", l.Name)
	if l.RunAtStart {
		l.once(ctx, logger)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("background loop stopped")
			return
		case <-t.C:
			l.once(ctx, logger)
		}
	}
}

func (l Loop) once(ctx context.Context, logger *slog.Logger) {
	start := time.Now()
	err := l.Task(ctx)
	switch {
	case err == nil:
		logger.Debug("background pass finished", "took", time.Since(start))
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
	default:
		logger.Warn("background pass failed", "err", err)
	}
}

// Group starts several loops and waits for all of them to exit.
type Group struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// Start runs loops under a context derived from ctx. Calling Start on a
// running group is a no-op.
func (g *Group) Start(ctx context.Context, loops ...Loop) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)
	for _, l := range loops {
		g.wg.Add(1)
		go func(l Loop) {
			defer g.wg.Done()
			l.Run(ctx)
		}(l)
	}
}

// Stop cancels every loop and waits for them to return.
func (g *Group) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	g.wg.Wait()
}
