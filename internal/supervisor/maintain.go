package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/loykin/previewd/internal/metrics"
)

// Maintain is the periodic upkeep pass. It notices adopted servers that
// died or whose pid was reused, refreshes last_seen of live servers in the
// registry, samples their resource usage and stops servers idle for longer
// than IdleTimeout.
func (s *Supervisor) Maintain(ctx context.Context) error {
	now := s.now()
	type target struct {
		e         *devServer
		pid       int
		startedAt time.Time
		recordID  string
		adopted   bool
		idle      bool
	}
	var targets []target
	s.mu.RLock()
	for _, e := range s.servers {
		if !e.active() {
			continue
		}
		targets = append(targets, target{
			e:         e,
			pid:       e.pid,
			startedAt: e.startedAt,
			recordID:  e.recordID,
			adopted:   e.cmd == nil,
			idle:      s.cfg.IdleTimeout > 0 && now.Sub(e.lastActivity) > s.cfg.IdleTimeout,
		})
	}
	s.mu.RUnlock()

	var ids, idle []string
	for _, t := range targets {
		if t.adopted && !s.sameProcess(ctx, t.pid, t.startedAt) {
			s.exited(t.e, nil)
			continue
		}
		if t.recordID != "" {
			ids = append(ids, t.recordID)
		}
		if u, err := metrics.SampleUsage(ctx, t.pid); err == nil {
			metrics.SetServerUsage(t.e.projectID, u)
		}
		if t.idle {
			idle = append(idle, t.e.projectID)
		}
	}

	var errs []error
	if len(ids) > 0 {
		errs = append(errs, s.registry.Touch(ids...))
	}
	for _, id := range idle {
		s.logger.Info("stopping idle dev server", "project", id, "idle_timeout", s.cfg.IdleTimeout)
		errs = append(errs, s.Stop(ctx, id))
	}
	return errors.Join(errs...)
}
