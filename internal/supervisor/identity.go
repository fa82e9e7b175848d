package supervisor

import (
	"context"
	"slices"
	"time"

	"github.com/loykin/previewd/internal/detector"
)

const (
	listenAttempts = 5
	listenInterval = 100 * time.Millisecond
)

// sameProcess reports whether pid is still the process started at
// startedAt. A recycled pid fails the start time check.
func (s *Supervisor) sameProcess(ctx context.Context, pid int, startedAt time.Time) bool {
	if pid <= 0 {
		return false
	}
	return s.validator.IsLive(ctx, pid, detector.Expectation{StartedAt: startedAt})
}

// servesPort reports whether the server whose root process is pid holds
// port. The port must be bound, and when its owner can be resolved the
// owner must be pid or one of its descendants.
func (s *Supervisor) servesPort(ctx context.Context, pid, port int) bool {
	bound := false
	for i := 0; i < listenAttempts; i++ {
		if !s.portFree(port) {
			bound = true
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(listenInterval):
		}
	}
	if !bound {
		return false
	}
	owner, err := s.portOwner.ResolvePID(ctx, port)
	if err != nil || owner <= 0 {
		s.logger.Debug("port owner unknown, trusting announcement", "pid", pid, "port", port, "err", err)
		return true
	}
	return slices.Contains(detector.Lineage(ctx, s.inspector, owner), pid)
}
