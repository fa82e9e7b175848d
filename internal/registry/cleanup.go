package registry

import (
	"context"

	"github.com/loykin/previewd/internal/detector"
	"github.com/loykin/previewd/internal/metrics"
)

// CleanupStale removes records whose last_seen is older than the stale
// timeout and whose process no longer validates. Stale records that still
// validate are kept untouched; records without a PID cannot be validated
// and are removed. The whole pass holds the commit lock so no writer can
// interleave with the scan. The removed records are returned.
func (s *Store) CleanupStale(ctx context.Context) ([]ServerRecord, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	cutoff := s.now().Add(-s.staleTimeout)
	var dead []ServerRecord
	for _, r := range s.ListAll() {
		if !r.LastSeen.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.PID > 0 && s.validator.IsLive(ctx, r.PID, expectationFor(r)) {
			s.logger.Debug("stale record still live", "id", r.ID, "pid", r.PID, "port", r.Port)
			continue
		}
		dead = append(dead, r)
	}
	if len(dead) == 0 {
		return nil, nil
	}
	err := s.commitLocked(func(m map[string]ServerRecord) (bool, error) {
		for _, r := range dead {
			delete(m, r.ID)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.AddStaleRemoved(len(dead))
	for _, r := range dead {
		s.logger.Info("removed stale server record", "id", r.ID, "project", r.ProjectID, "pid", r.PID, "port", r.Port)
	}
	return dead, nil
}

func expectationFor(r ServerRecord) detector.Expectation {
	return detector.Expectation{
		StartedAt:    r.StartedAt,
		NamePatterns: detector.InterpreterNames,
		Command:      r.ActualCommand,
	}
}
