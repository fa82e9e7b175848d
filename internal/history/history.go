package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventServerStart EventType = "server_start"
	EventServerStop  EventType = "server_stop"
	EventServerExit  EventType = "server_exit"
	EventPortChange  EventType = "port_change"
	EventDiscovered  EventType = "discovered"
	EventPruned      EventType = "pruned"
)

// Record is the server state attached to an event.
type Record struct {
	ServerID  string `json:"server_id"`
	ProjectID string `json:"project_id"`
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	Status    string `json:"status"`
	Source    string `json:"source"`
	Command   string `json:"command,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single delivery to one sink.
const DefaultSendTimeout = 5 * time.Second

// Fanout delivers each event to every sink. Delivery failures are logged
// and never returned to the caller. A nil *Fanout discards events.
type Fanout struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
}

func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: append([]Sink(nil), sinks...), logger: logger, timeout: DefaultSendTimeout}
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Emit stamps the event time and sends it to all sinks.
func (f *Fanout) Emit(ctx context.Context, typ EventType, rec Record) {
	if f == nil || len(f.sinks) == 0 {
		return
	}
	evt := Event{Type: typ, OccurredAt: time.Now().UTC(), Record: rec}
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		if err := s.Send(sctx, evt); err != nil {
			f.logger.Warn("history sink send failed", "event", typ, "err", err)
		}
		cancel()
	}
}

// Close closes every sink that implements io.Closer.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
