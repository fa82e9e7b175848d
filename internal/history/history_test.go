package history

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error { m.closed = true; return nil }

func TestFanoutDeliversToAllSinks(t *testing.T) {
	a, b := &memSink{}, &memSink{}
	f := NewFanout(nil, a, b)
	assert.Equal(t, 2, f.Len())

	f.Emit(context.Background(), EventServerStart, Record{ServerID: "s1", ProjectID: "p", Port: 4000})
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, EventServerStart, a.events[0].Type)
	assert.Equal(t, "s1", b.events[0].Record.ServerID)
	assert.False(t, a.events[0].OccurredAt.IsZero())
}

func TestFanoutLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	bad, good := &memSink{err: errors.New("down")}, &memSink{}
	f := NewFanout(slog.New(slog.NewTextHandler(&buf, nil)), bad, good)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Emit(ctx, EventPruned, Record{ServerID: "x"})
	assert.Len(t, good.events, 1, "a cancelled caller context must not drop deliveries")
	assert.Contains(t, buf.String(), "history sink send failed")

	require.NoError(t, f.Close())
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
}

func TestNilFanout(t *testing.T) {
	var f *Fanout
	f.Emit(context.Background(), EventServerStop, Record{})
	assert.Equal(t, 0, f.Len())
	assert.NoError(t, f.Close())
}
