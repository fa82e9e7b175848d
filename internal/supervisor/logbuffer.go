package supervisor

import (
	"sync"
	"time"
)

// Stream tags where a captured line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	// StreamInfo marks stderr lines that are really HTTP access logs.
	StreamInfo Stream = "info"
)

// DefaultLogCapacity is the per-project line limit.
const DefaultLogCapacity = 1000

// LogLine is one captured output line.
type LogLine struct {
	Time   time.Time `json:"time"`
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
}

// logBuffer is a fixed-size ring of log lines; the oldest line is evicted
// once full.
type logBuffer struct {
	mu    sync.RWMutex
	lines []LogLine
	start int
	count int
}

func newLogBuffer(capacity int) *logBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &logBuffer{lines: make([]LogLine, capacity)}
}

func (b *logBuffer) add(l LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.lines)
	if b.count < n {
		b.lines[(b.start+b.count)%n] = l
		b.count++
		return
	}
	b.lines[b.start] = l
	b.start = (b.start + 1) % n
}

// since returns lines at or after t in arrival order. A zero t returns
// everything; limit > 0 keeps only the newest limit lines.
func (b *logBuffer) since(t time.Time, limit int) []LogLine {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.lines)
	out := make([]LogLine, 0, b.count)
	for i := 0; i < b.count; i++ {
		l := b.lines[(b.start+i)%n]
		if !t.IsZero() && l.Time.Before(t) {
			continue
		}
		out = append(out, l)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (b *logBuffer) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
