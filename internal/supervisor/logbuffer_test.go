package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogBufferEvictsOldest(t *testing.T) {
	b := newLogBuffer(3)
	base := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		b.add(LogLine{Time: base.Add(time.Duration(i) * time.Second), Stream: StreamStdout, Text: string(rune('a' + i))})
	}
	assert.Equal(t, 3, b.len())

	got := b.since(time.Time{}, 0)
	texts := make([]string, 0, len(got))
	for _, l := range got {
		texts = append(texts, l.Text)
	}
	assert.Equal(t, []string{"c", "d", "e"}, texts)
}

func TestLogBufferSinceAndLimit(t *testing.T) {
	b := newLogBuffer(10)
	base := time.Unix(1000, 0)
	for i := 0; i < 6; i++ {
		b.add(LogLine{Time: base.Add(time.Duration(i) * time.Second), Text: string(rune('a' + i))})
	}

	got := b.since(base.Add(2*time.Second), 0)
	assert.Len(t, got, 4)
	assert.Equal(t, "c", got[0].Text)

	got = b.since(time.Time{}, 2)
	assert.Len(t, got, 2)
	assert.Equal(t, "e", got[0].Text)
	assert.Equal(t, "f", got[1].Text)
}

func TestLogBufferDefaultCapacity(t *testing.T) {
	b := newLogBuffer(0)
	assert.Len(t, b.lines, DefaultLogCapacity)
}
