package parallel

import "sync"

// TruncationWarning is appended exactly once when a LineBuffer overflows.
const TruncationWarning = "... output truncated (buffer limit reached), further lines dropped ..."

// DefaultBufferLimit bounds the number of lines one task may buffer.
// A configurable default, not a load-bearing exact value.
const DefaultBufferLimit = 50000

// LineBuffer is a bounded, thread-safe, append-only line buffer.
// Overflow policy: drop-newest after a single truncation-warning line.
type LineBuffer struct {
	mu        sync.Mutex
	limit     int
	lines     []string
	truncated bool
}

// NewLineBuffer creates a buffer bounded to limit lines. A non-positive
// limit falls back to DefaultBufferLimit.
func NewLineBuffer(limit int) *LineBuffer {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &LineBuffer{limit: limit}
}

// Append adds a line, returning false when the line was dropped because
// the buffer is full. The first overflowing append records the
// truncation warning; subsequent appends are silently dropped.
func (b *LineBuffer) Append(line string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines) < b.limit {
		b.lines = append(b.lines, line)
		return true
	}
	if !b.truncated {
		b.lines = append(b.lines, TruncationWarning)
		b.truncated = true
	}
	return false
}

// Lines returns a copy of the buffered lines in append order.
func (b *LineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len returns the number of buffered lines, including any warning line.
func (b *LineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Truncated reports whether the buffer has overflowed.
func (b *LineBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
