// Package parallel provides unit tests for the bounded line buffer and
// the line-oriented writer adapter.
package parallel

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLineBuffer_Bound tests the drop-newest-after-single-warning policy:
// overflowing the buffer appends exactly one truncation line and nothing
// further grows.
func TestLineBuffer_Bound(t *testing.T) {
	const limit = 100
	b := NewLineBuffer(limit)

	for i := 0; i < limit; i++ {
		assert.True(t, b.Append(fmt.Sprintf("line %d", i)))
	}
	assert.False(t, b.Truncated())

	// First overflow appends the warning, reports the line dropped.
	assert.False(t, b.Append("overflow 1"))
	assert.True(t, b.Truncated())
	assert.Equal(t, limit+1, b.Len())

	// Further overflows are silently dropped with no growth.
	for i := 0; i < 50; i++ {
		assert.False(t, b.Append("overflow"))
	}
	assert.Equal(t, limit+1, b.Len())

	lines := b.Lines()
	require.Len(t, lines, limit+1)
	assert.Equal(t, "line 0", lines[0])
	assert.Equal(t, TruncationWarning, lines[limit])

	// The warning appears exactly once.
	count := 0
	for _, line := range lines {
		if line == TruncationWarning {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// TestLineBuffer_DefaultLimit tests the fallback for non-positive limits.
func TestLineBuffer_DefaultLimit(t *testing.T) {
	b := NewLineBuffer(0)
	assert.True(t, b.Append("x"))
	assert.Equal(t, 1, b.Len())
}

// TestLineWriter_PartialLines tests that the writer adapter buffers
// partial text and flushes completed lines on newline, with a final
// flush on Close for the trailing partial line.
func TestLineWriter_PartialLines(t *testing.T) {
	e := New(1, t.TempDir())
	e.Out = &syncBuffer{}

	results := e.ExecuteParallel(map[string]TaskFunc{
		"w": func(tc *TaskContext) (any, error) {
			w := tc.Writer("")
			w.Write([]byte("first "))
			w.Write([]byte("half\nsecond line\ntrail"))
			w.Close()
			return nil, nil
		},
	})
	require.NoError(t, results["w"].Err)

	content := readLog(t, results["w"].LogPath)
	assert.Contains(t, content, "first half\n")
	assert.Contains(t, content, "second line\n")
	assert.Contains(t, content, "trail")
	// Partial text is never recorded before its newline (or Close).
	assert.NotContains(t, content, "first \n")
}

// TestTaskContext_Recorder tests the direct recorder callback bypass.
func TestTaskContext_Recorder(t *testing.T) {
	e := New(1, t.TempDir())
	e.Out = &syncBuffer{}

	results := e.ExecuteParallel(map[string]TaskFunc{
		"r": func(tc *TaskContext) (any, error) {
			rec := tc.Recorder()
			rec("from a streaming callback")
			return nil, nil
		},
	})

	content := readLog(t, results["r"].LogPath)
	assert.Contains(t, content, "from a streaming callback")
}

// TestLineWriter_StderrMarker tests that error-channel lines carry the
// [stderr] prefix in the task buffer.
func TestLineWriter_StderrMarker(t *testing.T) {
	e := New(1, t.TempDir())
	e.Out = &syncBuffer{}

	results := e.ExecuteParallel(map[string]TaskFunc{
		"m": func(tc *TaskContext) (any, error) {
			w := tc.Writer(StderrMarker)
			w.Write([]byte("bad thing happened\n"))
			w.Close()
			tc.Errorf("also %s", "bad")
			return nil, nil
		},
	})

	content := readLog(t, results["m"].LogPath)
	assert.Contains(t, content, "[stderr] bad thing happened")
	assert.Contains(t, content, "[stderr] also bad")
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	require.NotEmpty(t, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
