package parallel

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// StderrMarker prefixes recorded lines that originated on the error
// channel, so a unified per-task log preserves stream origin.
const StderrMarker = "[stderr] "

// TaskContext is the explicit logging handle handed to every task.
// Each task receives its own context instead of relying on ambient
// redirection of a shared global output channel, so attribution never
// depends on which goroutine happens to be writing.
type TaskContext struct {
	name     string
	executor *Executor
}

// Name returns the task name used for log attribution.
func (tc *TaskContext) Name() string {
	return tc.name
}

// Log records one line of task output.
func (tc *TaskContext) Log(line string) {
	tc.executor.record(tc.name, line)
}

// Logf records one formatted line of task output.
func (tc *TaskContext) Logf(format string, args ...any) {
	tc.executor.record(tc.name, fmt.Sprintf(format, args...))
}

// Error records one line on the error channel.
func (tc *TaskContext) Error(line string) {
	tc.executor.record(tc.name, StderrMarker+line)
}

// Errorf records one formatted line on the error channel.
func (tc *TaskContext) Errorf(format string, args ...any) {
	tc.executor.record(tc.name, StderrMarker+fmt.Sprintf(format, args...))
}

// Recorder returns a callback that records lines attributed to this
// task. Hand it to code that manages its own line-oriented streaming
// (e.g. SSH output capture) where a context is impractical to thread.
func (tc *TaskContext) Recorder() func(line string) {
	name := tc.name
	ex := tc.executor
	return func(line string) {
		ex.record(name, line)
	}
}

// Writer returns an io.Writer that buffers partial text and records
// completed lines as soon as a newline is seen. marker is prepended to
// every recorded line ("" for stdout, StderrMarker for stderr). Callers
// must Close the writer so a trailing partial line is flushed.
func (tc *TaskContext) Writer(marker string) io.WriteCloser {
	return &lineWriter{tc: tc, marker: marker}
}

// lineWriter adapts stream-style writes into line-oriented records.
type lineWriter struct {
	tc     *TaskContext
	marker string

	mu      sync.Mutex
	partial strings.Builder
}

// Write buffers p, flushing each completed line to the recorder.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			w.tc.executor.record(w.tc.name, w.marker+w.partial.String())
			w.partial.Reset()
			continue
		}
		w.partial.WriteByte(b)
	}
	return len(p), nil
}

// Close flushes any remaining partial line.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.partial.Len() > 0 {
		w.tc.executor.record(w.tc.name, w.marker+w.partial.String())
		w.partial.Reset()
	}
	return nil
}
