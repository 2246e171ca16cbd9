package parallel

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultQueueCapacity bounds the central log event queue. A
// configurable default, not a load-bearing exact value.
const DefaultQueueCapacity = 10000

// consumerGracePeriod bounds how long ExecuteParallel waits for the log
// consumer to drain after the batch finishes. Liveness takes priority
// over log completeness.
const consumerGracePeriod = 5 * time.Second

// TaskFunc is one named unit of concurrent work. The result-or-error
// contract is explicit in the signature: a task either returns a value
// or an error, never both.
type TaskFunc func(tc *TaskContext) (any, error)

// TaskResult is the per-task outcome of one batch.
type TaskResult struct {
	// Value is the task's return value; always nil when Err is set.
	Value   any
	Err     error
	Status  TaskStatus
	Elapsed time.Duration
	LogPath string
}

// logEvent carries one attributed output line from any producer to the
// single consumer.
type logEvent struct {
	task     string
	line     string
	sentinel bool
}

// taskRecord holds per-task state for the duration of one batch.
// Mutated only by the owning worker (via the executor's state lock);
// the consumer reads but never mutates.
type taskRecord struct {
	status TaskStatus
	start  time.Time
	finish time.Time
	buffer *LineBuffer
	value  any
	err    error
}

// Executor runs a fixed set of named tasks concurrently under a worker
// bound, serializes all cross-task console output through a single
// consumer goroutine, and persists one log file per task.
type Executor struct {
	// MaxWorkers bounds concurrent tasks; <=0 means one worker per task.
	MaxWorkers int
	// QueueCapacity bounds the log event queue (default 10,000).
	QueueCapacity int
	// BufferLimit bounds each task's line buffer (default 50,000).
	BufferLimit int
	// LogDir receives one log file per task; empty disables file logs.
	LogDir string
	// Out is the real console; only the consumer goroutine writes it
	// during a batch. Defaults to os.Stdout.
	Out io.Writer

	mu      sync.Mutex
	records map[string]*taskRecord
	events  chan logEvent
	dropped int
}

// New creates an executor with the given worker bound and log directory.
func New(maxWorkers int, logDir string) *Executor {
	return &Executor{
		MaxWorkers: maxWorkers,
		LogDir:     logDir,
		Out:        os.Stdout,
	}
}

// out returns the console writer.
func (e *Executor) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

// record appends a line to the task's buffer and forwards it to the
// consumer. Queue overflow drops the event; the buffer still has the
// line for the file log unless the buffer itself is full.
func (e *Executor) record(name, line string) {
	e.mu.Lock()
	rec := e.records[name]
	e.mu.Unlock()

	if rec == nil {
		return
	}
	rec.buffer.Append(line)

	// The send happens under the state lock: shutdown nils e.events
	// under the same lock before it may close the channel, so a
	// straggling producer never sends on a closed channel.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events == nil {
		return
	}
	select {
	case e.events <- logEvent{task: name, line: line}:
	default:
		e.dropped++
	}
}

// ExecuteParallel runs every task concurrently under the worker bound
// and returns one result per task name regardless of completion order.
// A task that returns an error (or panics) yields a nil Value and a
// Failed status; sibling tasks are unaffected.
func (e *Executor) ExecuteParallel(tasks map[string]TaskFunc) map[string]TaskResult {
	queueCap := e.QueueCapacity
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	workers := e.MaxWorkers
	if workers <= 0 {
		workers = len(tasks)
	}
	if workers < 1 {
		workers = 1
	}

	// Reset all per-batch state so nothing leaks from a prior batch.
	e.mu.Lock()
	e.records = make(map[string]*taskRecord, len(tasks))
	e.events = make(chan logEvent, queueCap)
	e.dropped = 0
	for name := range tasks {
		e.records[name] = &taskRecord{
			status: StatusPending,
			buffer: NewLineBuffer(e.BufferLimit),
		}
	}
	events := e.events
	e.mu.Unlock()

	slog.Info("Parallel: Starting batch",
		"tasks", len(tasks),
		"max_workers", workers,
		"queue_capacity", queueCap)

	consumerDone := make(chan struct{})
	go e.consume(events, consumerDone)

	// Synthetic timeline entry so logs cover tasks that wait on a busy pool.
	names := sortedNames(tasks)
	for _, name := range names {
		e.record(name, "Task queued")
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for name, fn := range tasks {
		wg.Add(1)
		go func(name string, fn TaskFunc) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			e.runTask(name, fn)
		}(name, fn)
	}
	wg.Wait()

	// Stop the consumer: sentinel, then bounded wait. A stuck consumer
	// must never block the batch.
	select {
	case events <- logEvent{sentinel: true}:
	default:
		// Queue full even for the sentinel. Detach producers before
		// closing, then the consumer exits once it drains.
		e.mu.Lock()
		e.events = nil
		e.mu.Unlock()
		close(events)
	}
	select {
	case <-consumerDone:
	case <-time.After(consumerGracePeriod):
		fmt.Fprintln(e.out(), "Warning: log consumer did not stop within grace period, continuing")
	}

	e.mu.Lock()
	e.events = nil
	dropped := e.dropped
	e.mu.Unlock()
	if dropped > 0 {
		slog.Warn("Parallel: Log events dropped due to full queue", "dropped", dropped)
	}

	logPaths := e.persistLogs(names)
	results := e.collectResults(names, logPaths)
	e.printSummary(names, results)
	return results
}

// runTask executes one task closure, capturing panics as failures
// routed through the task's own buffer, never the shared console.
func (e *Executor) runTask(name string, fn TaskFunc) {
	e.mu.Lock()
	rec := e.records[name]
	rec.status = StatusRunning
	rec.start = time.Now()
	e.mu.Unlock()

	e.record(name, "Task started")

	var value any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
				value = nil
				for _, line := range strings.Split(string(debug.Stack()), "\n") {
					if line != "" {
						e.record(name, StderrMarker+line)
					}
				}
			}
		}()
		value, err = fn(&TaskContext{name: name, executor: e})
	}()

	e.mu.Lock()
	rec.finish = time.Now()
	if err != nil {
		rec.status = StatusFailed
		rec.err = err
		rec.value = nil
	} else {
		rec.status = StatusCompleted
		rec.value = value
	}
	e.mu.Unlock()

	if err != nil {
		e.record(name, StderrMarker+fmt.Sprintf("Task failed: %v", err))
	} else {
		e.record(name, "Task completed")
	}
}

// consume is the single goroutine permitted to write the shared console
// during a batch, eliminating interleaving at the source.
func (e *Executor) consume(events <-chan logEvent, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		if ev.sentinel {
			return
		}
		// A crash handling one event must not stop consumption of the rest.
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Parallel: Panic in log consumer", "panic", r)
				}
			}()
			prefix := "[" + ev.task + "] "
			if strings.HasPrefix(ev.line, prefix) {
				// Inner layer already tagged the line (e.g. SSH streaming).
				fmt.Fprintln(e.out(), ev.line)
				return
			}
			fmt.Fprintln(e.out(), prefix+ev.line)
		}()
	}
}

// persistLogs writes one file per task under LogDir. A failure for one
// task's log never prevents the others from being written.
func (e *Executor) persistLogs(names []string) map[string]string {
	paths := make(map[string]string, len(names))
	if e.LogDir == "" {
		return paths
	}
	if err := os.MkdirAll(e.LogDir, 0755); err != nil {
		slog.Warn("Parallel: Cannot create log directory", "dir", e.LogDir, "error", err)
		return paths
	}

	for _, name := range names {
		e.mu.Lock()
		rec := e.records[name]
		e.mu.Unlock()

		path := filepath.Join(e.LogDir, Slug(name)+".log")
		content := strings.Join(rec.buffer.Lines(), "\n") + "\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			slog.Warn("Parallel: Failed to write task log", "task", name, "path", path, "error", err)
			continue
		}
		paths[name] = path
	}
	return paths
}

// collectResults copies per-task outcomes out of the batch records.
func (e *Executor) collectResults(names []string, logPaths map[string]string) map[string]TaskResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make(map[string]TaskResult, len(names))
	for _, name := range names {
		rec := e.records[name]
		elapsed := time.Duration(0)
		if !rec.start.IsZero() && !rec.finish.IsZero() {
			elapsed = rec.finish.Sub(rec.start)
		}
		results[name] = TaskResult{
			Value:   rec.value,
			Err:     rec.err,
			Status:  rec.status,
			Elapsed: elapsed,
			LogPath: logPaths[name],
		}
	}
	return results
}

// printSummary prints one line per task, sorted by name for determinism.
func (e *Executor) printSummary(names []string, results map[string]TaskResult) {
	fmt.Fprintln(e.out(), "Task summary:")
	for _, name := range names {
		r := results[name]
		line := fmt.Sprintf("  %-24s %-10s %8.2fs", name, r.Status, r.Elapsed.Seconds())
		if r.LogPath != "" {
			line += fmt.Sprintf("  (log: %s)", r.LogPath)
		}
		if r.Err != nil {
			line += fmt.Sprintf("  error: %v", r.Err)
		}
		fmt.Fprintln(e.out(), line)
	}
}

// Slug converts a task name into a filesystem-safe log file name.
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// sortedNames returns the task names in lexical order.
func sortedNames(tasks map[string]TaskFunc) []string {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
