package artifact

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_RunLifecycle(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, h.BeginRun(ctx, "run-1", "bench.yaml", 10))
	require.NoError(t, h.InsertResults(ctx, "run-1", "postgres", sampleResults()))
	require.NoError(t, h.FinishRun(ctx, "run-1"))

	runs, err := h.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, 10, run.ScaleFactor)
	assert.Equal(t, 2, run.Queries)
	assert.Equal(t, 1, run.Failures)
	assert.Equal(t, []string{"pg-1"}, run.Systems)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
}

func TestHistory_ResultsForRun(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, h.BeginRun(ctx, "run-2", "bench.yaml", 1))
	written := sampleResults()
	require.NoError(t, h.InsertResults(ctx, "run-2", "postgres", written))

	results, err := h.ResultsForRun(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "q01", results[0].Query)
	assert.True(t, results[0].Success)
	assert.Equal(t, 120.5, results[0].ElapsedMS)
	assert.False(t, results[1].Success)
	assert.Equal(t, "relation missing", results[1].Error)
}

// TestHistory_RecentRunsUnfinished covers runs that never got a
// completion stamp alongside finished ones, with stored results on
// every run so each needs its own system lookup.
func TestHistory_RecentRunsUnfinished(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, h.BeginRun(ctx, "done", "bench.yaml", 1))
	require.NoError(t, h.InsertResults(ctx, "done", "postgres", sampleResults()))
	require.NoError(t, h.FinishRun(ctx, "done"))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, h.BeginRun(ctx, "aborted", "bench.yaml", 1))
	require.NoError(t, h.InsertResults(ctx, "aborted", "postgres", sampleResults()))

	runs, err := h.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	aborted := runs[0]
	assert.Equal(t, "aborted", aborted.RunID)
	assert.Equal(t, aborted.StartedAt, aborted.FinishedAt)
	assert.Equal(t, []string{"pg-1"}, aborted.Systems)

	done := runs[1]
	assert.Equal(t, "done", done.RunID)
	assert.True(t, done.FinishedAt.After(done.StartedAt))
	assert.Equal(t, []string{"pg-1"}, done.Systems)
}

func TestHistory_RecentRunsOrder(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, h.BeginRun(ctx, "old", "a.yaml", 1))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, h.BeginRun(ctx, "new", "b.yaml", 1))

	runs, err := h.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "old", runs[1].RunID)

	limited, err := h.RecentRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
