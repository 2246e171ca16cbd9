package workload

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor records executed SQL and answers from a script.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	failOn   map[string]error
	panicOn  string
	elapsed  float64
}

func (f *fakeExecutor) QueryTimed(_ context.Context, query string) (float64, int64, error) {
	f.mu.Lock()
	f.executed = append(f.executed, query)
	elapsed := f.elapsed
	f.mu.Unlock()

	if f.panicOn != "" && query == f.panicOn {
		panic("driver: nil cursor")
	}
	if err, ok := f.failOn[query]; ok {
		return 0, 0, err
	}
	if elapsed == 0 {
		elapsed = 1.5
	}
	return elapsed, 42, nil
}

func (f *fakeExecutor) executedQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func TestBuildPlan_Deterministic(t *testing.T) {
	queries := map[string]string{"q03": "SELECT 3", "q01": "SELECT 1", "q02": "SELECT 2"}

	plan := BuildPlan(queries, 2, false, 0)
	require.Len(t, plan, 6)

	// Name-ordered within each pass, passes in run order.
	assert.Equal(t, PlannedRun{"q01", "SELECT 1", 1}, plan[0])
	assert.Equal(t, PlannedRun{"q02", "SELECT 2", 1}, plan[1])
	assert.Equal(t, PlannedRun{"q03", "SELECT 3", 1}, plan[2])
	assert.Equal(t, 2, plan[3].Run)
}

func TestBuildPlan_SeededShuffle(t *testing.T) {
	queries := map[string]string{
		"q01": "1", "q02": "2", "q03": "3", "q04": "4",
		"q05": "5", "q06": "6", "q07": "7", "q08": "8",
	}

	a := BuildPlan(queries, 3, true, 17)
	b := BuildPlan(queries, 3, true, 17)
	c := BuildPlan(queries, 3, true, 99)

	assert.Equal(t, a, b, "same seed must reproduce the same order")
	assert.NotEqual(t, a, c, "different seed should reorder")
	assert.Len(t, a, 24)

	// Shuffle permutes, never drops.
	counts := map[string]int{}
	for _, run := range a {
		counts[run.Query]++
	}
	for name, n := range counts {
		assert.Equal(t, 3, n, name)
	}
}

func TestPartitionPlan_RoundRobin(t *testing.T) {
	plan := BuildPlan(map[string]string{"q1": "1", "q2": "2"}, 2, false, 0)
	require.Len(t, plan, 4)

	streams := PartitionPlan(plan, 2)
	require.Len(t, streams, 2)
	assert.Len(t, streams[0], 2)
	assert.Len(t, streams[1], 2)
	assert.Equal(t, "q1", streams[0][0].Query)
	assert.Equal(t, "q2", streams[1][0].Query)

	// More streams than runs leaves trailing streams empty.
	sparse := PartitionPlan(plan[:1], 3)
	assert.Len(t, sparse[0], 1)
	assert.Empty(t, sparse[1])
	assert.Empty(t, sparse[2])

	// Zero streams collapses to one.
	single := PartitionPlan(plan, 0)
	require.Len(t, single, 1)
	assert.Len(t, single[0], 4)
}

func TestWorkload_Run_TwoStreams(t *testing.T) {
	exec := &fakeExecutor{}
	w := &Workload{
		System:       "ch-1",
		Exec:         exec,
		Queries:      map[string]string{"q1": "SELECT 1", "q2": "SELECT 2"},
		RunsPerQuery: 2,
		NumStreams:   2,
	}

	results, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)

	// Each stream owns half the plan.
	perStream := map[int]int{}
	perQuery := map[string]int{}
	for _, row := range results {
		perStream[row.Stream]++
		perQuery[row.Query]++
		assert.True(t, row.Success)
		assert.Equal(t, "ch-1", row.System)
		assert.Equal(t, int64(42), row.Rows)
		assert.Greater(t, row.ElapsedMS, 0.0)
	}
	assert.Equal(t, map[int]int{0: 2, 1: 2}, perStream)
	assert.Equal(t, map[string]int{"q1": 2, "q2": 2}, perQuery)
}

func TestWorkload_FailureProducesRow(t *testing.T) {
	exec := &fakeExecutor{failOn: map[string]error{"SELECT bad": errors.New("syntax error")}}
	w := &Workload{
		System:       "pg-1",
		Exec:         exec,
		Queries:      map[string]string{"good": "SELECT 1", "bad": "SELECT bad"},
		RunsPerQuery: 1,
		NumStreams:   1,
	}

	results, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byQuery := map[string]QueryResult{}
	for _, row := range results {
		byQuery[row.Query] = row
	}

	assert.True(t, byQuery["good"].Success)
	failed := byQuery["bad"]
	assert.False(t, failed.Success)
	assert.Equal(t, 0.0, failed.ElapsedMS)
	assert.Contains(t, failed.Error, "syntax error")
}

// TestWorkload_PanicProducesRow tests that a driver panic inside one
// query becomes a failed row and the remaining queries and streams keep
// running.
func TestWorkload_PanicProducesRow(t *testing.T) {
	exec := &fakeExecutor{panicOn: "SELECT boom"}
	w := &Workload{
		System:       "ora-1",
		Exec:         exec,
		Queries:      map[string]string{"q01": "SELECT 1", "q02": "SELECT boom", "q03": "SELECT 3", "q04": "SELECT 4"},
		RunsPerQuery: 1,
		NumStreams:   2,
	}

	results, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)

	byQuery := map[string]QueryResult{}
	for _, row := range results {
		byQuery[row.Query] = row
	}

	panicked := byQuery["q02"]
	assert.False(t, panicked.Success)
	assert.Equal(t, 0.0, panicked.ElapsedMS)
	assert.Contains(t, panicked.Error, "panicked")
	assert.Contains(t, panicked.Error, "nil cursor")

	for _, name := range []string{"q01", "q03", "q04"} {
		assert.True(t, byQuery[name].Success, name)
	}
}

func TestWorkload_WarmupSequentialAndDiscarded(t *testing.T) {
	exec := &fakeExecutor{}
	var lines []string
	w := &Workload{
		System:       "ex-1",
		Exec:         exec,
		Queries:      map[string]string{"q1": "SELECT 1"},
		RunsPerQuery: 1,
		WarmupRuns:   2,
		NumStreams:   1,
		Progress:     func(line string) { lines = append(lines, line) },
	}

	results, err := w.Run(context.Background())
	require.NoError(t, err)

	// Warmup runs execute but produce no result rows.
	assert.Len(t, results, 1)
	assert.Len(t, exec.executedQueries(), 3)

	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "Warmup")
}

func TestWorkload_NoQueries(t *testing.T) {
	w := &Workload{System: "pg", Exec: &fakeExecutor{}}
	_, err := w.Run(context.Background())
	assert.Error(t, err)
}

func TestWorkload_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &Workload{
		System:       "pg",
		Exec:         &fakeExecutor{},
		Queries:      map[string]string{"q1": "SELECT 1"},
		RunsPerQuery: 5,
		NumStreams:   1,
	}

	results, err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
