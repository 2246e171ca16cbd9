package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whhaicheng/benchforge/internal/domain/workload"
)

func results() []workload.QueryResult {
	return []workload.QueryResult{
		{System: "pg", Query: "q01", Run: 1, Success: true, ElapsedMS: 100},
		{System: "pg", Query: "q01", Run: 2, Success: true, ElapsedMS: 200},
		{System: "pg", Query: "q01", Run: 3, Success: true, ElapsedMS: 400},
		{System: "pg", Query: "q02", Run: 1, Success: true, ElapsedMS: 50},
		{System: "pg", Query: "q02", Run: 2, Success: false, Error: "boom"},
		{System: "ch", Query: "q01", Run: 1, Success: true, ElapsedMS: 30},
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize("run-9", 10, results())

	assert.Equal(t, "run-9", summary.RunID)
	assert.Equal(t, 10, summary.ScaleFactor)
	require.Len(t, summary.Systems, 2)

	// Sorted by system name.
	assert.Equal(t, "ch", summary.Systems[0].System)
	assert.Equal(t, "pg", summary.Systems[1].System)

	pg := summary.Systems[1]
	assert.Equal(t, 5, pg.TotalRuns)
	assert.Equal(t, 1, pg.Failures)
	require.Len(t, pg.QueryResults, 2)

	q01 := pg.QueryResults[0]
	assert.Equal(t, "q01", q01.Query)
	assert.Equal(t, 3, q01.Runs)
	assert.Equal(t, 0, q01.Failures)
	assert.Equal(t, 100.0, q01.MinMS)
	assert.Equal(t, 400.0, q01.MaxMS)
	assert.InDelta(t, 233.33, q01.MeanMS, 0.01)
	assert.Equal(t, 200.0, q01.MedianMS)

	q02 := pg.QueryResults[1]
	assert.Equal(t, 2, q02.Runs)
	assert.Equal(t, 1, q02.Failures)
	assert.Equal(t, 50.0, q02.MeanMS)

	assert.Greater(t, pg.GeomeanMS, 0.0)
}

func TestSummarize_AllFailed(t *testing.T) {
	summary := Summarize("run-x", 0, []workload.QueryResult{
		{System: "tr", Query: "q01", Run: 1, Success: false, Error: "down"},
	})

	require.Len(t, summary.Systems, 1)
	stats := summary.Systems[0].QueryResults[0]
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 0.0, stats.MeanMS)
	assert.Equal(t, 0.0, summary.Systems[0].GeomeanMS)
}

func TestSummarize_MedianEvenCount(t *testing.T) {
	summary := Summarize("run-m", 0, []workload.QueryResult{
		{System: "pg", Query: "q", Run: 1, Success: true, ElapsedMS: 10},
		{System: "pg", Query: "q", Run: 2, Success: true, ElapsedMS: 30},
	})
	assert.Equal(t, 20.0, summary.Systems[0].QueryResults[0].MedianMS)
}

func TestSummarize_Empty(t *testing.T) {
	summary := Summarize("run-e", 0, nil)
	assert.NotNil(t, summary.Systems)
	assert.Empty(t, summary.Systems)
}
