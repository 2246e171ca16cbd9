// Package workload builds and executes the timed query workload: a
// deterministic run plan, optional seeded shuffling, round-robin
// partitioning across concurrent streams and sequential warmup.
package workload

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// QueryExecutor runs one timed query. system.DBSystem satisfies it.
type QueryExecutor interface {
	QueryTimed(ctx context.Context, query string) (elapsedMS float64, rows int64, err error)
}

// PlannedRun is one scheduled execution of one query.
type PlannedRun struct {
	Query string
	SQL   string
	Run   int // 1-based run index per query
}

// QueryResult is the outcome of one executed run. Failed runs are kept
// as rows so results across systems line up run for run.
type QueryResult struct {
	System    string    `json:"system"`
	Query     string    `json:"query"`
	Stream    int       `json:"stream"`
	Run       int       `json:"run"`
	Success   bool      `json:"success"`
	ElapsedMS float64   `json:"elapsed_ms"`
	Rows      int64     `json:"rows"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// BuildPlan expands the query set into runsPerQuery executions per
// query, ordered by query name for determinism. With randomize the plan
// is shuffled by the seed, so the same seed reproduces the same order
// on every system.
func BuildPlan(queries map[string]string, runsPerQuery int, randomize bool, seed int64) []PlannedRun {
	names := make([]string, 0, len(queries))
	for name := range queries {
		names = append(names, name)
	}
	sort.Strings(names)

	plan := make([]PlannedRun, 0, len(names)*runsPerQuery)
	for run := 1; run <= runsPerQuery; run++ {
		for _, name := range names {
			plan = append(plan, PlannedRun{Query: name, SQL: queries[name], Run: run})
		}
	}

	if randomize {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(plan), func(i, j int) {
			plan[i], plan[j] = plan[j], plan[i]
		})
	}
	return plan
}

// PartitionPlan deals the plan round-robin across numStreams streams.
// numStreams below 1 is treated as a single stream.
func PartitionPlan(plan []PlannedRun, numStreams int) [][]PlannedRun {
	if numStreams < 1 {
		numStreams = 1
	}
	streams := make([][]PlannedRun, numStreams)
	for i, run := range plan {
		s := i % numStreams
		streams[s] = append(streams[s], run)
	}
	return streams
}

// Workload executes the full timed workload for one system.
type Workload struct {
	System       string
	Exec         QueryExecutor
	Queries      map[string]string
	RunsPerQuery int
	WarmupRuns   int
	NumStreams   int
	Randomize    bool
	Seed         int64
	QueryTimeout time.Duration

	// Progress, when set, receives a line per completed run; the
	// orchestrator wires the task's log recorder here.
	Progress func(line string)
}

func (w *Workload) progress(format string, args ...any) {
	if w.Progress != nil {
		w.Progress(fmt.Sprintf(format, args...))
	}
}

// Run executes warmup then the timed plan and returns one result row
// per planned run. Warmup is always sequential and its timings are
// discarded. An individual query failure produces a failed row and the
// workload continues; only a cancelled context aborts.
func (w *Workload) Run(ctx context.Context) ([]QueryResult, error) {
	if len(w.Queries) == 0 {
		return nil, fmt.Errorf("workload for %s has no queries", w.System)
	}

	if err := w.runWarmup(ctx); err != nil {
		return nil, err
	}

	plan := BuildPlan(w.Queries, w.RunsPerQuery, w.Randomize, w.Seed)
	streams := PartitionPlan(plan, w.NumStreams)

	if len(streams) == 1 {
		return w.runStream(ctx, 0, streams[0]), ctx.Err()
	}

	w.progress("Running %d queries across %d streams", len(plan), len(streams))

	results := make([][]QueryResult, len(streams))
	var wg sync.WaitGroup
	for i, streamPlan := range streams {
		wg.Add(1)
		go func(stream int, runs []PlannedRun) {
			defer wg.Done()
			results[stream] = w.runStream(ctx, stream, runs)
		}(i, streamPlan)
	}
	wg.Wait()

	var merged []QueryResult
	for _, rows := range results {
		merged = append(merged, rows...)
	}
	return merged, ctx.Err()
}

// runWarmup runs every query WarmupRuns times, sequentially, ignoring
// timings. Warmup failures are reported but never abort the workload.
func (w *Workload) runWarmup(ctx context.Context) error {
	if w.WarmupRuns <= 0 {
		return nil
	}

	names := make([]string, 0, len(w.Queries))
	for name := range w.Queries {
		names = append(names, name)
	}
	sort.Strings(names)

	w.progress("Warmup: %d run(s) of %d queries", w.WarmupRuns, len(names))
	for run := 1; run <= w.WarmupRuns; run++ {
		for _, name := range names {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			elapsed, _, err := w.executeOne(ctx, w.Queries[name])
			if err != nil {
				w.progress("Warmup %s run %d failed: %v", name, run, err)
				continue
			}
			w.progress("Warmup %s run %d: %.1f ms", name, run, elapsed)
		}
	}
	return nil
}

// runStream executes one stream's share of the plan in order.
func (w *Workload) runStream(ctx context.Context, stream int, runs []PlannedRun) []QueryResult {
	rows := make([]QueryResult, 0, len(runs))
	for _, planned := range runs {
		if ctx.Err() != nil {
			break
		}

		row := QueryResult{
			System:    w.System,
			Query:     planned.Query,
			Stream:    stream,
			Run:       planned.Run,
			StartedAt: time.Now().UTC(),
		}

		elapsed, count, err := w.executeOne(ctx, planned.SQL)
		if err != nil {
			row.Error = err.Error()
			w.progress("[stderr] %s run %d (stream %d) failed: %v", planned.Query, planned.Run, stream, err)
		} else {
			row.Success = true
			row.ElapsedMS = elapsed
			row.Rows = count
			w.progress("%s run %d (stream %d): %.1f ms, %d rows", planned.Query, planned.Run, stream, elapsed, count)
		}
		rows = append(rows, row)
	}
	return rows
}

// executeOne runs a single query under the per-query timeout. A panic
// in the driver is contained here and surfaces as an error, so one bad
// query becomes a failed row instead of tearing down its stream.
func (w *Workload) executeOne(ctx context.Context, sql string) (elapsed float64, count int64, err error) {
	if w.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.QueryTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			elapsed, count = 0, 0
			err = fmt.Errorf("query panicked: %v", r)
		}
	}()
	return w.Exec.QueryTimed(ctx, sql)
}
