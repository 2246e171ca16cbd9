// Package runner sequences the benchmark phases (setup, load, run)
// over the configured systems, choosing parallel or sequential
// execution and persisting the artifacts that make every phase
// resumable across process restarts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whhaicheng/benchforge/internal/domain/config"
	"github.com/whhaicheng/benchforge/internal/domain/system"
	"github.com/whhaicheng/benchforge/internal/domain/workload"
	"github.com/whhaicheng/benchforge/internal/infra/artifact"
	"github.com/whhaicheng/benchforge/internal/infra/parallel"
	"github.com/whhaicheng/benchforge/internal/infra/report"
	"github.com/whhaicheng/benchforge/internal/infra/terraform"
)

// ErrPhaseFailed is returned when at least one system failed a phase.
var ErrPhaseFailed = errors.New("phase failed")

// Runner orchestrates benchmark phases over the configured systems.
type Runner struct {
	cfg     *config.Config
	store   *artifact.Store
	history *artifact.History
	out     io.Writer

	// newSystem builds a live system from its configuration; tests
	// substitute fakes here.
	newSystem func(system.SystemConfig) (system.System, error)
}

// New creates a runner. history may be nil when no run history should
// be kept.
func New(cfg *config.Config, store *artifact.Store, history *artifact.History) *Runner {
	return &Runner{
		cfg:     cfg,
		store:   store,
		history: history,
		out:     os.Stdout,
		newSystem: func(sc system.SystemConfig) (system.System, error) {
			return system.New(sc)
		},
	}
}

// buildSystems constructs live system objects for the filtered names.
// local forces tunnel-based DB access so queries run from this machine.
func (r *Runner) buildSystems(names []string, local bool) ([]system.System, error) {
	configs, err := r.cfg.FilterSystems(names)
	if err != nil {
		return nil, err
	}

	systems := make([]system.System, 0, len(configs))
	for _, sc := range configs {
		if local && !sc.Local {
			sc.Tunnel.Enabled = true
			if sc.Tunnel.SSH.Host == "" {
				sc.Tunnel.SSH = sc.SSH
				sc.Tunnel.SSH.Host = sc.Hosts[0]
			}
		}
		sys, err := r.newSystem(sc)
		if err != nil {
			return nil, fmt.Errorf("build system %q: %w", sc.Name, err)
		}
		systems = append(systems, sys)
	}
	return systems, nil
}

func closeSystems(systems []system.System) {
	for _, sys := range systems {
		if err := sys.Close(); err != nil {
			slog.Warn("Runner: Close failed", "system", sys.Name(), "error", err)
		}
	}
}

// forEachSystem runs fn once per system through the parallel executor.
// A single worker is used when parallel execution is disabled or only
// one system is in scope, so artifacts are identical either way.
func (r *Runner) forEachSystem(phase string, systems []system.System,
	fn func(tc *parallel.TaskContext, sys system.System) (any, error)) map[string]parallel.TaskResult {

	workers := r.cfg.MaxWorkers
	if workers <= 0 {
		workers = len(systems)
	}
	if !r.cfg.Parallel || len(systems) < 2 {
		workers = 1
	}

	exec := parallel.New(workers, filepath.Join(r.cfg.LogDir, phase))
	exec.Out = r.out

	tasks := make(map[string]parallel.TaskFunc, len(systems))
	for _, sys := range systems {
		sys := sys
		tasks[sys.Name()] = func(tc *parallel.TaskContext) (any, error) {
			sys.SetRecorder(tc.Recorder())
			defer sys.SetRecorder(nil)
			return fn(tc, sys)
		}
	}
	return exec.ExecuteParallel(tasks)
}

// failedSystems returns the names of tasks that did not complete,
// sorted for stable error messages.
func failedSystems(results map[string]parallel.TaskResult) []string {
	var failed []string
	for name, result := range results {
		if result.Err != nil || result.Status != parallel.StatusCompleted {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

func phaseError(phase string, results map[string]parallel.TaskResult) error {
	failed := failedSystems(results)
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s failed for: %s", ErrPhaseFailed, phase, strings.Join(failed, ", "))
}

// Setup brings every system to READY, installing or restarting as the
// persisted state requires, and regenerates the aggregate timing file.
func (r *Runner) Setup(ctx context.Context, names []string) error {
	systems, err := r.buildSystems(names, false)
	if err != nil {
		return err
	}
	defer closeSystems(systems)

	infra, err := r.store.ReadInfrastructureSetup()
	if err != nil {
		slog.Warn("Runner: Cannot read infrastructure timings", "error", err)
		infra = &artifact.InfrastructureSetup{Systems: map[string]artifact.SystemTiming{}}
	}

	var mu sync.Mutex
	timings := map[string]artifact.SystemTiming{}

	results := r.forEachSystem("setup", systems, func(tc *parallel.TaskContext, sys system.System) (any, error) {
		timing, err := r.setupSystem(ctx, tc, sys)
		mu.Lock()
		timings[sys.Name()] = timing
		mu.Unlock()
		return nil, err
	})

	// The aggregate file is regenerated whole once per phase.
	infra.Systems = timings
	if err := r.store.WriteInfrastructureSetup(infra); err != nil {
		slog.Warn("Runner: Cannot write infrastructure timings", "error", err)
	}

	return phaseError("setup", results)
}

// setupSystem dispatches on the persisted install state of one system.
func (r *Runner) setupSystem(ctx context.Context, tc *parallel.TaskContext, sys system.System) (artifact.SystemTiming, error) {
	var timing artifact.SystemTiming

	state := system.CheckState(ctx, sys)
	tc.Logf("State: %s", state)

	switch state {
	case system.NeedsInstallation:
		start := time.Now()
		if err := sys.Install(ctx); err != nil {
			return timing, err
		}
		timing.InstallationS = time.Since(start).Seconds()
		tc.Logf("Installed in %.1f s", timing.InstallationS)

		if err := r.store.WriteInstallationTiming(sys.Name(), timing.InstallationS); err != nil {
			slog.Warn("Runner: Cannot persist installation timing", "system", sys.Name(), "error", err)
		}
		r.persistSummary(sys)

	case system.NeedsServiceRestart, system.NeedsDBRestart:
		// Replay the persisted summary into this fresh object so the
		// report still covers the original installation.
		r.reloadSummary(sys, tc)
		before := sys.SetupSummary().CommandCount()

		start := time.Now()
		var err error
		if state == system.NeedsDBRestart {
			err = sys.RestartDatabase(ctx)
		} else {
			err = sys.RestartService(ctx)
		}
		if err != nil {
			return timing, err
		}
		timing.RestartS = time.Since(start).Seconds()
		tc.Logf("Restarted in %.1f s", timing.RestartS)

		if sys.SetupSummary().CommandCount() > before {
			r.persistSummary(sys)
		}

	case system.Ready:
		tc.Log("Already ready, skipping setup")
		if saved, err := r.store.ReadInstallationTiming(sys.Name()); err == nil {
			timing.InstallationS = saved.InstallationS
		}
		r.reloadSummary(sys, tc)
	}

	return timing, nil
}

// reloadSummary replays a persisted setup summary into the system.
func (r *Runner) reloadSummary(sys system.System, tc *parallel.TaskContext) {
	saved, err := r.store.ReadSetupSummary(sys.Name())
	if err != nil {
		if !errors.Is(err, artifact.ErrNotFound) {
			slog.Warn("Runner: Cannot reload setup summary", "system", sys.Name(), "error", err)
		}
		return
	}
	sys.SetupSummary().Replace(saved)
	tc.Logf("Reloaded setup summary (%d commands)", saved.CommandCount())
}

func (r *Runner) persistSummary(sys system.System) {
	if err := r.store.WriteSetupSummary(sys.SetupSummary()); err != nil {
		slog.Warn("Runner: Cannot persist setup summary", "system", sys.Name(), "error", err)
	}
}

// Load generates and loads the benchmark data set on every system that
// is not already marked loaded.
func (r *Runner) Load(ctx context.Context, names []string) error {
	systems, err := r.buildSystems(names, false)
	if err != nil {
		return err
	}
	defer closeSystems(systems)

	scaleFactor := r.cfg.Benchmark.ScaleFactor
	results := r.forEachSystem("load", systems, func(tc *parallel.TaskContext, sys system.System) (any, error) {
		if marker, err := r.store.ReadLoadMarker(sys.Name()); err == nil {
			tc.Logf("Data already loaded (%.1f s at scale factor %d), skipping", marker.LoadS, marker.ScaleFactor)
			return nil, nil
		}

		seconds, err := sys.LoadData(ctx, scaleFactor)
		if err != nil {
			return nil, err
		}
		tc.Logf("Loaded in %.1f s", seconds)

		if err := r.store.WriteLoadMarker(sys.Name(), seconds, scaleFactor); err != nil {
			slog.Warn("Runner: Cannot persist load marker", "system", sys.Name(), "error", err)
		}
		r.persistSummary(sys)
		return nil, nil
	})

	return phaseError("load", results)
}

// Run executes the timed workload on every system and persists the
// query results. local runs queries from this machine through SSH
// tunnels instead of deploying anything remotely.
func (r *Runner) Run(ctx context.Context, names []string, local bool) error {
	systems, err := r.buildSystems(names, local)
	if err != nil {
		return err
	}
	defer closeSystems(systems)

	runID := uuid.NewString()
	bench := r.cfg.Benchmark

	if r.history != nil {
		if err := r.history.BeginRun(ctx, runID, r.cfg.ResultsDir, bench.ScaleFactor); err != nil {
			slog.Warn("Runner: Cannot record run start", "error", err)
		}
	}

	var mu sync.Mutex
	var allResults []workload.QueryResult

	taskResults := r.forEachSystem("run", systems, func(tc *parallel.TaskContext, sys system.System) (any, error) {
		w := &workload.Workload{
			System:       sys.Name(),
			Exec:         sys,
			Queries:      bench.Queries,
			RunsPerQuery: bench.RunsPerQuery,
			WarmupRuns:   bench.WarmupRuns,
			NumStreams:   bench.NumStreams,
			Randomize:    bench.Randomize,
			Seed:         bench.RandomSeed,
			QueryTimeout: time.Duration(bench.QueryTimeoutS) * time.Second,
			Progress:     tc.Recorder(),
		}

		rows, err := w.Run(ctx)
		mu.Lock()
		allResults = append(allResults, rows...)
		mu.Unlock()
		if err != nil {
			return nil, err
		}

		if r.history != nil {
			if err := r.history.InsertResults(ctx, runID, sys.Kind().String(), rows); err != nil {
				slog.Warn("Runner: Cannot record history rows", "system", sys.Name(), "error", err)
			}
		}
		return len(rows), nil
	})

	// Query results are the product of the whole run; their write
	// failures propagate instead of being logged away.
	sort.Slice(allResults, func(i, j int) bool {
		a, b := allResults[i], allResults[j]
		if a.System != b.System {
			return a.System < b.System
		}
		if a.Query != b.Query {
			return a.Query < b.Query
		}
		if a.Run != b.Run {
			return a.Run < b.Run
		}
		return a.Stream < b.Stream
	})

	if err := r.store.WriteRunsCSV(allResults); err != nil {
		return err
	}
	if err := r.store.WriteRawResults(allResults); err != nil {
		return err
	}
	summary := report.Summarize(runID, bench.ScaleFactor, allResults)
	if err := r.store.WriteSummary(summary); err != nil {
		return err
	}

	if r.history != nil {
		if err := r.history.FinishRun(ctx, runID); err != nil {
			slog.Warn("Runner: Cannot record run finish", "error", err)
		}
	}

	return phaseError("run", taskResults)
}

// Execute chains setup, load and run.
func (r *Runner) Execute(ctx context.Context, names []string, local bool) error {
	if err := r.Setup(ctx, names); err != nil {
		return err
	}
	if err := r.Load(ctx, names); err != nil {
		return err
	}
	return r.Run(ctx, names, local)
}

// Probe prints the install state and health of every system without
// mutating anything.
func (r *Runner) Probe(ctx context.Context, names []string) error {
	systems, err := r.buildSystems(names, false)
	if err != nil {
		return err
	}
	defer closeSystems(systems)

	for _, sys := range systems {
		state := system.CheckState(ctx, sys)
		healthy := sys.IsHealthy(ctx, true)
		version := ""
		if healthy {
			version = sys.Version(ctx)
		}
		fmt.Fprintf(r.out, "%-24s %-22s healthy=%-5v %s\n", sys.Name(), state, healthy, version)
	}
	return nil
}

// Check validates the configuration and verifies every system's nodes
// are reachable. It is the preflight for a long benchmark run.
func (r *Runner) Check(ctx context.Context, names []string) error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Configuration valid")

	systems, err := r.buildSystems(names, false)
	if err != nil {
		return err
	}
	defer closeSystems(systems)

	var unreachable []string
	for _, sys := range systems {
		reachable := true
		for node := 0; node < sys.NodeCount(); node++ {
			if _, err := sys.HasInstallMarker(ctx, node); err != nil {
				fmt.Fprintf(r.out, "%-24s node %d unreachable: %v\n", sys.Name(), node, err)
				reachable = false
			}
		}
		if reachable {
			fmt.Fprintf(r.out, "%-24s %d node(s) reachable\n", sys.Name(), sys.NodeCount())
		} else {
			unreachable = append(unreachable, sys.Name())
		}
	}
	if len(unreachable) > 0 {
		return fmt.Errorf("%w: check failed for: %s", ErrPhaseFailed, strings.Join(unreachable, ", "))
	}
	return nil
}

// Status prints recent benchmark runs from history.
func (r *Runner) Status(ctx context.Context) error {
	if r.history == nil {
		fmt.Fprintln(r.out, "No history database configured")
		return nil
	}
	runs, err := r.history.RecentRuns(ctx, 10)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(r.out, "No benchmark runs recorded")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(r.out, "%-38s %s  systems=[%s]  queries=%d  failures=%d\n",
			run.RunID,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			strings.Join(run.Systems, ","),
			run.Queries,
			run.Failures)
	}
	return nil
}

// Infra provisions the infrastructure with terraform and records the
// provisioning time into the aggregate timing file.
func (r *Runner) Infra(ctx context.Context) error {
	if r.cfg.Terraform.Dir == "" {
		return fmt.Errorf("terraform.dir is not configured")
	}

	client := terraform.NewClient(r.cfg.Terraform.Dir, r.cfg.Terraform.Vars)
	seconds, err := client.Apply(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Infrastructure provisioned in %.1f s\n", seconds)

	infra, err := r.store.ReadInfrastructureSetup()
	if err != nil {
		infra = &artifact.InfrastructureSetup{Systems: map[string]artifact.SystemTiming{}}
	}
	infra.InfrastructureProvisioningS = seconds
	if err := r.store.WriteInfrastructureSetup(infra); err != nil {
		slog.Warn("Runner: Cannot write infrastructure timings", "error", err)
	}

	outputs, err := client.Output(ctx)
	if err != nil {
		slog.Warn("Runner: Cannot read terraform outputs", "error", err)
		return nil
	}
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.out, "  %s = %v\n", k, outputs[k])
	}
	return nil
}

// Report renders Markdown and JSON reports from the persisted
// artifacts into the results directory.
func (r *Runner) Report(ctx context.Context) error {
	var summary report.Summary
	if err := r.store.ReadSummary(&summary); err != nil {
		return fmt.Errorf("no results to report: %w", err)
	}

	infra, err := r.store.ReadInfrastructureSetup()
	if err != nil {
		infra = nil
	}

	setups := map[string]*system.SetupSummary{}
	for _, sys := range summary.Systems {
		if setup, err := r.store.ReadSetupSummary(sys.System); err == nil {
			setups[sys.System] = setup
		}
	}

	var history []artifact.HistoricalRun
	if r.history != nil {
		if runs, err := r.history.RecentRuns(ctx, 10); err == nil {
			history = runs
		}
	}

	genCtx := &report.GenerateContext{
		Summary:        &summary,
		Infrastructure: infra,
		SetupSummaries: setups,
		History:        history,
	}

	md, err := report.NewMarkdownGenerator().Generate(genCtx)
	if err != nil {
		return err
	}
	mdPath := filepath.Join(r.store.Dir, "report.md")
	if err := os.WriteFile(mdPath, md, 0o644); err != nil {
		return fmt.Errorf("write report.md: %w", err)
	}

	out, err := report.NewJSONGenerator().Generate(genCtx)
	if err != nil {
		return err
	}
	jsonPath := filepath.Join(r.store.Dir, "report.json")
	if err := os.WriteFile(jsonPath, out, 0o644); err != nil {
		return fmt.Errorf("write report.json: %w", err)
	}

	fmt.Fprintf(r.out, "Wrote %s and %s\n", mdPath, jsonPath)
	return nil
}
