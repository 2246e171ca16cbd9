package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/whhaicheng/benchforge/internal/app/runner"
	"github.com/whhaicheng/benchforge/internal/domain/config"
	"github.com/whhaicheng/benchforge/internal/infra/artifact"
)

// newRootCommand builds the cobra command tree.
func newRootCommand() *cobra.Command {
	var (
		configPath string
		systems    []string
	)

	root := &cobra.Command{
		Use:           "benchforge",
		Short:         "Database benchmark orchestrator",
		Long:          "benchforge provisions infrastructure, installs database systems, loads TPC-H style data and runs timed query workloads against them.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "benchforge.yaml", "configuration file")
	root.PersistentFlags().StringSliceVarP(&systems, "systems", "s", nil, "restrict to the named systems")

	// withRunner loads config and wires the runner for one command.
	withRunner := func(fn func(ctx context.Context, r *runner.Runner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := artifact.NewStore(cfg.ResultsDir)
			if err != nil {
				return err
			}
			history, err := artifact.OpenHistory(cmd.Context(), filepath.Join(cfg.ResultsDir, "history.db"))
			if err != nil {
				slog.Warn("CLI: History unavailable, continuing without it", "error", err)
				history = nil
			}
			if history != nil {
				defer history.Close()
			}
			return fn(cmd.Context(), runner.New(cfg, store, history))
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "probe",
		Short: "Show install state and health of each system",
		RunE: withRunner(func(ctx context.Context, r *runner.Runner) error {
			return r.Probe(ctx, systems)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate configuration and node reachability",
		RunE: withRunner(func(ctx context.Context, r *runner.Runner) error {
			return r.Check(ctx, systems)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Install or repair each system until it is ready",
		RunE: withRunner(func(ctx context.Context, r *runner.Runner) error {
			return r.Setup(ctx, systems)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "load",
		Short: "Generate and load the benchmark data set",
		RunE: withRunner(func(ctx context.Context, r *runner.Runner) error {
			return r.Load(ctx, systems)
		}),
	})

	var (
		runFull  bool
		runLocal bool
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the timed query workload",
		RunE: withRunner(func(ctx context.Context, r *runner.Runner) error {
			if runFull {
				return r.Execute(ctx, systems, runLocal)
			}
			return r.Run(ctx, systems, runLocal)
		}),
	}
	runCmd.Flags().BoolVar(&runFull, "full", false, "chain setup and load before running")
	runCmd.Flags().BoolVarP(&runLocal, "local", "l", false, "query remote endpoints through SSH tunnels from this machine")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "execute",
		Short: "Run setup, load and the workload in sequence",
		RunE: withRunner(func(ctx context.Context, r *runner.Runner) error {
			return r.Execute(ctx, systems, false)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Render Markdown and JSON reports from persisted results",
		RunE: withRunner(func(ctx context.Context, r *runner.Runner) error {
			return r.Report(ctx)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show recent benchmark runs",
		RunE: withRunner(func(ctx context.Context, r *runner.Runner) error {
			return r.Status(ctx)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "infra",
		Short: "Provision benchmark infrastructure with terraform",
		RunE: withRunner(func(ctx context.Context, r *runner.Runner) error {
			return r.Infra(ctx)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "package",
		Short: "Bundle the results directory into a tar.gz",
		RunE: withRunner(func(_ context.Context, r *runner.Runner) error {
			_, err := r.Package()
			return err
		}),
	})

	return root
}
