package artifact

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/whhaicheng/benchforge/internal/domain/workload"
)

//go:embed schema.sql
var schemaFS embed.FS

// History is the local sqlite record of measured query executions,
// queried by the status and report commands.
type History struct {
	db *sql.DB
}

// HistoricalRun is one aggregated benchmark run row.
type HistoricalRun struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	ScaleFactor int
	Systems     []string
	Queries     int
	Failures    int
}

// OpenHistory opens (creating if needed) the history database at path
// and applies the schema.
func OpenHistory(ctx context.Context, path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_synchronous=normal", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	// Single connection; sqlite handles one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history: %w", err)
	}

	return &History{db: db}, nil
}

// BeginRun records the start of a benchmark run.
func (h *History) BeginRun(ctx context.Context, runID, configPath string, scaleFactor int) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO benchmark_runs (run_id, started_at, scale_factor, config_path)
		 VALUES (?, ?, ?, ?)`,
		runID, time.Now().UTC(), scaleFactor, configPath)
	if err != nil {
		return fmt.Errorf("insert benchmark run: %w", err)
	}
	return nil
}

// FinishRun stamps the run's completion time.
func (h *History) FinishRun(ctx context.Context, runID string) error {
	_, err := h.db.ExecContext(ctx,
		`UPDATE benchmark_runs SET finished_at = ? WHERE run_id = ?`,
		time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish benchmark run: %w", err)
	}
	return nil
}

// InsertResults stores one row per measured query execution in a
// single transaction.
func (h *History) InsertResults(ctx context.Context, runID, systemKind string, results []workload.QueryResult) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO query_runs
		 (run_id, system_name, system_kind, query_name, stream, run_number,
		  success, elapsed_ms, rows_fetched, error, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx,
			runID, r.System, systemKind, r.Query, r.Stream, r.Run,
			r.Success, r.ElapsedMS, r.Rows, r.Error, r.StartedAt); err != nil {
			return fmt.Errorf("insert query run: %w", err)
		}
	}
	return tx.Commit()
}

// RecentRuns returns the latest benchmark runs with per-run aggregates,
// newest first.
func (h *History) RecentRuns(ctx context.Context, limit int) ([]HistoricalRun, error) {
	if limit <= 0 {
		limit = 10
	}

	// finished_at is read as its raw nullable column so the driver keeps
	// the TIMESTAMP affinity; wrapping it in COALESCE would come back as
	// untyped TEXT.
	rows, err := h.db.QueryContext(ctx,
		`SELECT b.run_id, b.started_at, b.finished_at, b.scale_factor,
		        COUNT(q.id), COALESCE(SUM(CASE WHEN q.success = 0 THEN 1 ELSE 0 END), 0)
		 FROM benchmark_runs b
		 LEFT JOIN query_runs q ON q.run_id = b.run_id
		 GROUP BY b.run_id
		 ORDER BY b.started_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []HistoricalRun
	for rows.Next() {
		var run HistoricalRun
		var finished sql.NullTime
		if err := rows.Scan(&run.RunID, &run.StartedAt, &finished,
			&run.ScaleFactor, &run.Queries, &run.Failures); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.FinishedAt = run.StartedAt
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent runs: %w", err)
	}
	// The pool is capped at one connection; release this cursor before
	// issuing the per-run system queries or they would never get it.
	rows.Close()

	for i := range runs {
		systems, err := h.runSystems(ctx, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].Systems = systems
	}
	return runs, nil
}

// runSystems lists the distinct systems measured in one run.
func (h *History) runSystems(ctx context.Context, runID string) ([]string, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT DISTINCT system_name FROM query_runs WHERE run_id = ? ORDER BY system_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run systems: %w", err)
	}
	defer rows.Close()

	var systems []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan system name: %w", err)
		}
		systems = append(systems, name)
	}
	return systems, rows.Err()
}

// ResultsForRun loads every measured execution of one run.
func (h *History) ResultsForRun(ctx context.Context, runID string) ([]workload.QueryResult, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT system_name, query_name, stream, run_number, success, elapsed_ms, rows_fetched, error, started_at
		 FROM query_runs WHERE run_id = ? ORDER BY system_name, query_name, run_number, stream`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run results: %w", err)
	}
	defer rows.Close()

	var results []workload.QueryResult
	for rows.Next() {
		var r workload.QueryResult
		if err := rows.Scan(&r.System, &r.Query, &r.Stream, &r.Run,
			&r.Success, &r.ElapsedMS, &r.Rows, &r.Error, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan query run: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Close closes the underlying database.
func (h *History) Close() error {
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}
