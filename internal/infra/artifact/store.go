// Package artifact persists the on-disk state that makes benchmark
// phases resumable: per-system install timings, setup summaries,
// aggregate infrastructure timings, load markers and query results.
// These files, not in-memory objects, are the source of truth for
// "already installed / already loaded" across process restarts.
package artifact

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/whhaicheng/benchforge/internal/domain/system"
	"github.com/whhaicheng/benchforge/internal/domain/workload"
)

// ErrNotFound is returned when a requested artifact has not been
// written yet.
var ErrNotFound = errors.New("artifact not found")

// InstallationTiming is the persisted install duration for one system.
type InstallationTiming struct {
	SystemName    string    `json:"system_name"`
	InstallationS float64   `json:"installation_s"`
	Timestamp     time.Time `json:"timestamp"`
}

// SystemTiming is one system's entry in the aggregate timing file.
type SystemTiming struct {
	InstallationS float64 `json:"installation_s,omitempty"`
	RestartS      float64 `json:"restart_s,omitempty"`
}

// InfrastructureSetup is the aggregate phase timing file. It is always
// written whole, never patched, so a partial write from a dead process
// cannot corrupt accumulated state.
type InfrastructureSetup struct {
	InfrastructureProvisioningS float64                 `json:"infrastructure_provisioning_s"`
	Systems                     map[string]SystemTiming `json:"systems"`
}

// LoadMarker records that data loading completed for one system.
type LoadMarker struct {
	SystemName  string    `json:"system_name"`
	LoadS       float64   `json:"load_s"`
	ScaleFactor int       `json:"scale_factor"`
	Timestamp   time.Time `json:"timestamp"`
}

// Store reads and writes benchmark artifacts under one results
// directory.
type Store struct {
	Dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, name)
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.WriteFile(s.path(name), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// WriteInstallationTiming persists installation_<system>.json.
func (s *Store) WriteInstallationTiming(systemName string, seconds float64) error {
	return s.writeJSON(fmt.Sprintf("installation_%s.json", systemName), InstallationTiming{
		SystemName:    systemName,
		InstallationS: seconds,
		Timestamp:     time.Now().UTC(),
	})
}

// ReadInstallationTiming loads a previously persisted install timing.
func (s *Store) ReadInstallationTiming(systemName string) (*InstallationTiming, error) {
	var timing InstallationTiming
	if err := s.readJSON(fmt.Sprintf("installation_%s.json", systemName), &timing); err != nil {
		return nil, err
	}
	return &timing, nil
}

// WriteSetupSummary persists setup_<system>.json.
func (s *Store) WriteSetupSummary(summary *system.SetupSummary) error {
	data, err := summary.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal setup summary: %w", err)
	}
	name := fmt.Sprintf("setup_%s.json", summary.SystemName)
	if err := os.WriteFile(s.path(name), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// ReadSetupSummary loads setup_<system>.json. The caller replays it
// into a fresh system object so resumed runs report accurately.
func (s *Store) ReadSetupSummary(systemName string) (*system.SetupSummary, error) {
	name := fmt.Sprintf("setup_%s.json", systemName)
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	summary, err := system.SetupSummaryFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return summary, nil
}

// WriteInfrastructureSetup regenerates infrastructure_setup.json whole.
func (s *Store) WriteInfrastructureSetup(setup *InfrastructureSetup) error {
	if setup.Systems == nil {
		setup.Systems = map[string]SystemTiming{}
	}
	return s.writeJSON("infrastructure_setup.json", setup)
}

// ReadInfrastructureSetup loads the aggregate timing file, returning an
// empty value when none has been written.
func (s *Store) ReadInfrastructureSetup() (*InfrastructureSetup, error) {
	var setup InfrastructureSetup
	if err := s.readJSON("infrastructure_setup.json", &setup); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &InfrastructureSetup{Systems: map[string]SystemTiming{}}, nil
		}
		return nil, err
	}
	if setup.Systems == nil {
		setup.Systems = map[string]SystemTiming{}
	}
	return &setup, nil
}

// WriteLoadMarker persists load_<system>.json after a successful load.
func (s *Store) WriteLoadMarker(systemName string, seconds float64, scaleFactor int) error {
	return s.writeJSON(fmt.Sprintf("load_%s.json", systemName), LoadMarker{
		SystemName:  systemName,
		LoadS:       seconds,
		ScaleFactor: scaleFactor,
		Timestamp:   time.Now().UTC(),
	})
}

// ReadLoadMarker loads load_<system>.json.
func (s *Store) ReadLoadMarker(systemName string) (*LoadMarker, error) {
	var marker LoadMarker
	if err := s.readJSON(fmt.Sprintf("load_%s.json", systemName), &marker); err != nil {
		return nil, err
	}
	return &marker, nil
}

// runsCSVHeader is the fixed column order of runs.csv.
var runsCSVHeader = []string{
	"system", "query", "stream", "run", "success", "elapsed_ms", "rows", "error", "started_at",
}

// WriteRunsCSV writes every result row, including failed runs, to
// runs.csv.
func (s *Store) WriteRunsCSV(results []workload.QueryResult) error {
	f, err := os.Create(s.path("runs.csv"))
	if err != nil {
		return fmt.Errorf("create runs.csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(runsCSVHeader); err != nil {
		return fmt.Errorf("write runs.csv header: %w", err)
	}
	for _, r := range results {
		row := []string{
			r.System,
			r.Query,
			strconv.Itoa(r.Stream),
			strconv.Itoa(r.Run),
			strconv.FormatBool(r.Success),
			strconv.FormatFloat(r.ElapsedMS, 'f', 3, 64),
			strconv.FormatInt(r.Rows, 10),
			r.Error,
			r.StartedAt.Format(time.RFC3339Nano),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write runs.csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush runs.csv: %w", err)
	}
	return nil
}

// WriteRawResults writes raw_results.json.
func (s *Store) WriteRawResults(results []workload.QueryResult) error {
	return s.writeJSON("raw_results.json", results)
}

// ReadRawResults loads raw_results.json.
func (s *Store) ReadRawResults() ([]workload.QueryResult, error) {
	var results []workload.QueryResult
	if err := s.readJSON("raw_results.json", &results); err != nil {
		return nil, err
	}
	return results, nil
}

// WriteSummary writes summary.json.
func (s *Store) WriteSummary(summary any) error {
	return s.writeJSON("summary.json", summary)
}

// ReadSummary loads summary.json into out.
func (s *Store) ReadSummary(out any) error {
	return s.readJSON("summary.json", out)
}
