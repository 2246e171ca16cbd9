package system

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/whhaicheng/benchforge/internal/infra/command"
)

// InstallMarkerName is the file touched on every node once installation
// has completed. Its presence is the install-state signal.
const InstallMarkerName = ".benchforge_installed"

// healthProbeTimeout bounds a single health query.
const healthProbeTimeout = 10 * time.Second

// SystemConfig describes one configured database system.
type SystemConfig struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Hosts    []string `yaml:"hosts"` // node 0 is the primary
	Port     int      `yaml:"port"`  // 0 = kind default
	Database string   `yaml:"database"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`

	// DataDir is the remote data directory; the install marker lives here.
	DataDir string `yaml:"data_dir"`

	// ServiceUnit overrides the kind's default systemd unit.
	ServiceUnit string `yaml:"service_unit"`

	// InstallCommands overrides the kind's default install sequence.
	InstallCommands []string `yaml:"install_commands"`

	// LoadCommands generate and load the benchmark data set (schema
	// DDL plus generator invocation). The {sf} placeholder expands to
	// the configured scale factor.
	LoadCommands []string `yaml:"load_commands"`

	// DBRestartCommand, when set, restarts the database engine without
	// touching the service unit.
	DBRestartCommand string `yaml:"db_restart_command"`

	// Local runs commands on the local machine instead of over SSH;
	// used for single-box runs and tests.
	Local bool `yaml:"local"`

	SSH    command.SSHConfig    `yaml:"ssh"`
	WinRM  command.WinRMConfig  `yaml:"winrm"`
	Tunnel command.TunnelConfig `yaml:"tunnel"`

	// ConfigParameters are system tuning parameters recorded in the
	// setup summary for report reproduction.
	ConfigParameters map[string]any `yaml:"config_parameters"`
}

// Validate validates the system configuration.
func (c *SystemConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := ParseKind(c.Kind); err != nil {
		return err
	}
	if len(c.Hosts) == 0 {
		return fmt.Errorf("at least one host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if !c.Local && !c.WinRM.Enabled {
		ssh := c.SSH
		ssh.Host = c.Hosts[0]
		if err := ssh.Validate(); err != nil {
			return fmt.Errorf("ssh: %w", err)
		}
	}
	return nil
}

// System is the capability interface the orchestrator drives. The
// orchestrator never knows the underlying database kind.
type System interface {
	Name() string
	Kind() Kind
	NodeCount() int
	InstallMarkerPath() string
	HasInstallMarker(ctx context.Context, node int) (bool, error)
	IsHealthy(ctx context.Context, quiet bool) bool
	ServiceActive(ctx context.Context) (bool, error)
	Install(ctx context.Context) error
	LoadData(ctx context.Context, scaleFactor int) (loadSeconds float64, err error)
	RestartService(ctx context.Context) error
	RestartDatabase(ctx context.Context) error
	ExecuteCommand(ctx context.Context, cmd string, timeout time.Duration, record bool, category string) command.Result
	QueryTimed(ctx context.Context, query string) (elapsedMS float64, rows int64, err error)
	Version(ctx context.Context) string
	SetupSummary() *SetupSummary
	SetRecorder(rec func(line string))
	Close() error
}

// DBSystem implements System for every supported kind, parameterized by
// the kind's spec table.
type DBSystem struct {
	cfg  SystemConfig
	kind Kind
	spec kindSpec

	executors []command.Executor
	summary   *SetupSummary

	mu       sync.Mutex
	db       *sql.DB
	tunnel   *command.SSHTunnel
	recorder func(line string)
}

// New creates a system object from configuration. Remote connections
// are established lazily.
func New(cfg SystemConfig) (*DBSystem, error) {
	kind, err := ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid system configuration: %w", err)
	}

	s := &DBSystem{
		cfg:     cfg,
		kind:    kind,
		spec:    kind.spec(),
		summary: NewSetupSummary(cfg.Name, kind),
	}
	s.summary.ConfigParameters = cfg.ConfigParameters
	s.summary.DataDirectory = s.dataDir()

	for _, host := range cfg.Hosts {
		exec, err := s.buildExecutor(host)
		if err != nil {
			return nil, fmt.Errorf("executor for %s: %w", host, err)
		}
		s.executors = append(s.executors, exec)
	}
	return s, nil
}

// buildExecutor creates the command executor for one node.
func (s *DBSystem) buildExecutor(host string) (command.Executor, error) {
	if s.cfg.Local {
		return command.NewLocalExecutor(), nil
	}
	if s.cfg.WinRM.Enabled {
		winrmCfg := s.cfg.WinRM
		winrmCfg.Host = host
		return command.NewWinRMExecutor(&winrmCfg)
	}
	sshCfg := s.cfg.SSH
	sshCfg.Host = host
	return command.NewSSHExecutor(&sshCfg)
}

// Name returns the configured system name.
func (s *DBSystem) Name() string { return s.cfg.Name }

// Kind returns the database kind.
func (s *DBSystem) Kind() Kind { return s.kind }

// NodeCount returns the number of configured nodes.
func (s *DBSystem) NodeCount() int { return len(s.executors) }

// dataDir returns the remote data directory.
func (s *DBSystem) dataDir() string {
	if s.cfg.DataDir != "" {
		return s.cfg.DataDir
	}
	return path.Join("/var/lib/benchforge", s.cfg.Name)
}

// InstallMarkerPath returns the remote path of the install marker file.
func (s *DBSystem) InstallMarkerPath() string {
	return path.Join(s.dataDir(), InstallMarkerName)
}

// serviceUnit returns the systemd unit to restart.
func (s *DBSystem) serviceUnit() string {
	if s.cfg.ServiceUnit != "" {
		return s.cfg.ServiceUnit
	}
	return s.spec.serviceUnit
}

// port returns the configured client port or the kind default.
func (s *DBSystem) port() int {
	if s.cfg.Port > 0 {
		return s.cfg.Port
	}
	return s.spec.defaultPort
}

// SetRecorder wires a per-task line recorder into this system so that
// streamed remote output is attributed to the owning task. SSH
// executors stream through it directly.
func (s *DBSystem) SetRecorder(rec func(line string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = rec

	tag := "[" + s.cfg.Name + "] "
	for _, exec := range s.executors {
		if sshExec, ok := exec.(*command.SSHExecutor); ok {
			sshExec.Recorder = command.LineRecorder(rec)
			sshExec.TagPrefix = tag
		}
	}
}

// record forwards a diagnostic line to the task recorder if one is set.
func (s *DBSystem) record(line string) {
	s.mu.Lock()
	rec := s.recorder
	s.mu.Unlock()
	if rec != nil {
		rec(line)
	}
}

// ExecuteCommand runs cmd on the primary node. When record is true the
// command and its outcome are retained in the setup summary under the
// given category.
func (s *DBSystem) ExecuteCommand(ctx context.Context, cmd string, timeout time.Duration, record bool, category string) command.Result {
	result := s.executors[0].Execute(ctx, cmd, timeout)
	if record {
		s.summary.RecordCommand(category, cmd, "", result.Success)
	}
	if !result.Success {
		s.record(fmt.Sprintf("[stderr] command failed (rc=%d): %s", result.ReturnCode, cmd))
	}
	return result
}

// executeOnAllNodes runs cmd on every node, returning per-node results.
func (s *DBSystem) executeOnAllNodes(ctx context.Context, cmd string, timeout time.Duration) []command.Result {
	results := make([]command.Result, len(s.executors))
	for i, exec := range s.executors {
		results[i] = exec.Execute(ctx, cmd, timeout)
	}
	return results
}

// HasInstallMarker probes one node for the install marker file.
func (s *DBSystem) HasInstallMarker(ctx context.Context, node int) (bool, error) {
	if node < 0 || node >= len(s.executors) {
		return false, fmt.Errorf("node %d out of range (%d nodes)", node, len(s.executors))
	}
	result := s.executors[node].Execute(ctx, fmt.Sprintf("test -f %s", s.InstallMarkerPath()), 30*time.Second)
	if result.ReturnCode == -1 {
		return false, fmt.Errorf("marker probe failed on node %d: %s", node, result.Stderr)
	}
	return result.Success, nil
}

// ServiceActive reports whether the service unit is active on the
// primary node.
func (s *DBSystem) ServiceActive(ctx context.Context) (bool, error) {
	result := s.executors[0].Execute(ctx, fmt.Sprintf("systemctl is-active --quiet %s", s.serviceUnit()), 30*time.Second)
	if result.ReturnCode == -1 {
		return false, fmt.Errorf("service probe failed: %s", result.Stderr)
	}
	return result.Success, nil
}

// connect opens (or returns) the SQL connection to the primary node,
// dialing through the SSH tunnel when one is configured.
func (s *DBSystem) connect(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	host := s.cfg.Hosts[0]
	port := s.port()

	if s.cfg.Tunnel.Enabled {
		if s.tunnel == nil {
			tunnel, err := command.NewSSHTunnel(ctx, &s.cfg.Tunnel, host, port)
			if err != nil {
				return nil, fmt.Errorf("establish tunnel: %w", err)
			}
			s.tunnel = tunnel
		}
		host = "127.0.0.1"
		port = s.tunnel.LocalPort()
	}

	dsn := s.spec.buildDSN(host, port, s.cfg.Database, s.cfg.Username, s.cfg.Password)
	db, err := sql.Open(s.spec.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", s.kind, err)
	}
	db.SetMaxOpenConns(0) // streams share this pool; no artificial cap
	s.db = db
	return db, nil
}

// IsHealthy probes the database with a lightweight protocol-level
// query. quiet suppresses the warning log on failure.
func (s *DBSystem) IsHealthy(ctx context.Context, quiet bool) bool {
	db, err := s.connect(ctx)
	if err != nil {
		if !quiet {
			slog.Warn("System: Health connect failed", "system", s.cfg.Name, "error", err)
		}
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	var one any
	if err := db.QueryRowContext(probeCtx, s.spec.healthQuery).Scan(&one); err != nil {
		if !quiet {
			slog.Warn("System: Health query failed",
				"system", s.cfg.Name,
				"query", s.spec.healthQuery,
				"error", err)
		}
		return false
	}
	return true
}

// Version returns the server version string, or "" when unavailable.
func (s *DBSystem) Version(ctx context.Context) string {
	db, err := s.connect(ctx)
	if err != nil {
		return ""
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	var version string
	if err := db.QueryRowContext(probeCtx, s.spec.versionQuery).Scan(&version); err != nil {
		return ""
	}
	return version
}

// QueryTimed executes one query and returns the wall-clock time in
// milliseconds plus the number of rows fetched. Rows are drained so
// timing covers the full result set, not merely the first batch.
func (s *DBSystem) QueryTimed(ctx context.Context, query string) (float64, int64, error) {
	db, err := s.connect(ctx)
	if err != nil {
		return 0, 0, err
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return 0, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("fetch: %w", err)
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	return elapsed, count, nil
}

// Install installs the database on every node, touches the install
// marker everywhere and waits for health. Every remote command is
// recorded in the setup summary.
func (s *DBSystem) Install(ctx context.Context) error {
	slog.Info("System: Installing", "system", s.cfg.Name, "kind", s.kind, "nodes", len(s.executors))
	s.record(fmt.Sprintf("Installing %s (%s) on %d node(s)", s.cfg.Name, s.kind, len(s.executors)))

	commands := s.cfg.InstallCommands
	if len(commands) == 0 {
		commands = s.defaultInstallCommands()
	}

	for _, cmd := range commands {
		results := s.executeOnAllNodes(ctx, cmd, 30*time.Minute)
		success := true
		for node, result := range results {
			if !result.Success {
				success = false
				s.record(fmt.Sprintf("[stderr] install step failed on node %d (rc=%d): %s",
					node, result.ReturnCode, strings.TrimSpace(result.Stderr)))
			}
		}
		s.summary.RecordCommand("install", cmd, "", success)
		if !success {
			return fmt.Errorf("install step failed: %s", cmd)
		}
	}

	// Marker on every node; a partially marked cluster counts as not
	// installed, so all touches must succeed.
	markerCmd := fmt.Sprintf("mkdir -p %s && touch %s", s.dataDir(), s.InstallMarkerPath())
	for node, result := range s.executeOnAllNodes(ctx, markerCmd, time.Minute) {
		if !result.Success {
			return fmt.Errorf("write install marker on node %d: %s", node, strings.TrimSpace(result.Stderr))
		}
	}
	s.summary.RecordCommand("install", markerCmd, "write install marker", true)

	if err := s.waitHealthy(ctx, 30, 10*time.Second); err != nil {
		return err
	}

	if v := s.Version(ctx); v != "" {
		s.summary.SystemVersion = v
	}
	s.summary.AddNote(fmt.Sprintf("installed %s on %d node(s)", s.kind, len(s.executors)))
	s.record("Installation complete")
	return nil
}

// defaultInstallCommands returns a generic package-based install
// sequence for the kind. Real deployments override install_commands in
// the system configuration.
func (s *DBSystem) defaultInstallCommands() []string {
	unit := s.serviceUnit()
	return []string{
		"sudo apt-get update -qq",
		fmt.Sprintf("sudo apt-get install -y -qq %s", unit),
		fmt.Sprintf("sudo systemctl enable %s", unit),
		fmt.Sprintf("sudo systemctl restart %s", unit),
	}
}

// LoadData generates and loads the benchmark data set by running the
// configured load commands on the primary node. Every command is
// recorded under the "load" category. A system with no load commands
// is assumed pre-loaded.
func (s *DBSystem) LoadData(ctx context.Context, scaleFactor int) (float64, error) {
	if len(s.cfg.LoadCommands) == 0 {
		s.summary.AddNote("no load commands configured, data assumed present")
		return 0, nil
	}

	slog.Info("System: Loading data", "system", s.cfg.Name, "scale_factor", scaleFactor, "commands", len(s.cfg.LoadCommands))
	s.record(fmt.Sprintf("Loading data at scale factor %d", scaleFactor))

	start := time.Now()
	for _, raw := range s.cfg.LoadCommands {
		cmd := strings.ReplaceAll(raw, "{sf}", fmt.Sprintf("%d", scaleFactor))
		result := s.ExecuteCommand(ctx, cmd, 12*time.Hour, true, "load")
		if !result.Success {
			return 0, fmt.Errorf("load command failed (rc=%d): %s", result.ReturnCode, cmd)
		}
	}
	elapsed := time.Since(start).Seconds()

	s.summary.AddNote(fmt.Sprintf("loaded scale factor %d in %.1f s", scaleFactor, elapsed))
	s.record(fmt.Sprintf("Data load complete in %.1f s", elapsed))
	return elapsed, nil
}

// RestartService restarts the service unit on every node and waits for
// health.
func (s *DBSystem) RestartService(ctx context.Context) error {
	unit := s.serviceUnit()
	slog.Info("System: Restarting service", "system", s.cfg.Name, "unit", unit)
	s.record(fmt.Sprintf("Restarting service %s", unit))

	cmd := fmt.Sprintf("sudo systemctl restart %s", unit)
	for node, result := range s.executeOnAllNodes(ctx, cmd, 5*time.Minute) {
		ok := result.Success
		s.summary.RecordCommand("restart", cmd, fmt.Sprintf("node %d", node), ok)
		if !ok {
			return fmt.Errorf("restart service on node %d: %s", node, strings.TrimSpace(result.Stderr))
		}
	}
	return s.waitHealthy(ctx, 30, 10*time.Second)
}

// RestartDatabase restarts the database engine without reinstalling.
// Falls back to a service restart unless the configuration provides a
// dedicated restart command.
func (s *DBSystem) RestartDatabase(ctx context.Context) error {
	if s.cfg.DBRestartCommand == "" {
		return s.RestartService(ctx)
	}

	slog.Info("System: Restarting database", "system", s.cfg.Name)
	s.record("Restarting database engine")

	result := s.ExecuteCommand(ctx, s.cfg.DBRestartCommand, 5*time.Minute, true, "restart")
	if !result.Success {
		return fmt.Errorf("restart database: %s", strings.TrimSpace(result.Stderr))
	}
	return s.waitHealthy(ctx, 30, 10*time.Second)
}

// waitHealthy polls health with bounded attempts.
func (s *DBSystem) waitHealthy(ctx context.Context, attempts int, interval time.Duration) error {
	for i := 0; i < attempts; i++ {
		if s.IsHealthy(ctx, true) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("system %s did not become healthy after %d attempts", s.cfg.Name, attempts)
}

// SetupSummary returns the live setup summary.
func (s *DBSystem) SetupSummary() *SetupSummary {
	return s.summary
}

// Close releases the SQL connection, tunnel and remote sessions.
func (s *DBSystem) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []string
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		s.db = nil
	}
	if s.tunnel != nil {
		if err := s.tunnel.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		s.tunnel = nil
	}
	for _, exec := range s.executors {
		if closer, ok := exec.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close system %s: %s", s.cfg.Name, strings.Join(errs, "; "))
	}
	return nil
}
