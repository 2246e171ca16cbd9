package system

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig(name string) SystemConfig {
	return SystemConfig{
		Name:     name,
		Kind:     "postgres",
		Hosts:    []string{"127.0.0.1"},
		Database: "tpch",
		Username: "bench",
		Local:    true,
	}
}

func TestSystemConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SystemConfig)
		wantErr string
	}{
		{name: "valid local", mutate: func(c *SystemConfig) {}},
		{
			name:    "missing name",
			mutate:  func(c *SystemConfig) { c.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "unknown kind",
			mutate:  func(c *SystemConfig) { c.Kind = "mongodb" },
			wantErr: "unknown system kind",
		},
		{
			name:    "no hosts",
			mutate:  func(c *SystemConfig) { c.Hosts = nil },
			wantErr: "at least one host",
		},
		{
			name:    "port out of range",
			mutate:  func(c *SystemConfig) { c.Port = 70000 },
			wantErr: "port must be between",
		},
		{
			name: "remote without ssh credentials",
			mutate: func(c *SystemConfig) {
				c.Local = false
			},
			wantErr: "ssh:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig("pg-test")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNew_LocalExecutors(t *testing.T) {
	cfg := localConfig("pg-local")
	cfg.Hosts = []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}

	sys, err := New(cfg)
	require.NoError(t, err)
	defer sys.Close()

	assert.Equal(t, "pg-local", sys.Name())
	assert.Equal(t, KindPostgres, sys.Kind())
	assert.Equal(t, 3, sys.NodeCount())
	assert.Equal(t, "/var/lib/benchforge/pg-local/.benchforge_installed", sys.InstallMarkerPath())
}

func TestNew_DataDirOverride(t *testing.T) {
	cfg := localConfig("pg-data")
	cfg.DataDir = "/data/pg"

	sys, err := New(cfg)
	require.NoError(t, err)
	defer sys.Close()

	assert.Equal(t, "/data/pg/.benchforge_installed", sys.InstallMarkerPath())
	assert.Equal(t, "/data/pg", sys.SetupSummary().DataDirectory)
}

func TestNew_RejectsInvalidKind(t *testing.T) {
	cfg := localConfig("bad")
	cfg.Kind = "dbase"
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestExecuteCommand_Records(t *testing.T) {
	sys, err := New(localConfig("pg-exec"))
	require.NoError(t, err)
	defer sys.Close()

	ctx := t.Context()

	result := sys.ExecuteCommand(ctx, "echo installed", 0, true, "install")
	assert.True(t, result.Success)
	assert.Equal(t, "installed\n", result.Stdout)

	// Unrecorded commands stay out of the summary.
	sys.ExecuteCommand(ctx, "echo probe", 0, false, "probe")

	summary := sys.SetupSummary()
	assert.Equal(t, 1, summary.CommandCount())
	require.Len(t, summary.Commands["install"], 1)
	assert.Equal(t, "echo installed", summary.Commands["install"][0].Command)
	assert.True(t, summary.Commands["install"][0].Success)
}

func TestExecuteCommand_FailureRecordedAndStreamed(t *testing.T) {
	sys, err := New(localConfig("pg-fail"))
	require.NoError(t, err)
	defer sys.Close()

	var lines []string
	sys.SetRecorder(func(line string) { lines = append(lines, line) })

	result := sys.ExecuteCommand(t.Context(), "exit 7", 0, true, "install")
	assert.False(t, result.Success)
	assert.Equal(t, 7, result.ReturnCode)

	require.Len(t, sys.SetupSummary().Commands["install"], 1)
	assert.False(t, sys.SetupSummary().Commands["install"][0].Success)

	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "rc=7")
}

func TestHasInstallMarker_Local(t *testing.T) {
	dir := t.TempDir()
	cfg := localConfig("pg-marker")
	cfg.DataDir = dir

	sys, err := New(cfg)
	require.NoError(t, err)
	defer sys.Close()

	ctx := t.Context()

	marked, err := sys.HasInstallMarker(ctx, 0)
	require.NoError(t, err)
	assert.False(t, marked)

	result := sys.ExecuteCommand(ctx, "touch "+sys.InstallMarkerPath(), 0, false, "")
	require.True(t, result.Success)

	marked, err = sys.HasInstallMarker(ctx, 0)
	require.NoError(t, err)
	assert.True(t, marked)

	_, err = sys.HasInstallMarker(ctx, 5)
	assert.Error(t, err)
}

func TestSetupSummary_RoundTrip(t *testing.T) {
	summary := NewSetupSummary("exasol-1", KindExasol)
	summary.SystemVersion = "8.0.1"
	summary.DataDirectory = "/data/exasol"
	summary.ConfigParameters = map[string]any{"db_ram": "32GiB"}
	summary.RecordCommand("install", "apt-get install exasol", "", true)
	summary.RecordCommand("install", "touch /data/exasol/.benchforge_installed", "write install marker", true)
	summary.RecordCommand("restart", "systemctl restart exasol-db", "node 0", false)
	summary.AddNote("installed exasol on 1 node(s)")

	data, err := summary.ToJSON()
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	restored, err := SetupSummaryFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "exasol-1", restored.SystemName)
	assert.Equal(t, "exasol", restored.SystemKind)
	assert.Equal(t, "8.0.1", restored.SystemVersion)
	assert.Equal(t, 3, restored.CommandCount())
	assert.Equal(t, summary.InstallationNotes, restored.InstallationNotes)
	require.Len(t, restored.Commands["restart"], 1)
	assert.False(t, restored.Commands["restart"][0].Success)
	assert.Equal(t, "node 0", restored.Commands["restart"][0].Description)
}

func TestSetupSummaryFromJSON_NormalizesEmpty(t *testing.T) {
	restored, err := SetupSummaryFromJSON([]byte(`{"system_name":"x","system_kind":"mysql"}`))
	require.NoError(t, err)
	assert.NotNil(t, restored.Commands)
	assert.NotNil(t, restored.InstallationNotes)
	assert.Equal(t, 0, restored.CommandCount())
}
