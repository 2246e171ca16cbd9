package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whhaicheng/benchforge/internal/domain/system"
	"github.com/whhaicheng/benchforge/internal/infra/artifact"
)

func testContext(t *testing.T) *GenerateContext {
	t.Helper()

	setup := system.NewSetupSummary("pg", system.KindPostgres)
	setup.SystemVersion = "16.3"
	setup.ConfigParameters = map[string]any{"shared_buffers": "8GB"}
	setup.RecordCommand("install", "apt-get install postgresql", "", true)

	return &GenerateContext{
		Summary: Summarize("run-7", 10, results()),
		Infrastructure: &artifact.InfrastructureSetup{
			InfrastructureProvisioningS: 120.5,
			Systems: map[string]artifact.SystemTiming{
				"pg": {InstallationS: 300.2},
				"ch": {RestartS: 9.1},
			},
		},
		SetupSummaries: map[string]*system.SetupSummary{"pg": setup},
		History: []artifact.HistoricalRun{
			{RunID: "run-6", StartedAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), Systems: []string{"pg"}, Queries: 22, Failures: 0},
		},
	}
}

func TestMarkdownGenerator(t *testing.T) {
	content, err := NewMarkdownGenerator().Generate(testContext(t))
	require.NoError(t, err)
	md := string(content)

	assert.Contains(t, md, "# Benchmark Report - run-7")
	assert.Contains(t, md, "## Overview")
	assert.Contains(t, md, "**Scale Factor**: 10")
	assert.Contains(t, md, "## Setup Timings")
	assert.Contains(t, md, "| pg | 300.2 | 0.0 |")
	assert.Contains(t, md, "## pg")
	assert.Contains(t, md, "## ch")
	assert.Contains(t, md, "| q01 | 3 | 0 |")
	assert.Contains(t, md, "**Version**: 16.3")
	assert.Contains(t, md, "**shared_buffers**: 8GB")
	assert.Contains(t, md, "## Previous Runs")
	assert.Contains(t, md, "`run-6`")

	// Failures show in the system heading line.
	assert.Contains(t, md, "1 failed")
}

func TestMarkdownGenerator_TitleOverride(t *testing.T) {
	ctx := testContext(t)
	ctx.Title = "TPC-H SF10 Comparison"
	content, err := NewMarkdownGenerator().Generate(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# TPC-H SF10 Comparison")
}

func TestJSONGenerator(t *testing.T) {
	content, err := NewJSONGenerator().Generate(testContext(t))
	require.NoError(t, err)
	require.True(t, json.Valid(content))

	var parsed struct {
		Meta struct {
			RunID       string `json:"run_id"`
			ScaleFactor int    `json:"scale_factor"`
		} `json:"meta"`
		Systems []SystemSummary      `json:"systems"`
		Setup   map[string]jsonSetup `json:"setup"`
	}
	require.NoError(t, json.Unmarshal(content, &parsed))

	assert.Equal(t, "run-7", parsed.Meta.RunID)
	assert.Equal(t, 10, parsed.Meta.ScaleFactor)
	require.Len(t, parsed.Systems, 2)
	assert.Equal(t, "16.3", parsed.Setup["pg"].Version)
	assert.Equal(t, 1, parsed.Setup["pg"].CommandCount)
}

func TestGenerators_RequireSummary(t *testing.T) {
	_, err := NewMarkdownGenerator().Generate(&GenerateContext{})
	assert.Error(t, err)
	_, err = NewJSONGenerator().Generate(&GenerateContext{})
	assert.Error(t, err)
}
