package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/whhaicheng/benchforge/internal/domain/system"
	"github.com/whhaicheng/benchforge/internal/infra/artifact"
)

// GenerateContext carries everything a generator needs: the computed
// summary plus the persisted setup and timing artifacts.
type GenerateContext struct {
	Title          string
	Summary        *Summary
	Infrastructure *artifact.InfrastructureSetup
	SetupSummaries map[string]*system.SetupSummary
	History        []artifact.HistoricalRun
}

// Validate checks the context is renderable.
func (c *GenerateContext) Validate() error {
	if c.Summary == nil {
		return fmt.Errorf("report context has no summary")
	}
	return nil
}

// MarkdownGenerator renders the benchmark report as Markdown.
type MarkdownGenerator struct{}

// NewMarkdownGenerator creates a Markdown generator.
func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

// Generate renders the full Markdown report.
func (g *MarkdownGenerator) Generate(data *GenerateContext) ([]byte, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	g.writeTitle(&sb, data)
	g.writeOverview(&sb, data)
	g.writeTimings(&sb, data)
	for _, sys := range data.Summary.Systems {
		g.writeSystem(&sb, data, sys)
	}
	g.writeHistory(&sb, data)
	return []byte(sb.String()), nil
}

func (g *MarkdownGenerator) writeTitle(sb *strings.Builder, data *GenerateContext) {
	title := data.Title
	if title == "" {
		title = fmt.Sprintf("Benchmark Report - %s", data.Summary.RunID)
	}
	fmt.Fprintf(sb, "# %s\n\n", title)
}

func (g *MarkdownGenerator) writeOverview(sb *strings.Builder, data *GenerateContext) {
	sb.WriteString("## Overview\n\n")
	fmt.Fprintf(sb, "- **Run ID**: `%s`\n", data.Summary.RunID)
	fmt.Fprintf(sb, "- **Generated**: %s\n", data.Summary.GeneratedAt.Format(time.RFC1123))
	if data.Summary.ScaleFactor > 0 {
		fmt.Fprintf(sb, "- **Scale Factor**: %d\n", data.Summary.ScaleFactor)
	}
	fmt.Fprintf(sb, "- **Systems**: %d\n", len(data.Summary.Systems))
	sb.WriteString("\n")
}

func (g *MarkdownGenerator) writeTimings(sb *strings.Builder, data *GenerateContext) {
	infra := data.Infrastructure
	if infra == nil || (infra.InfrastructureProvisioningS == 0 && len(infra.Systems) == 0) {
		return
	}

	sb.WriteString("## Setup Timings\n\n")
	sb.WriteString("| System | Installation (s) | Restart (s) |\n")
	sb.WriteString("|--------|------------------|-------------|\n")

	names := make([]string, 0, len(infra.Systems))
	for name := range infra.Systems {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		timing := infra.Systems[name]
		fmt.Fprintf(sb, "| %s | %.1f | %.1f |\n", name, timing.InstallationS, timing.RestartS)
	}
	if infra.InfrastructureProvisioningS > 0 {
		fmt.Fprintf(sb, "\nInfrastructure provisioning: %.1f s\n", infra.InfrastructureProvisioningS)
	}
	sb.WriteString("\n")
}

func (g *MarkdownGenerator) writeSystem(sb *strings.Builder, data *GenerateContext, sys SystemSummary) {
	fmt.Fprintf(sb, "## %s\n\n", sys.System)

	status := "✅"
	if sys.Failures > 0 {
		status = fmt.Sprintf("❌ %d failed", sys.Failures)
	}
	fmt.Fprintf(sb, "- **Runs**: %d (%s)\n", sys.TotalRuns, status)
	if sys.GeomeanMS > 0 {
		fmt.Fprintf(sb, "- **Geomean**: %.1f ms\n", sys.GeomeanMS)
	}

	if setup, ok := data.SetupSummaries[sys.System]; ok {
		if setup.SystemVersion != "" {
			fmt.Fprintf(sb, "- **Version**: %s\n", setup.SystemVersion)
		}
		fmt.Fprintf(sb, "- **Setup commands**: %d\n", setup.CommandCount())
	}
	sb.WriteString("\n")

	sb.WriteString("| Query | Runs | Failures | Min (ms) | Median (ms) | Mean (ms) | Max (ms) |\n")
	sb.WriteString("|-------|------|----------|----------|-------------|-----------|----------|\n")
	for _, q := range sys.QueryResults {
		fmt.Fprintf(sb, "| %s | %d | %d | %.1f | %.1f | %.1f | %.1f |\n",
			q.Query, q.Runs, q.Failures, q.MinMS, q.MedianMS, q.MeanMS, q.MaxMS)
	}
	sb.WriteString("\n")

	if setup, ok := data.SetupSummaries[sys.System]; ok && len(setup.ConfigParameters) > 0 {
		sb.WriteString("### Parameters\n\n")
		params := make([]string, 0, len(setup.ConfigParameters))
		for key := range setup.ConfigParameters {
			params = append(params, key)
		}
		sort.Strings(params)
		for _, key := range params {
			fmt.Fprintf(sb, "- **%s**: %v\n", key, setup.ConfigParameters[key])
		}
		sb.WriteString("\n")
	}
}

func (g *MarkdownGenerator) writeHistory(sb *strings.Builder, data *GenerateContext) {
	if len(data.History) == 0 {
		return
	}

	sb.WriteString("## Previous Runs\n\n")
	sb.WriteString("| Run | Started | Systems | Queries | Failures |\n")
	sb.WriteString("|-----|---------|---------|---------|----------|\n")
	for _, run := range data.History {
		fmt.Fprintf(sb, "| `%s` | %s | %s | %d | %d |\n",
			run.RunID,
			run.StartedAt.Format("2006-01-02 15:04"),
			strings.Join(run.Systems, ", "),
			run.Queries,
			run.Failures)
	}
	sb.WriteString("\n")
}
