package report

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSONGenerator renders the benchmark report as machine-readable JSON.
type JSONGenerator struct{}

// NewJSONGenerator creates a JSON generator.
func NewJSONGenerator() *JSONGenerator {
	return &JSONGenerator{}
}

type jsonMeta struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	ScaleFactor int       `json:"scale_factor,omitempty"`
}

type jsonSetup struct {
	Version       string         `json:"version,omitempty"`
	CommandCount  int            `json:"command_count"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	DataDirectory string         `json:"data_directory,omitempty"`
}

type jsonReport struct {
	Meta           jsonMeta             `json:"meta"`
	Infrastructure any                  `json:"infrastructure,omitempty"`
	Systems        []SystemSummary      `json:"systems"`
	Setup          map[string]jsonSetup `json:"setup,omitempty"`
	History        any                  `json:"history,omitempty"`
}

// Generate renders the full JSON report.
func (g *JSONGenerator) Generate(data *GenerateContext) ([]byte, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	out := jsonReport{
		Meta: jsonMeta{
			RunID:       data.Summary.RunID,
			GeneratedAt: data.Summary.GeneratedAt,
			ScaleFactor: data.Summary.ScaleFactor,
		},
		Systems: data.Summary.Systems,
	}
	if data.Infrastructure != nil {
		out.Infrastructure = data.Infrastructure
	}
	if len(data.SetupSummaries) > 0 {
		out.Setup = map[string]jsonSetup{}
		for name, setup := range data.SetupSummaries {
			out.Setup[name] = jsonSetup{
				Version:       setup.SystemVersion,
				CommandCount:  setup.CommandCount(),
				Parameters:    setup.ConfigParameters,
				DataDirectory: setup.DataDirectory,
			}
		}
	}
	if len(data.History) > 0 {
		out.History = data.History
	}

	content, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal json report: %w", err)
	}
	return content, nil
}
