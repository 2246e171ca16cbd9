package system

import (
	"encoding/json"
	"sync"
)

// RecordedCommand is one remote command executed against a system,
// retained for report reproduction and for resuming without re-running
// install steps.
type RecordedCommand struct {
	Command     string `json:"command"`
	Success     bool   `json:"success"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
}

// SetupSummary is the persisted record of everything done to a system
// during setup, grouped by category. It round-trips through
// setup_<system>.json so a resumed run reports accurately even when
// installation is skipped.
type SetupSummary struct {
	mu sync.Mutex

	SystemName        string                       `json:"system_name"`
	SystemKind        string                       `json:"system_kind"`
	SystemVersion     string                       `json:"system_version,omitempty"`
	Commands          map[string][]RecordedCommand `json:"commands"`
	InstallationNotes []string                     `json:"installation_notes"`
	ConfigParameters  map[string]any               `json:"config_parameters,omitempty"`
	DataDirectory     string                       `json:"data_directory,omitempty"`
}

// NewSetupSummary creates an empty summary for a system.
func NewSetupSummary(name string, kind Kind) *SetupSummary {
	return &SetupSummary{
		SystemName:        name,
		SystemKind:        kind.String(),
		Commands:          make(map[string][]RecordedCommand),
		InstallationNotes: []string{},
	}
}

// RecordCommand appends a command under its category.
func (s *SetupSummary) RecordCommand(category, cmd, description string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Commands == nil {
		s.Commands = make(map[string][]RecordedCommand)
	}
	s.Commands[category] = append(s.Commands[category], RecordedCommand{
		Command:     cmd,
		Success:     success,
		Description: description,
		Category:    category,
	})
}

// AddNote appends an installation note.
func (s *SetupSummary) AddNote(note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InstallationNotes = append(s.InstallationNotes, note)
}

// CommandCount returns the total number of recorded commands across
// all categories.
func (s *SetupSummary) CommandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, cmds := range s.Commands {
		total += len(cmds)
	}
	return total
}

// ToJSON serializes the summary.
func (s *SetupSummary) ToJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s, "", "  ")
}

// SetupSummaryFromJSON deserializes a persisted summary.
func SetupSummaryFromJSON(data []byte) (*SetupSummary, error) {
	var s SetupSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Commands == nil {
		s.Commands = make(map[string][]RecordedCommand)
	}
	if s.InstallationNotes == nil {
		s.InstallationNotes = []string{}
	}
	return &s, nil
}

// Replace swaps this summary's recorded content with another's, used
// when reloading a persisted summary into a fresh system object.
func (s *SetupSummary) Replace(other *SetupSummary) {
	if other == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SystemVersion = other.SystemVersion
	s.Commands = other.Commands
	s.InstallationNotes = other.InstallationNotes
	s.ConfigParameters = other.ConfigParameters
	s.DataDirectory = other.DataDirectory
}
