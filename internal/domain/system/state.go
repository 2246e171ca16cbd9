package system

import (
	"context"
	"fmt"
	"log/slog"
)

// State is the readiness classification of a system before setup.
type State string

const (
	// NeedsInstallation means at least one node has no install marker
	// (or a probe failed); the full install sequence must run.
	NeedsInstallation State = "NEEDS_INSTALLATION"

	// NeedsServiceRestart means every node is installed but the
	// service unit is not running.
	NeedsServiceRestart State = "NEEDS_SERVICE_RESTART"

	// NeedsDBRestart means the service unit is active but the database
	// engine does not answer health probes.
	NeedsDBRestart State = "NEEDS_DB_RESTART"

	// Ready means the system answers health probes.
	Ready State = "READY"
)

// String implements fmt.Stringer.
func (s State) String() string { return string(s) }

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case NeedsInstallation, NeedsServiceRestart, NeedsDBRestart, Ready:
		return true
	}
	return false
}

// StateTarget is the slice of System the classifier needs. System
// satisfies it.
type StateTarget interface {
	Name() string
	NodeCount() int
	HasInstallMarker(ctx context.Context, node int) (bool, error)
	IsHealthy(ctx context.Context, quiet bool) bool
	ServiceActive(ctx context.Context) (bool, error)
}

// CheckState classifies the target's readiness.
//
// The install marker must exist on every node; a cluster with even one
// unmarked node is treated as not installed, because a partial cluster
// cannot be repaired by restarts. Probe failures also classify as
// NeedsInstallation: when a node cannot be reached it cannot be assumed
// installed.
func CheckState(ctx context.Context, target StateTarget) (state State) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("System: State probe panicked, assuming not installed",
				"system", target.Name(), "panic", fmt.Sprint(r))
			state = NeedsInstallation
		}
	}()

	for node := 0; node < target.NodeCount(); node++ {
		marked, err := target.HasInstallMarker(ctx, node)
		if err != nil {
			slog.Warn("System: Marker probe failed, assuming not installed",
				"system", target.Name(), "node", node, "error", err)
			return NeedsInstallation
		}
		if !marked {
			slog.Info("System: Install marker missing",
				"system", target.Name(), "node", node)
			return NeedsInstallation
		}
	}

	if target.IsHealthy(ctx, true) {
		return Ready
	}

	// Installed but unhealthy. If the service unit reports active the
	// engine itself is wedged and a database-level restart is enough;
	// otherwise the unit needs to come up first.
	active, err := target.ServiceActive(ctx)
	if err != nil {
		slog.Warn("System: Service probe failed, assuming not installed",
			"system", target.Name(), "error", err)
		return NeedsInstallation
	}
	if active {
		return NeedsDBRestart
	}
	return NeedsServiceRestart
}
