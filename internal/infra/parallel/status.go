// Package parallel provides concurrent task execution with per-task
// output isolation, bounded buffering, and serialized console logging.
package parallel

// TaskStatus represents the lifecycle state of one task within a batch.
type TaskStatus string

const (
	StatusPending   TaskStatus = "Pending"
	StatusRunning   TaskStatus = "Running"
	StatusCompleted TaskStatus = "Completed"
	StatusFailed    TaskStatus = "Failed"
)

// IsValid checks if the status is a known value.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal checks if the status is terminal (no further transitions).
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo checks if a transition to target is valid.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	transitions := map[TaskStatus][]TaskStatus{
		StatusPending: {StatusRunning},
		StatusRunning: {StatusCompleted, StatusFailed},
	}

	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == target {
			return true
		}
	}
	return false
}

// String implements Stringer interface.
func (s TaskStatus) String() string {
	return string(s)
}
