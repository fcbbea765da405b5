package model

import "time"

// RunStatus represents the lifecycle state of a collection run.
type RunStatus string

const (
	RunStatusStarted   RunStatus = "started"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPartial   RunStatus = "partial"
)

// IsTerminal returns true for statuses a run never transitions out of.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusPartial:
		return true
	}
	return false
}

// ClassifyOutcome maps collection counters to the terminal run status:
// completed when nothing failed, failed when everything did, partial otherwise.
func ClassifyOutcome(successes, errors int) RunStatus {
	switch {
	case errors == 0:
		return RunStatusCompleted
	case successes == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

// Run represents one execution of the collection process. The ID is assigned
// by the ledger and is immutable once set.
type Run struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Notes      string     `json:"notes,omitempty"`
}

// InProgress reports whether the run has not yet reached a terminal status.
func (r *Run) InProgress() bool {
	return !r.Status.IsTerminal()
}
