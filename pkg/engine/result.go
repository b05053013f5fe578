package engine

import (
	"time"

	"github.com/tombee/maestro/pkg/telemetry"
)

// StepStatus is the lifecycle state of a step within a run.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusSuccess   StepStatus = "success"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
	StatusCancelled StepStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s StepStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// StepResult is the recorded outcome of one step.
type StepResult struct {
	StepID string
	Status StepStatus

	// Outputs holds the call's output values; only set on success, with
	// exactly the capability's declared output count
	Outputs []interface{}

	// Err is the failure cause for failed steps, or the upstream cause
	// for steps skipped by failure propagation. Nil for successful steps,
	// condition skips, and cancelled steps.
	Err error

	// StartedAt and FinishedAt bracket the adapter call. Both are zero
	// for steps that never ran.
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall-clock time of the adapter call, zero for steps
// that never ran.
func (r *StepResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunResult is the complete outcome of one pipeline run. Every step of the
// pipeline has an entry in Steps with a terminal status.
type RunResult struct {
	RunID    string
	Pipeline string
	Steps    map[string]*StepResult
	Summary  telemetry.RunSummary

	StartedAt  time.Time
	FinishedAt time.Time
}

// Result looks up a step's result by identifier.
func (r *RunResult) Result(stepID string) (*StepResult, bool) {
	res, ok := r.Steps[stepID]
	return res, ok
}

// Failed reports whether any step failed or the run was interrupted.
func (r *RunResult) Failed() bool {
	return r.Summary.Failed > 0 || r.Summary.Interrupted
}
