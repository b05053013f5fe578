package telemetry

import (
	"time"
)

// Event is the closed set of telemetry notifications published during a run.
// Events are immutable values; subscribers must not retain references into
// mutable engine state through them.
type Event interface {
	// Kind returns the event discriminator, e.g. "step_started"
	Kind() string

	// Timestamp returns when the event was produced
	Timestamp() time.Time
}

// LogLine is a free-form log message associated with a run.
type LogLine struct {
	RunID  string
	StepID string
	Text   string
	Time   time.Time
}

func (LogLine) Kind() string { return "log_line" }
func (e LogLine) Timestamp() time.Time { return e.Time }

// StepStarted marks the moment a step's call is handed to its adapter.
// Steps that are skipped or cancelled before invocation never produce one.
type StepStarted struct {
	RunID  string
	StepID string
	Time   time.Time
}

func (StepStarted) Kind() string { return "step_started" }
func (e StepStarted) Timestamp() time.Time { return e.Time }

// StepFinished marks a step reaching a terminal status. It is published for
// every step of a run, including skipped and cancelled ones.
type StepFinished struct {
	RunID  string
	StepID string

	// Status is the terminal step status: "success", "failed", "skipped"
	// or "cancelled"
	Status string

	// Duration is the wall-clock time of the adapter call, zero for steps
	// that never ran
	Duration time.Duration

	// Error holds the failure message for failed steps
	Error string

	Time time.Time
}

func (StepFinished) Kind() string { return "step_finished" }
func (e StepFinished) Timestamp() time.Time { return e.Time }

// RunSummary aggregates the terminal statuses of a run's steps.
type RunSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled int

	// Interrupted is true when the run ended due to cancellation
	Interrupted bool

	Duration time.Duration
}

// RunCompleted is the final event of a run. No further events for the run
// are published after it.
type RunCompleted struct {
	RunID    string
	Pipeline string
	Summary  RunSummary
	Time     time.Time
}

func (RunCompleted) Kind() string { return "run_completed" }
func (e RunCompleted) Timestamp() time.Time { return e.Time }

// Overflow is a synthetic marker injected into a subscriber's stream when
// the subscriber fell behind and buffered events were discarded. Dropped
// counts every event lost since the subscriber last made progress.
type Overflow struct {
	Dropped int
	Time    time.Time
}

func (Overflow) Kind() string { return "overflow" }
func (e Overflow) Timestamp() time.Time { return e.Time }
