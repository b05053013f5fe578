// Package stats consumes telemetry events and maintains per-run statistics:
// step outcome counters and a latency histogram over successful invocations.
// Statistics freeze when the run's RunCompleted event arrives; anything
// observed for a run after that point is logged and discarded.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/maestro/pkg/telemetry"
)

// Snapshot is an immutable copy of one run's statistics.
type Snapshot struct {
	RunID string

	// StepsStarted counts adapter invocations issued
	StepsStarted int

	// Terminal status counters
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled int

	// Interrupted is true when the run ended due to cancellation
	Interrupted bool

	// Final is true once the run's RunCompleted event has been observed
	Final bool

	// Latency summarizes successful invocation durations
	Latency LatencySummary
}

// LatencySummary describes the latency histogram of a run.
type LatencySummary struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

type runStats struct {
	started     int
	succeeded   int
	failed      int
	skipped     int
	cancelled   int
	interrupted bool
	final       bool
	latency     *histogram
}

// Aggregator folds telemetry events into per-run statistics. Safe for
// concurrent use.
type Aggregator struct {
	mu      sync.RWMutex
	runs    map[string]*runStats
	logger  *slog.Logger
	metrics *Metrics
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithLogger sets the logger used for late-event and overflow warnings.
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithMetrics mirrors counters into the given Prometheus metrics.
func WithMetrics(m *Metrics) AggregatorOption {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// New creates an aggregator.
func New(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		runs:   make(map[string]*runStats),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Listen subscribes to the bus and feeds events into the aggregator until
// the context is cancelled or the bus is closed and drained.
func (a *Aggregator) Listen(ctx context.Context, bus *telemetry.Bus) {
	sub := bus.Subscribe()
	go func() {
		defer sub.Close()
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				return
			}
			a.Observe(ev)
		}
	}()
}

// Observe folds a single event into the statistics. Exported so callers
// with their own subscription loop can drive the aggregator directly.
func (a *Aggregator) Observe(ev telemetry.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev := ev.(type) {
	case telemetry.StepStarted:
		rs, ok := a.open(ev.RunID, ev.Kind())
		if !ok {
			return
		}
		rs.started++

	case telemetry.StepFinished:
		rs, ok := a.open(ev.RunID, ev.Kind())
		if !ok {
			return
		}
		switch ev.Status {
		case "success":
			rs.succeeded++
			rs.latency.observe(ev.Duration)
			if a.metrics != nil {
				a.metrics.StepDuration.Observe(ev.Duration.Seconds())
			}
		case "failed":
			rs.failed++
		case "skipped":
			rs.skipped++
		case "cancelled":
			rs.cancelled++
		default:
			a.logger.Warn("unknown step status in telemetry",
				slog.String("run_id", ev.RunID),
				slog.String("step_id", ev.StepID),
				slog.String("status", ev.Status))
			return
		}
		if a.metrics != nil {
			a.metrics.StepsTotal.WithLabelValues(ev.Status).Inc()
		}

	case telemetry.RunCompleted:
		rs, ok := a.open(ev.RunID, ev.Kind())
		if !ok {
			return
		}
		rs.final = true
		rs.interrupted = ev.Summary.Interrupted
		if a.metrics != nil {
			a.metrics.RunsTotal.WithLabelValues(outcome(ev.Summary)).Inc()
		}

	case telemetry.Overflow:
		a.logger.Warn("telemetry events dropped before aggregation",
			slog.Int("dropped", ev.Dropped))
		if a.metrics != nil {
			a.metrics.EventsDropped.Add(float64(ev.Dropped))
		}
	}
}

// open returns the statistics for a run, creating them on first sight.
// Events for finalized runs are rejected with a warning.
func (a *Aggregator) open(runID, kind string) (*runStats, bool) {
	if runID == "" {
		return nil, false
	}
	rs, ok := a.runs[runID]
	if !ok {
		rs = &runStats{latency: newHistogram()}
		a.runs[runID] = rs
	}
	if rs.final {
		a.logger.Warn("telemetry event for finalized run ignored",
			slog.String("run_id", runID),
			slog.String("event", kind))
		return nil, false
	}
	return rs, true
}

// Snapshot returns a copy of the statistics for a run.
func (a *Aggregator) Snapshot(runID string) (Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rs, ok := a.runs[runID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		RunID:        runID,
		StepsStarted: rs.started,
		Succeeded:    rs.succeeded,
		Failed:       rs.failed,
		Skipped:      rs.skipped,
		Cancelled:    rs.cancelled,
		Interrupted:  rs.interrupted,
		Final:        rs.final,
		Latency: LatencySummary{
			Count: int(rs.latency.count),
			Min:   rs.latency.min,
			Max:   rs.latency.max,
			Mean:  rs.latency.mean(),
			P50:   rs.latency.percentile(0.50),
			P95:   rs.latency.percentile(0.95),
			P99:   rs.latency.percentile(0.99),
		},
	}, true
}

// Percentile returns a latency percentile for a run, p in (0, 1].
func (a *Aggregator) Percentile(runID string, p float64) (time.Duration, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rs, ok := a.runs[runID]
	if !ok {
		return 0, false
	}
	return rs.latency.percentile(p), true
}

func outcome(s telemetry.RunSummary) string {
	switch {
	case s.Interrupted:
		return "cancelled"
	case s.Failed > 0:
		return "failed"
	default:
		return "succeeded"
	}
}
