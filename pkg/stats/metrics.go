package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the aggregator's counters into a Prometheus registry so
// long-lived processes can scrape cross-run totals.
type Metrics struct {
	StepsTotal    *prometheus.CounterVec
	RunsTotal     *prometheus.CounterVec
	StepDuration  prometheus.Histogram
	EventsDropped prometheus.Counter
}

// NewMetrics registers the aggregator metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "maestro_steps_total",
			Help: "Total pipeline steps by terminal status.",
		}, []string{"status"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "maestro_runs_total",
			Help: "Total pipeline runs by outcome.",
		}, []string{"outcome"}),
		StepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "maestro_step_duration_seconds",
			Help:    "Wall-clock duration of successful step invocations.",
			Buckets: prometheus.DefBuckets,
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "maestro_telemetry_dropped_total",
			Help: "Telemetry events shed by the aggregator's bus subscription.",
		}),
	}
}
