package stats

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/telemetry"
)

func finished(runID, stepID, status string, d time.Duration) telemetry.StepFinished {
	return telemetry.StepFinished{
		RunID:    runID,
		StepID:   stepID,
		Status:   status,
		Duration: d,
		Time:     time.Now().UTC(),
	}
}

func TestAggregatorCounters(t *testing.T) {
	agg := New()

	agg.Observe(telemetry.StepStarted{RunID: "r1", StepID: "a"})
	agg.Observe(finished("r1", "a", "success", 10*time.Millisecond))
	agg.Observe(telemetry.StepStarted{RunID: "r1", StepID: "b"})
	agg.Observe(finished("r1", "b", "failed", 5*time.Millisecond))
	agg.Observe(finished("r1", "c", "skipped", 0))
	agg.Observe(finished("r1", "d", "cancelled", 0))

	snap, ok := agg.Snapshot("r1")
	require.True(t, ok)
	assert.Equal(t, 2, snap.StepsStarted)
	assert.Equal(t, 1, snap.Succeeded)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, 1, snap.Cancelled)
	assert.False(t, snap.Final)

	// Only successful invocations feed the latency histogram.
	assert.Equal(t, 1, snap.Latency.Count)
}

func TestAggregatorFreezesOnRunCompleted(t *testing.T) {
	agg := New()

	agg.Observe(telemetry.StepStarted{RunID: "r1", StepID: "a"})
	agg.Observe(finished("r1", "a", "success", time.Millisecond))
	agg.Observe(telemetry.RunCompleted{
		RunID:   "r1",
		Summary: telemetry.RunSummary{Total: 1, Succeeded: 1},
	})

	// Late events must not disturb the frozen statistics.
	agg.Observe(telemetry.StepStarted{RunID: "r1", StepID: "late"})
	agg.Observe(finished("r1", "late", "success", time.Second))

	snap, ok := agg.Snapshot("r1")
	require.True(t, ok)
	assert.True(t, snap.Final)
	assert.Equal(t, 1, snap.StepsStarted)
	assert.Equal(t, 1, snap.Succeeded)
	assert.Equal(t, 1, snap.Latency.Count)
}

func TestAggregatorTracksRunsIndependently(t *testing.T) {
	agg := New()

	agg.Observe(finished("r1", "a", "success", time.Millisecond))
	agg.Observe(finished("r2", "a", "failed", 0))

	s1, ok := agg.Snapshot("r1")
	require.True(t, ok)
	s2, ok := agg.Snapshot("r2")
	require.True(t, ok)

	assert.Equal(t, 1, s1.Succeeded)
	assert.Equal(t, 0, s1.Failed)
	assert.Equal(t, 1, s2.Failed)

	_, ok = agg.Snapshot("r3")
	assert.False(t, ok)
}

func TestAggregatorPercentiles(t *testing.T) {
	agg := New()

	// 90 fast steps and 10 slow ones: p50 stays in a low bucket, p99 high.
	for i := 0; i < 90; i++ {
		agg.Observe(finished("r1", "fast", "success", 3*time.Millisecond))
	}
	for i := 0; i < 10; i++ {
		agg.Observe(finished("r1", "slow", "success", 800*time.Millisecond))
	}

	p50, ok := agg.Percentile("r1", 0.50)
	require.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, p50)

	p99, ok := agg.Percentile("r1", 0.99)
	require.True(t, ok)
	assert.Equal(t, time.Second, p99)

	snap, _ := agg.Snapshot("r1")
	assert.Equal(t, 100, snap.Latency.Count)
	assert.Equal(t, 3*time.Millisecond, snap.Latency.Min)
	assert.Equal(t, 800*time.Millisecond, snap.Latency.Max)
}

func TestAggregatorListen(t *testing.T) {
	bus := telemetry.NewBus()
	agg := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agg.Listen(ctx, bus)

	bus.Publish(telemetry.StepStarted{RunID: "r1", StepID: "a"})
	bus.Publish(finished("r1", "a", "success", time.Millisecond))
	bus.Publish(telemetry.RunCompleted{RunID: "r1", Summary: telemetry.RunSummary{Total: 1, Succeeded: 1}})
	bus.Close()

	require.Eventually(t, func() bool {
		snap, ok := agg.Snapshot("r1")
		return ok && snap.Final
	}, time.Second, 5*time.Millisecond)

	snap, _ := agg.Snapshot("r1")
	assert.Equal(t, 1, snap.Succeeded)
}

func TestAggregatorPrometheusMirror(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	agg := New(WithMetrics(metrics))

	agg.Observe(finished("r1", "a", "success", time.Millisecond))
	agg.Observe(finished("r1", "b", "failed", 0))
	agg.Observe(telemetry.Overflow{Dropped: 7})
	agg.Observe(telemetry.RunCompleted{RunID: "r1", Summary: telemetry.RunSummary{Total: 2, Succeeded: 1, Failed: 1}})

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StepsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StepsTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(7), testutil.ToFloat64(metrics.EventsDropped))
}
