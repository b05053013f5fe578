package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tombee/maestro/pkg/telemetry"
)

// Option configures an Engine.
type Option func(*Engine)

// WithBus sets the telemetry bus the engine publishes to. By default the
// engine creates its own bus, reachable via Engine.Bus.
func WithBus(bus *telemetry.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxConcurrency bounds the number of steps invoked in parallel.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithRateLimit throttles adapter invocations across the whole engine.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(e *Engine) {
		e.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithHistory records finished runs into the given store.
func WithHistory(store HistoryStore) Option {
	return func(e *Engine) {
		e.history = store
	}
}

// WithTracerProvider sets the tracer provider used for run and step spans.
// The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	}
}
