// Package engine executes validated pipelines. A single scheduler goroutine
// owns the run state and dispatches ready steps to a bounded pool of worker
// goroutines; workers call runtime adapters and report back over a channel.
// Step failures are contained: the failed step's transitive dependents are
// skipped without invocation while independent branches continue. Telemetry
// is published to a non-blocking bus as the run progresses.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/pipeline"
	"github.com/tombee/maestro/pkg/telemetry"
)

// DefaultMaxConcurrency is the worker pool size when none is configured.
const DefaultMaxConcurrency = 4

const tracerName = "github.com/tombee/maestro/pkg/engine"

// HistoryStore persists finished runs.
type HistoryStore interface {
	Record(ctx context.Context, result *RunResult) error
}

// Engine runs pipelines against a registry of runtime adapters. An Engine
// is safe for concurrent use; each Run gets its own scheduler state.
type Engine struct {
	registry       *Registry
	bus            *telemetry.Bus
	logger         *slog.Logger
	maxConcurrency int
	limiter        *rate.Limiter
	history        HistoryStore
	tracer         trace.Tracer
}

// New creates an engine over the given adapter registry.
func New(registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:       registry,
		logger:         slog.Default(),
		maxConcurrency: DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = telemetry.NewBus()
	}
	if e.tracer == nil {
		e.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	return e
}

// Bus returns the telemetry bus the engine publishes to.
func (e *Engine) Bus() *telemetry.Bus {
	return e.bus
}

// Run executes the pipeline and returns once every step has a terminal
// status. Cancellation via ctx is cooperative: steps already handed to an
// adapter run to completion (the adapter sees the cancelled context and may
// cut short), steps not yet started are marked cancelled, and the partial
// result is returned with a nil error. A non-nil error indicates a breach
// of an internal invariant, never an individual step failure.
func (e *Engine) Run(ctx context.Context, p *pipeline.Pipeline) (*RunResult, error) {
	if p == nil || p.Len() == 0 {
		return nil, &errors.ValidationError{Message: "cannot run an empty pipeline"}
	}

	runID := uuid.New().String()
	logger := e.logger.With(
		slog.String("run_id", runID),
		slog.String("pipeline", p.Name()),
	)

	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.name", p.Name()),
		attribute.String("run.id", runID),
		attribute.Int("pipeline.steps", p.Len()),
	))
	defer span.End()

	result := &RunResult{
		RunID:     runID,
		Pipeline:  p.Name(),
		Steps:     make(map[string]*StepResult, p.Len()),
		StartedAt: time.Now().UTC(),
	}

	logger.Info("run started", slog.Int("steps", p.Len()))
	e.bus.Publish(telemetry.LogLine{
		RunID: runID,
		Text:  fmt.Sprintf("run of pipeline %q started (%d steps)", p.Name(), p.Len()),
		Time:  result.StartedAt,
	})

	r := &run{
		engine:      e,
		pipeline:    p,
		runID:       runID,
		logger:      logger,
		results:     result.Steps,
		waiting:     make(map[string]int, p.Len()),
		completions: make(chan *StepResult),
	}
	runErr := r.execute(ctx)

	result.FinishedAt = time.Now().UTC()
	result.Summary = r.summarize(result.FinishedAt.Sub(result.StartedAt))

	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
		logger.Error("run aborted", slog.String("error", runErr.Error()))
		return result, runErr
	}

	e.bus.Publish(telemetry.RunCompleted{
		RunID:    runID,
		Pipeline: p.Name(),
		Summary:  result.Summary,
		Time:     result.FinishedAt,
	})
	logger.Info("run completed",
		slog.Int("succeeded", result.Summary.Succeeded),
		slog.Int("failed", result.Summary.Failed),
		slog.Int("skipped", result.Summary.Skipped),
		slog.Int("cancelled", result.Summary.Cancelled),
		slog.Duration("duration", result.Summary.Duration),
	)

	if e.history != nil {
		// The run ctx may already be cancelled; recording still happens.
		if err := e.history.Record(context.WithoutCancel(ctx), result); err != nil {
			logger.Warn("failed to record run history", slog.String("error", err.Error()))
		}
	}
	return result, nil
}

// run holds the state of one execution. The scheduler loop in execute is
// the only writer of results, waiting, ready and remaining; workers only
// send onto completions.
type run struct {
	engine   *Engine
	pipeline *pipeline.Pipeline
	runID    string
	logger   *slog.Logger

	results     map[string]*StepResult
	waiting     map[string]int
	ready       []*pipeline.Step
	completions chan *StepResult
	remaining   int
	inflight    int
	interrupted bool
}

func (r *run) execute(ctx context.Context) error {
	for _, step := range r.pipeline.Steps() {
		r.results[step.ID] = &StepResult{StepID: step.ID, Status: StatusPending}
		deps := len(step.Dependencies())
		r.waiting[step.ID] = deps
		if deps == 0 {
			r.ready = append(r.ready, step)
		}
	}
	r.remaining = r.pipeline.Len()

	for r.remaining > 0 {
		if !r.interrupted && ctx.Err() != nil {
			r.interrupt()
		}

		r.dispatch(ctx)

		if r.remaining == 0 {
			break
		}
		if r.inflight == 0 {
			if len(r.ready) > 0 {
				continue
			}
			return &errors.InternalError{
				Op:      "engine.schedule",
				Message: fmt.Sprintf("scheduler stalled with %d step(s) unresolved", r.remaining),
			}
		}

		if r.interrupted {
			r.record(<-r.completions)
			r.inflight--
			continue
		}
		select {
		case res := <-r.completions:
			r.inflight--
			r.record(res)
		case <-ctx.Done():
			r.interrupt()
		}
	}
	return nil
}

// dispatch drains the ready queue, resolving each step to one of: skip,
// cancel, immediate failure, or hand-off to a worker goroutine. Stops early
// when the worker pool is full.
func (r *run) dispatch(ctx context.Context) {
	for len(r.ready) > 0 {
		step := r.ready[0]

		if r.interrupted {
			r.ready = r.ready[1:]
			r.record(&StepResult{StepID: step.ID, Status: StatusCancelled})
			continue
		}

		if blameID, blameStatus := r.upstreamBlame(step); blameID != "" {
			r.ready = r.ready[1:]
			r.record(&StepResult{
				StepID: step.ID,
				Status: StatusSkipped,
				Err:    fmt.Errorf("upstream step %q %s", blameID, blameStatus),
			})
			continue
		}

		proceed, err := r.evalCondition(step)
		if err != nil {
			r.ready = r.ready[1:]
			r.record(&StepResult{
				StepID: step.ID,
				Status: StatusFailed,
				Err:    errors.Wrapf(err, "evaluating condition for step %q", step.ID),
			})
			continue
		}
		if !proceed {
			r.ready = r.ready[1:]
			r.logger.Debug("condition false, skipping step", slog.String("step_id", step.ID))
			r.record(&StepResult{StepID: step.ID, Status: StatusSkipped})
			continue
		}

		adapter, err := r.engine.registry.Lookup(step.Capability.Runtime)
		if err != nil {
			r.ready = r.ready[1:]
			r.record(&StepResult{
				StepID: step.ID,
				Status: StatusFailed,
				Err: &errors.AdapterError{
					Runtime:  step.Capability.Runtime,
					Function: step.Capability.Function,
					Message:  "no adapter registered",
					Cause:    err,
				},
			})
			continue
		}

		if r.inflight >= r.engine.maxConcurrency {
			return
		}
		r.ready = r.ready[1:]
		r.inflight++
		go r.invoke(ctx, step, adapter, r.resolveArgs(step))
	}
}

// record stores a terminal result, publishes StepFinished, and releases the
// step's dependents into the ready queue.
func (r *run) record(res *StepResult) {
	r.results[res.StepID] = res
	r.remaining--

	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
		if res.Status == StatusFailed {
			r.logger.Warn("step failed",
				slog.String("step_id", res.StepID),
				slog.String("error", errText))
		}
	}
	r.engine.bus.Publish(telemetry.StepFinished{
		RunID:    r.runID,
		StepID:   res.StepID,
		Status:   string(res.Status),
		Duration: res.Duration(),
		Error:    errText,
		Time:     time.Now().UTC(),
	})

	for _, depID := range r.pipeline.Dependents(res.StepID) {
		r.waiting[depID]--
		if r.waiting[depID] == 0 {
			step, _ := r.pipeline.Step(depID)
			r.ready = append(r.ready, step)
		}
	}
}

// invoke runs in a worker goroutine. It never touches scheduler state; the
// outcome travels back over the completions channel.
func (r *run) invoke(ctx context.Context, step *pipeline.Step, adapter Adapter, args []interface{}) {
	res := &StepResult{StepID: step.ID, Status: StatusRunning}

	if lim := r.engine.limiter; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			res.Status = StatusCancelled
			r.completions <- res
			return
		}
	}

	r.engine.bus.Publish(telemetry.StepStarted{
		RunID:  r.runID,
		StepID: step.ID,
		Time:   time.Now().UTC(),
	})
	r.logger.Debug("invoking step",
		slog.String("step_id", step.ID),
		slog.String("runtime", step.Capability.Runtime),
		slog.String("function", step.Capability.Function),
	)

	ctx, span := r.engine.tracer.Start(ctx, "step.invoke", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.runtime", step.Capability.Runtime),
		attribute.String("step.function", step.Capability.Function),
	))

	res.StartedAt = time.Now().UTC()
	outputs, err := adapter.Invoke(ctx, step.Capability, args)
	res.FinishedAt = time.Now().UTC()

	switch {
	case err != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)):
		res.Status = StatusCancelled
		res.Err = err
	case err != nil:
		res.Status = StatusFailed
		res.Err = asAdapterError(step, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case len(outputs) != step.Capability.NumReturns():
		res.Status = StatusFailed
		res.Err = &errors.AdapterError{
			Runtime:  step.Capability.Runtime,
			Function: step.Capability.Function,
			Message:  fmt.Sprintf("returned %d output(s), capability declares %d", len(outputs), step.Capability.NumReturns()),
		}
		span.SetStatus(codes.Error, res.Err.Error())
	default:
		res.Status = StatusSuccess
		res.Outputs = outputs
	}
	span.End()

	r.completions <- res
}

// upstreamBlame returns the first dependency that did not succeed. Ready
// steps have terminal results recorded for every dependency.
func (r *run) upstreamBlame(step *pipeline.Step) (string, StepStatus) {
	for _, depID := range step.Dependencies() {
		if res := r.results[depID]; res.Status != StatusSuccess {
			return depID, res.Status
		}
	}
	return "", ""
}

// resolveArgs materializes the step's bindings. Only called after every
// dependency succeeded, so referenced outputs are present and in range.
func (r *run) resolveArgs(step *pipeline.Step) []interface{} {
	args := make([]interface{}, len(step.Bindings))
	for i, binding := range step.Bindings {
		switch b := binding.(type) {
		case pipeline.Literal:
			args[i] = b.Value
		case pipeline.StepOutputRef:
			args[i] = r.results[b.StepID].Outputs[b.Output]
		}
	}
	return args
}

// evalCondition evaluates the step's condition against the outputs of
// completed steps. Unconditional steps always proceed.
func (r *run) evalCondition(step *pipeline.Step) (bool, error) {
	prog := step.ConditionProgram()
	if prog == nil {
		return true, nil
	}
	steps := make(map[string]interface{}, len(r.results))
	for id, res := range r.results {
		if res.Status == StatusSuccess {
			steps[id] = res.Outputs
		}
	}
	out, err := expr.Run(prog, map[string]interface{}{"steps": steps})
	if err != nil {
		return false, err
	}
	proceed, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition evaluated to %T, want bool", out)
	}
	return proceed, nil
}

func (r *run) interrupt() {
	r.interrupted = true
	r.logger.Info("cancellation requested, draining in-flight steps",
		slog.Int("inflight", r.inflight))
	r.engine.bus.Publish(telemetry.LogLine{
		RunID: r.runID,
		Text:  "cancellation requested",
		Time:  time.Now().UTC(),
	})
}

func (r *run) summarize(duration time.Duration) telemetry.RunSummary {
	s := telemetry.RunSummary{
		Total:       r.pipeline.Len(),
		Interrupted: r.interrupted,
		Duration:    duration,
	}
	for _, res := range r.results {
		switch res.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

func asAdapterError(step *pipeline.Step, err error) error {
	var aerr *errors.AdapterError
	if stderrors.As(err, &aerr) {
		return err
	}
	return &errors.AdapterError{
		Runtime:  step.Capability.Runtime,
		Function: step.Capability.Function,
		Message:  err.Error(),
		Cause:    err,
	}
}
