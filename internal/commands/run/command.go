// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/maestro/internal/config"
	"github.com/tombee/maestro/internal/history"
	"github.com/tombee/maestro/internal/loader"
	"github.com/tombee/maestro/internal/runtime/gofunc"
	jqruntime "github.com/tombee/maestro/internal/runtime/jq"
	"github.com/tombee/maestro/pkg/engine"
	"github.com/tombee/maestro/pkg/stats"
	"github.com/tombee/maestro/pkg/telemetry"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		maxConcurrency int
		historyDB      string
		busBuffer      int
		trace          bool
		quiet          bool
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Execute a pipeline",
		Long: `Run loads a pipeline from YAML, validates it, and executes it with the
builtin runtimes ("go" and "jq") registered. Telemetry events stream to
stdout while the run progresses; a summary with latency statistics is
printed at the end.

Interrupting with Ctrl-C cancels the run cooperatively: in-flight steps
finish, unstarted steps are marked cancelled, and the partial summary is
still reported (and recorded, when history is enabled).`,
		Example: `  # Execute a pipeline
  maestro run pipeline.yaml

  # Limit parallelism and record the run
  maestro run pipeline.yaml --max-concurrency 2 --history-db runs.db

  # Emit trace spans to stdout
  maestro run pipeline.yaml --trace`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args[0], maxConcurrency, busBuffer, historyDB, trace, quiet)
		},
	}

	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "Maximum steps invoked in parallel (default 4, env MAESTRO_MAX_CONCURRENCY)")
	cmd.Flags().IntVar(&busBuffer, "bus-buffer", 0, "Per-subscriber telemetry buffer size (default 256, env MAESTRO_BUS_BUFFER)")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "Record the run into this SQLite database (env MAESTRO_HISTORY_DB)")
	cmd.Flags().BoolVar(&trace, "trace", false, "Emit OpenTelemetry spans to stdout")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress per-event output, print only the summary")

	return cmd
}

func runPipeline(cmd *cobra.Command, path string, maxConcurrency, busBuffer int, historyDB string, trace, quiet bool) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if maxConcurrency == 0 {
		maxConcurrency = cfg.MaxConcurrency
	}
	if busBuffer == 0 {
		busBuffer = cfg.BusBuffer
	}
	if historyDB == "" {
		historyDB = cfg.HistoryPath
	}

	p, err := loader.Load(path)
	if err != nil {
		return err
	}

	registry := engine.NewRegistry()
	registry.Register(gofunc.RuntimeID, gofunc.Builtins())
	registry.Register(jqruntime.RuntimeID, jqruntime.New(0, 0))

	var busOpts []telemetry.Option
	if busBuffer > 0 {
		busOpts = append(busOpts, telemetry.WithBufferSize(busBuffer))
	}
	bus := telemetry.NewBus(busOpts...)
	defer bus.Close()

	opts := []engine.Option{engine.WithBus(bus)}
	if maxConcurrency > 0 {
		opts = append(opts, engine.WithMaxConcurrency(maxConcurrency))
	}

	if historyDB != "" {
		store, err := history.New(history.Config{Path: historyDB})
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, engine.WithHistory(store))
	}

	if trace {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				slog.Warn("trace provider shutdown failed", slog.String("error", err.Error()))
			}
		}()
		opts = append(opts, engine.WithTracerProvider(tp))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := stats.New()
	aggregator.Listen(ctx, bus)

	var printerWG sync.WaitGroup
	if !quiet {
		sub := bus.Subscribe()
		printerWG.Add(1)
		go func() {
			defer printerWG.Done()
			printEvents(ctx, cmd.OutOrStdout(), sub)
		}()
	}

	eng := engine.New(registry, opts...)
	result, err := eng.Run(ctx, p)
	if err != nil {
		return err
	}

	bus.Close()
	printerWG.Wait()

	// Give the aggregator a moment to drain the bus before reading stats.
	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		snap, ok := aggregator.Snapshot(result.RunID)
		if (ok && snap.Final) || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	printSummary(cmd.OutOrStdout(), result, aggregator)

	if result.Failed() {
		if result.Summary.Interrupted {
			return fmt.Errorf("run %s interrupted", result.RunID)
		}
		return fmt.Errorf("run %s finished with %d failed step(s)", result.RunID, result.Summary.Failed)
	}
	return nil
}

func printEvents(ctx context.Context, w io.Writer, sub *telemetry.Subscription) {
	defer sub.Close()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		switch ev := ev.(type) {
		case telemetry.LogLine:
			fmt.Fprintf(w, "%s  %s\n", ev.Time.Format(time.TimeOnly), ev.Text)
		case telemetry.StepStarted:
			fmt.Fprintf(w, "%s  step %-20s started\n", ev.Time.Format(time.TimeOnly), ev.StepID)
		case telemetry.StepFinished:
			line := fmt.Sprintf("%s  step %-20s %s", ev.Time.Format(time.TimeOnly), ev.StepID, ev.Status)
			if ev.Status == "success" {
				line += fmt.Sprintf(" (%s)", ev.Duration.Round(time.Millisecond))
			}
			if ev.Error != "" {
				line += ": " + ev.Error
			}
			fmt.Fprintln(w, line)
		case telemetry.Overflow:
			fmt.Fprintf(w, "%s  [%d telemetry events dropped]\n", ev.Time.Format(time.TimeOnly), ev.Dropped)
		case telemetry.RunCompleted:
			return
		}
	}
}

func printSummary(w io.Writer, result *engine.RunResult, aggregator *stats.Aggregator) {
	s := result.Summary
	fmt.Fprintf(w, "\nrun %s: %d steps, %d succeeded, %d failed, %d skipped, %d cancelled in %s\n",
		result.RunID, s.Total, s.Succeeded, s.Failed, s.Skipped, s.Cancelled,
		s.Duration.Round(time.Millisecond))

	if snap, ok := aggregator.Snapshot(result.RunID); ok && snap.Latency.Count > 0 {
		fmt.Fprintf(w, "latency: min %s, mean %s, p50 %s, p95 %s, max %s\n",
			snap.Latency.Min.Round(time.Microsecond),
			snap.Latency.Mean.Round(time.Microsecond),
			snap.Latency.P50,
			snap.Latency.P95,
			snap.Latency.Max.Round(time.Microsecond))
	}
}
