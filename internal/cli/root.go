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

package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/log"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// NewRootCommand creates the root Cobra command for maestro.
func NewRootCommand() *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "maestro",
		Short: "Maestro - polyglot pipeline execution",
		Long: `Maestro executes pipelines of typed function calls across foreign
language runtimes. Pipelines are declared in YAML, validated before any
call is made, and executed with bounded parallelism while telemetry
streams out in real time.

Run 'maestro validate <pipeline>' to check a pipeline file.
Run 'maestro run <pipeline>' to execute it.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := log.FromEnv()
			if logLevel != "" {
				cfg.Level = logLevel
			}
			if logFormat != "" {
				cfg.Format = log.Format(logFormat)
			}
			slog.SetDefault(log.New(cfg))
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (default from MAESTRO_LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json, text (default from LOG_FORMAT)")

	return cmd
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "maestro %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}
}
