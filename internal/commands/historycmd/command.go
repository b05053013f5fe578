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

// Package historycmd implements the history subcommands over the run store.
package historycmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/config"
	"github.com/tombee/maestro/internal/history"
	"github.com/tombee/maestro/pkg/errors"
)

// NewCommand creates the history command and its subcommands.
func NewCommand() *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded pipeline runs",
		Long: `History lists and shows runs recorded with --history-db (or the
MAESTRO_HISTORY_DB environment variable).`,
	}

	cmd.PersistentFlags().StringVar(&db, "db", "", "Path to the history database (env MAESTRO_HISTORY_DB)")

	cmd.AddCommand(newListCommand(&db))
	cmd.AddCommand(newShowCommand(&db))
	cmd.AddCommand(newPruneCommand(&db))

	return cmd
}

func openStore(db string) (*history.Store, error) {
	if db == "" {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, err
		}
		db = cfg.HistoryPath
	}
	if db == "" {
		return nil, &errors.ConfigError{
			Key:    "db",
			Reason: "no history database configured",
		}
	}
	return history.New(history.Config{Path: db})
}

func newListCommand(db *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List recent runs, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*db)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tPIPELINE\tSTARTED\tDURATION\tOK\tFAIL\tSKIP\tCANCEL")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					r.RunID, r.Pipeline,
					r.StartedAt.Format(time.RFC3339),
					r.Summary.Duration.Round(time.Millisecond),
					r.Summary.Succeeded, r.Summary.Failed,
					r.Summary.Skipped, r.Summary.Cancelled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func newShowCommand(db *string) *cobra.Command {
	return &cobra.Command{
		Use:           "show <run-id>",
		Short:         "Show one run with its step results",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*db)
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s pipeline %q started %s duration %s\n",
				record.RunID, record.Pipeline,
				record.StartedAt.Format(time.RFC3339),
				record.Summary.Duration.Round(time.Millisecond))
			if record.Summary.Interrupted {
				fmt.Fprintln(out, "run was interrupted")
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tSTATUS\tDURATION\tOUTPUTS\tERROR")
			for _, step := range record.Steps {
				duration := "-"
				if !step.StartedAt.IsZero() && !step.FinishedAt.IsZero() {
					duration = step.FinishedAt.Sub(step.StartedAt).Round(time.Millisecond).String()
				}
				outputs := "-"
				if len(step.Outputs) > 0 {
					outputs = fmt.Sprintf("%v", step.Outputs)
				}
				errText := step.Error
				if errText == "" {
					errText = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", step.StepID, step.Status, duration, outputs, errText)
			}
			return w.Flush()
		},
	}
}

func newPruneCommand(db *string) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:           "prune",
		Short:         "Delete all but the most recent runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*db)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(cmd.Context(), keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d run(s), kept the %d most recent\n", removed, keep)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 50, "Number of most recent runs to keep")
	return cmd
}
