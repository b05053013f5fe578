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

package validate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/loader"
	jqruntime "github.com/tombee/maestro/internal/runtime/jq"
	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/pipeline"
)

// NewCommand creates the validate command.
func NewCommand() *cobra.Command {
	var useJSON bool

	cmd := &cobra.Command{
		Use:   "validate <pipeline>",
		Short: "Validate a pipeline file without running it",
		Long: `Validate checks that a pipeline file parses and passes all build-time
checks: unique step identifiers, backward-only references, argument arity
and literal types, and condition syntax. Expressions of jq steps are also
compiled to catch syntax errors early.

Validation never invokes a runtime.`,
		Example: `  # Basic validation
  maestro validate pipeline.yaml

  # Machine-readable result
  maestro validate pipeline.yaml --json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], useJSON)
		},
	}

	cmd.Flags().BoolVar(&useJSON, "json", false, "Output the result as JSON")

	return cmd
}

type jsonResult struct {
	Valid    bool     `json:"valid"`
	Pipeline string   `json:"pipeline,omitempty"`
	Steps    []string `json:"steps,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func runValidate(cmd *cobra.Command, path string, useJSON bool) error {
	out := cmd.OutOrStdout()

	p, err := validateFile(path)
	if err != nil {
		if useJSON {
			json.NewEncoder(out).Encode(jsonResult{Valid: false, Error: err.Error()})
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "invalid: %v\n", err)
			var verr *errors.ValidationError
			if errors.As(err, &verr) && verr.Suggestion != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "hint: %s\n", verr.Suggestion)
			}
		}
		return err
	}

	if useJSON {
		return json.NewEncoder(out).Encode(jsonResult{
			Valid:    true,
			Pipeline: p.Name(),
			Steps:    p.Order(),
		})
	}
	fmt.Fprintf(out, "pipeline %q is valid (%d steps)\n", p.Name(), p.Len())
	return nil
}

func validateFile(path string) (*pipeline.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "cannot read pipeline file", Cause: err}
	}

	built, err := loader.Parse(data)
	if err != nil {
		return nil, err
	}

	// Compile jq expressions now so syntax errors surface before a run.
	jq := jqruntime.New(0, 0)
	for _, step := range built.Steps() {
		if step.Capability.Runtime == jqruntime.RuntimeID {
			if err := jq.Validate(step.Capability.Function); err != nil {
				return nil, &errors.ValidationError{
					Step:       step.ID,
					Field:      "function",
					Message:    err.Error(),
					Suggestion: "fix the jq expression",
				}
			}
		}
	}
	return built, nil
}
