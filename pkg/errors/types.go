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

package errors

import (
	"fmt"
)

// ValidationError represents pipeline construction failures.
// Use this for duplicate step IDs, dangling or forward references, and
// binding/schema mismatches. Validation errors are surfaced synchronously
// at build time, never during execution.
type ValidationError struct {
	// Step identifies which step failed validation (empty for pipeline-level errors)
	Step string

	// Field identifies which part of the step failed (e.g., "bindings[1]", "condition")
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Step != "" && e.Field != "":
		return fmt.Sprintf("validation failed on step %s (%s): %s", e.Step, e.Field, e.Message)
	case e.Step != "":
		return fmt.Sprintf("validation failed on step %s: %s", e.Step, e.Message)
	default:
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
}

// AdapterError represents a failed foreign call.
// Use this for errors originating from runtime adapters. Adapter errors are
// captured per-step and never propagated as a process-level fault.
type AdapterError struct {
	// Runtime is the runtime identifier the call was routed to (e.g., "py", "node")
	Runtime string

	// Function is the function that was invoked
	Function string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	msg := fmt.Sprintf("adapter %s error", e.Runtime)
	if e.Function != "" {
		msg = fmt.Sprintf("%s invoking %s", msg, e.Function)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "step", "runtime", "run")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "history.path")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// InternalError represents a programming-invariant violation, such as a cycle
// slipping past pipeline validation. Internal errors abort the current run
// only; they are never surfaced as user-facing validation failures.
type InternalError struct {
	// Op describes the operation that detected the breach (e.g., "engine.schedule")
	Op string

	// Message describes the violated invariant
	Message string
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %s", e.Op, e.Message)
}
