// Package jq is a runtime adapter that evaluates jq expressions over step
// inputs. The capability's function field carries the expression itself,
// so transform steps need no external runtime at all.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"

	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/pipeline"
)

// RuntimeID is the identifier this adapter is conventionally registered
// under.
const RuntimeID = "jq"

const (
	// DefaultTimeout bounds the execution time of a single expression.
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize bounds the serialized input size (10MB).
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Adapter evaluates jq expressions with timeout and input size protection.
// Safe for concurrent use.
type Adapter struct {
	timeout      time.Duration
	maxInputSize int64
}

// New creates a jq adapter. Zero values select the defaults.
func New(timeout time.Duration, maxInputSize int64) *Adapter {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &Adapter{timeout: timeout, maxInputSize: maxInputSize}
}

// Invoke evaluates the capability's function field as a jq expression.
// A single argument becomes the expression's input directly; multiple
// arguments are presented as an array.
func (a *Adapter) Invoke(ctx context.Context, capability pipeline.CallCapability, args []interface{}) ([]interface{}, error) {
	var input interface{}
	switch len(args) {
	case 0:
		input = nil
	case 1:
		input = args[0]
	default:
		input = args
	}

	result, err := a.execute(ctx, capability.Function, input)
	if err != nil {
		return nil, &errors.AdapterError{
			Runtime:  capability.Runtime,
			Function: capability.Function,
			Message:  err.Error(),
			Cause:    err,
		}
	}
	return []interface{}{result}, nil
}

// Validate checks that an expression parses and compiles. Used at pipeline
// load time to catch syntax errors before a run starts.
func (a *Adapter) Validate(expression string) error {
	if expression == "" {
		return fmt.Errorf("empty jq expression")
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if _, err := gojq.Compile(query); err != nil {
		return fmt.Errorf("compile error: %w", err)
	}
	return nil
}

func (a *Adapter) execute(ctx context.Context, expression string, input interface{}) (interface{}, error) {
	if expression == "" {
		return input, nil
	}
	if err := a.validateInputSize(input); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	resultChan := make(chan interface{}, 1)
	errorChan := make(chan error, 1)

	go func() {
		iter := code.RunWithContext(execCtx, normalize(input))

		var results []interface{}
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				errorChan <- err
				return
			}
			results = append(results, v)
		}

		// Single result returned directly, multiple results as an array.
		switch len(results) {
		case 0:
			resultChan <- nil
		case 1:
			resultChan <- results[0]
		default:
			resultChan <- results
		}
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errorChan:
		return nil, err
	case <-execCtx.Done():
		return nil, fmt.Errorf("execution timeout after %v", a.timeout)
	}
}

func (a *Adapter) validateInputSize(input interface{}) error {
	if input == nil {
		return nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("input is not JSON-serializable: %w", err)
	}
	if int64(len(data)) > a.maxInputSize {
		return fmt.Errorf("input size %d exceeds limit %d", len(data), a.maxInputSize)
	}
	return nil
}

// normalize round-trips the input through JSON so gojq only sees the value
// kinds it understands (gojq rejects e.g. int32 or struct inputs).
func normalize(input interface{}) interface{} {
	if input == nil {
		return nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return input
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return input
	}
	return out
}
