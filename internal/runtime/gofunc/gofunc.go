// Package gofunc is a runtime adapter backed by in-process Go functions.
// It exists for embedding maestro as a library and for pipelines that mix
// foreign calls with local glue steps.
package gofunc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/pipeline"
)

// RuntimeID is the identifier this adapter is conventionally registered
// under.
const RuntimeID = "go"

// Func is an in-process implementation of one capability.
type Func func(ctx context.Context, args []interface{}) ([]interface{}, error)

// Adapter routes capability invocations to registered Go functions.
// Safe for concurrent use.
type Adapter struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// New creates an empty adapter.
func New() *Adapter {
	return &Adapter{funcs: make(map[string]Func)}
}

// Register installs a function under the given name, replacing any previous
// registration.
func (a *Adapter) Register(name string, fn Func) {
	a.mu.Lock()
	a.funcs[name] = fn
	a.mu.Unlock()
}

// Invoke looks up the capability's function and calls it.
func (a *Adapter) Invoke(ctx context.Context, capability pipeline.CallCapability, args []interface{}) ([]interface{}, error) {
	a.mu.RLock()
	fn, ok := a.funcs[capability.Function]
	a.mu.RUnlock()
	if !ok {
		return nil, &errors.AdapterError{
			Runtime:  capability.Runtime,
			Function: capability.Function,
			Message:  "function not registered",
			Cause:    &errors.NotFoundError{Resource: "function", ID: capability.Function},
		}
	}
	return fn(ctx, args)
}

// Builtins returns an adapter preloaded with a small set of arithmetic and
// string helpers, enough to exercise pipelines from the CLI without any
// foreign runtime attached.
func Builtins() *Adapter {
	a := New()
	a.Register("add", func(_ context.Context, args []interface{}) ([]interface{}, error) {
		sum := 0.0
		for _, arg := range args {
			n, err := toFloat(arg)
			if err != nil {
				return nil, err
			}
			sum += n
		}
		return []interface{}{sum}, nil
	})
	a.Register("multiply", func(_ context.Context, args []interface{}) ([]interface{}, error) {
		product := 1.0
		for _, arg := range args {
			n, err := toFloat(arg)
			if err != nil {
				return nil, err
			}
			product *= n
		}
		return []interface{}{product}, nil
	})
	a.Register("concat", func(_ context.Context, args []interface{}) ([]interface{}, error) {
		parts := make([]string, len(args))
		for i, arg := range args {
			parts[i] = fmt.Sprint(arg)
		}
		return []interface{}{strings.Join(parts, "")}, nil
	})
	a.Register("upper", func(_ context.Context, args []interface{}) ([]interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("upper takes one argument, got %d", len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("upper takes a string, got %T", args[0])
		}
		return []interface{}{strings.ToUpper(s)}, nil
	})
	a.Register("length", func(_ context.Context, args []interface{}) ([]interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("length takes one argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case string:
			return []interface{}{len(v)}, nil
		case []interface{}:
			return []interface{}{len(v)}, nil
		default:
			return nil, fmt.Errorf("length takes a string or array, got %T", args[0])
		}
	})
	return a
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("not a number: %v (%T)", v, v)
	}
}
