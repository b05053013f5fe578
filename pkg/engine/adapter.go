package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/pipeline"
)

// Adapter performs calls into one foreign runtime. Implementations must be
// safe for concurrent use: the engine invokes an adapter from multiple
// worker goroutines at once. An adapter reports call failure through the
// error return; it must not panic on bad input.
type Adapter interface {
	// Invoke performs the call described by the capability with resolved
	// argument values and returns the call's outputs. The number of
	// outputs must match the capability's declared output count.
	Invoke(ctx context.Context, capability pipeline.CallCapability, args []interface{}) ([]interface{}, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, capability pipeline.CallCapability, args []interface{}) ([]interface{}, error)

// Invoke implements Adapter.
func (f AdapterFunc) Invoke(ctx context.Context, capability pipeline.CallCapability, args []interface{}) ([]interface{}, error) {
	return f(ctx, capability, args)
}

// Registry maps runtime identifiers to adapters. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register installs an adapter for a runtime identifier, replacing any
// previous registration.
func (r *Registry) Register(runtime string, adapter Adapter) {
	r.mu.Lock()
	r.adapters[runtime] = adapter
	r.mu.Unlock()
}

// Lookup returns the adapter for a runtime identifier.
func (r *Registry) Lookup(runtime string) (Adapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[runtime]
	r.mu.RUnlock()
	if !ok {
		return nil, &errors.NotFoundError{Resource: "runtime", ID: runtime}
	}
	return adapter, nil
}

// Runtimes returns the registered runtime identifiers in sorted order.
func (r *Registry) Runtimes() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
