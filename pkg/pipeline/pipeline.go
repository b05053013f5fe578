// Package pipeline defines the static model of a run: typed call
// capabilities, steps, argument bindings, and the builder that validates
// them into an immutable Pipeline. All structural errors (duplicate
// identifiers, forward or dangling references, arity and type mismatches)
// are caught here at build time so the execution engine never has to deal
// with a malformed graph.
package pipeline

// Pipeline is a validated, immutable sequence of steps. Because the builder
// only accepts backward references, the steps in declaration order form a
// valid topological order of the dependency graph.
type Pipeline struct {
	name       string
	steps      []*Step
	byID       map[string]*Step
	dependents map[string][]string
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Len returns the number of steps.
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Steps returns the steps in declaration order. The returned slice is a
// copy; the steps themselves are shared and must not be mutated.
func (p *Pipeline) Steps() []*Step {
	out := make([]*Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Step looks up a step by identifier.
func (p *Pipeline) Step(id string) (*Step, bool) {
	s, ok := p.byID[id]
	return s, ok
}

// Order returns the step identifiers in declaration order.
func (p *Pipeline) Order() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.ID
	}
	return out
}

// Dependents returns the identifiers of the steps whose bindings reference
// the given step, in declaration order.
func (p *Pipeline) Dependents(id string) []string {
	out := make([]string, len(p.dependents[id]))
	copy(out, p.dependents[id])
	return out
}
