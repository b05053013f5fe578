package pipeline

import (
	"github.com/expr-lang/expr/vm"
)

// Binding is the source of one argument for a step: either a literal value
// or a reference to a previously declared step's output.
type Binding interface {
	isBinding()
}

// Literal binds an argument slot to a fixed value.
type Literal struct {
	Value interface{}
}

func (Literal) isBinding() {}

// StepOutputRef binds an argument slot to an output of an earlier step.
// The referenced step must be declared before the referencing step; forward
// references are rejected at build time, which statically guarantees the
// dependency graph is acyclic.
type StepOutputRef struct {
	// StepID names the upstream step
	StepID string

	// Output is the index into the upstream step's outputs
	Output int
}

func (StepOutputRef) isBinding() {}

// Lit is a convenience constructor for a literal binding.
func Lit(v interface{}) Binding {
	return Literal{Value: v}
}

// Ref is a convenience constructor for a step output reference.
func Ref(stepID string, output int) Binding {
	return StepOutputRef{StepID: stepID, Output: output}
}

// Step is one node in a pipeline: a capability plus its input bindings.
// Steps are created at build time and immutable thereafter.
type Step struct {
	// ID is the step identifier, unique within the pipeline
	ID string

	// Capability is the call this step performs
	Capability CallCapability

	// Bindings supply the capability's arguments, one per argument slot
	Bindings []Binding

	// Condition is an optional expression evaluated against upstream step
	// outputs before the step runs; false means the step is skipped.
	Condition string

	// index is the declaration position, used for deterministic scheduling
	index int

	// deps holds the unique IDs of upstream steps referenced by bindings
	deps []string

	// condProgram is the compiled Condition, nil when Condition is empty
	condProgram *vm.Program
}

// Index returns the step's declaration position within its pipeline.
func (s *Step) Index() int {
	return s.index
}

// Dependencies returns the IDs of the steps this step's bindings reference,
// in first-reference order without duplicates.
func (s *Step) Dependencies() []string {
	out := make([]string, len(s.deps))
	copy(out, s.deps)
	return out
}

// ConditionProgram returns the compiled condition expression, or nil when
// the step is unconditional.
func (s *Step) ConditionProgram() *vm.Program {
	return s.condProgram
}
