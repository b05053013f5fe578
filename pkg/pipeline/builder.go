package pipeline

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/tombee/maestro/pkg/errors"
)

// StepSpec is the declarative input to the Builder: one step as the caller
// describes it, before any validation has run.
type StepSpec struct {
	ID         string
	Capability CallCapability
	Bindings   []Binding
	Condition  string
}

// Builder accumulates step declarations and validates them into an immutable
// Pipeline. Declaration order is significant: a step may only reference the
// outputs of steps declared before it, so a successfully built pipeline is
// acyclic by construction and its declaration order is a valid topological
// order.
type Builder struct {
	name  string
	specs []StepSpec
}

// NewBuilder creates a pipeline builder with the given pipeline name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Add appends a step declaration. Validation is deferred to Build.
func (b *Builder) Add(spec StepSpec) *Builder {
	b.specs = append(b.specs, spec)
	return b
}

// Step is shorthand for Add with positional fields.
func (b *Builder) Step(id string, capability CallCapability, bindings ...Binding) *Builder {
	return b.Add(StepSpec{ID: id, Capability: capability, Bindings: bindings})
}

// Build validates the accumulated declarations and returns the pipeline.
// Checks run in a fixed order per step: identifier uniqueness, reference
// targets (declared, not forward, in-range output index), binding arity
// against the capability's argument schema, literal value types, and
// finally condition compilation. The first failure stops the build with a
// *errors.ValidationError naming the offending step.
func (b *Builder) Build() (*Pipeline, error) {
	if len(b.specs) == 0 {
		return nil, &errors.ValidationError{
			Message:    "pipeline has no steps",
			Suggestion: "declare at least one step before building",
		}
	}

	p := &Pipeline{
		name:       b.name,
		byID:       make(map[string]*Step, len(b.specs)),
		dependents: make(map[string][]string),
	}

	for i, spec := range b.specs {
		if spec.ID == "" {
			return nil, &errors.ValidationError{
				Field:      "id",
				Message:    fmt.Sprintf("step at position %d has no identifier", i),
				Suggestion: "give every step a non-empty id",
			}
		}
		if _, exists := p.byID[spec.ID]; exists {
			return nil, &errors.ValidationError{
				Step:       spec.ID,
				Field:      "id",
				Message:    fmt.Sprintf("duplicate step identifier %q", spec.ID),
				Suggestion: "step identifiers must be unique within a pipeline",
			}
		}

		step, err := b.buildStep(i, spec, p)
		if err != nil {
			return nil, err
		}

		p.byID[spec.ID] = step
		p.steps = append(p.steps, step)
		for _, dep := range step.deps {
			p.dependents[dep] = append(p.dependents[dep], step.ID)
		}
	}

	return p, nil
}

func (b *Builder) buildStep(index int, spec StepSpec, p *Pipeline) (*Step, error) {
	cap := spec.Capability
	if cap.Runtime == "" {
		return nil, &errors.ValidationError{
			Step:       spec.ID,
			Field:      "capability",
			Message:    "capability has no runtime identifier",
			Suggestion: "set the runtime the call should be routed to",
		}
	}
	if cap.Function == "" {
		return nil, &errors.ValidationError{
			Step:       spec.ID,
			Field:      "capability",
			Message:    "capability has no function name",
			Suggestion: "set the function to invoke",
		}
	}
	for ai, arg := range cap.Args {
		if !arg.Type.IsValid() {
			return nil, &errors.ValidationError{
				Step:       spec.ID,
				Field:      fmt.Sprintf("args[%d]", ai),
				Message:    fmt.Sprintf("unknown argument type %q", arg.Type),
				Suggestion: "use one of: string, int, float, bool, any",
			}
		}
	}

	step := &Step{
		ID:         spec.ID,
		Capability: cap,
		Bindings:   append([]Binding(nil), spec.Bindings...),
		Condition:  spec.Condition,
		index:      index,
	}

	// Reference checks run before arity so that a cycle attempt reports the
	// forward reference rather than a secondary count mismatch.
	seen := make(map[string]bool)
	for bi, binding := range step.Bindings {
		ref, ok := binding.(StepOutputRef)
		if !ok {
			continue
		}
		target, declared := p.byID[ref.StepID]
		if !declared {
			msg := fmt.Sprintf("reference to undeclared step %q", ref.StepID)
			if b.declaredLater(ref.StepID, index) {
				msg = fmt.Sprintf("step %q references step %q which is declared later; steps may only reference earlier steps", spec.ID, ref.StepID)
			}
			return nil, &errors.ValidationError{
				Step:       spec.ID,
				Field:      fmt.Sprintf("bindings[%d]", bi),
				Message:    msg,
				Suggestion: "reorder the steps so every reference points backward",
			}
		}
		if ref.Output < 0 || ref.Output >= target.Capability.NumReturns() {
			return nil, &errors.ValidationError{
				Step:       spec.ID,
				Field:      fmt.Sprintf("bindings[%d]", bi),
				Message:    fmt.Sprintf("output index %d out of range for step %q which produces %d output(s)", ref.Output, ref.StepID, target.Capability.NumReturns()),
				Suggestion: "use an output index below the referenced step's output count",
			}
		}
		if !seen[ref.StepID] {
			seen[ref.StepID] = true
			step.deps = append(step.deps, ref.StepID)
		}
	}

	if len(step.Bindings) != len(cap.Args) {
		return nil, &errors.ValidationError{
			Step:       spec.ID,
			Field:      "bindings",
			Message:    fmt.Sprintf("capability %s takes %d argument(s), got %d binding(s)", cap, len(cap.Args), len(step.Bindings)),
			Suggestion: "supply exactly one binding per argument slot",
		}
	}

	for bi, binding := range step.Bindings {
		lit, ok := binding.(Literal)
		if !ok {
			continue
		}
		arg := cap.Args[bi]
		if !arg.Type.Matches(lit.Value) {
			name := arg.Name
			if name == "" {
				name = fmt.Sprintf("#%d", bi)
			}
			return nil, &errors.ValidationError{
				Step:       spec.ID,
				Field:      fmt.Sprintf("bindings[%d]", bi),
				Message:    fmt.Sprintf("literal %v (%T) does not satisfy argument %s of type %s", lit.Value, lit.Value, name, arg.Type),
				Suggestion: "match the literal to the declared argument type",
			}
		}
	}

	if spec.Condition != "" {
		program, err := expr.Compile(spec.Condition, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, &errors.ValidationError{
				Step:       spec.ID,
				Field:      "condition",
				Message:    fmt.Sprintf("condition does not compile: %v", err),
				Suggestion: "conditions must be boolean expressions over upstream step outputs",
			}
		}
		step.condProgram = program
	}

	return step, nil
}

// declaredLater reports whether id appears among the specs after position.
// Only used to produce a clearer message for forward references.
func (b *Builder) declaredLater(id string, position int) bool {
	for _, spec := range b.specs[position+1:] {
		if spec.ID == id {
			return true
		}
	}
	return false
}
