package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/errors"
)

func capOf(runtime, function string, returns int, argTypes ...ValueType) CallCapability {
	args := make([]ArgSpec, len(argTypes))
	for i, t := range argTypes {
		args[i] = ArgSpec{Type: t}
	}
	return CallCapability{Runtime: runtime, Function: function, Args: args, Returns: returns}
}

func TestBuildLinearPipeline(t *testing.T) {
	p, err := NewBuilder("normalize").
		Step("load", capOf("py", "load_csv", 1, TypeString), Lit("data.csv")).
		Step("clean", capOf("py", "drop_nulls", 1, TypeAny), Ref("load", 0)).
		Step("report", capOf("node", "render", 1, TypeAny, TypeString), Ref("clean", 0), Lit("html")).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "normalize", p.Name())
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, []string{"load", "clean", "report"}, p.Order())

	clean, ok := p.Step("clean")
	require.True(t, ok)
	assert.Equal(t, []string{"load"}, clean.Dependencies())
	assert.Equal(t, []string{"clean"}, p.Dependents("load"))
	assert.Equal(t, 1, clean.Index())
}

func TestBuildDiamond(t *testing.T) {
	p, err := NewBuilder("diamond").
		Step("src", capOf("py", "produce", 2)).
		Step("left", capOf("py", "f", 1, TypeAny), Ref("src", 0)).
		Step("right", capOf("py", "g", 1, TypeAny), Ref("src", 1)).
		Step("join", capOf("py", "merge", 1, TypeAny, TypeAny), Ref("left", 0), Ref("right", 0)).
		Build()
	require.NoError(t, err)

	join, ok := p.Step("join")
	require.True(t, ok)
	assert.Equal(t, []string{"left", "right"}, join.Dependencies())
	assert.ElementsMatch(t, []string{"left", "right"}, p.Dependents("src"))
}

func TestBuildValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		specs    []StepSpec
		wantStep string
		contains string
	}{
		{
			name: "duplicate step id",
			specs: []StepSpec{
				{ID: "a", Capability: capOf("py", "f", 1)},
				{ID: "a", Capability: capOf("py", "g", 1)},
			},
			wantStep: "a",
			contains: "duplicate",
		},
		{
			name: "dangling reference",
			specs: []StepSpec{
				{ID: "a", Capability: capOf("py", "f", 1, TypeAny), Bindings: []Binding{Ref("ghost", 0)}},
			},
			wantStep: "a",
			contains: `undeclared step "ghost"`,
		},
		{
			name: "forward reference names both steps",
			specs: []StepSpec{
				{ID: "a", Capability: capOf("py", "f", 1, TypeAny), Bindings: []Binding{Ref("b", 0)}},
				{ID: "b", Capability: capOf("py", "g", 1, TypeAny), Bindings: []Binding{Ref("a", 0)}},
			},
			wantStep: "a",
			contains: "declared later",
		},
		{
			name: "output index out of range",
			specs: []StepSpec{
				{ID: "a", Capability: capOf("py", "f", 1)},
				{ID: "b", Capability: capOf("py", "g", 1, TypeAny), Bindings: []Binding{Ref("a", 3)}},
			},
			wantStep: "b",
			contains: "out of range",
		},
		{
			name: "binding count mismatch",
			specs: []StepSpec{
				{ID: "a", Capability: capOf("py", "f", 1, TypeString, TypeInt), Bindings: []Binding{Lit("only one")}},
			},
			wantStep: "a",
			contains: "2 argument(s), got 1 binding(s)",
		},
		{
			name: "literal type mismatch",
			specs: []StepSpec{
				{ID: "a", Capability: capOf("py", "f", 1, TypeInt), Bindings: []Binding{Lit("not a number")}},
			},
			wantStep: "a",
			contains: "does not satisfy",
		},
		{
			name: "empty runtime",
			specs: []StepSpec{
				{ID: "a", Capability: CallCapability{Function: "f"}},
			},
			wantStep: "a",
			contains: "no runtime",
		},
		{
			name: "unknown argument type",
			specs: []StepSpec{
				{ID: "a", Capability: CallCapability{Runtime: "py", Function: "f", Args: []ArgSpec{{Type: "tensor"}}}},
			},
			wantStep: "a",
			contains: "unknown argument type",
		},
		{
			name: "condition does not compile",
			specs: []StepSpec{
				{ID: "a", Capability: capOf("py", "f", 1), Condition: "((("},
			},
			wantStep: "a",
			contains: "condition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder("bad")
			for _, spec := range tt.specs {
				b.Add(spec)
			}
			_, err := b.Build()
			require.Error(t, err)

			var verr *errors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantStep, verr.Step)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestBuildForwardReferenceMentionsBothIDs(t *testing.T) {
	_, err := NewBuilder("cycle").
		Add(StepSpec{ID: "alpha", Capability: capOf("py", "f", 1, TypeAny), Bindings: []Binding{Ref("beta", 0)}}).
		Add(StepSpec{ID: "beta", Capability: capOf("py", "g", 1, TypeAny), Bindings: []Binding{Ref("alpha", 0)}}).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
	assert.Contains(t, err.Error(), "beta")
}

func TestBuildEmptyPipeline(t *testing.T) {
	_, err := NewBuilder("empty").Build()
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestBuildIntLiteralAcceptedForFloat(t *testing.T) {
	_, err := NewBuilder("coerce").
		Step("a", capOf("py", "scale", 1, TypeFloat), Lit(2)).
		Build()
	assert.NoError(t, err)
}

func TestBuildSelfReferenceRejected(t *testing.T) {
	_, err := NewBuilder("self").
		Add(StepSpec{ID: "a", Capability: capOf("py", "f", 1, TypeAny), Bindings: []Binding{Ref("a", 0)}}).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undeclared step "a"`)
}

func TestConditionCompiles(t *testing.T) {
	p, err := NewBuilder("cond").
		Step("a", capOf("py", "f", 1)).
		Add(StepSpec{
			ID:         "b",
			Capability: capOf("py", "g", 1, TypeAny),
			Bindings:   []Binding{Ref("a", 0)},
			Condition:  `steps.a[0] > 10`,
		}).
		Build()
	require.NoError(t, err)

	b, ok := p.Step("b")
	require.True(t, ok)
	assert.NotNil(t, b.ConditionProgram())

	a, ok := p.Step("a")
	require.True(t, ok)
	assert.Nil(t, a.ConditionProgram())
}
