// Package loader reads pipeline definitions from YAML and hands them to the
// pipeline builder. The file format mirrors the builder's model one to one:
//
//	name: demo
//	steps:
//	  - id: fetch
//	    runtime: py
//	    function: fetch_data
//	    args:
//	      - {name: url, type: string}
//	    inputs:
//	      - "https://example.com/data.json"
//	  - id: transform
//	    runtime: jq
//	    function: ".items | length"
//	    args: [any]
//	    inputs:
//	      - {from: fetch, output: 0}
//
// An input entry is either a YAML scalar/sequence/mapping used as a literal,
// or a mapping with a "from" key referencing an earlier step's output.
package loader

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/pipeline"
)

// Definition is the top-level YAML document.
type Definition struct {
	Name  string           `yaml:"name"`
	Steps []StepDefinition `yaml:"steps"`
}

// StepDefinition is one step entry in the YAML document.
type StepDefinition struct {
	ID        string            `yaml:"id"`
	Runtime   string            `yaml:"runtime"`
	Function  string            `yaml:"function"`
	Args      []ArgDefinition   `yaml:"args"`
	Returns   int               `yaml:"returns"`
	Inputs    []InputDefinition `yaml:"inputs"`
	Condition string            `yaml:"condition"`
}

// ArgDefinition is one argument slot. It accepts either the full mapping
// form {name: url, type: string} or a bare type name as shorthand.
type ArgDefinition struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// UnmarshalYAML implements yaml.Unmarshaler to support the scalar shorthand.
func (a *ArgDefinition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&a.Type)
	}
	type plain ArgDefinition
	return node.Decode((*plain)(a))
}

// InputDefinition is one input entry: a literal value or a step output
// reference.
type InputDefinition struct {
	literal interface{}
	ref     *refDefinition
}

type refDefinition struct {
	From   string `yaml:"from"`
	Output int    `yaml:"output"`
}

// UnmarshalYAML implements yaml.Unmarshaler. A mapping containing a "from"
// key is a reference; anything else is a literal.
func (in *InputDefinition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "from" {
				in.ref = &refDefinition{}
				return node.Decode(in.ref)
			}
		}
	}
	return node.Decode(&in.literal)
}

// Binding converts the entry to its builder form.
func (in InputDefinition) Binding() pipeline.Binding {
	if in.ref != nil {
		return pipeline.Ref(in.ref.From, in.ref.Output)
	}
	return pipeline.Lit(in.literal)
}

// Load reads and builds a pipeline from a YAML file.
func Load(path string) (*pipeline.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{
			Key:    path,
			Reason: "cannot read pipeline file",
			Cause:  err,
		}
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return p, nil
}

// Parse builds a pipeline from YAML bytes. Structural YAML problems surface
// as *errors.ConfigError; semantic problems surface as the builder's
// *errors.ValidationError.
func Parse(data []byte) (*pipeline.Pipeline, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errors.ConfigError{
			Reason: "invalid pipeline YAML",
			Cause:  err,
		}
	}
	if def.Name == "" {
		def.Name = "pipeline"
	}

	b := pipeline.NewBuilder(def.Name)
	for _, step := range def.Steps {
		args := make([]pipeline.ArgSpec, len(step.Args))
		for i, arg := range step.Args {
			args[i] = pipeline.ArgSpec{Name: arg.Name, Type: pipeline.ValueType(arg.Type)}
		}
		bindings := make([]pipeline.Binding, len(step.Inputs))
		for i, input := range step.Inputs {
			bindings[i] = input.Binding()
		}
		b.Add(pipeline.StepSpec{
			ID: step.ID,
			Capability: pipeline.CallCapability{
				Runtime:  step.Runtime,
				Function: step.Function,
				Args:     args,
				Returns:  step.Returns,
			},
			Bindings:  bindings,
			Condition: step.Condition,
		})
	}
	return b.Build()
}

// ParseDefinition decodes the YAML document without building, for tools
// that inspect definitions (e.g. validate with per-step reporting).
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errors.ConfigError{
			Reason: "invalid pipeline YAML",
			Cause:  err,
		}
	}
	if len(def.Steps) == 0 {
		return nil, &errors.ConfigError{
			Reason: "pipeline defines no steps",
		}
	}
	return &def, nil
}
