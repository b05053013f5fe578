package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/pipeline"
)

const sampleYAML = `
name: demo
steps:
  - id: fetch
    runtime: py
    function: fetch_data
    args:
      - {name: url, type: string}
    inputs:
      - "https://example.com/data.json"
  - id: count
    runtime: jq
    function: ".items | length"
    args: [any]
    inputs:
      - {from: fetch, output: 0}
  - id: report
    runtime: go
    function: concat
    args: [string, any]
    inputs:
      - "item count: "
      - {from: count, output: 0}
    condition: "steps.count[0] > 0"
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "demo", p.Name())
	assert.Equal(t, []string{"fetch", "count", "report"}, p.Order())

	fetch, ok := p.Step("fetch")
	require.True(t, ok)
	assert.Equal(t, "py", fetch.Capability.Runtime)
	assert.Equal(t, "fetch_data", fetch.Capability.Function)
	require.Len(t, fetch.Capability.Args, 1)
	assert.Equal(t, "url", fetch.Capability.Args[0].Name)
	assert.Equal(t, pipeline.TypeString, fetch.Capability.Args[0].Type)
	require.Len(t, fetch.Bindings, 1)
	lit, ok := fetch.Bindings[0].(pipeline.Literal)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/data.json", lit.Value)

	count, ok := p.Step("count")
	require.True(t, ok)
	ref, ok := count.Bindings[0].(pipeline.StepOutputRef)
	require.True(t, ok)
	assert.Equal(t, "fetch", ref.StepID)
	assert.Equal(t, 0, ref.Output)

	report, ok := p.Step("report")
	require.True(t, ok)
	assert.Equal(t, []string{"count"}, report.Dependencies())
	assert.NotNil(t, report.ConditionProgram())
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("steps: [unclosed"))
	require.Error(t, err)

	var cerr *errors.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestParseValidationFailureSurfaces(t *testing.T) {
	_, err := Parse([]byte(`
name: bad
steps:
  - id: a
    runtime: py
    function: f
    inputs:
      - {from: ghost, output: 0}
`))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestParseDefaultsName(t *testing.T) {
	p, err := Parse([]byte(`
steps:
  - id: a
    runtime: py
    function: f
`))
	require.NoError(t, err)
	assert.Equal(t, "pipeline", p.Name())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	var cerr *errors.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "demo", def.Name)
	require.Len(t, def.Steps, 3)
	assert.Equal(t, "count", def.Steps[1].ID)

	_, err = ParseDefinition([]byte("name: empty"))
	assert.Error(t, err)
}
