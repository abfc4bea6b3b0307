package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcoreai/orchestrator/internal/errorsx"
)

func TestValidate_ListOfStrings(t *testing.T) {
	raw := []byte(`{"capabilities": ["fetch", "summarize"]}`)
	m, err := Validate(raw)
	require.NoError(t, err)
	assert.Len(t, m.Capabilities, 2)
	assert.True(t, m.HasCapability("fetch"))
}

func TestValidate_ListOfObjects(t *testing.T) {
	raw := []byte(`{
		"capabilities": [
			{"name": "audit_trace", "description": "audits", "custom_input_handler": "use_execution_trace"}
		],
		"output_spec": {"type": "report"}
	}`)
	m, err := Validate(raw)
	require.NoError(t, err)
	require.Len(t, m.Capabilities, 1)
	assert.Equal(t, "use_execution_trace", m.Capabilities[0].CustomInputHandler)
	assert.Equal(t, "report", m.OutputSpec.Type())
}

func TestValidate_MappingForm(t *testing.T) {
	raw := []byte(`{"capabilities": {"do": "does a thing"}}`)
	m, err := Validate(raw)
	require.NoError(t, err)
	require.Len(t, m.Capabilities, 1)
	assert.Equal(t, "do", m.Capabilities[0].Name)
	assert.Equal(t, "does a thing", m.Capabilities[0].Description)
}

func TestValidate_DropsUnnamedAndDuplicates(t *testing.T) {
	raw := []byte(`{"capabilities": [{"name": ""}, {"name": "do"}, {"name": "do", "description": "second"}]}`)
	m, err := Validate(raw)
	require.NoError(t, err)
	require.Len(t, m.Capabilities, 1)
	assert.Equal(t, "", m.Capabilities[0].Description)
}

func TestValidate_MissingCapabilities(t *testing.T) {
	_, err := Validate([]byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, errorsx.KindBadManifest, errorsx.KindOf(err))
}

func TestValidate_NotJSON(t *testing.T) {
	_, err := Validate([]byte(`not json`))
	require.Error(t, err)
	assert.Equal(t, errorsx.KindBadManifest, errorsx.KindOf(err))
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := []byte(`{"capabilities": ["a", "b"], "output_spec": {"type": "x"}}`)
	m1, err := Validate(raw)
	require.NoError(t, err)

	reencoded, err := json.Marshal(m1)
	require.NoError(t, err)

	m2, err := Validate(reencoded)
	require.NoError(t, err)
	assert.Equal(t, m1.Capabilities, m2.Capabilities)
	assert.Equal(t, m1.OutputSpec, m2.OutputSpec)
}
