package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var builtinTypes = newMockLookup("Sequence", "Flowchart", "FlowDecision", "Event", "WriteLine", "If", "SetVariable")

func TestSemantic_Valid(t *testing.T) {
	result := validateSemantic(parse(t, validWorkflow), builtinTypes)
	assert.True(t, result.Valid(), messages(result.Errors))
	assert.Empty(t, result.Warnings)
}

func TestSemantic_UnregisteredType(t *testing.T) {
	def := parse(t, `{"id": "x", "root": {"type": "Sequence", "children": [{"type": "Teleport"}]}}`)
	result := validateSemantic(def, builtinTypes)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "root.children[0].type", result.Errors[0].Path)

	assert.True(t, validateSemantic(def, nil).Valid(), "nil lookup skips type checks")
}

func TestSemantic_DuplicateIDs(t *testing.T) {
	def := parse(t, `{"id": "x", "root": {"type": "Sequence", "children": [
	  {"id": "a", "type": "WriteLine"},
	  {"type": "If", "slots": {"then": {"id": "a", "type": "WriteLine"}}}
	]}}`)
	result := validateSemantic(def, builtinTypes)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "root.children[1].slots.then.id", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, "root.children[0]")
}

func TestSemantic_OutputReferences(t *testing.T) {
	def := parse(t, `{"id": "x", "root": {"type": "Sequence", "children": [
	  {"name": "Greeter", "type": "WriteLine", "inputs": {"text": {"literal": "hi"}}},
	  {"type": "WriteLine", "inputs": {"text": {"output": {"activity": "Greeter", "name": "text"}}}},
	  {"type": "WriteLine", "inputs": {"text": {"output": {"activity": "ghost", "name": "text"}}}}
	]}}`)
	result := validateSemantic(def, builtinTypes)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "root.children[2].inputs.text", result.Errors[0].Path)
}

func TestSemantic_UndeclaredVariablesWarn(t *testing.T) {
	def := parse(t, `{"id": "x", "variables": [{"name": "known"}], "root": {"type": "Sequence", "children": [
	  {"type": "WriteLine", "inputs": {"text": {"variable": "known"}}},
	  {"type": "WriteLine", "inputs": {"text": {"variable": "unknown"}}, "outputs": {"text": "missing"}}
	]}}`)
	result := validateSemantic(def, builtinTypes)
	assert.True(t, result.Valid())
	assert.Equal(t, []string{
		`root.children[1].inputs.text: variable "unknown" is not declared`,
		`root.children[1].outputs.text: variable "missing" is not declared`,
	}, messages(result.Warnings))
}

func TestSemantic_FlowchartConnections(t *testing.T) {
	def := parse(t, `{"id": "x", "root": {"type": "Flowchart", "start": "nowhere",
	  "children": [{"id": "a", "type": "WriteLine"}, {"type": "Sequence", "children": [{"id": "nested", "type": "WriteLine"}]}],
	  "connections": [{"source": "a", "target": "nested"}, {"source": "ghost", "target": "a"}]
	}}`)
	result := validateSemantic(def, builtinTypes)
	assert.Equal(t, []string{
		`root.connections[0].target: references non-existent child "nested"`,
		`root.connections[1].source: references non-existent child "ghost"`,
		`root.start: references non-existent child "nowhere"`,
	}, messages(result.Errors))
}
