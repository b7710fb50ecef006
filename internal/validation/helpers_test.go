package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

type mockLookup map[string]bool

func (m mockLookup) Has(name string) bool { return m[name] }

func newMockLookup(types ...string) mockLookup {
	m := make(mockLookup, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

func parse(t *testing.T, doc string) *schema.WorkflowDefinition {
	t.Helper()
	var def schema.WorkflowDefinition
	require.NoError(t, xjson.Unmarshal([]byte(doc), &def))
	return &def
}

func messages(issues []schema.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.String())
	}
	return out
}

const validWorkflow = `{
  "id": "order",
  "inputs": [{"name": "amount", "type": "number", "required": true}],
  "variables": [{"name": "approved", "type": "boolean", "default": false}],
  "root": {
    "type": "Flowchart",
    "start": "check",
    "children": [
      {"id": "check", "type": "FlowDecision", "inputs": {"condition": {"expression": {"language": "cel", "source": "inputs.amount > 100.0"}}}},
      {"id": "wait", "type": "Event", "inputs": {"event_name": {"literal": "Approved"}}},
      {"id": "done", "type": "WriteLine", "inputs": {"text": {"output": {"activity": "wait", "name": "input"}}}}
    ],
    "connections": [
      {"source": "check", "outcome": "True", "target": "wait"},
      {"source": "check", "outcome": "False", "target": "done"},
      {"source": "wait", "target": "done"}
    ]
  }
}`
