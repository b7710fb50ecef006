package schema

import "encoding/json"

// WorkflowDefinition is the JSON-serializable workflow format. Hosts register it
// through the runtime or the waypoint.define tool; code-built definitions use
// engine.Builder directly.
type WorkflowDefinition struct {
	ID          string               `json:"id"`
	Version     int                  `json:"version,omitempty"`
	Name        string               `json:"name,omitempty"`
	Description string               `json:"description,omitempty"`
	Inputs      []InputDefinition    `json:"inputs,omitempty"`
	Variables   []VariableDefinition `json:"variables,omitempty"`
	Root        ActivityDefinition   `json:"root"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
}

// InputDefinition declares a named workflow input.
type InputDefinition struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Type        ValueType `json:"type,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// VariableDefinition declares a workflow variable and its initial value.
type VariableDefinition struct {
	Name    string    `json:"name"`
	Type    ValueType `json:"type,omitempty"`
	Default any       `json:"default,omitempty"`
}

// ValueType names the expected type of an input, output or variable.
type ValueType string

const (
	TypeAny     ValueType = "any"
	TypeString  ValueType = "string"
	TypeNumber  ValueType = "number"
	TypeInteger ValueType = "integer"
	TypeBoolean ValueType = "boolean"
	TypeObject  ValueType = "object"
	TypeArray   ValueType = "array"
)

// ActivityDefinition describes one node of the activity tree.
type ActivityDefinition struct {
	ID       string                        `json:"id,omitempty"`
	Type     string                        `json:"type"`
	Name     string                        `json:"name,omitempty"`
	Inputs   map[string]BindingDefinition  `json:"inputs,omitempty"`
	Outputs  map[string]string             `json:"outputs,omitempty"` // output name -> variable
	CanStart bool                          `json:"can_start,omitempty"`
	Children []ActivityDefinition          `json:"children,omitempty"`
	Slots    map[string]ActivityDefinition `json:"slots,omitempty"` // named children: then, else, body, try, catch
	// Flowchart only.
	Connections []ConnectionDefinition `json:"connections,omitempty"`
	Start       string                 `json:"start,omitempty"`
	Config      json.RawMessage        `json:"config,omitempty"`
}

// ConnectionDefinition is an outcome-labelled flowchart edge.
type ConnectionDefinition struct {
	Source  string `json:"source"`
	Outcome string `json:"outcome,omitempty"` // default "Done"
	Target  string `json:"target"`
}

// BindingDefinition is the serialized form of an input binding. Exactly one of
// the fields is set.
type BindingDefinition struct {
	Literal    any                   `json:"literal,omitempty"`
	Variable   string                `json:"variable,omitempty"`
	Output     *OutputRefDefinition  `json:"output,omitempty"`
	Expression *ExpressionDefinition `json:"expression,omitempty"`
}

// OutputRefDefinition references an output recorded by another activity.
type OutputRefDefinition struct {
	Activity string `json:"activity"`
	Name     string `json:"name"`
}

// ExpressionDefinition is a computed binding.
type ExpressionDefinition struct {
	Language string `json:"language"` // cel | expr | jq | template
	Source   string `json:"source"`
}
