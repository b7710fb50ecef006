package validation

import "github.com/rendis/waypoint/pkg/schema"

// Validator checks JSON workflow definitions and instance inputs before they
// reach the engine. Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInputs(defs []schema.InputDefinition, inputs map[string]any) error
}

// ActivityLookup reports whether an activity type is registered.
type ActivityLookup interface {
	Has(typeName string) bool
}
