package validation

import (
	"errors"

	"github.com/rendis/waypoint/pkg/schema"
)

// WorkflowValidator checks a definition in stages: JSON Schema structure,
// then semantics (types, IDs, references), then flowchart reachability. A
// stage that reports errors stops the pipeline.
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	stages     []func(*schema.WorkflowDefinition) *schema.ValidationResult
}

// NewWorkflowValidator builds the pipeline. A nil lookup skips activity type checks.
func NewWorkflowValidator(lookup ActivityLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	wv := &WorkflowValidator{jsonSchema: jsv}
	wv.stages = []func(*schema.WorkflowDefinition) *schema.ValidationResult{
		func(d *schema.WorkflowDefinition) *schema.ValidationResult { return validateStructural(jsv, d) },
		func(d *schema.WorkflowDefinition) *schema.ValidationResult { return validateSemantic(d, lookup) },
		validateFlowGraphs,
	}
	return wv, nil
}

func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.Fail("/", "workflow definition is nil")
		return result
	}
	for _, stage := range wv.stages {
		result.Merge(stage(def))
		if !result.Valid() {
			break
		}
	}
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).Err()
}

// ValidateInputs delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateInputs(defs []schema.InputDefinition, inputs map[string]any) error {
	return wv.jsonSchema.ValidateInputs(defs, inputs)
}

// validateStructural turns each JSON Schema violation into a root-level error.
func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	err := v.ValidateDefinition(def)
	var se *schema.Error
	switch {
	case err == nil:
	case errors.As(err, &se):
		violations, _ := se.Details["violations"].([]string)
		if len(violations) == 0 {
			violations = []string{se.Message}
		}
		for _, msg := range violations {
			result.Fail("/", msg)
		}
	default:
		result.Fail("/", err.Error())
	}
	return result
}
