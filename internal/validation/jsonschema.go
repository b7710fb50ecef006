package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

const workflowSchemaURL = "https://waypoint.dev/schemas/workflow.json"

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://waypoint.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "root"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "version": { "type": "integer", "minimum": 0 },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "inputs": { "type": "array", "items": { "$ref": "#/$defs/input" } },
    "variables": { "type": "array", "items": { "$ref": "#/$defs/variable" } },
    "root": { "$ref": "#/$defs/activity" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "value_type": {
      "type": "string",
      "enum": ["any", "string", "number", "integer", "boolean", "object", "array"]
    },
    "input": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "display_name": { "type": "string" },
        "description": { "type": "string" },
        "type": { "$ref": "#/$defs/value_type" },
        "required": { "type": "boolean" },
        "default": {}
      },
      "additionalProperties": false
    },
    "variable": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": { "$ref": "#/$defs/value_type" },
        "default": {}
      },
      "additionalProperties": false
    },
    "activity": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "id": { "type": "string" },
        "type": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "inputs": { "type": "object", "additionalProperties": { "$ref": "#/$defs/binding" } },
        "outputs": { "type": "object", "additionalProperties": { "type": "string", "minLength": 1 } },
        "can_start": { "type": "boolean" },
        "children": { "type": "array", "items": { "$ref": "#/$defs/activity" } },
        "slots": { "type": "object", "additionalProperties": { "$ref": "#/$defs/activity" } },
        "connections": { "type": "array", "items": { "$ref": "#/$defs/connection" } },
        "start": { "type": "string" },
        "config": { "type": "object" }
      },
      "additionalProperties": false
    },
    "connection": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": { "type": "string", "minLength": 1 },
        "outcome": { "type": "string" },
        "target": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    },
    "binding": {
      "type": "object",
      "minProperties": 1,
      "maxProperties": 1,
      "properties": {
        "literal": {},
        "variable": { "type": "string", "minLength": 1 },
        "output": {
          "type": "object",
          "required": ["activity", "name"],
          "properties": {
            "activity": { "type": "string", "minLength": 1 },
            "name": { "type": "string", "minLength": 1 }
          },
          "additionalProperties": false
        },
        "expression": {
          "type": "object",
          "required": ["source"],
          "properties": {
            "language": { "type": "string", "enum": ["cel", "expr", "jq", "template"] },
            "source": { "type": "string", "minLength": 1 }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator implements Validator using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	// mu guards the cache of compiled input schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the workflow schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	wfSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &JSONSchemaValidator{
		workflowSchema: wfSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition validates a WorkflowDefinition against the workflow JSON Schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// ValidateInputs checks instance inputs against the declared workflow inputs.
// Undeclared inputs are accepted.
func (v *JSONSchemaValidator) ValidateInputs(defs []schema.InputDefinition, inputs map[string]any) error {
	if len(defs) == 0 {
		return nil
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	raw, err := InputSchema(defs)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input declarations").WithCause(err)
	}
	return v.ValidateInput(inputs, raw)
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil
	}
	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// InputSchema renders input declarations as an object JSON Schema.
func InputSchema(defs []schema.InputDefinition) ([]byte, error) {
	props := make(map[string]any, len(defs))
	var required []string
	for _, d := range defs {
		prop := map[string]any{}
		if d.Type != "" && d.Type != schema.TypeAny {
			prop["type"] = string(d.Type)
		}
		if d.Description != "" {
			prop["description"] = d.Description
		}
		props[d.Name] = prop
		if d.Required && d.Default == nil {
			required = append(required, d.Name)
		}
	}
	sort.Strings(required)
	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return xjson.Marshal(doc)
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := fmt.Sprintf("waypoint://input-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON so that numbers become
// json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := xjson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toSchemaError converts a jsonschema.ValidationError into a VALIDATION_ERROR
// listing every violated location.
func toSchemaError(err error) *schema.Error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
