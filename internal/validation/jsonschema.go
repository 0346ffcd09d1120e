package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowcore/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition documents.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowcore.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "trigger", "steps"],
  "properties": {
    "id": { "type": "string" },
    "name": {
      "type": "string",
      "minLength": 1
    },
    "description": { "type": "string" },
    "trigger": { "$ref": "#/$defs/trigger" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "is_active": { "type": "boolean" },
    "is_draft": { "type": "boolean" },
    "version": {
      "type": "integer",
      "minimum": 0
    },
    "run_once": { "type": "boolean" },
    "created_at": { "type": "string" },
    "updated_at": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["manual", "schedule", "app"]
        },
        "cron": { "type": "string" },
        "app_slug": { "type": "string" },
        "trigger_key": { "type": "string" },
        "trigger_config": {},
        "parameters": { "type": "object" },
        "pass_output_to_first_step": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["id", "instruction", "agent_id"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "name": { "type": "string" },
        "type": {
          "type": "string",
          "enum": ["agent_action"]
        },
        "instruction": {
          "type": "string",
          "minLength": 1
        },
        "agent_id": {
          "type": "string",
          "minLength": 1
        },
        "condition": { "type": "string" },
        "on_success": { "type": "string" },
        "on_failure": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator performs the structural stage using JSON Schema
// Draft 2020-12. Safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the embedded workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://flowcore.dev/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://flowcore.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{workflowSchema: wfSchema}, nil
}

// Validate checks a definition against the workflow schema and records every
// violation on the result.
func (v *JSONSchemaValidator) Validate(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	doc, err := toJSONValue(def)
	if err != nil {
		result.AddError("", schema.ErrCodeValidation, "failed to serialize workflow definition: "+err.Error())
		return
	}

	if err := v.workflowSchema.Validate(doc); err != nil {
		collectSchemaErrors(err, result)
	}
}

// toJSONValue round-trips a Go value through JSON encoding so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectSchemaErrors flattens a jsonschema.ValidationError tree into
// per-location issues on the result.
func collectSchemaErrors(err error, result *schema.ValidationResult) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("", schema.ErrCodeValidation, err.Error())
		return
	}
	walkSchemaError(verr, result)
}

func walkSchemaError(verr *jsonschema.ValidationError, result *schema.ValidationResult) {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		result.AddError(loc, schema.ErrCodeValidation, verr.Error())
		return
	}
	for _, cause := range verr.Causes {
		walkSchemaError(cause, result)
	}
}
