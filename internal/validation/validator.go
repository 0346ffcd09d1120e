package validation

import (
	"context"

	"github.com/rendis/flowcore/internal/store"
	"github.com/rendis/flowcore/pkg/schema"
)

// IntegrationLookup resolves connected app integrations for app-triggered
// workflows. Satisfied by the store.
type IntegrationLookup interface {
	GetIntegration(ctx context.Context, appSlug string) (*store.Integration, error)
}

// Validator checks workflow definitions before they are saved or run.
type Validator interface {
	// ValidateDefinition runs the full pipeline: JSON Schema structure first,
	// then semantic analysis. Structural failures short-circuit since semantic
	// checks assume a well-formed document.
	ValidateDefinition(ctx context.Context, def *schema.WorkflowDefinition) *schema.ValidationResult

	// ValidateRunRequest checks that a definition can be started in the given
	// mode. Test runs cannot synthesize an app trigger payload, so a
	// definition with pass_output_to_first_step set rejects them.
	ValidateRunRequest(def *schema.WorkflowDefinition, mode schema.RunMode) error
}

// Pipeline is the default Validator.
type Pipeline struct {
	structural   *JSONSchemaValidator
	integrations IntegrationLookup
}

// NewPipeline creates a validation pipeline. integrations may be nil, in
// which case app-trigger connectivity is not checked.
func NewPipeline(integrations IntegrationLookup) (*Pipeline, error) {
	structural, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Pipeline{structural: structural, integrations: integrations}, nil
}

func (p *Pipeline) ValidateDefinition(ctx context.Context, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if def == nil {
		result.AddError("", schema.ErrCodeValidation, "workflow definition is nil")
		return result
	}

	p.structural.Validate(def, result)
	if !result.Valid() {
		return result
	}

	validateSemantic(ctx, def, p.integrations, result)
	return result
}

func (p *Pipeline) ValidateRunRequest(def *schema.WorkflowDefinition, mode schema.RunMode) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if mode == schema.RunModeTest && def.Trigger.PassOutputToFirstStep {
		return schema.NewError(schema.ErrCodeValidation,
			"cannot test a workflow whose trigger passes its payload to the first step; run it live or clear pass_output_to_first_step").
			WithDetails(map[string]any{"workflow_id": def.ID})
	}
	return nil
}
