package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcore/internal/store"
	"github.com/rendis/flowcore/pkg/schema"
)

// fakeIntegrations serves integrations from a map; absent slugs error.
type fakeIntegrations struct {
	bySlug map[string]*store.Integration
}

func (f *fakeIntegrations) GetIntegration(_ context.Context, appSlug string) (*store.Integration, error) {
	if ig, ok := f.bySlug[appSlug]; ok {
		return ig, nil
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "integration not found")
}

func newPipeline(t *testing.T, integrations IntegrationLookup) *Pipeline {
	t.Helper()
	p, err := NewPipeline(integrations)
	require.NoError(t, err)
	return p
}

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:   "wf-1",
		Name: "daily digest",
		Trigger: schema.Trigger{
			Type: schema.TriggerSchedule,
			Cron: "0 9 * * *",
		},
		Steps: []schema.WorkflowStep{
			{ID: "fetch", Instruction: "fetch the data", AgentID: "agent-1", OnSuccess: "summarize", OnFailure: "alert"},
			{ID: "summarize", Instruction: "summarize {{steps.fetch.count}} items", AgentID: "agent-2"},
			{ID: "alert", Instruction: "report the failure", AgentID: "agent-3"},
		},
	}
}

func TestValidDefinitionPasses(t *testing.T) {
	p := newPipeline(t, nil)

	result := p.ValidateDefinition(context.Background(), validDefinition())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestStructuralErrors(t *testing.T) {
	p := newPipeline(t, nil)

	tests := []struct {
		name   string
		mutate func(*schema.WorkflowDefinition)
	}{
		{"empty name", func(d *schema.WorkflowDefinition) { d.Name = "" }},
		{"no steps", func(d *schema.WorkflowDefinition) { d.Steps = nil }},
		{"missing instruction", func(d *schema.WorkflowDefinition) { d.Steps[0].Instruction = "" }},
		{"missing agent", func(d *schema.WorkflowDefinition) { d.Steps[0].AgentID = "" }},
		{"unknown trigger type", func(d *schema.WorkflowDefinition) { d.Trigger.Type = "webhook" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			result := p.ValidateDefinition(context.Background(), def)
			assert.False(t, result.Valid())
		})
	}
}

func TestDuplicateStepIDs(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Steps[2].ID = "fetch"
	def.Steps[0].OnFailure = ""

	result := p.ValidateDefinition(context.Background(), def)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeDefinitionIntegrity, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "duplicate step id")
}

func TestDanglingBranchReference(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Steps[1].OnSuccess = "no-such-step"

	result := p.ValidateDefinition(context.Background(), def)
	require.False(t, result.Valid())
	assert.Equal(t, "steps[1].on_success", result.Errors[0].Path)
	assert.Equal(t, schema.ErrCodeDefinitionIntegrity, result.Errors[0].Code)
}

func TestInvalidConditionRejected(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Steps[0].Condition = "eval('boom')"

	result := p.ValidateDefinition(context.Background(), def)
	require.False(t, result.Valid())
	assert.Equal(t, "steps[0].condition", result.Errors[0].Path)
}

func TestValidConditionAccepted(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Steps[0].Condition = "{{steps.fetch.count}} > 0 && {{steps.fetch.success}} == true"

	result := p.ValidateDefinition(context.Background(), def)
	assert.True(t, result.Valid())
}

func TestUnparseableCronIsScheduleParseError(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Trigger.Cron = "not a cron"

	result := p.ValidateDefinition(context.Background(), def)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeScheduleParse, result.Errors[0].Code)

	err := result.ToError()
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeScheduleParse, flowErr.Code)
}

func TestScheduleTriggerRequiresCron(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Trigger.Cron = ""

	result := p.ValidateDefinition(context.Background(), def)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeScheduleParse, result.Errors[0].Code)
}

func TestAppTriggerRequiresSlugAndKey(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Trigger = schema.Trigger{Type: schema.TriggerApp}

	result := p.ValidateDefinition(context.Background(), def)
	require.False(t, result.Valid())
	assert.Len(t, result.Errors, 2)
}

func TestAppTriggerUnknownIntegration(t *testing.T) {
	p := newPipeline(t, &fakeIntegrations{})

	def := validDefinition()
	def.Trigger = schema.Trigger{Type: schema.TriggerApp, AppSlug: "slack", TriggerKey: "new_message"}

	result := p.ValidateDefinition(context.Background(), def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "not connected")
}

func TestAppTriggerDisconnectedIntegrationWarns(t *testing.T) {
	igs := &fakeIntegrations{bySlug: map[string]*store.Integration{
		"slack": {AppSlug: "slack", Status: "disconnected"},
	}}
	p := newPipeline(t, igs)

	def := validDefinition()
	def.Trigger = schema.Trigger{Type: schema.TriggerApp, AppSlug: "slack", TriggerKey: "new_message"}

	result := p.ValidateDefinition(context.Background(), def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "disconnected")
}

func TestManualTriggerWithCronWarns(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Trigger = schema.Trigger{Type: schema.TriggerManual, Cron: "0 9 * * *"}

	result := p.ValidateDefinition(context.Background(), def)
	assert.True(t, result.Valid())
	assert.Len(t, result.Warnings, 1)
}

func TestPassOutputOnNonAppTrigger(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Trigger.PassOutputToFirstStep = true

	result := p.ValidateDefinition(context.Background(), def)
	require.False(t, result.Valid())
	assert.Equal(t, "trigger.pass_output_to_first_step", result.Errors[0].Path)
}

func TestUnreachableStepWarns(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Steps = append(def.Steps, schema.WorkflowStep{
		ID: "orphan", Instruction: "never runs", AgentID: "agent-4",
	})

	result := p.ValidateDefinition(context.Background(), def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "unreachable")
}

func TestValidateRunRequest(t *testing.T) {
	p := newPipeline(t, nil)

	def := validDefinition()
	def.Trigger = schema.Trigger{
		Type:                  schema.TriggerApp,
		AppSlug:               "slack",
		TriggerKey:            "new_message",
		PassOutputToFirstStep: true,
	}

	err := p.ValidateRunRequest(def, schema.RunModeTest)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)

	assert.NoError(t, p.ValidateRunRequest(def, schema.RunModeLive))
}
