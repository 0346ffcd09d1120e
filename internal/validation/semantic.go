package validation

import (
	"context"
	"fmt"

	"github.com/rendis/flowcore/internal/conditions"
	"github.com/rendis/flowcore/internal/schedule"
	"github.com/rendis/flowcore/pkg/schema"
)

// validateSemantic performs semantic analysis on a structurally valid
// definition. Checks: unique step IDs, branch references resolve, condition
// expressions parse, trigger config matches the declared type, and the app
// integration (if any) is connected.
func validateSemantic(ctx context.Context, def *schema.WorkflowDefinition, integrations IntegrationLookup, result *schema.ValidationResult) {
	stepIDs := make(map[string]bool, len(def.Steps))
	for i, s := range def.Steps {
		if stepIDs[s.ID] {
			result.AddError(fmt.Sprintf("steps[%d].id", i), schema.ErrCodeDefinitionIntegrity,
				fmt.Sprintf("duplicate step id %q", s.ID))
		}
		stepIDs[s.ID] = true
	}

	for i := range def.Steps {
		validateStepSemantic(&def.Steps[i], fmt.Sprintf("steps[%d]", i), stepIDs, result)
	}

	validateTrigger(ctx, def, integrations, result)
	checkReachability(def, result)
}

// validateStepSemantic checks one step's branch references and condition.
func validateStepSemantic(step *schema.WorkflowStep, path string, stepIDs map[string]bool, result *schema.ValidationResult) {
	if step.OnSuccess != "" && !stepIDs[step.OnSuccess] {
		result.AddError(path+".on_success", schema.ErrCodeDefinitionIntegrity,
			fmt.Sprintf("references non-existent step %q", step.OnSuccess))
	}
	if step.OnFailure != "" && !stepIDs[step.OnFailure] {
		result.AddError(path+".on_failure", schema.ErrCodeDefinitionIntegrity,
			fmt.Sprintf("references non-existent step %q", step.OnFailure))
	}
	if step.Condition != "" {
		if err := conditions.CheckSyntax(step.Condition); err != nil {
			result.AddError(path+".condition", schema.ErrCodeValidation,
				fmt.Sprintf("invalid condition: %s", err.Error()))
		}
	}
}

// validateTrigger checks that the trigger config matches its declared type.
func validateTrigger(ctx context.Context, def *schema.WorkflowDefinition, integrations IntegrationLookup, result *schema.ValidationResult) {
	t := def.Trigger

	if t.PassOutputToFirstStep && t.Type != schema.TriggerApp {
		result.AddError("trigger.pass_output_to_first_step", schema.ErrCodeValidation,
			"pass_output_to_first_step is only valid for app triggers")
	}

	switch t.Type {
	case schema.TriggerSchedule:
		if t.Cron == "" {
			result.AddError("trigger.cron", schema.ErrCodeScheduleParse,
				"schedule trigger requires a cron expression")
		} else if err := schedule.Validate(t.Cron); err != nil {
			result.AddError("trigger.cron", schema.ErrCodeScheduleParse,
				fmt.Sprintf("invalid cron expression %q: %s", t.Cron, err.Error()))
		}
		if t.AppSlug != "" || t.TriggerKey != "" {
			result.AddWarning("trigger", schema.ErrCodeValidation,
				"app fields are ignored on a schedule trigger")
		}

	case schema.TriggerApp:
		if t.AppSlug == "" {
			result.AddError("trigger.app_slug", schema.ErrCodeValidation,
				"app trigger requires an app_slug")
		}
		if t.TriggerKey == "" {
			result.AddError("trigger.trigger_key", schema.ErrCodeValidation,
				"app trigger requires a trigger_key")
		}
		if t.Cron != "" {
			result.AddWarning("trigger.cron", schema.ErrCodeValidation,
				"cron is ignored on an app trigger")
		}
		if t.AppSlug != "" && integrations != nil {
			checkIntegration(ctx, t.AppSlug, integrations, result)
		}

	case schema.TriggerManual:
		if t.Cron != "" || t.AppSlug != "" || t.TriggerKey != "" {
			result.AddWarning("trigger", schema.ErrCodeValidation,
				"schedule and app fields are ignored on a manual trigger")
		}
	}
}

// checkIntegration verifies the referenced app integration exists and is
// connected. A disconnected integration is a warning, not an error, since
// connectivity can be restored without editing the workflow.
func checkIntegration(ctx context.Context, appSlug string, integrations IntegrationLookup, result *schema.ValidationResult) {
	ig, err := integrations.GetIntegration(ctx, appSlug)
	if err != nil {
		result.AddError("trigger.app_slug", schema.ErrCodeValidation,
			fmt.Sprintf("app %q is not connected; connect the integration first", appSlug))
		return
	}
	if ig.Status != "connected" {
		result.AddWarning("trigger.app_slug", schema.ErrCodeValidation,
			fmt.Sprintf("integration %q is %s; the workflow will not fire until it reconnects", appSlug, ig.Status))
	}
}

// checkReachability warns about steps the entry step can never reach through
// on_success/on_failure edges. Unreachable steps are dead weight rather than
// broken, so this never blocks a save.
func checkReachability(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	entry := def.EntryStep()
	if entry == nil {
		return
	}

	reachable := make(map[string]bool, len(def.Steps))
	queue := []string{entry.ID}
	reachable[entry.ID] = true

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		step := def.Step(id)
		if step == nil {
			continue
		}
		for _, next := range []string{step.OnSuccess, step.OnFailure} {
			if next != "" && !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i, s := range def.Steps {
		if !reachable[s.ID] {
			result.AddWarning(fmt.Sprintf("steps[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("step %q is unreachable from the entry step", s.ID))
		}
	}
}
