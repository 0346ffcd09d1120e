package schema

import (
	"encoding/json"
	"time"
)

// TriggerType enumerates the event classes that start a workflow run.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerApp      TriggerType = "app"
)

// Trigger describes when a workflow runs. Exactly one variant is populated,
// selected by Type.
type Trigger struct {
	Type TriggerType `json:"type"`

	// Schedule trigger: 5-field cron expression, always interpreted in UTC.
	Cron string `json:"cron,omitempty"`

	// App trigger: an external application event.
	AppSlug       string          `json:"app_slug,omitempty"`
	TriggerKey    string          `json:"trigger_key,omitempty"`
	TriggerConfig json.RawMessage `json:"trigger_config,omitempty"`
	Parameters    map[string]any  `json:"parameters,omitempty"`

	// PassOutputToFirstStep forwards the app trigger payload into the entry
	// step's context. Test runs cannot synthesize that payload, so they are
	// rejected while this is set.
	PassOutputToFirstStep bool `json:"pass_output_to_first_step,omitempty"`
}

// StepType enumerates the kinds of steps in a workflow.
type StepType string

const (
	// StepTypeAgentAction delegates the step to an external agent via the
	// step action invoker. Currently the only variant.
	StepTypeAgentAction StepType = "agent_action"
)

// WorkflowStep is one unit of delegated work with success/failure branching.
type WorkflowStep struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Type        StepType `json:"type,omitempty"` // defaults to agent_action
	Instruction string   `json:"instruction"`
	AgentID     string   `json:"agent_id"`

	// Condition is an optional post-condition expression evaluated against
	// the run context after the step's action succeeds. A false result is
	// treated as a guarded failure and routes to OnFailure.
	Condition string `json:"condition,omitempty"`

	OnSuccess string `json:"on_success,omitempty"` // next step ID; empty ends the branch
	OnFailure string `json:"on_failure,omitempty"` // next step ID on failure; empty fails the run
}

// WorkflowDefinition is the persisted workflow document.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Trigger     Trigger        `json:"trigger"`
	Steps       []WorkflowStep `json:"steps"`

	IsActive bool `json:"is_active"`
	IsDraft  bool `json:"is_draft"`

	// Version increments on every update to steps or trigger. Run history
	// records the version it executed against.
	Version int `json:"version"`

	// RunOnce disables the workflow after its first scheduled start.
	RunOnce bool `json:"run_once,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step returns the step with the given ID, or nil if absent.
func (d *WorkflowDefinition) Step(id string) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// EntryStep returns the first step of the definition, or nil if there are none.
func (d *WorkflowDefinition) EntryStep() *WorkflowStep {
	if len(d.Steps) == 0 {
		return nil
	}
	return &d.Steps[0]
}

// RunMode distinguishes ad hoc test runs from scheduled/live runs.
type RunMode string

const (
	// RunModeTest is a single ad hoc run; results are surfaced directly to
	// the caller and not persisted as run history.
	RunModeTest RunMode = "test"
	// RunModeLive is a run started by the scheduler or an app event;
	// results are persisted and notified.
	RunModeLive RunMode = "live"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepStatus represents the lifecycle state of a step within a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Run is one execution instance of a workflow definition at a specific
// version. Owned exclusively by the execution engine until terminal, then
// immutable history.
type Run struct {
	ID              string     `json:"id"`
	WorkflowID      string     `json:"workflow_id"`
	WorkflowVersion int        `json:"workflow_version"`
	Mode            RunMode    `json:"mode"`
	Status          RunStatus  `json:"status"`
	CurrentStepID   string     `json:"current_step_id,omitempty"`
	Context         Context    `json:"context,omitempty"`
	Error           string     `json:"error,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`

	Steps []*RunStep `json:"steps,omitempty"`
}

// RunStep is the per-step record inside a run.
type RunStep struct {
	RunID       string          `json:"run_id"`
	StepID      string          `json:"step_id"`
	Status      StepStatus      `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Context is the accumulated mapping of prior step results, keyed as
// steps.<stepId>.<field>. It is consulted by condition expressions and by
// later step instructions. Each entry is written once by the step that
// produced it and is read-only afterwards.
type Context map[string]any

// StepResults returns the steps namespace of the context, creating it if
// needed.
func (c Context) StepResults() map[string]any {
	steps, ok := c["steps"].(map[string]any)
	if !ok {
		steps = make(map[string]any)
		c["steps"] = steps
	}
	return steps
}

// SetStepResult records a completed step's fields under steps.<stepID>.
func (c Context) SetStepResult(stepID string, fields map[string]any) {
	c.StepResults()[stepID] = fields
}
