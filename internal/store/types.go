package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowcore/pkg/schema"
)

// Workflow is the persisted representation of a workflow definition plus
// the scheduling bookkeeping that does not belong in the definition itself.
type Workflow struct {
	ID            string                    `json:"id"`
	Definition    schema.WorkflowDefinition `json:"definition"`
	NextRunAt     *time.Time                `json:"next_run_at,omitempty"`
	LastRunAt     *time.Time                `json:"last_run_at,omitempty"`
	LastRunStatus string                    `json:"last_run_status,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// WorkflowVersion is an immutable snapshot of a workflow definition, taken
// every time the definition is created or replaced.
type WorkflowVersion struct {
	WorkflowID string                    `json:"workflow_id"`
	Version    int                       `json:"version"`
	Definition schema.WorkflowDefinition `json:"definition"`
	CreatedAt  time.Time                 `json:"created_at"`
}

// Event is an immutable entry in the per-run event log.
type Event struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id"`
	StepID     string          `json:"step_id,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// Integration is a connected external app that workflows can be triggered by.
type Integration struct {
	AppSlug       string          `json:"app_slug"`
	Name          string          `json:"name"`
	Config        json.RawMessage `json:"config,omitempty"`
	Status        string          `json:"status"` // connected, disconnected, error
	LastCheckedAt *time.Time      `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	IsActive    *bool              `json:"is_active,omitempty"`
	IsDraft     *bool              `json:"is_draft,omitempty"`
	TriggerType schema.TriggerType `json:"trigger_type,omitempty"`
	Limit       int                `json:"limit,omitempty"`
	Offset      int                `json:"offset,omitempty"`
}

// WorkflowUpdate specifies mutable fields of a persisted workflow. A nil
// field is left untouched. Setting Definition replaces the stored definition
// and re-derives the indexed trigger columns.
type WorkflowUpdate struct {
	Definition    *schema.WorkflowDefinition `json:"definition,omitempty"`
	IsActive      *bool                      `json:"is_active,omitempty"`
	IsDraft       *bool                      `json:"is_draft,omitempty"`
	NextRunAt     *time.Time                 `json:"next_run_at,omitempty"`
	LastRunAt     *time.Time                 `json:"last_run_at,omitempty"`
	LastRunStatus string                     `json:"last_run_status,omitempty"`
}

// RunFilter specifies criteria for listing runs. Results are newest-first.
type RunFilter struct {
	WorkflowID string             `json:"workflow_id,omitempty"`
	Statuses   []schema.RunStatus `json:"statuses,omitempty"`
	Mode       schema.RunMode     `json:"mode,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Offset     int                `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status        *schema.RunStatus `json:"status,omitempty"`
	CurrentStepID *string           `json:"current_step_id,omitempty"`
	Context       schema.Context    `json:"context,omitempty"`
	Error         *string           `json:"error,omitempty"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}
