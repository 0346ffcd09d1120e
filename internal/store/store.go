package store

import (
	"context"

	"github.com/rendis/flowcore/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Definition history (one snapshot per saved version)
	ListWorkflowVersions(ctx context.Context, workflowID string) ([]*WorkflowVersion, error)
	GetWorkflowVersion(ctx context.Context, workflowID string, version int) (*WorkflowVersion, error)

	// Runs
	CreateRun(ctx context.Context, run *schema.Run) error
	GetRun(ctx context.Context, id string) (*schema.Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error)
	PruneRuns(ctx context.Context, workflowID string, keep int) (int64, error)

	// Run steps (materialized view)
	UpsertRunStep(ctx context.Context, step *schema.RunStep) error
	ListRunSteps(ctx context.Context, runID string) ([]*schema.RunStep, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	// Integrations
	UpsertIntegration(ctx context.Context, ig *Integration) error
	GetIntegration(ctx context.Context, appSlug string) (*Integration, error)
	ListIntegrations(ctx context.Context) ([]*Integration, error)
	DeleteIntegration(ctx context.Context, appSlug string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
