package invoker

import (
	"context"

	"github.com/rendis/flowcore/pkg/schema"
)

// Request carries one step's delegated instruction to an agent.
type Request struct {
	RunID       string         `json:"run_id"`
	WorkflowID  string         `json:"workflow_id"`
	StepID      string         `json:"step_id"`
	AgentID     string         `json:"agent_id"`
	Instruction string         `json:"instruction"`
	Mode        schema.RunMode `json:"mode"`
	Context     schema.Context `json:"context,omitempty"`
}

// Result is the agent's response to a step invocation. Fields holds the raw
// response object; the engine merges it into the run context under
// steps.<stepId>. Success mirrors the "success" field and decides branching.
type Result struct {
	Success bool
	Fields  map[string]any
}

// Invoker delivers step instructions to agents and returns their results.
// Implementations must honor ctx cancellation.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}
