package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowcore/internal/notify"
	"github.com/rendis/flowcore/internal/store"
	"github.com/rendis/flowcore/internal/validation"
	"github.com/rendis/flowcore/pkg/schema"
)

// Runner is the slice of the execution engine the tool surface needs.
type Runner interface {
	Execute(ctx context.Context, wf *store.Workflow, mode schema.RunMode, initial schema.Context) (*schema.Run, error)
	Cancel(workflowID string) error
	Running(workflowID string) bool
}

// FlowServerDeps holds the dependencies for creating a FlowServer.
type FlowServerDeps struct {
	Runner    Runner
	Store     store.Store
	Validator validation.Validator
	Hub       notify.Hub
	Logger    *slog.Logger
}

// FlowServer wraps an MCP server with the workflow lifecycle tools.
type FlowServer struct {
	runner    Runner
	store     store.Store
	validator validation.Validator
	hub       notify.Hub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  AgentNotifier
	mcpServer *server.MCPServer
}

// NewFlowServer creates a FlowServer with all tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		runner:    deps.Runner,
		store:     deps.Store,
		validator: deps.Validator,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"flowcore",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowcore orchestrates agent workflows. Use flow.define to save a workflow, flow.activate/flow.deactivate to control scheduling, flow.run to execute one (test or live), flow.cancel to stop an in-flight run, and flow.query to inspect workflows, run history, and event logs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// StartEventBridge forwards hub status events to watching agents until ctx is
// cancelled.
func (s *FlowServer) StartEventBridge(ctx context.Context) {
	bridge := NewEventBridge(s.hub, s.sessions, s.notifier, s.logger)
	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("event bridge stopped", slog.String("error", err.Error()))
		}
	}()
}

func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: updateTool(), Handler: s.handleUpdate},
		{Tool: activateTool(), Handler: s.handleActivate},
		{Tool: deactivateTool(), Handler: s.handleDeactivate},
		{Tool: deleteTool(), Handler: s.handleDelete},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("flow.define",
		mcp.WithDescription("Save a new workflow definition. The definition is validated before it is stored; validation errors are returned without saving"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object (name, trigger, steps)")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the defining agent")),
	)
}

func updateTool() mcp.Tool {
	return mcp.NewTool("flow.update",
		mcp.WithDescription("Replace a workflow's definition. The version is incremented automatically"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to update")),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Replacement workflow definition")),
		mcp.WithString("agent_id", mcp.Description("ID of the updating agent")),
	)
}

func activateTool() mcp.Tool {
	return mcp.NewTool("flow.activate",
		mcp.WithDescription("Activate a workflow so its trigger fires. Clears the draft flag; fails if the definition no longer validates"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to activate")),
		mcp.WithString("agent_id", mcp.Description("ID of the activating agent")),
	)
}

func deactivateTool() mcp.Tool {
	return mcp.NewTool("flow.deactivate",
		mcp.WithDescription("Deactivate a workflow so its trigger stops firing. Does not cancel an in-flight run"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to deactivate")),
		mcp.WithString("agent_id", mcp.Description("ID of the deactivating agent")),
	)
}

func deleteTool() mcp.Tool {
	return mcp.NewTool("flow.delete",
		mcp.WithDescription("Delete a workflow and its run history. Fails while a run is in flight"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to delete")),
		mcp.WithString("agent_id", mcp.Description("ID of the deleting agent")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("flow.run",
		mcp.WithDescription("Execute a workflow now and wait for the terminal state. Test runs are kept out of run history"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithString("mode", mcp.Enum("test", "live"), mcp.Description("Run mode (default: test)")),
		mcp.WithObject("params", mcp.Description("Trigger parameters, available to steps as trigger.<key>")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent starting the run")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("flow.cancel",
		mcp.WithDescription("Request cooperative cancellation of a workflow's in-flight run"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow whose run to cancel")),
		mcp.WithString("agent_id", mcp.Description("ID of the cancelling agent")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("flow.query",
		mcp.WithDescription("Query workflows, definition versions, run history, or a run's event log"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "versions", "runs", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria: workflows accept is_active/is_draft/trigger_type/limit, versions accept workflow_id plus an optional version number, runs accept workflow_id/status/mode/limit plus an optional 'jq' expression applied to the result array, events accept run_id/since")),
	)
}
