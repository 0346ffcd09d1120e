package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowcore/internal/notify"
	"github.com/rendis/flowcore/internal/store"
	"github.com/rendis/flowcore/pkg/schema"
)

// handleDefine validates and saves a new workflow definition.
func (s *FlowServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	def, defErr := parseDefinition(req)
	if defErr != nil {
		return mcp.NewToolResultError(defErr.Error()), nil
	}

	now := time.Now().UTC()
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	def.Version = 1
	def.CreatedAt = now
	def.UpdatedAt = now

	result := s.validator.ValidateDefinition(ctx, def)
	if !result.Valid() {
		return validationFailure(result)
	}

	wf := &store.Workflow{ID: def.ID, Definition: *def}
	if createErr := s.store.CreateWorkflow(ctx, wf); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save workflow: %v", createErr)), nil
	}

	s.captureSession(ctx, agentID)
	s.sessions.Watch(def.ID, agentID)
	s.publishLifecycle(ctx, def.ID, schema.NotifyCreated)

	return marshalResult(map[string]any{
		"workflow_id": def.ID,
		"version":     def.Version,
		"warnings":    result.Warnings,
	})
}

// handleUpdate replaces a workflow's definition, bumping the version.
func (s *FlowServer) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	def, defErr := parseDefinition(req)
	if defErr != nil {
		return mcp.NewToolResultError(defErr.Error()), nil
	}

	existing, getErr := s.store.GetWorkflow(ctx, workflowID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", getErr)), nil
	}

	def.ID = workflowID
	def.Version = existing.Definition.Version + 1
	def.CreatedAt = existing.Definition.CreatedAt
	def.UpdatedAt = time.Now().UTC()

	result := s.validator.ValidateDefinition(ctx, def)
	if !result.Valid() {
		return validationFailure(result)
	}

	if updateErr := s.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{Definition: def}); updateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update workflow: %v", updateErr)), nil
	}

	if agentID := req.GetString("agent_id", ""); agentID != "" {
		s.captureSession(ctx, agentID)
		s.sessions.Watch(workflowID, agentID)
	}
	s.publishLifecycle(ctx, workflowID, schema.NotifyUpdated)

	return marshalResult(map[string]any{
		"workflow_id": workflowID,
		"version":     def.Version,
		"warnings":    result.Warnings,
	})
}

// handleActivate enables a workflow's trigger. Activation re-validates the
// definition so a workflow saved under older rules cannot go live broken.
func (s *FlowServer) handleActivate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	wf, getErr := s.store.GetWorkflow(ctx, workflowID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", getErr)), nil
	}

	result := s.validator.ValidateDefinition(ctx, &wf.Definition)
	if !result.Valid() {
		return validationFailure(result)
	}

	active := true
	notDraft := false
	if updateErr := s.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{
		IsActive: &active,
		IsDraft:  &notDraft,
	}); updateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to activate workflow: %v", updateErr)), nil
	}

	s.watchIfAgent(ctx, req, workflowID)
	s.publishLifecycle(ctx, workflowID, schema.NotifyActivated)

	return marshalResult(map[string]any{"workflow_id": workflowID, "is_active": true})
}

// handleDeactivate stops a workflow's trigger from firing.
func (s *FlowServer) handleDeactivate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	inactive := false
	if updateErr := s.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{IsActive: &inactive}); updateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to deactivate workflow: %v", updateErr)), nil
	}

	s.watchIfAgent(ctx, req, workflowID)
	s.publishLifecycle(ctx, workflowID, schema.NotifyDeactivated)

	return marshalResult(map[string]any{"workflow_id": workflowID, "is_active": false})
}

// handleDelete removes a workflow and its run history.
func (s *FlowServer) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	if s.runner.Running(workflowID) {
		return mcp.NewToolResultError("workflow has a run in flight; cancel it before deleting"), nil
	}

	if delErr := s.store.DeleteWorkflow(ctx, workflowID); delErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete workflow: %v", delErr)), nil
	}

	s.publishLifecycle(ctx, workflowID, schema.NotifyDeleted)
	s.sessions.Unwatch(workflowID)

	return marshalResult(map[string]any{"workflow_id": workflowID, "deleted": true})
}

// handleRun executes a workflow and blocks until the run reaches a terminal
// state.
func (s *FlowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	mode := schema.RunMode(req.GetString("mode", string(schema.RunModeTest)))
	if mode != schema.RunModeTest && mode != schema.RunModeLive {
		return mcp.NewToolResultError("mode must be test or live"), nil
	}

	wf, getErr := s.store.GetWorkflow(ctx, workflowID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", getErr)), nil
	}

	if mode == schema.RunModeLive && wf.Definition.IsDraft {
		return mcp.NewToolResultError("draft workflows can only be run in test mode"), nil
	}
	if reqErr := s.validator.ValidateRunRequest(&wf.Definition, mode); reqErr != nil {
		return mcp.NewToolResultError(reqErr.Error()), nil
	}

	s.captureSession(ctx, agentID)
	s.sessions.Watch(workflowID, agentID)

	var initial schema.Context
	if params := mcp.ParseStringMap(req, "params", nil); params != nil {
		initial = schema.Context{"trigger": params}
	}

	run, runErr := s.runner.Execute(ctx, wf, mode, initial)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", runErr)), nil
	}

	return marshalResult(run)
}

// handleCancel requests cancellation of a workflow's in-flight run.
func (s *FlowServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	if cancelErr := s.runner.Cancel(workflowID); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}

	s.watchIfAgent(ctx, req, workflowID)
	return marshalResult(map[string]any{"workflow_id": workflowID, "cancelled": true})
}

// --- Internal helpers ---

// parseDefinition decodes the definition argument into a WorkflowDefinition.
func parseDefinition(req mcp.CallToolRequest) (*schema.WorkflowDefinition, error) {
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return nil, fmt.Errorf("definition is required")
	}
	defBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid definition: %v", err)
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(defBytes, &def); err != nil {
		return nil, fmt.Errorf("invalid definition: %v", err)
	}
	return &def, nil
}

// validationFailure packages a failed validation result as a tool error.
func validationFailure(result *schema.ValidationResult) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError("definition is invalid"), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("definition is invalid: %s", data)), nil
}

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *FlowServer) captureSession(ctx context.Context, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(agentID, session.SessionID())
	}
}

// watchIfAgent captures the optional agent_id argument and subscribes the
// agent to the workflow's status updates.
func (s *FlowServer) watchIfAgent(ctx context.Context, req mcp.CallToolRequest, workflowID string) {
	if agentID := req.GetString("agent_id", ""); agentID != "" {
		s.captureSession(ctx, agentID)
		s.sessions.Watch(workflowID, agentID)
	}
}

// publishLifecycle emits a workflow lifecycle notification on the status hub.
func (s *FlowServer) publishLifecycle(ctx context.Context, workflowID, notificationType string) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, notify.StatusEvent{
		Type:             schema.EventTypeStatusUpdate,
		WorkflowID:       workflowID,
		NotificationType: notificationType,
		Timestamp:        time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("publish lifecycle event failed",
			"workflow_id", workflowID, "notification_type", notificationType, "error", err)
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
