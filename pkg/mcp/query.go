package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/itchyny/gojq"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/flowcore/internal/store"
	"github.com/rendis/flowcore/pkg/schema"
)

// handleQuery lists workflows, definition versions, run history, or a run's
// event log.
func (s *FlowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "versions":
		return s.queryVersions(ctx, filter)
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

func (s *FlowServer) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	wf := store.WorkflowFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if isActive, ok := filter["is_active"].(bool); ok {
		wf.IsActive = &isActive
	}
	if isDraft, ok := filter["is_draft"].(bool); ok {
		wf.IsDraft = &isDraft
	}
	if triggerType, ok := filter["trigger_type"].(string); ok {
		wf.TriggerType = schema.TriggerType(triggerType)
	}

	workflows, err := s.store.ListWorkflows(ctx, wf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *FlowServer) queryVersions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	workflowID, ok := filter["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("version query requires 'workflow_id' in filter"), nil
	}

	if version := extractInt(filter, "version", 0); version > 0 {
		v, err := s.store.GetWorkflowVersion(ctx, workflowID, version)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"versions": []*store.WorkflowVersion{v}})
	}

	versions, err := s.store.ListWorkflowVersions(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"versions": versions})
}

func (s *FlowServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if workflowID, ok := filter["workflow_id"].(string); ok {
		rf.WorkflowID = workflowID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rf.Statuses = []schema.RunStatus{schema.RunStatus(status)}
	}
	if mode, ok := filter["mode"].(string); ok {
		rf.Mode = schema.RunMode(mode)
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	jqExpr, _ := filter["jq"].(string)
	if jqExpr == "" {
		return marshalResult(map[string]any{"runs": runs})
	}

	filtered, jqErr := applyJQ(jqExpr, runs)
	if jqErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("jq filter failed: %v", jqErr)), nil
	}
	return marshalResult(map[string]any{"runs": filtered})
}

func (s *FlowServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, ok := filter["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("event query requires 'run_id' in filter"), nil
	}
	since := int64(extractInt(filter, "since", 0))

	events, err := s.store.GetEvents(ctx, runID, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// applyJQ runs a jq expression against the run list. The input is the JSON
// array of runs; the expression's outputs are collected in order, so both
// `.[] | select(...)` streams and whole-array transforms work.
func applyJQ(expr string, runs []*schema.Run) ([]any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse expression: %w", err)
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	raw, err := json.Marshal(runs)
	if err != nil {
		return nil, err
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}

	var results []any
	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if iterErr, isErr := v.(error); isErr {
			return nil, iterErr
		}
		results = append(results, v)
	}
	return results, nil
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
