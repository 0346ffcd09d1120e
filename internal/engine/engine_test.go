package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcore/internal/invoker"
	"github.com/rendis/flowcore/internal/notify"
	"github.com/rendis/flowcore/internal/store"
	"github.com/rendis/flowcore/pkg/schema"
)

// stepResponse scripts one step's behavior in the fake invoker.
type stepResponse struct {
	fields map[string]any
	err    error
	delay  time.Duration
}

// fakeInvoker returns scripted responses keyed by step ID and records the
// requests it receives.
type fakeInvoker struct {
	mu        sync.Mutex
	responses map[string]stepResponse
	requests  []invoker.Request
}

func (f *fakeInvoker) Invoke(ctx context.Context, req invoker.Request) (*invoker.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	resp, ok := f.responses[req.StepID]
	f.mu.Unlock()

	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		resp = stepResponse{fields: map[string]any{"success": true}}
	}
	if resp.err != nil {
		return nil, resp.err
	}
	success, _ := resp.fields["success"].(bool)
	return &invoker.Result{Success: success, Fields: resp.fields}, nil
}

func (f *fakeInvoker) requestFor(stepID string) *invoker.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.requests {
		if f.requests[i].StepID == stepID {
			return &f.requests[i]
		}
	}
	return nil
}

type testHarness struct {
	store    *store.LibSQLStore
	invoker  *fakeInvoker
	hub      *notify.MemoryHub
	engine   *Engine
	eventsCh <-chan notify.StatusEvent
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	hub := notify.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), notify.EventFilter{})
	require.NoError(t, err)
	t.Cleanup(cancel)

	inv := &fakeInvoker{responses: map[string]stepResponse{}}
	notifier := notify.NewNotifier(hub, notify.WithSettleDelay(time.Millisecond))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := NewEngine(s, store.NewEventLog(s), inv, notifier, logger, cfg)

	return &testHarness{store: s, invoker: inv, hub: hub, engine: eng, eventsCh: ch}
}

func (h *testHarness) seed(t *testing.T, steps []schema.WorkflowStep) *store.Workflow {
	t.Helper()
	def := schema.WorkflowDefinition{
		ID:       uuid.New().String(),
		Name:     "test-workflow",
		Trigger:  schema.Trigger{Type: schema.TriggerManual},
		Steps:    steps,
		IsActive: true,
		Version:  1,
	}
	wf := &store.Workflow{ID: def.ID, Definition: def}
	require.NoError(t, h.store.CreateWorkflow(context.Background(), wf))
	return wf
}

func (h *testHarness) notifications(t *testing.T, n int) []string {
	t.Helper()
	var types []string
	deadline := time.After(2 * time.Second)
	for len(types) < n {
		select {
		case e := <-h.eventsCh:
			types = append(types, e.NotificationType)
		case <-deadline:
			t.Fatalf("timed out after %d of %d notifications: %v", len(types), n, types)
		}
	}
	return types
}

func TestExecuteLinearSuccess(t *testing.T) {
	h := newHarness(t, Config{})
	wf := h.seed(t, []schema.WorkflowStep{
		{ID: "fetch", Instruction: "fetch the data", AgentID: "agent-1", OnSuccess: "summarize"},
		{ID: "summarize", Instruction: "summarize {{steps.fetch.result}}", AgentID: "agent-1"},
	})
	h.invoker.responses["fetch"] = stepResponse{fields: map[string]any{"success": true, "result": "42 items"}}
	h.invoker.responses["summarize"] = stepResponse{fields: map[string]any{"success": true, "result": "all good"}}

	run, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, schema.StepStatusCompleted, run.Steps[0].Status)
	assert.Equal(t, schema.StepStatusCompleted, run.Steps[1].Status)

	// Prior step results are interpolated into later instructions.
	req := h.invoker.requestFor("summarize")
	require.NotNil(t, req)
	assert.Equal(t, `summarize "42 items"`, req.Instruction)

	// Run history is persisted with its steps.
	stored, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, stored.Status)
	assert.Len(t, stored.Steps, 2)

	// Event log is gapless and ordered.
	events, err := h.store.GetEvents(context.Background(), run.ID, 0)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventStepStarted, schema.EventStepCompleted,
		schema.EventStepStarted, schema.EventStepCompleted,
		schema.EventRunCompleted,
	}, types)

	got := h.notifications(t, 6)
	assert.Equal(t, []string{
		schema.NotifyExecutionStarted,
		schema.NotifyStepStarted, schema.NotifyStepCompleted,
		schema.NotifyStepStarted, schema.NotifyStepCompleted,
		schema.NotifyExecutionCompleted,
	}, got)
}

func TestExecuteFailureRoutesToOnFailure(t *testing.T) {
	h := newHarness(t, Config{})
	wf := h.seed(t, []schema.WorkflowStep{
		{ID: "deploy", Instruction: "deploy", AgentID: "agent-1", OnSuccess: "announce", OnFailure: "rollback"},
		{ID: "announce", Instruction: "announce", AgentID: "agent-1"},
		{ID: "rollback", Instruction: "roll back", AgentID: "agent-1"},
	})
	h.invoker.responses["deploy"] = stepResponse{fields: map[string]any{"success": false, "error": "deploy script exited 1"}}
	h.invoker.responses["rollback"] = stepResponse{fields: map[string]any{"success": true}}

	run, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, "deploy", run.Steps[0].StepID)
	assert.Equal(t, schema.StepStatusFailed, run.Steps[0].Status)
	assert.Equal(t, "deploy script exited 1", run.Steps[0].Error)
	assert.Equal(t, "rollback", run.Steps[1].StepID)

	assert.Nil(t, h.invoker.requestFor("announce"))
}

func TestExecuteFailureWithoutOnFailureFailsRun(t *testing.T) {
	h := newHarness(t, Config{})
	wf := h.seed(t, []schema.WorkflowStep{
		{ID: "fetch", Instruction: "fetch", AgentID: "agent-1", OnSuccess: "next"},
		{ID: "next", Instruction: "next", AgentID: "agent-1"},
	})
	h.invoker.responses["fetch"] = stepResponse{err: schema.NewError(schema.ErrCodeStepInvocation, "agent unreachable")}

	run, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Equal(t, "fetch", run.CurrentStepID)
	assert.Contains(t, run.Error, "agent unreachable")

	// The failed step's fields still land in the context for inspection.
	steps := run.Context.StepResults()
	fetch, ok := steps["fetch"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, fetch["success"])
}

func TestExecutePostConditionGuardsSuccess(t *testing.T) {
	h := newHarness(t, Config{})
	wf := h.seed(t, []schema.WorkflowStep{
		{
			ID: "fetch", Instruction: "fetch", AgentID: "agent-1",
			Condition: "{{steps.fetch.count}} > 10",
			OnSuccess: "report", OnFailure: "alert",
		},
		{ID: "report", Instruction: "report", AgentID: "agent-1"},
		{ID: "alert", Instruction: "alert", AgentID: "agent-1"},
	})
	h.invoker.responses["fetch"] = stepResponse{fields: map[string]any{"success": true, "count": float64(3)}}

	run, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	// Condition false: agent succeeded but the guard routed to onFailure.
	assert.Equal(t, schema.StepStatusFailed, run.Steps[0].Status)
	assert.Equal(t, "post-condition not satisfied", run.Steps[0].Error)
	assert.NotNil(t, h.invoker.requestFor("alert"))
	assert.Nil(t, h.invoker.requestFor("report"))
}

func TestExecutePostConditionPasses(t *testing.T) {
	h := newHarness(t, Config{})
	wf := h.seed(t, []schema.WorkflowStep{
		{
			ID: "fetch", Instruction: "fetch", AgentID: "agent-1",
			Condition: "{{steps.fetch.count}} > 10",
			OnSuccess: "report",
		},
		{ID: "report", Instruction: "report", AgentID: "agent-1"},
	})
	h.invoker.responses["fetch"] = stepResponse{fields: map[string]any{"success": true, "count": float64(42)}}

	run, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.NotNil(t, h.invoker.requestFor("report"))
}

func TestExecuteStepLimitBreaksCycle(t *testing.T) {
	h := newHarness(t, Config{MaxSteps: 5})
	wf := h.seed(t, []schema.WorkflowStep{
		{ID: "a", Instruction: "a", AgentID: "agent-1", OnSuccess: "b"},
		{ID: "b", Instruction: "b", AgentID: "agent-1", OnSuccess: "a"},
	})

	run, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "5 step executions")
	assert.Len(t, run.Steps, 5)
}

func TestExecuteCancellationDiscardsInFlightStep(t *testing.T) {
	h := newHarness(t, Config{})
	wf := h.seed(t, []schema.WorkflowStep{
		{ID: "slow", Instruction: "slow", AgentID: "agent-1", OnSuccess: "after"},
		{ID: "after", Instruction: "after", AgentID: "agent-1"},
	})
	h.invoker.responses["slow"] = stepResponse{
		fields: map[string]any{"success": true},
		delay:  time.Second,
	}

	done := make(chan *schema.Run, 1)
	go func() {
		run, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
		require.NoError(t, err)
		done <- run
	}()

	require.Eventually(t, func() bool { return h.engine.Running(wf.ID) },
		time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.engine.Cancel(wf.ID))

	select {
	case run := <-done:
		assert.Equal(t, schema.RunStatusCancelled, run.Status)
		// In-flight result is discarded, nothing after it runs.
		_, merged := run.Context.StepResults()["slow"]
		assert.False(t, merged)
		assert.Nil(t, h.invoker.requestFor("after"))
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}
}

func TestExecuteRejectsOverlappingRun(t *testing.T) {
	h := newHarness(t, Config{})
	wf := h.seed(t, []schema.WorkflowStep{
		{ID: "slow", Instruction: "slow", AgentID: "agent-1"},
	})
	h.invoker.responses["slow"] = stepResponse{
		fields: map[string]any{"success": true},
		delay:  300 * time.Millisecond,
	}

	go func() {
		_, _ = h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
	}()
	require.Eventually(t, func() bool { return h.engine.Running(wf.ID) },
		time.Second, 5*time.Millisecond)

	_, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeConflict, flowErr.Code)
}

func TestExecuteTestModeSkipsHistory(t *testing.T) {
	h := newHarness(t, Config{})
	wf := h.seed(t, []schema.WorkflowStep{
		{ID: "fetch", Instruction: "fetch", AgentID: "agent-1"},
	})
	h.invoker.responses["fetch"] = stepResponse{fields: map[string]any{"success": true, "result": "ok"}}

	run, err := h.engine.Execute(context.Background(), wf, schema.RunModeTest, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	require.Len(t, run.Steps, 1)

	runs, err := h.store.ListRuns(context.Background(), store.RunFilter{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Empty(t, runs, "test runs must not enter run history")

	// Subscribers still see the test run's progress.
	got := h.notifications(t, 4)
	assert.Equal(t, schema.NotifyTestStarted, got[0])
	assert.Equal(t, schema.NotifyExecutionCompleted, got[len(got)-1])
}

func TestExecuteEmptyDefinitionRejected(t *testing.T) {
	h := newHarness(t, Config{})
	wf := &store.Workflow{
		ID: uuid.New().String(),
		Definition: schema.WorkflowDefinition{
			ID:      uuid.New().String(),
			Trigger: schema.Trigger{Type: schema.TriggerManual},
		},
	}

	_, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeDefinitionIntegrity, flowErr.Code)
}

func TestExecuteTriggerParametersSeedContext(t *testing.T) {
	h := newHarness(t, Config{})
	wf := h.seed(t, []schema.WorkflowStep{
		{ID: "notify", Instruction: "notify {{trigger.channel}}", AgentID: "agent-1"},
	})

	initial := schema.Context{"trigger": map[string]any{"channel": "ops"}}
	run, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, initial)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	req := h.invoker.requestFor("notify")
	require.NotNil(t, req)
	assert.Equal(t, `notify "ops"`, req.Instruction)
}

func TestExecuteInstructionWithMissingPath(t *testing.T) {
	h := newHarness(t, Config{})
	wf := h.seed(t, []schema.WorkflowStep{
		{ID: "solo", Instruction: "use {{steps.ghost.result}}", AgentID: "agent-1"},
	})

	run, err := h.engine.Execute(context.Background(), wf, schema.RunModeLive, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	req := h.invoker.requestFor("solo")
	require.NotNil(t, req)
	assert.Equal(t, "use null", req.Instruction)
}
