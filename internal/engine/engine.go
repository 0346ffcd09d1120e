package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowcore/internal/conditions"
	"github.com/rendis/flowcore/internal/invoker"
	"github.com/rendis/flowcore/internal/logging"
	"github.com/rendis/flowcore/internal/notify"
	"github.com/rendis/flowcore/internal/store"
	"github.com/rendis/flowcore/pkg/schema"
)

// DefaultMaxSteps is the ceiling on step executions within a single run.
// Branching can revisit steps, so this bounds accidental cycles.
const DefaultMaxSteps = 100

// DefaultHistoryLimit is how many finished runs are kept per workflow.
const DefaultHistoryLimit = 50

// EventLogger abstracts the append-only event log used by the engine.
// Satisfied by *store.EventLog.
type EventLogger interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Config holds execution engine settings.
type Config struct {
	MaxSteps     int
	HistoryLimit int
}

// Engine walks workflow step graphs, delegating each step to an agent and
// branching on the outcome. At most one run per workflow is in flight.
type Engine struct {
	store     store.Store
	eventLog  EventLogger
	invoker   invoker.Invoker
	evaluator *conditions.Evaluator
	notifier  *notify.Notifier
	logger    *slog.Logger
	config    Config

	// mu guards running.
	mu      sync.Mutex
	running map[string]*activeRun
}

// activeRun tracks one in-flight run for overlap suppression and cancellation.
type activeRun struct {
	runID  string
	cancel context.CancelFunc
}

// NewEngine creates an execution engine with the given dependencies.
func NewEngine(s store.Store, el EventLogger, inv invoker.Invoker, notifier *notify.Notifier, logger *slog.Logger, cfg Config) *Engine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Engine{
		store:     s,
		eventLog:  el,
		invoker:   inv,
		evaluator: conditions.NewEvaluator(),
		notifier:  notifier,
		logger:    logger,
		config:    cfg,
		running:   make(map[string]*activeRun),
	}
}

// Running reports whether the workflow has a run in flight.
func (e *Engine) Running(workflowID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[workflowID]
	return ok
}

// Cancel requests cooperative cancellation of the workflow's in-flight run.
// The engine stops before the next step; an in-flight step result is
// discarded.
func (e *Engine) Cancel(workflowID string) error {
	e.mu.Lock()
	run, ok := e.running[workflowID]
	e.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q has no run in flight", workflowID)
	}
	run.cancel()
	return nil
}

// Execute runs the workflow's step graph to a terminal state and returns the
// finished run. Live runs are persisted with their step records and event
// log; test runs are executed the same way but kept out of run history.
// Returns a CONFLICT error if the workflow already has a run in flight.
func (e *Engine) Execute(ctx context.Context, wf *store.Workflow, mode schema.RunMode, initial schema.Context) (*schema.Run, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	def := &wf.Definition
	if def.EntryStep() == nil {
		return nil, schema.NewErrorf(schema.ErrCodeDefinitionIntegrity, "workflow %q has no steps", wf.ID)
	}

	run := &schema.Run{
		ID:              uuid.New().String(),
		WorkflowID:      wf.ID,
		WorkflowVersion: def.Version,
		Mode:            mode,
		Status:          schema.RunStatusPending,
		Context:         initial,
		CreatedAt:       time.Now().UTC(),
	}
	if run.Context == nil {
		run.Context = schema.Context{}
	}

	runCtx, cancel := context.WithCancel(logging.WithRun(ctx, wf.ID, run.ID))
	defer cancel()

	e.mu.Lock()
	if _, busy := e.running[wf.ID]; busy {
		e.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already has a run in flight", wf.ID)
	}
	e.running[wf.ID] = &activeRun{runID: run.ID, cancel: cancel}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.running, wf.ID)
		e.mu.Unlock()
	}()

	persist := mode == schema.RunModeLive
	if persist {
		if err := e.store.CreateRun(ctx, run); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
		}
	}

	e.notifier.StartRun(run.ID)
	e.walk(runCtx, wf, run, persist)
	<-e.notifier.FinishRun(run.ID)

	if persist {
		e.finishLive(wf, run)
	}
	return run, nil
}

// walk executes the step graph until a terminal state is reached.
func (e *Engine) walk(ctx context.Context, wf *store.Workflow, run *schema.Run, persist bool) {
	def := &wf.Definition
	log := logging.LogWith(ctx, e.logger).With("mode", run.Mode)

	now := time.Now().UTC()
	run.Status = schema.RunStatusRunning
	run.StartedAt = &now
	e.persistRun(run, persist)
	e.logEvent(run, persist, "", schema.EventRunStarted, nil)

	startNotification := schema.NotifyExecutionStarted
	if run.Mode == schema.RunModeTest {
		startNotification = schema.NotifyTestStarted
	}
	e.notifyRun(run, startNotification, nil)
	log.Info("run started", "version", run.WorkflowVersion)

	executed := 0
	step := def.EntryStep()
	for step != nil {
		if ctx.Err() != nil {
			e.terminate(run, persist, schema.RunStatusCancelled, "run cancelled")
			log.Info("run cancelled", "step_id", run.CurrentStepID)
			return
		}

		executed++
		if executed > e.config.MaxSteps {
			flowErr := schema.NewErrorf(schema.ErrCodeStepLimitExceeded,
				"run exceeded %d step executions", e.config.MaxSteps)
			e.terminate(run, persist, schema.RunStatusFailed, flowErr.Error())
			log.Error("run aborted", "error", flowErr)
			return
		}

		run.CurrentStepID = step.ID
		e.persistRun(run, persist)

		next, cancelled := e.executeStep(ctx, wf, run, step, persist, log)
		if cancelled {
			e.terminate(run, persist, schema.RunStatusCancelled, "run cancelled")
			log.Info("run cancelled", "step_id", step.ID)
			return
		}
		if next.failRun {
			e.terminate(run, persist, schema.RunStatusFailed, next.failure)
			log.Warn("run failed", "step_id", step.ID, "error", next.failure)
			return
		}
		if next.stepID == "" {
			break
		}
		step = def.Step(next.stepID)
	}

	e.terminate(run, persist, schema.RunStatusCompleted, "")
	log.Info("run completed", "steps_executed", executed)
}

// stepOutcome describes where the walk goes after one step.
type stepOutcome struct {
	stepID  string // next step; empty ends the branch
	failRun bool
	failure string
}

// executeStep runs one step: invoke the agent, merge the result into the run
// context, evaluate the post-condition, and pick the branch.
func (e *Engine) executeStep(ctx context.Context, wf *store.Workflow, run *schema.Run, step *schema.WorkflowStep, persist bool, log *slog.Logger) (stepOutcome, bool) {
	started := time.Now().UTC()
	record := &schema.RunStep{
		RunID:     run.ID,
		StepID:    step.ID,
		Status:    schema.StepStatusRunning,
		StartedAt: &started,
	}
	run.Steps = append(run.Steps, record)
	e.persistStep(record, persist)
	e.logEvent(run, persist, step.ID, schema.EventStepStarted, nil)
	e.notifyStep(run, step, schema.NotifyStepStarted, nil)

	instruction := conditions.Interpolate(step.Instruction, run.Context)
	invokeCtx := logging.WithAgentID(logging.WithStepID(ctx, step.ID), step.AgentID)
	result, err := e.invoker.Invoke(invokeCtx, invoker.Request{
		RunID:       run.ID,
		WorkflowID:  wf.ID,
		StepID:      step.ID,
		AgentID:     step.AgentID,
		Instruction: instruction,
		Mode:        run.Mode,
		Context:     run.Context,
	})

	// A cancellation mid-invoke discards the in-flight result.
	if ctx.Err() != nil {
		return stepOutcome{}, true
	}

	var fields map[string]any
	var stepErr string
	switch {
	case err != nil:
		stepErr = err.Error()
		fields = map[string]any{"success": false, "error": stepErr}
	case result.Fields != nil:
		fields = result.Fields
	default:
		fields = map[string]any{"success": result.Success}
	}
	run.Context.SetStepResult(step.ID, fields)

	succeeded := err == nil && result.Success
	if !succeeded && stepErr == "" {
		if s, ok := fields["error"].(string); ok {
			stepErr = s
		}
	}

	// Post-condition: evaluated against the context including this step's
	// result. A false outcome is a guarded failure and routes to onFailure.
	if succeeded && step.Condition != "" {
		ok, evalErr := e.evaluator.Evaluate(step.Condition, run.Context)
		if evalErr != nil {
			succeeded = false
			stepErr = evalErr.Error()
			log.Warn("post-condition evaluation failed", "step_id", step.ID, "error", evalErr)
		} else if !ok {
			succeeded = false
			stepErr = "post-condition not satisfied"
		}
	}

	completed := time.Now().UTC()
	record.CompletedAt = &completed
	payload, _ := json.Marshal(fields)

	if succeeded {
		record.Status = schema.StepStatusCompleted
		record.Result = payload
		e.persistStep(record, persist)
		e.logEvent(run, persist, step.ID, schema.EventStepCompleted, payload)
		e.notifyStep(run, step, schema.NotifyStepCompleted, fields)
		return stepOutcome{stepID: step.OnSuccess}, false
	}

	stepErr = firstNonEmpty(stepErr, "step reported failure")
	record.Status = schema.StepStatusFailed
	record.Result = payload
	record.Error = stepErr
	e.persistStep(record, persist)
	e.logEvent(run, persist, step.ID, schema.EventStepFailed, payload)
	e.notifyStep(run, step, schema.NotifyStepFailed, map[string]any{"error": stepErr})

	if step.OnFailure != "" {
		return stepOutcome{stepID: step.OnFailure}, false
	}
	return stepOutcome{failRun: true, failure: firstNonEmpty(stepErr, "step "+step.ID+" failed")}, false
}

// terminate moves the run into a terminal state and emits the closing
// event and notification.
func (e *Engine) terminate(run *schema.Run, persist bool, status schema.RunStatus, failure string) {
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	if failure != "" && status != schema.RunStatusCancelled {
		run.Error = failure
	}
	e.persistRun(run, persist)

	switch status {
	case schema.RunStatusCompleted:
		e.logEvent(run, persist, "", schema.EventRunCompleted, nil)
		e.notifyRun(run, schema.NotifyExecutionCompleted, nil)
	case schema.RunStatusCancelled:
		e.logEvent(run, persist, "", schema.EventRunCancelled, nil)
		e.notifyRun(run, schema.NotifyExecutionFailed, map[string]any{"cancelled": true})
	default:
		payload, _ := json.Marshal(map[string]any{"error": run.Error})
		e.logEvent(run, persist, "", schema.EventRunFailed, payload)
		e.notifyRun(run, schema.NotifyExecutionFailed, map[string]any{"error": run.Error})
	}
}

// finishLive records last-run bookkeeping on the workflow and trims history.
func (e *Engine) finishLive(wf *store.Workflow, run *schema.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if err := e.store.UpdateWorkflow(ctx, wf.ID, store.WorkflowUpdate{
		LastRunAt:     &now,
		LastRunStatus: string(run.Status),
	}); err != nil {
		e.logger.Warn("update last-run bookkeeping failed", "workflow_id", wf.ID, "error", err)
	}
	if _, err := e.store.PruneRuns(ctx, wf.ID, e.config.HistoryLimit); err != nil {
		e.logger.Warn("prune run history failed", "workflow_id", wf.ID, "error", err)
	}
}

func (e *Engine) persistRun(run *schema.Run, persist bool) {
	if !persist {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := run.Status
	currentStep := run.CurrentStepID
	update := store.RunUpdate{
		Status:        &status,
		CurrentStepID: &currentStep,
		Context:       run.Context,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
	}
	if run.Error != "" {
		errMsg := run.Error
		update.Error = &errMsg
	}
	if err := e.store.UpdateRun(ctx, run.ID, update); err != nil {
		e.logger.Warn("persist run failed", "run_id", run.ID, "error", err)
	}
}

func (e *Engine) persistStep(record *schema.RunStep, persist bool) {
	if !persist {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.UpsertRunStep(ctx, record); err != nil {
		e.logger.Warn("persist run step failed", "run_id", record.RunID, "step_id", record.StepID, "error", err)
	}
}

func (e *Engine) logEvent(run *schema.Run, persist bool, stepID, eventType string, payload json.RawMessage) {
	if !persist {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.eventLog.AppendEvent(ctx, &store.Event{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		StepID:     stepID,
		Type:       eventType,
		Payload:    payload,
	}); err != nil {
		e.logger.Warn("append event failed", "run_id", run.ID, "event_type", eventType, "error", err)
	}
}

func (e *Engine) notifyRun(run *schema.Run, notificationType string, data map[string]any) {
	e.notifier.Enqueue(run.ID, notify.StatusEvent{
		WorkflowID:       run.WorkflowID,
		NotificationType: notificationType,
		RunID:            run.ID,
		Mode:             run.Mode,
		Data:             data,
	})
}

func (e *Engine) notifyStep(run *schema.Run, step *schema.WorkflowStep, notificationType string, data map[string]any) {
	e.notifier.Enqueue(run.ID, notify.StatusEvent{
		WorkflowID:       run.WorkflowID,
		NotificationType: notificationType,
		RunID:            run.ID,
		StepID:           step.ID,
		StepName:         step.Name,
		Mode:             run.Mode,
		Data:             data,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
