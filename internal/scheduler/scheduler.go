package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/flowcore/internal/schedule"
	"github.com/rendis/flowcore/internal/store"
	"github.com/rendis/flowcore/pkg/schema"
)

// RunLauncher is the interface the scheduler uses to start workflow runs.
// Satisfied by the execution engine (avoids import cycle).
type RunLauncher interface {
	Execute(ctx context.Context, wf *store.Workflow, mode schema.RunMode, initial schema.Context) (*schema.Run, error)
	Running(workflowID string) bool
}

const tickInterval = 60 * time.Second

// Scheduler polls the store once a minute for active schedule-triggered
// workflows and launches those that are due. A workflow whose previous run
// is still in flight is skipped, not queued.
type Scheduler struct {
	store    store.Store
	launcher RunLauncher
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // workflow IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, launcher RunLauncher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		launcher: launcher,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all active schedule-triggered workflows and launches those
// that are due. One workflow's failure never stops the sweep.
func (s *Scheduler) tick(ctx context.Context) {
	active := true
	workflows, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		IsActive:    &active,
		TriggerType: schema.TriggerSchedule,
	})
	if err != nil {
		s.logger.Error("failed to list scheduled workflows", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, wf := range workflows {
		if wf.NextRunAt == nil {
			s.initNextRun(ctx, wf, now)
			continue
		}
		if wf.NextRunAt.After(now) {
			continue
		}
		s.launch(ctx, wf, now)
	}
}

// initNextRun seeds next_run_at for a workflow that has never been scheduled.
func (s *Scheduler) initNextRun(ctx context.Context, wf *store.Workflow, now time.Time) {
	next, err := schedule.Next(wf.Definition.Trigger.Cron, now)
	if err != nil {
		s.logger.Error("workflow has unparseable cron, skipping",
			slog.String("workflow_id", wf.ID),
			slog.String("cron", wf.Definition.Trigger.Cron),
			slog.String("error", err.Error()))
		return
	}
	if err := s.store.UpdateWorkflow(ctx, wf.ID, store.WorkflowUpdate{NextRunAt: &next}); err != nil {
		s.logger.Error("failed to seed next run",
			slog.String("workflow_id", wf.ID), slog.String("error", err.Error()))
	}
}

// launch starts a due workflow in the background. The next activation is
// recorded before the run starts so later ticks do not double-fire, and
// run-once workflows are deactivated on first start.
func (s *Scheduler) launch(ctx context.Context, wf *store.Workflow, now time.Time) {
	if s.launcher.Running(wf.ID) || !s.tryAcquire(wf.ID) {
		s.logger.Info("previous run still in flight, skipping",
			slog.String("workflow_id", wf.ID))
		return
	}

	next, err := schedule.Next(wf.Definition.Trigger.Cron, now)
	if err != nil {
		s.releaseWorkflow(wf.ID)
		s.logger.Error("workflow has unparseable cron, skipping",
			slog.String("workflow_id", wf.ID), slog.String("error", err.Error()))
		return
	}

	update := store.WorkflowUpdate{NextRunAt: &next}
	if wf.Definition.RunOnce {
		inactive := false
		update.IsActive = &inactive
	}
	if err := s.store.UpdateWorkflow(ctx, wf.ID, update); err != nil {
		s.releaseWorkflow(wf.ID)
		s.logger.Error("failed to update schedule bookkeeping",
			slog.String("workflow_id", wf.ID), slog.String("error", err.Error()))
		return
	}

	s.logger.Info("launching scheduled run",
		slog.String("workflow_id", wf.ID),
		slog.String("workflow", wf.Definition.Name))

	go func() {
		defer s.releaseWorkflow(wf.ID)
		if _, err := s.launcher.Execute(ctx, wf, schema.RunModeLive, nil); err != nil {
			s.logger.Error("scheduled run failed to start",
				slog.String("workflow_id", wf.ID),
				slog.String("error", err.Error()))
		}
	}()
}

// tryAcquire returns true and marks the workflow as in-flight if it is not
// already running.
func (s *Scheduler) tryAcquire(workflowID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[workflowID]; ok {
		return false
	}
	s.inflight[workflowID] = struct{}{}
	return true
}

func (s *Scheduler) releaseWorkflow(workflowID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, workflowID)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed launches workflows whose next_run_at passed while the
// process was down. Called once on startup before the tick loop.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	active := true
	workflows, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		IsActive:    &active,
		TriggerType: schema.TriggerSchedule,
	})
	if err != nil {
		return fmt.Errorf("list scheduled workflows: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, wf := range workflows {
		if wf.NextRunAt != nil && wf.NextRunAt.Before(now) {
			s.launch(ctx, wf, now)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed runs", slog.Int("count", recovered))
	}
	return nil
}
