package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/flowcore/pkg/schema"
)

// EventLog provides append-only event operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event log operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-run
// sequence. A write-intent statement forces the transaction to acquire the
// write lock up front, so concurrent appenders cannot interleave the
// sequence read and the insert.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx alone starts a deferred transaction.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, workflow_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.WorkflowID, nullStr(event.StepID), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// ReplayRunSteps replays a run's event log and returns the reconstructed
// step records. Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayRunSteps(ctx context.Context, runID string) (map[string]*schema.RunStep, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	steps := make(map[string]*schema.RunStep)
	if len(events) == 0 {
		return steps, nil
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	for _, e := range events {
		if e.StepID == "" {
			continue
		}

		st, ok := steps[e.StepID]
		if !ok {
			st = &schema.RunStep{
				RunID:  runID,
				StepID: e.StepID,
				Status: schema.StepStatusPending,
			}
			steps[e.StepID] = st
		}

		switch e.Type {
		case schema.EventStepStarted:
			st.Status = schema.StepStatusRunning
			ts := e.Timestamp
			st.StartedAt = &ts

		case schema.EventStepCompleted:
			st.Status = schema.StepStatusCompleted
			ts := e.Timestamp
			st.CompletedAt = &ts
			st.Result = e.Payload

		case schema.EventStepFailed:
			st.Status = schema.StepStatusFailed
			ts := e.Timestamp
			st.CompletedAt = &ts
			if len(e.Payload) > 0 {
				st.Error = string(e.Payload)
			}
		}
	}

	return steps, nil
}
