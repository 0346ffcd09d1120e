package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowcore/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflows (id, definition, trigger_type, cron, is_active, is_draft, run_once, version, next_run_at, last_run_at, last_run_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, string(def), string(wf.Definition.Trigger.Type), nullStr(wf.Definition.Trigger.Cron),
		wf.Definition.IsActive, wf.Definition.IsDraft, wf.Definition.RunOnce, wf.Definition.Version,
		nullTime(wf.NextRunAt), nullTime(wf.LastRunAt), nullStr(wf.LastRunStatus),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if err := insertVersionSnapshot(ctx, tx, wf.ID, wf.Definition.Version, string(def)); err != nil {
		return err
	}
	return tx.Commit()
}

func insertVersionSnapshot(ctx context.Context, tx *sql.Tx, workflowID string, version int, defJSON string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_versions (workflow_id, version, definition)
		 VALUES (?, ?, ?)
		 ON CONFLICT(workflow_id, version) DO UPDATE SET definition=excluded.definition`,
		workflowID, version, defJSON,
	)
	if err != nil {
		return fmt.Errorf("snapshot version: %w", err)
	}
	return nil
}

const workflowColumns = `id, definition, next_run_at, last_run_at, last_run_status, created_at, updated_at`

func scanWorkflow(scan func(dest ...any) error) (*Workflow, error) {
	wf := &Workflow{}
	var defJSON string
	var nextRun, lastRun sql.NullTime
	var lastStatus sql.NullString
	if err := scan(&wf.ID, &defJSON, &nextRun, &lastRun, &lastStatus, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(defJSON), &wf.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	if nextRun.Valid {
		wf.NextRunAt = &nextRun.Time
	}
	if lastRun.Valid {
		wf.LastRunAt = &lastRun.Time
	}
	wf.LastRunStatus = lastStatus.String
	return wf, nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.Definition != nil {
		def, err := json.Marshal(update.Definition)
		if err != nil {
			return fmt.Errorf("marshal definition: %w", err)
		}
		sets = append(sets, "definition = ?", "trigger_type = ?", "cron = ?", "is_active = ?", "is_draft = ?", "run_once = ?", "version = ?")
		args = append(args, string(def), string(update.Definition.Trigger.Type), nullStr(update.Definition.Trigger.Cron),
			update.Definition.IsActive, update.Definition.IsDraft, update.Definition.RunOnce, update.Definition.Version)
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?",
			`definition = json_set(definition, '$.is_active', json(CASE WHEN ? THEN 'true' ELSE 'false' END))`)
		args = append(args, *update.IsActive, *update.IsActive)
	}
	if update.IsDraft != nil {
		sets = append(sets, "is_draft = ?",
			`definition = json_set(definition, '$.is_draft', json(CASE WHEN ? THEN 'true' ELSE 'false' END))`)
		args = append(args, *update.IsDraft, *update.IsDraft)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ?", strings.Join(sets, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "workflow", id); err != nil {
		return err
	}
	if update.Definition != nil {
		def, _ := json.Marshal(update.Definition)
		if err := insertVersionSnapshot(ctx, tx, id, update.Definition.Version, string(def)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	var where []string
	var args []any

	if filter.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, *filter.IsActive)
	}
	if filter.IsDraft != nil {
		where = append(where, "is_draft = ?")
		args = append(args, *filter.IsDraft)
	}
	if filter.TriggerType != "" {
		where = append(where, "trigger_type = ?")
		args = append(args, string(filter.TriggerType))
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Workflow versions ---

// ListWorkflowVersions returns the definition snapshots of a workflow,
// newest version first.
func (s *LibSQLStore) ListWorkflowVersions(ctx context.Context, workflowID string) ([]*WorkflowVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workflow_id, version, definition, created_at
		 FROM workflow_versions WHERE workflow_id = ? ORDER BY version DESC`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*WorkflowVersion
	for rows.Next() {
		v, err := scanWorkflowVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *LibSQLStore) GetWorkflowVersion(ctx context.Context, workflowID string, version int) (*WorkflowVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT workflow_id, version, definition, created_at
		 FROM workflow_versions WHERE workflow_id = ? AND version = ?`, workflowID, version,
	)
	v, err := scanWorkflowVersion(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow version", fmt.Sprintf("%s@%d", workflowID, version))
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func scanWorkflowVersion(scan func(dest ...any) error) (*WorkflowVersion, error) {
	v := &WorkflowVersion{}
	var defJSON string
	if err := scan(&v.WorkflowID, &v.Version, &defJSON, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(defJSON), &v.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return v, nil
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.Run) error {
	runCtx, err := marshalContext(run.Context)
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, workflow_version, mode, status, current_step_id, context, error, started_at, completed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.WorkflowVersion, string(run.Mode), string(run.Status),
		nullStr(run.CurrentStepID), string(runCtx), nullStr(run.Error),
		nullTime(run.StartedAt), nullTime(run.CompletedAt), timeOrNow(run.CreatedAt),
	)
	return err
}

const runColumns = `id, workflow_id, workflow_version, mode, status, current_step_id, context, error, started_at, completed_at, created_at`

func scanRun(scan func(dest ...any) error) (*schema.Run, error) {
	run := &schema.Run{}
	var mode, status, ctxJSON string
	var currentStep, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime
	if err := scan(&run.ID, &run.WorkflowID, &run.WorkflowVersion, &mode, &status,
		&currentStep, &ctxJSON, &errMsg, &startedAt, &completedAt, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.Mode = schema.RunMode(mode)
	run.Status = schema.RunStatus(status)
	run.CurrentStepID = currentStep.String
	run.Error = errMsg.String
	if ctxJSON != "" {
		_ = json.Unmarshal([]byte(ctxJSON), &run.Context)
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun loads a run together with its step records.
func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.Steps, err = s.ListRunSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStepID != nil {
		sets = append(sets, "current_step_id = ?")
		args = append(args, nullStr(*update.CurrentStepID))
	}
	if update.Context != nil {
		ctxJSON, err := marshalContext(update.Context)
		if err != nil {
			return fmt.Errorf("marshal run context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, string(ctxJSON))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

// ListRuns returns runs newest-first. Steps are not loaded.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(filter.Mode))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*schema.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PruneRuns deletes all but the newest keep runs of a workflow and returns
// the number of runs removed. Event log entries and step records go with
// them via foreign keys.
func (s *LibSQLStore) PruneRuns(ctx context.Context, workflowID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE workflow_id = ? AND id NOT IN (
			SELECT id FROM runs WHERE workflow_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		)`, workflowID, workflowID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Run steps ---

func (s *LibSQLStore) UpsertRunStep(ctx context.Context, step *schema.RunStep) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, step_id, status, result, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step_id) DO UPDATE SET
		   status=excluded.status, result=excluded.result, error=excluded.error,
		   started_at=excluded.started_at, completed_at=excluded.completed_at`,
		step.RunID, step.StepID, string(step.Status),
		nullRaw(step.Result), nullStr(step.Error),
		nullTime(step.StartedAt), nullTime(step.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) ListRunSteps(ctx context.Context, runID string) ([]*schema.RunStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_id, status, result, error, started_at, completed_at
		 FROM run_steps WHERE run_id = ? ORDER BY rowid ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*schema.RunStep
	for rows.Next() {
		st := &schema.RunStep{}
		var status string
		var result, errMsg sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&st.RunID, &st.StepID, &status, &result, &errMsg, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		st.Status = schema.StepStatus(status)
		st.Result = rawOrNil(result)
		st.Error = errMsg.String
		if startedAt.Valid {
			st.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			st.CompletedAt = &completedAt.Time
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// --- Events ---

// AppendEvent appends an event with a per-run sequence. Most callers should
// go through EventLog, which serializes concurrent appends.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, workflow_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.WorkflowID, nullStr(event.StepID), event.Type,
		nullRaw(event.Payload), timeOrNow(event.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, workflow_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.WorkflowID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Integrations ---

func (s *LibSQLStore) UpsertIntegration(ctx context.Context, ig *Integration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integrations (app_slug, name, config, status, last_checked_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(app_slug) DO UPDATE SET
		   name=excluded.name, config=excluded.config, status=excluded.status,
		   last_checked_at=excluded.last_checked_at, updated_at=CURRENT_TIMESTAMP`,
		ig.AppSlug, ig.Name, nullRaw(ig.Config), ig.Status,
		nullTime(ig.LastCheckedAt), timeOrNow(ig.CreatedAt), timeOrNow(ig.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetIntegration(ctx context.Context, appSlug string) (*Integration, error) {
	ig := &Integration{}
	var config sql.NullString
	var lastChecked sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT app_slug, name, config, status, last_checked_at, created_at, updated_at
		 FROM integrations WHERE app_slug = ?`, appSlug,
	).Scan(&ig.AppSlug, &ig.Name, &config, &ig.Status, &lastChecked, &ig.CreatedAt, &ig.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("integration", appSlug)
	}
	if err != nil {
		return nil, err
	}
	ig.Config = rawOrNil(config)
	if lastChecked.Valid {
		ig.LastCheckedAt = &lastChecked.Time
	}
	return ig, nil
}

func (s *LibSQLStore) ListIntegrations(ctx context.Context) ([]*Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT app_slug, name, config, status, last_checked_at, created_at, updated_at
		 FROM integrations ORDER BY app_slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var integrations []*Integration
	for rows.Next() {
		ig := &Integration{}
		var config sql.NullString
		var lastChecked sql.NullTime
		if err := rows.Scan(&ig.AppSlug, &ig.Name, &config, &ig.Status, &lastChecked, &ig.CreatedAt, &ig.UpdatedAt); err != nil {
			return nil, err
		}
		ig.Config = rawOrNil(config)
		if lastChecked.Valid {
			ig.LastCheckedAt = &lastChecked.Time
		}
		integrations = append(integrations, ig)
	}
	return integrations, rows.Err()
}

func (s *LibSQLStore) DeleteIntegration(ctx context.Context, appSlug string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM integrations WHERE app_slug = ?`, appSlug)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "integration", appSlug)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalContext(c schema.Context) (json.RawMessage, error) {
	if len(c) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(c)
}
