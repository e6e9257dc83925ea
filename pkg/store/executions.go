package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ExecutionStore persists runbook executions and their step records. Every
// status change goes through a guarded conditional update so the lifecycle
// can never be violated, no matter how many pods race.
type ExecutionStore struct {
	db *sqlx.DB
}

const insertExecutionQuery = `
INSERT INTO runbook_executions (
	id, runbook_id, runbook_version, server_id, alert_id, trigger_id,
	status, mode, started_at, completed_at, duration_ms, initiated_by,
	approved_by, approved_at, approval_due_at, variables, extracted_values,
	error_message, is_dry_run, claimed_by, last_heartbeat_at,
	created_at, updated_at
) VALUES (
	:id, :runbook_id, :runbook_version, :server_id, :alert_id, :trigger_id,
	:status, :mode, :started_at, :completed_at, :duration_ms, :initiated_by,
	:approved_by, :approved_at, :approval_due_at, :variables, :extracted_values,
	:error_message, :is_dry_run, :claimed_by, :last_heartbeat_at,
	:created_at, :updated_at
)`

// Create inserts a new execution. The caller sets status to pending or
// pending_approval; everything downstream moves through transitions.
func (s *ExecutionStore) Create(ctx context.Context, ex *models.RunbookExecution) error {
	if ex.ID == "" {
		ex.ID = newID()
	}
	if ex.Variables == nil {
		ex.Variables = models.AnyMap{}
	}
	if ex.ExtractedValues == nil {
		ex.ExtractedValues = models.AnyMap{}
	}
	ts := now()
	ex.CreatedAt = ts
	ex.UpdatedAt = ts
	if _, err := s.db.NamedExecContext(ctx, insertExecutionQuery, ex); err != nil {
		return translate(err)
	}
	return nil
}

// Get returns an execution with its step records attached.
func (s *ExecutionStore) Get(ctx context.Context, id string) (*models.RunbookExecution, error) {
	var ex models.RunbookExecution
	err := s.db.GetContext(ctx, &ex, `SELECT * FROM runbook_executions WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err)
	}
	ex.Steps = []models.StepExecution{}
	err = s.db.SelectContext(ctx, &ex.Steps,
		`SELECT * FROM step_executions WHERE execution_id = $1 ORDER BY step_order ASC, retry_attempt ASC`, id)
	if err != nil {
		return nil, translate(err)
	}
	return &ex, nil
}

// ExecutionFilter narrows List results.
type ExecutionFilter struct {
	Status    models.ExecutionStatus
	RunbookID string
	AlertID   string
	ServerID  string
	Mode      models.ExecutionMode
	Limit     int
	Offset    int
}

// List returns executions without step records, newest-first.
func (s *ExecutionStore) List(ctx context.Context, filter ExecutionFilter) ([]models.RunbookExecution, error) {
	conds := []string{"TRUE"}
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.RunbookID != "" {
		add("runbook_id = $%d", filter.RunbookID)
	}
	if filter.AlertID != "" {
		add("alert_id = $%d", filter.AlertID)
	}
	if filter.ServerID != "" {
		add("server_id = $%d", filter.ServerID)
	}
	if filter.Mode != "" {
		add("mode = $%d", filter.Mode)
	}
	query := `SELECT * FROM runbook_executions WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	executions := []models.RunbookExecution{}
	if err := s.db.SelectContext(ctx, &executions, query, args...); err != nil {
		return nil, translate(err)
	}
	return executions, nil
}

// transition applies extra SET clauses to an execution iff its current
// status legally admits the target. A zero-row update on an existing row
// means the lifecycle forbids the move.
func (s *ExecutionStore) transition(ctx context.Context, id string, to models.ExecutionStatus, set string, args ...any) error {
	sources := models.TransitionSources(to)
	if len(sources) == 0 {
		return fmt.Errorf("%w: nothing may enter %s", ErrInvalidTransition, to)
	}
	from := make([]string, len(sources))
	for i, src := range sources {
		from[i] = string(src)
	}

	query := `UPDATE runbook_executions SET status = ?, updated_at = ?`
	if set != "" {
		query += ", " + set
	}
	query += ` WHERE id = ? AND status IN (?)`

	full := append([]any{to, now()}, args...)
	full = append(full, id, from)
	query, full, err := sqlx.In(query, full...)
	if err != nil {
		return fmt.Errorf("failed to expand transition query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), full...)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Distinguish a missing row from an illegal move.
	var current models.ExecutionStatus
	err = s.db.GetContext(ctx, &current, `SELECT status FROM runbook_executions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return translate(err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

// Approve moves a pending_approval execution to approved and records who
// signed off.
func (s *ExecutionStore) Approve(ctx context.Context, id, approver string) error {
	return s.transition(ctx, id, models.StatusApproved,
		"approved_by = ?, approved_at = ?", approver, now())
}

// Cancel moves an execution that has not started running into cancelled.
// Running executions are cancelled through the worker's context instead.
func (s *ExecutionStore) Cancel(ctx context.Context, id, actor string) error {
	return s.transition(ctx, id, models.StatusCancelled,
		"error_message = ?", fmt.Sprintf("cancelled by %s", actor))
}

// Finish moves a running execution to its terminal status, stamping
// completion time, duration and any extracted step outputs.
func (s *ExecutionStore) Finish(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string, extracted models.AnyMap) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	if extracted == nil {
		extracted = models.AnyMap{}
	}
	ts := now()
	return s.transition(ctx, id, status,
		`completed_at = ?,
		 duration_ms = (EXTRACT(EPOCH FROM (? - started_at)) * 1000)::BIGINT,
		 error_message = ?,
		 extracted_values = ?`,
		ts, ts, errorMessage, extracted)
}

// ClaimNext atomically claims the oldest runnable execution for a worker
// using FOR UPDATE SKIP LOCKED, so concurrent pods never double-claim.
func (s *ExecutionStore) ClaimNext(ctx context.Context, podID string) (*models.RunbookExecution, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ex models.RunbookExecution
	err = tx.GetContext(ctx, &ex,
		`SELECT * FROM runbook_executions
		 WHERE status IN ('pending', 'approved')
		 ORDER BY created_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, translate(err)
	}

	ts := now()
	err = tx.GetContext(ctx, &ex,
		`UPDATE runbook_executions
		 SET status = 'running', claimed_by = $2, started_at = $3,
		     last_heartbeat_at = $3, updated_at = $3
		 WHERE id = $1
		 RETURNING *`, ex.ID, podID, ts)
	if err != nil {
		return nil, translate(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return &ex, nil
}

// Heartbeat proves the claiming pod is still alive. Scoped to the pod so a
// stale worker cannot refresh an execution another pod recovered.
func (s *ExecutionStore) Heartbeat(ctx context.Context, id, podID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runbook_executions SET last_heartbeat_at = $3
		 WHERE id = $1 AND claimed_by = $2 AND status = 'running'`,
		id, podID, now())
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// CountRunning returns how many executions are currently running across
// all pods. Workers use it as a global capacity check before claiming.
func (s *ExecutionStore) CountRunning(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM runbook_executions WHERE status = 'running'`)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// CountQueued returns how many executions are waiting to be claimed.
// Health reporting exposes it as the queue depth.
func (s *ExecutionStore) CountQueued(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM runbook_executions WHERE status IN ('pending', 'approved')`)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// CountStartedSince counts non-dry-run executions of a runbook started in
// the window, feeding the hourly rate gate.
func (s *ExecutionStore) CountStartedSince(ctx context.Context, runbookID string, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM runbook_executions
		 WHERE runbook_id = $1 AND started_at >= $2 AND NOT is_dry_run`,
		runbookID, since)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// LastStartedAt returns when the runbook last began executing, or nil when
// it never has. Dry runs do not count toward the cooldown gate.
func (s *ExecutionStore) LastStartedAt(ctx context.Context, runbookID string) (*time.Time, error) {
	var ts sql.NullTime
	err := s.db.GetContext(ctx, &ts,
		`SELECT MAX(started_at) FROM runbook_executions
		 WHERE runbook_id = $1 AND NOT is_dry_run`, runbookID)
	if err != nil {
		return nil, translate(err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := ts.Time.UTC()
	return &t, nil
}

// ExpireApprovals times out every pending_approval execution whose window
// has elapsed and returns the expired rows for auditing and notification.
func (s *ExecutionStore) ExpireApprovals(ctx context.Context, asOf time.Time) ([]models.RunbookExecution, error) {
	expired := []models.RunbookExecution{}
	err := s.db.SelectContext(ctx, &expired,
		`UPDATE runbook_executions
		 SET status = 'timeout', completed_at = $1, updated_at = $1,
		     error_message = 'approval window elapsed'
		 WHERE status = 'pending_approval' AND approval_due_at IS NOT NULL AND approval_due_at <= $1
		 RETURNING *`, asOf)
	if err != nil {
		return nil, translate(err)
	}
	return expired, nil
}

// FindStaleRunning returns running executions whose heartbeat is older than
// the threshold. All pods scan; recovery is idempotent.
func (s *ExecutionStore) FindStaleRunning(ctx context.Context, threshold time.Time) ([]models.RunbookExecution, error) {
	orphans := []models.RunbookExecution{}
	err := s.db.SelectContext(ctx, &orphans,
		`SELECT * FROM runbook_executions
		 WHERE status = 'running' AND last_heartbeat_at IS NOT NULL AND last_heartbeat_at < $1`,
		threshold)
	if err != nil {
		return nil, translate(err)
	}
	return orphans, nil
}

// FindPodRunning returns running executions claimed by the given pod.
// Called once at startup to fail work lost in a previous crash.
func (s *ExecutionStore) FindPodRunning(ctx context.Context, podID string) ([]models.RunbookExecution, error) {
	orphans := []models.RunbookExecution{}
	err := s.db.SelectContext(ctx, &orphans,
		`SELECT * FROM runbook_executions WHERE status = 'running' AND claimed_by = $1`, podID)
	if err != nil {
		return nil, translate(err)
	}
	return orphans, nil
}

const insertStepExecutionQuery = `
INSERT INTO step_executions (
	id, execution_id, step_order, step_name, status, started_at,
	completed_at, duration_ms, exit_code, stdout, stderr, error_message,
	retry_attempt, rollback_performed, created_at, updated_at
) VALUES (
	:id, :execution_id, :step_order, :step_name, :status, :started_at,
	:completed_at, :duration_ms, :exit_code, :stdout, :stderr, :error_message,
	:retry_attempt, :rollback_performed, :created_at, :updated_at
)`

// CreateStep inserts a step record, normally in status running as the
// orchestrator begins the step.
func (s *ExecutionStore) CreateStep(ctx context.Context, step *models.StepExecution) error {
	if step.ID == "" {
		step.ID = newID()
	}
	ts := now()
	step.CreatedAt = ts
	step.UpdatedAt = ts
	if _, err := s.db.NamedExecContext(ctx, insertStepExecutionQuery, step); err != nil {
		return translate(err)
	}
	return nil
}

const updateStepExecutionQuery = `
UPDATE step_executions SET
	status = :status,
	started_at = :started_at,
	completed_at = :completed_at,
	duration_ms = :duration_ms,
	exit_code = :exit_code,
	stdout = :stdout,
	stderr = :stderr,
	error_message = :error_message,
	retry_attempt = :retry_attempt,
	rollback_performed = :rollback_performed,
	updated_at = :updated_at
WHERE id = :id`

// UpdateStep rewrites a step record after an attempt finishes.
func (s *ExecutionStore) UpdateStep(ctx context.Context, step *models.StepExecution) error {
	step.UpdatedAt = now()
	res, err := s.db.NamedExecContext(ctx, updateStepExecutionQuery, step)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// ListSteps returns the step records of an execution in run order.
func (s *ExecutionStore) ListSteps(ctx context.Context, executionID string) ([]models.StepExecution, error) {
	steps := []models.StepExecution{}
	err := s.db.SelectContext(ctx, &steps,
		`SELECT * FROM step_executions WHERE execution_id = $1 ORDER BY step_order ASC, retry_attempt ASC`,
		executionID)
	if err != nil {
		return nil, translate(err)
	}
	return steps, nil
}

// DeleteTerminalBefore prunes terminal executions completed before the
// cutoff. Step records follow via ON DELETE CASCADE.
func (s *ExecutionStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runbook_executions
		 WHERE status IN ('completed', 'failed', 'cancelled', 'timeout')
		   AND completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}
