package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ScheduleStore persists runbook schedules. The sweep loop claims due
// schedules with a compare-and-set on last_run_at so only one pod fires a
// given tick.
type ScheduleStore struct {
	db *sqlx.DB
}

const insertScheduleQuery = `
INSERT INTO schedules (
	id, name, runbook_id, server_id, schedule_type, cron_expression,
	interval_minutes, run_at, enabled, misfire_grace_seconds, max_instances,
	variables, last_run_at, next_run_at, created_at, updated_at
) VALUES (
	:id, :name, :runbook_id, :server_id, :schedule_type, :cron_expression,
	:interval_minutes, :run_at, :enabled, :misfire_grace_seconds, :max_instances,
	:variables, :last_run_at, :next_run_at, :created_at, :updated_at
)`

// Create inserts a schedule. NextRunAt must already be computed by the
// service so the sweep sees it immediately.
func (s *ScheduleStore) Create(ctx context.Context, sched *models.Schedule) error {
	if sched.ID == "" {
		sched.ID = newID()
	}
	if sched.Variables == nil {
		sched.Variables = models.AnyMap{}
	}
	ts := now()
	sched.CreatedAt = ts
	sched.UpdatedAt = ts
	if _, err := s.db.NamedExecContext(ctx, insertScheduleQuery, sched); err != nil {
		return translate(err)
	}
	return nil
}

// Get returns one schedule.
func (s *ScheduleStore) Get(ctx context.Context, id string) (*models.Schedule, error) {
	var sched models.Schedule
	err := s.db.GetContext(ctx, &sched, `SELECT * FROM schedules WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err)
	}
	return &sched, nil
}

// List returns every schedule.
func (s *ScheduleStore) List(ctx context.Context) ([]models.Schedule, error) {
	schedules := []models.Schedule{}
	err := s.db.SelectContext(ctx, &schedules, `SELECT * FROM schedules ORDER BY created_at ASC`)
	if err != nil {
		return nil, translate(err)
	}
	return schedules, nil
}

// ListDue returns enabled schedules whose next_run_at has arrived.
func (s *ScheduleStore) ListDue(ctx context.Context, asOf time.Time) ([]models.Schedule, error) {
	schedules := []models.Schedule{}
	err := s.db.SelectContext(ctx, &schedules,
		`SELECT * FROM schedules
		 WHERE enabled AND next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at ASC`, asOf)
	if err != nil {
		return nil, translate(err)
	}
	return schedules, nil
}

const updateScheduleQuery = `
UPDATE schedules SET
	name = :name,
	runbook_id = :runbook_id,
	server_id = :server_id,
	schedule_type = :schedule_type,
	cron_expression = :cron_expression,
	interval_minutes = :interval_minutes,
	run_at = :run_at,
	enabled = :enabled,
	misfire_grace_seconds = :misfire_grace_seconds,
	max_instances = :max_instances,
	variables = :variables,
	next_run_at = :next_run_at,
	updated_at = :updated_at
WHERE id = :id`

// Update rewrites a schedule definition. last_run_at is excluded; only
// MarkFired touches it.
func (s *ScheduleStore) Update(ctx context.Context, sched *models.Schedule) error {
	sched.UpdatedAt = now()
	res, err := s.db.NamedExecContext(ctx, updateScheduleQuery, sched)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// Delete removes a schedule.
func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// MarkFired stamps last_run_at and advances next_run_at iff next_run_at is
// still the value the caller saw, so exactly one pod wins a due tick.
// Returns false when another pod already fired it.
func (s *ScheduleStore) MarkFired(ctx context.Context, id string, seenNextRun time.Time, firedAt time.Time, nextRun *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules
		 SET last_run_at = $3, next_run_at = $4, updated_at = $3
		 WHERE id = $1 AND next_run_at = $2`,
		id, seenNextRun, firedAt, nextRun)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Disable turns a schedule off, used when a one-shot date schedule fires.
func (s *ScheduleStore) Disable(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET enabled = false, updated_at = $2 WHERE id = $1`, id, now())
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// CountRunningInstances counts live executions spawned from this
// schedule's runbook, enforcing max_instances.
func (s *ScheduleStore) CountRunningInstances(ctx context.Context, runbookID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM runbook_executions
		 WHERE runbook_id = $1 AND status IN ('pending', 'approved', 'running')`, runbookID)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}
