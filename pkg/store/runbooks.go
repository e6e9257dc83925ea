package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// RunbookStore persists runbooks together with their steps and triggers.
// Writes touching children happen in one transaction so a runbook is never
// observable half-updated.
type RunbookStore struct {
	db *sqlx.DB
}

const insertRunbookQuery = `
INSERT INTO runbooks (
	id, name, description, tags, target_os, enabled, auto_execute,
	approval_required, approval_roles, approval_timeout_minutes,
	max_executions_per_hour, cooldown_minutes, default_server_id,
	target_from_alert, target_alert_label, version, embedding, created_by,
	created_at, updated_at
) VALUES (
	:id, :name, :description, :tags, :target_os, :enabled, :auto_execute,
	:approval_required, :approval_roles, :approval_timeout_minutes,
	:max_executions_per_hour, :cooldown_minutes, :default_server_id,
	:target_from_alert, :target_alert_label, :version, :embedding, :created_by,
	:created_at, :updated_at
)`

const insertStepQuery = `
INSERT INTO runbook_steps (
	id, runbook_id, step_order, name, step_type, timeout_seconds,
	continue_on_fail, retry_count, retry_delay_seconds, expected_exit_code,
	expected_output_pattern, output_variable, output_extract_pattern,
	requires_elevation, working_directory, environment,
	rollback_command_linux, rollback_command_windows, command_linux,
	command_windows, target_os, api_method, api_endpoint, api_headers,
	api_body, api_body_type, api_query_params, api_expected_status_codes,
	api_response_extract, api_follow_redirects, api_retry_on_status_codes,
	api_credential_profile_id, created_at, updated_at
) VALUES (
	:id, :runbook_id, :step_order, :name, :step_type, :timeout_seconds,
	:continue_on_fail, :retry_count, :retry_delay_seconds, :expected_exit_code,
	:expected_output_pattern, :output_variable, :output_extract_pattern,
	:requires_elevation, :working_directory, :environment,
	:rollback_command_linux, :rollback_command_windows, :command_linux,
	:command_windows, :target_os, :api_method, :api_endpoint, :api_headers,
	:api_body, :api_body_type, :api_query_params, :api_expected_status_codes,
	:api_response_extract, :api_follow_redirects, :api_retry_on_status_codes,
	:api_credential_profile_id, :created_at, :updated_at
)`

const insertTriggerQuery = `
INSERT INTO runbook_triggers (
	id, runbook_id, priority, enabled, alert_name_pattern, severity_pattern,
	instance_pattern, job_pattern, label_matchers, annotation_matchers,
	min_duration_seconds, min_occurrences, cooldown_seconds,
	last_triggered_at, created_at, updated_at
) VALUES (
	:id, :runbook_id, :priority, :enabled, :alert_name_pattern, :severity_pattern,
	:instance_pattern, :job_pattern, :label_matchers, :annotation_matchers,
	:min_duration_seconds, :min_occurrences, :cooldown_seconds,
	:last_triggered_at, :created_at, :updated_at
)`

// Create inserts a runbook with its steps and triggers.
func (s *RunbookStore) Create(ctx context.Context, rb *models.Runbook) error {
	if rb.ID == "" {
		rb.ID = newID()
	}
	ts := now()
	rb.CreatedAt = ts
	rb.UpdatedAt = ts
	if rb.Version == 0 {
		rb.Version = 1
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, insertRunbookQuery, rb); err != nil {
		return translate(err)
	}
	if err := insertChildren(ctx, tx, rb); err != nil {
		return err
	}
	return tx.Commit()
}

func insertChildren(ctx context.Context, tx *sqlx.Tx, rb *models.Runbook) error {
	ts := now()
	for i := range rb.Steps {
		step := &rb.Steps[i]
		if step.ID == "" {
			step.ID = newID()
		}
		step.RunbookID = rb.ID
		step.CreatedAt = ts
		step.UpdatedAt = ts
		if _, err := tx.NamedExecContext(ctx, insertStepQuery, step); err != nil {
			return translate(err)
		}
	}
	for i := range rb.Triggers {
		trigger := &rb.Triggers[i]
		if trigger.ID == "" {
			trigger.ID = newID()
		}
		trigger.RunbookID = rb.ID
		trigger.CreatedAt = ts
		trigger.UpdatedAt = ts
		if _, err := tx.NamedExecContext(ctx, insertTriggerQuery, trigger); err != nil {
			return translate(err)
		}
	}
	return nil
}

// Get returns a runbook with steps and triggers attached.
func (s *RunbookStore) Get(ctx context.Context, id string) (*models.Runbook, error) {
	var rb models.Runbook
	err := s.db.GetContext(ctx, &rb,
		`SELECT * FROM runbooks WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, translate(err)
	}
	if err := s.attachChildren(ctx, &rb); err != nil {
		return nil, err
	}
	return &rb, nil
}

// GetByName returns an active runbook by its unique name.
func (s *RunbookStore) GetByName(ctx context.Context, name string) (*models.Runbook, error) {
	var rb models.Runbook
	err := s.db.GetContext(ctx, &rb,
		`SELECT * FROM runbooks WHERE name = $1 AND deleted_at IS NULL`, name)
	if err != nil {
		return nil, translate(err)
	}
	if err := s.attachChildren(ctx, &rb); err != nil {
		return nil, err
	}
	return &rb, nil
}

func (s *RunbookStore) attachChildren(ctx context.Context, rb *models.Runbook) error {
	rb.Steps = []models.RunbookStep{}
	err := s.db.SelectContext(ctx, &rb.Steps,
		`SELECT * FROM runbook_steps WHERE runbook_id = $1 ORDER BY step_order ASC`, rb.ID)
	if err != nil {
		return translate(err)
	}
	rb.Triggers = []models.RunbookTrigger{}
	err = s.db.SelectContext(ctx, &rb.Triggers,
		`SELECT * FROM runbook_triggers WHERE runbook_id = $1 ORDER BY priority ASC, created_at ASC`, rb.ID)
	if err != nil {
		return translate(err)
	}
	return nil
}

// RunbookFilter narrows List results.
type RunbookFilter struct {
	Enabled *bool
	Tag     string
	Limit   int
	Offset  int
}

// List returns active runbooks without children, newest-first.
func (s *RunbookStore) List(ctx context.Context, filter RunbookFilter) ([]models.Runbook, error) {
	conds := []string{"deleted_at IS NULL"}
	var args []any
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		conds = append(conds, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if filter.Tag != "" {
		args = append(args, fmt.Sprintf(`["%s"]`, filter.Tag))
		conds = append(conds, fmt.Sprintf("tags @> $%d", len(args)))
	}
	query := `SELECT * FROM runbooks WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	runbooks := []models.Runbook{}
	if err := s.db.SelectContext(ctx, &runbooks, query, args...); err != nil {
		return nil, translate(err)
	}
	return runbooks, nil
}

const updateRunbookQuery = `
UPDATE runbooks SET
	name = :name,
	description = :description,
	tags = :tags,
	target_os = :target_os,
	enabled = :enabled,
	auto_execute = :auto_execute,
	approval_required = :approval_required,
	approval_roles = :approval_roles,
	approval_timeout_minutes = :approval_timeout_minutes,
	max_executions_per_hour = :max_executions_per_hour,
	cooldown_minutes = :cooldown_minutes,
	default_server_id = :default_server_id,
	target_from_alert = :target_from_alert,
	target_alert_label = :target_alert_label,
	version = :version,
	embedding = :embedding,
	updated_at = :updated_at
WHERE id = :id AND deleted_at IS NULL`

// Update rewrites a runbook and replaces its steps and triggers, bumping
// the version so running executions keep their snapshot number.
func (s *RunbookStore) Update(ctx context.Context, rb *models.Runbook) error {
	rb.UpdatedAt = now()
	rb.Version++

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NamedExecContext(ctx, updateRunbookQuery, rb)
	if err != nil {
		return translate(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runbook_steps WHERE runbook_id = $1`, rb.ID); err != nil {
		return translate(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runbook_triggers WHERE runbook_id = $1`, rb.ID); err != nil {
		return translate(err)
	}
	if err := insertChildren(ctx, tx, rb); err != nil {
		return err
	}
	return tx.Commit()
}

// SoftDelete retires a runbook while keeping execution history intact.
func (s *RunbookStore) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runbooks SET deleted_at = $2, enabled = false, updated_at = $2
		 WHERE id = $1 AND deleted_at IS NULL`, id, now())
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// ListEnabledTriggers returns enabled triggers of enabled, active runbooks
// in matching order.
func (s *RunbookStore) ListEnabledTriggers(ctx context.Context) ([]models.RunbookTrigger, error) {
	triggers := []models.RunbookTrigger{}
	err := s.db.SelectContext(ctx, &triggers,
		`SELECT t.* FROM runbook_triggers t
		 JOIN runbooks r ON r.id = t.runbook_id
		 WHERE t.enabled AND r.enabled AND r.deleted_at IS NULL
		 ORDER BY t.priority ASC, t.created_at ASC`)
	if err != nil {
		return nil, translate(err)
	}
	return triggers, nil
}

// MarkTriggered atomically stamps last_triggered_at if the cooldown still
// holds, returning false when another evaluation won the race.
func (s *RunbookStore) MarkTriggered(ctx context.Context, triggerID string, cooldownSeconds int) (bool, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runbook_triggers SET last_triggered_at = $2, updated_at = $2
		 WHERE id = $1
		   AND (last_triggered_at IS NULL OR last_triggered_at <= $2 - ($3 * interval '1 second'))`,
		triggerID, ts, cooldownSeconds)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
