package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// BlackoutStore persists blackout windows. Active-window math lives in the
// safety package; this layer only stores and lists definitions.
type BlackoutStore struct {
	db *sqlx.DB
}

const insertBlackoutQuery = `
INSERT INTO blackout_windows (
	id, name, enabled, recurrence, start_time, end_time, daily_start,
	daily_end, days_of_week, days_of_month, timezone, applies_to,
	applies_to_runbook_ids, created_at, updated_at
) VALUES (
	:id, :name, :enabled, :recurrence, :start_time, :end_time, :daily_start,
	:daily_end, :days_of_week, :days_of_month, :timezone, :applies_to,
	:applies_to_runbook_ids, :created_at, :updated_at
)`

// Create inserts a blackout window.
func (s *BlackoutStore) Create(ctx context.Context, w *models.BlackoutWindow) error {
	if w.ID == "" {
		w.ID = newID()
	}
	if w.Timezone == "" {
		w.Timezone = "UTC"
	}
	ts := now()
	w.CreatedAt = ts
	w.UpdatedAt = ts
	if _, err := s.db.NamedExecContext(ctx, insertBlackoutQuery, w); err != nil {
		return translate(err)
	}
	return nil
}

// Get returns one blackout window.
func (s *BlackoutStore) Get(ctx context.Context, id string) (*models.BlackoutWindow, error) {
	var w models.BlackoutWindow
	err := s.db.GetContext(ctx, &w, `SELECT * FROM blackout_windows WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// List returns every blackout window, enabled or not.
func (s *BlackoutStore) List(ctx context.Context) ([]models.BlackoutWindow, error) {
	windows := []models.BlackoutWindow{}
	err := s.db.SelectContext(ctx, &windows,
		`SELECT * FROM blackout_windows ORDER BY created_at ASC`)
	if err != nil {
		return nil, translate(err)
	}
	return windows, nil
}

// ListEnabled returns the windows the safety gate must evaluate.
func (s *BlackoutStore) ListEnabled(ctx context.Context) ([]models.BlackoutWindow, error) {
	windows := []models.BlackoutWindow{}
	err := s.db.SelectContext(ctx, &windows,
		`SELECT * FROM blackout_windows WHERE enabled ORDER BY created_at ASC`)
	if err != nil {
		return nil, translate(err)
	}
	return windows, nil
}

const updateBlackoutQuery = `
UPDATE blackout_windows SET
	name = :name,
	enabled = :enabled,
	recurrence = :recurrence,
	start_time = :start_time,
	end_time = :end_time,
	daily_start = :daily_start,
	daily_end = :daily_end,
	days_of_week = :days_of_week,
	days_of_month = :days_of_month,
	timezone = :timezone,
	applies_to = :applies_to,
	applies_to_runbook_ids = :applies_to_runbook_ids,
	updated_at = :updated_at
WHERE id = :id`

// Update rewrites a blackout window.
func (s *BlackoutStore) Update(ctx context.Context, w *models.BlackoutWindow) error {
	w.UpdatedAt = now()
	res, err := s.db.NamedExecContext(ctx, updateBlackoutQuery, w)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// Delete removes a blackout window.
func (s *BlackoutStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blackout_windows WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}
