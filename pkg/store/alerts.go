package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// AlertStore persists deduplicated monitoring alerts.
type AlertStore struct {
	db *sqlx.DB
}

const upsertAlertQuery = `
INSERT INTO alerts (
	id, fingerprint, name, severity, instance, job, labels, annotations,
	status, starts_at, ends_at, received_at, raw_payload, occurrence_count,
	analyzed, created_at, updated_at
) VALUES (
	:id, :fingerprint, :name, :severity, :instance, :job, :labels, :annotations,
	:status, :starts_at, :ends_at, :received_at, :raw_payload, 1,
	false, :created_at, :updated_at
)
ON CONFLICT (fingerprint) DO UPDATE SET
	status = EXCLUDED.status,
	severity = EXCLUDED.severity,
	labels = EXCLUDED.labels,
	annotations = EXCLUDED.annotations,
	starts_at = EXCLUDED.starts_at,
	ends_at = EXCLUDED.ends_at,
	received_at = EXCLUDED.received_at,
	raw_payload = EXCLUDED.raw_payload,
	occurrence_count = alerts.occurrence_count + 1,
	updated_at = EXCLUDED.updated_at
RETURNING *`

// Upsert inserts a new alert or refreshes the row sharing its fingerprint,
// bumping the occurrence counter. Concurrent deliveries of the same
// fingerprint serialize on the unique index, which keeps the counter exact.
func (s *AlertStore) Upsert(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	ts := now()
	a.CreatedAt = ts
	a.UpdatedAt = ts
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = ts
	}

	query, args, err := s.db.BindNamed(upsertAlertQuery, a)
	if err != nil {
		return nil, fmt.Errorf("failed to bind alert upsert: %w", err)
	}
	var out models.Alert
	if err := s.db.GetContext(ctx, &out, query, args...); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

// Get returns one alert by id.
func (s *AlertStore) Get(ctx context.Context, id string) (*models.Alert, error) {
	var a models.Alert
	if err := s.db.GetContext(ctx, &a, `SELECT * FROM alerts WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// GetByFingerprint returns one alert by its fingerprint.
func (s *AlertStore) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Alert, error) {
	var a models.Alert
	if err := s.db.GetContext(ctx, &a, `SELECT * FROM alerts WHERE fingerprint = $1`, fingerprint); err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// AlertFilter narrows List results. Zero values mean no constraint.
type AlertFilter struct {
	Status   models.AlertStatus
	Severity string
	Name     string
	Analyzed *bool
	Limit    int
	Offset   int
}

// List returns alerts newest-first.
func (s *AlertStore) List(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.Name != "" {
		add("name = $%d", filter.Name)
	}
	if filter.Analyzed != nil {
		add("analyzed = $%d", *filter.Analyzed)
	}

	query := `SELECT * FROM alerts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY received_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	alerts := []models.Alert{}
	if err := s.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, translate(err)
	}
	return alerts, nil
}

// SetAnalysis writes the LLM result back onto the alert. A nil analysis
// with analyzed=false records a failed enrichment attempt.
func (s *AlertStore) SetAnalysis(ctx context.Context, id string, analysis *models.Analysis, analyzed bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET analysis = $2, analyzed = $3, updated_at = $4 WHERE id = $1`,
		id, analysis, analyzed, now(),
	)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
