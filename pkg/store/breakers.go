package store

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// BreakerStore persists circuit breakers. All mutation goes through
// compare-and-set on the version column so concurrent pods converge on one
// consistent state machine; callers reload and retry on ErrStale.
type BreakerStore struct {
	db *sqlx.DB
}

const insertBreakerQuery = `
INSERT INTO circuit_breakers (
	id, scope, scope_id, state, failure_count, success_count,
	failure_threshold, success_threshold, failure_window_minutes,
	open_duration_minutes, opened_at, half_open_at, last_failure_at,
	manually_opened, probe_execution_id, version, created_at, updated_at
) VALUES (
	:id, :scope, :scope_id, :state, :failure_count, :success_count,
	:failure_threshold, :success_threshold, :failure_window_minutes,
	:open_duration_minutes, :opened_at, :half_open_at, :last_failure_at,
	:manually_opened, :probe_execution_id, :version, :created_at, :updated_at
)
ON CONFLICT (scope, scope_id) DO NOTHING`

// GetOrCreate returns the breaker guarding (scope, scopeID), creating a
// closed one with default thresholds on first touch. Losing the insert
// race is fine; the existing row is returned.
func (s *BreakerStore) GetOrCreate(ctx context.Context, scope models.BreakerScope, scopeID string) (*models.CircuitBreaker, error) {
	b, err := s.Get(ctx, scope, scopeID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	ts := now()
	fresh := &models.CircuitBreaker{
		ID:                   newID(),
		Scope:                scope,
		ScopeID:              scopeID,
		State:                models.BreakerClosed,
		FailureThreshold:     models.DefaultFailureThreshold,
		SuccessThreshold:     models.DefaultSuccessThreshold,
		FailureWindowMinutes: models.DefaultFailureWindowMinutes,
		OpenDurationMinutes:  models.DefaultOpenDurationMinutes,
		CreatedAt:            ts,
		UpdatedAt:            ts,
	}
	if _, err := s.db.NamedExecContext(ctx, insertBreakerQuery, fresh); err != nil {
		return nil, translate(err)
	}
	return s.Get(ctx, scope, scopeID)
}

// Get returns the breaker for (scope, scopeID).
func (s *BreakerStore) Get(ctx context.Context, scope models.BreakerScope, scopeID string) (*models.CircuitBreaker, error) {
	var b models.CircuitBreaker
	err := s.db.GetContext(ctx, &b,
		`SELECT * FROM circuit_breakers WHERE scope = $1 AND scope_id = $2`, scope, scopeID)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// List returns every breaker, optionally narrowed to one state.
func (s *BreakerStore) List(ctx context.Context, state models.BreakerState) ([]models.CircuitBreaker, error) {
	breakers := []models.CircuitBreaker{}
	if state == "" {
		err := s.db.SelectContext(ctx, &breakers,
			`SELECT * FROM circuit_breakers ORDER BY scope, scope_id`)
		if err != nil {
			return nil, translate(err)
		}
		return breakers, nil
	}
	err := s.db.SelectContext(ctx, &breakers,
		`SELECT * FROM circuit_breakers WHERE state = $1 ORDER BY scope, scope_id`, state)
	if err != nil {
		return nil, translate(err)
	}
	return breakers, nil
}

const updateBreakerQuery = `
UPDATE circuit_breakers SET
	state = :state,
	failure_count = :failure_count,
	success_count = :success_count,
	failure_threshold = :failure_threshold,
	success_threshold = :success_threshold,
	failure_window_minutes = :failure_window_minutes,
	open_duration_minutes = :open_duration_minutes,
	opened_at = :opened_at,
	half_open_at = :half_open_at,
	last_failure_at = :last_failure_at,
	manually_opened = :manually_opened,
	probe_execution_id = :probe_execution_id,
	version = :version + 1,
	updated_at = :updated_at
WHERE id = :id AND version = :version`

// Update writes the breaker back iff nobody else changed it since the
// read, bumping the version. Returns ErrStale when the check fails.
func (s *BreakerStore) Update(ctx context.Context, b *models.CircuitBreaker) error {
	b.UpdatedAt = now()
	res, err := s.db.NamedExecContext(ctx, updateBreakerQuery, b)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM circuit_breakers WHERE id = $1)`, b.ID); err != nil {
			return translate(err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStale
	}
	b.Version++
	return nil
}

// AcquireProbe claims the single half-open probe slot for an execution.
// Exactly one caller wins per half-open period; everyone else gets false.
func (s *BreakerStore) AcquireProbe(ctx context.Context, breakerID, executionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE circuit_breakers
		 SET probe_execution_id = $2, version = version + 1, updated_at = $3
		 WHERE id = $1 AND state = 'half_open' AND probe_execution_id = ''`,
		breakerID, executionID, now())
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseProbe frees the probe slot held by an execution that never ran to
// a breaker-visible result, e.g. it was cancelled while still queued.
func (s *BreakerStore) ReleaseProbe(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE circuit_breakers
		 SET probe_execution_id = '', version = version + 1, updated_at = $2
		 WHERE probe_execution_id = $1`, executionID, now())
	if err != nil {
		return translate(err)
	}
	return nil
}

// ListOpenElapsed returns open breakers whose open_duration_minutes has
// fully elapsed, ready to move to half_open.
func (s *BreakerStore) ListOpenElapsed(ctx context.Context) ([]models.CircuitBreaker, error) {
	breakers := []models.CircuitBreaker{}
	err := s.db.SelectContext(ctx, &breakers,
		`SELECT * FROM circuit_breakers
		 WHERE state = 'open'
		   AND opened_at IS NOT NULL
		   AND opened_at <= now() - (open_duration_minutes * interval '1 minute')`)
	if err != nil {
		return nil, translate(err)
	}
	return breakers, nil
}
