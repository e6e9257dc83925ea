package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors surfaced by every repository. Services translate them
// into API error kinds.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on uniqueness or foreign key violations.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition is returned when a state change violates the
	// execution lifecycle.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStale is returned when an optimistic concurrency check fails and
	// the caller should reload and retry.
	ErrStale = errors.New("stale version")
)

// Postgres error codes surfaced as ErrConflict.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translate maps driver-level failures onto the store sentinels so callers
// never match on SQLSTATE strings.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}
