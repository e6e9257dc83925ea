// Package store implements the persistence layer: typed repositories over
// PostgreSQL with transactional writes and guarded state transitions.
package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store bundles all repositories sharing one connection pool.
type Store struct {
	db *sqlx.DB

	Alerts     *AlertStore
	Rules      *RuleStore
	Runbooks   *RunbookStore
	Servers    *ServerStore
	Executions *ExecutionStore
	Breakers   *BreakerStore
	Blackouts  *BlackoutStore
	Audit      *AuditStore
	Schedules  *ScheduleStore
	Events     *EventStore
}

// New creates a Store over an open connection pool. The secret box is used
// by the server repository to encrypt credential material at rest.
func New(db *sqlx.DB, secrets *SecretBox) *Store {
	return &Store{
		db:         db,
		Alerts:     &AlertStore{db: db},
		Rules:      &RuleStore{db: db},
		Runbooks:   &RunbookStore{db: db},
		Servers:    &ServerStore{db: db, secrets: secrets},
		Executions: &ExecutionStore{db: db},
		Breakers:   &BreakerStore{db: db},
		Blackouts:  &BlackoutStore{db: db},
		Audit:      &AuditStore{db: db},
		Schedules:  &ScheduleStore{db: db},
		Events:     &EventStore{db: db},
	}
}

// DB exposes the underlying pool for components that manage their own SQL,
// such as the event bus.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func newID() string {
	return uuid.NewString()
}

func now() time.Time {
	return time.Now().UTC()
}
