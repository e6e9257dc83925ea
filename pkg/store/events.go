package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// EventStore reads the persisted realtime event stream. Writes happen
// inside the publisher's insert-and-notify transaction, not here.
type EventStore struct {
	db *sqlx.DB
}

// CatchupRow is one event replayed to a reconnecting client.
type CatchupRow struct {
	ID      int64  `db:"id"`
	Payload []byte `db:"payload"`
}

// GetSince returns events on a channel with id > sinceID, oldest first,
// capped at limit.
func (s *EventStore) GetSince(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupRow, error) {
	rows := []CatchupRow{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, payload FROM events WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, sinceID, limit)
	if err != nil {
		return nil, translate(err)
	}
	return rows, nil
}

// DeleteBefore removes events older than the cutoff. Returns rows removed.
func (s *EventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}
