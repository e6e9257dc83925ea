package models

import "time"

// Event is one persisted row of the realtime event stream. Rows back the
// WebSocket catch-up mechanism: clients reconnecting with a last seen id
// replay everything newer on their channel.
type Event struct {
	ID        int64     `db:"id" json:"id"`
	Channel   string    `db:"channel" json:"channel"`
	Payload   AnyMap    `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
