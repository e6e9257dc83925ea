package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// notifyLimit is the usable size of a pg_notify payload. Payloads over the
// limit are replaced with a truncation envelope carrying only routing
// fields; clients fetch the full event from the catchup endpoint.
const notifyLimit = 7900

// Publisher fans events out to WebSocket clients on every pod. Persistent
// events are inserted into the events table and NOTIFYed in one
// transaction, so the catchup id and the live broadcast can never diverge.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a Publisher over the shared connection pool.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// PublishExecutionStatus persists the transition on the execution channel
// and mirrors a transient copy to the global executions channel.
func (p *Publisher) PublishExecutionStatus(ctx context.Context, payload ExecutionStatusPayload) error {
	payload.Type = EventTypeExecutionStatus
	stamp(&payload.Timestamp)
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal execution status: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, ExecutionChannel(payload.ExecutionID), raw); err != nil {
		slog.Warn("Failed to publish execution status",
			"execution_id", payload.ExecutionID, "status", payload.Status, "error", err)
		firstErr = err
	}
	if err := p.notifyOnly(ctx, GlobalExecutionsChannel, raw); err != nil {
		slog.Warn("Failed to publish execution status to global channel",
			"execution_id", payload.ExecutionID, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishStepStatus persists a step transition on the execution channel.
func (p *Publisher) PublishStepStatus(ctx context.Context, payload StepStatusPayload) error {
	payload.Type = EventTypeStepStatus
	stamp(&payload.Timestamp)
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal step status: %w", err)
	}
	return p.persistAndNotify(ctx, ExecutionChannel(payload.ExecutionID), raw)
}

// PublishApprovalPending persists the approval request on the execution
// channel and mirrors it to the global executions channel.
func (p *Publisher) PublishApprovalPending(ctx context.Context, payload ApprovalPendingPayload) error {
	payload.Type = EventTypeApprovalPending
	stamp(&payload.Timestamp)
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal approval pending: %w", err)
	}
	if err := p.persistAndNotify(ctx, ExecutionChannel(payload.ExecutionID), raw); err != nil {
		return err
	}
	return p.notifyOnly(ctx, GlobalExecutionsChannel, raw)
}

// PublishOutputChunk broadcasts one live output chunk, NOTIFY only.
func (p *Publisher) PublishOutputChunk(ctx context.Context, payload OutputChunkPayload) error {
	payload.Type = EventTypeOutputChunk
	stamp(&payload.Timestamp)
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal output chunk: %w", err)
	}
	return p.notifyOnly(ctx, ExecutionChannel(payload.ExecutionID), raw)
}

// PublishAlertUpdated broadcasts an alert upsert, NOTIFY only.
func (p *Publisher) PublishAlertUpdated(ctx context.Context, payload AlertUpdatedPayload) error {
	payload.Type = EventTypeAlertUpdated
	stamp(&payload.Timestamp)
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert update: %w", err)
	}
	return p.notifyOnly(ctx, GlobalAlertsChannel, raw)
}

// PublishBlackoutStatus broadcasts a blackout window edge, NOTIFY only.
func (p *Publisher) PublishBlackoutStatus(ctx context.Context, payload BlackoutStatusPayload) error {
	payload.Type = EventTypeBlackoutStatus
	stamp(&payload.Timestamp)
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal blackout status: %w", err)
	}
	return p.notifyOnly(ctx, GlobalExecutionsChannel, raw)
}

// persistAndNotify inserts the event row and fires pg_notify in one
// transaction; the NOTIFY is held until COMMIT so subscribers never see an
// id that is not yet queryable.
func (p *Publisher) persistAndNotify(ctx context.Context, channel string, raw []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (channel, payload, created_at) VALUES ($1, $2, $3) RETURNING id`,
		channel, raw, time.Now().UTC(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	wire, err := withEventID(raw, eventID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, wire); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

// notifyOnly broadcasts without persistence.
func (p *Publisher) notifyOnly(ctx context.Context, channel string, raw []byte) error {
	wire, err := capPayload(string(raw))
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, wire); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// withEventID injects the database row id into the NOTIFY copy so clients
// can track their catchup position, then applies the size cap.
func withEventID(raw []byte, eventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("failed to decode payload for id injection: %w", err)
	}
	m["db_event_id"] = eventID
	enriched, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to re-encode NOTIFY payload: %w", err)
	}
	return capPayload(string(enriched))
}

// capPayload replaces oversized payloads with a minimal envelope keeping
// only the routing fields a client needs to fetch the full event.
func capPayload(payload string) (string, error) {
	if len(payload) <= notifyLimit {
		return payload, nil
	}
	var routing struct {
		Type        string `json:"type"`
		ExecutionID string `json:"execution_id"`
		DBEventID   *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal([]byte(payload), &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields: %w", err)
	}
	envelope := map[string]any{
		"type":         routing.Type,
		"execution_id": routing.ExecutionID,
		"truncated":    true,
	}
	if routing.DBEventID != nil {
		envelope["db_event_id"] = *routing.DBEventID
	}
	capped, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncation envelope: %w", err)
	}
	return string(capped), nil
}

func stamp(ts *string) {
	if *ts == "" {
		*ts = time.Now().UTC().Format(time.RFC3339Nano)
	}
}
