package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// AuditStore appends and queries the audit log. The table is append-only;
// there is no update or delete path apart from retention pruning.
type AuditStore struct {
	db *sqlx.DB
}

const insertAuditQuery = `
INSERT INTO audit_events (ts, actor, action, resource_type, resource_id, details, ip)
VALUES (:ts, :actor, :action, :resource_type, :resource_id, :details, :ip)`

// Append inserts a batch of audit events in one transaction, preserving
// the order the recorder handed them over in.
func (s *AuditStore) Append(ctx context.Context, events []models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range events {
		ev := &events[i]
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now()
		}
		if ev.Actor == "" {
			ev.Actor = models.ActorSystem
		}
		if ev.Details == nil {
			ev.Details = models.AnyMap{}
		}
		if _, err := tx.NamedExecContext(ctx, insertAuditQuery, ev); err != nil {
			return translate(err)
		}
	}
	return tx.Commit()
}

// AuditFilter narrows List results.
type AuditFilter struct {
	Action       string
	Actor        string
	ResourceType string
	ResourceID   string
	Limit        int
	Offset       int
}

// List returns audit events newest-first.
func (s *AuditStore) List(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error) {
	conds := []string{"TRUE"}
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(clause, len(args)))
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	query := `SELECT * FROM audit_events WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY id DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	events := []models.AuditEvent{}
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, translate(err)
	}
	return events, nil
}

// ListForResource returns the causal-order trail of a single resource.
func (s *AuditStore) ListForResource(ctx context.Context, resourceType, resourceID string) ([]models.AuditEvent, error) {
	events := []models.AuditEvent{}
	err := s.db.SelectContext(ctx, &events,
		`SELECT * FROM audit_events WHERE resource_type = $1 AND resource_id = $2 ORDER BY id ASC`,
		resourceType, resourceID)
	if err != nil {
		return nil, translate(err)
	}
	return events, nil
}

// DeleteBefore prunes audit events older than the cutoff and returns how
// many rows went away. Used by the retention sweep.
func (s *AuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}
