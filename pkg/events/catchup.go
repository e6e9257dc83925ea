package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/store"
)

// StoreCatchup adapts the event repository to the CatchupQuerier the hub
// needs.
type StoreCatchup struct {
	events *store.EventStore
}

// NewStoreCatchup creates the adapter.
func NewStoreCatchup(events *store.EventStore) *StoreCatchup {
	return &StoreCatchup{events: events}
}

// GetCatchupEvents implements CatchupQuerier.
func (a *StoreCatchup) GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error) {
	rows, err := a.events.GetSince(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}
	result := make([]CatchupEvent, len(rows))
	for i, row := range rows {
		payload := make(map[string]any)
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode stored event %d: %w", row.ID, err)
		}
		result[i] = CatchupEvent{ID: row.ID, Payload: payload}
	}
	return result, nil
}
