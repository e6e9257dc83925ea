package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithEventID(t *testing.T) {
	raw := []byte(`{"type":"execution.status","execution_id":"exec-1","status":"running"}`)
	wire, err := withEventID(raw, 42)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(wire), &m))
	assert.Equal(t, float64(42), m["db_event_id"])
	assert.Equal(t, "execution.status", m["type"])
	assert.Equal(t, "running", m["status"])
}

func TestCapPayloadSmallPassesThrough(t *testing.T) {
	payload := `{"type":"output.chunk","execution_id":"exec-1","data":"hello"}`
	wire, err := capPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, wire)
}

func TestCapPayloadOversized(t *testing.T) {
	big := map[string]any{
		"type":         "output.chunk",
		"execution_id": "exec-1",
		"db_event_id":  7,
		"data":         strings.Repeat("x", notifyLimit),
	}
	raw, err := json.Marshal(big)
	require.NoError(t, err)

	wire, err := capPayload(string(raw))
	require.NoError(t, err)
	assert.Less(t, len(wire), notifyLimit)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(wire), &m))
	assert.Equal(t, true, m["truncated"])
	assert.Equal(t, "output.chunk", m["type"])
	assert.Equal(t, "exec-1", m["execution_id"])
	assert.Equal(t, float64(7), m["db_event_id"])
	assert.NotContains(t, m, "data")
}

func TestExecutionChannel(t *testing.T) {
	assert.Equal(t, "execution:abc-123", ExecutionChannel("abc-123"))
}

func TestPayloadJSONContract(t *testing.T) {
	// Field names are consumed by dashboards; changes break clients.
	payload := ExecutionStatusPayload{
		Type:        EventTypeExecutionStatus,
		ExecutionID: "exec-1",
		RunbookID:   "rb-1",
		Status:      "running",
		Mode:        "auto",
		Timestamp:   "2026-08-25T10:00:00Z",
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, key := range []string{"type", "execution_id", "runbook_id", "status", "mode", "is_dry_run", "timestamp"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "error_message", "empty optional fields are omitted")

	chunk := OutputChunkPayload{
		Type:        EventTypeOutputChunk,
		ExecutionID: "exec-1",
		Stream:      "stdout",
		Data:        "restarting nginx",
		Timestamp:   "2026-08-25T10:00:01Z",
	}
	raw, err = json.Marshal(chunk)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, key := range []string{"type", "execution_id", "stream", "data", "timestamp"} {
		assert.Contains(t, m, key)
	}
}
