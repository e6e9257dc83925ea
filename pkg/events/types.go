// Package events delivers realtime updates to WebSocket clients across
// pods via PostgreSQL NOTIFY/LISTEN. Lifecycle events (execution and step
// status) are persisted to the events table before the NOTIFY so late
// subscribers can catch up by id; output chunks are NOTIFY-only and lost
// on reconnect, the full text lands on the step record anyway.
package events

// Persistent event types (stored in the events table + NOTIFY).
const (
	EventTypeExecutionStatus = "execution.status"
	EventTypeStepStatus      = "step.status"
	EventTypeApprovalPending = "approval.pending"
)

// Transient event types (NOTIFY only).
const (
	EventTypeOutputChunk    = "output.chunk"
	EventTypeAlertUpdated   = "alert.updated"
	EventTypeBlackoutStatus = "blackout.status"
)

// GlobalExecutionsChannel carries execution-level status for dashboards
// subscribed to every execution.
const GlobalExecutionsChannel = "executions"

// GlobalAlertsChannel carries alert upserts for the alert list page.
const GlobalAlertsChannel = "alerts"

// ExecutionChannel returns the channel carrying one execution's events.
// Format: "execution:{execution_id}"
func ExecutionChannel(executionID string) string {
	return "execution:" + executionID
}

// ClientMessage is the JSON structure for client to server WebSocket
// messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // channel name, e.g. "execution:abc-123"
	LastEventID *int64 `json:"last_event_id,omitempty"` // for catchup
}
