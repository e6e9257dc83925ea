package events

import (
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ExecutionStatusPayload is published on every execution lifecycle
// transition. It goes to the execution channel (persistent) and the
// global executions channel (transient copy for list pages).
type ExecutionStatusPayload struct {
	Type         string                 `json:"type"` // always EventTypeExecutionStatus
	ExecutionID  string                 `json:"execution_id"`
	RunbookID    string                 `json:"runbook_id"`
	RunbookName  string                 `json:"runbook_name,omitempty"`
	AlertID      string                 `json:"alert_id,omitempty"`
	Status       models.ExecutionStatus `json:"status"`
	Mode         models.ExecutionMode   `json:"mode"`
	IsDryRun     bool                   `json:"is_dry_run"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Timestamp    string                 `json:"timestamp"` // RFC3339Nano
}

// StepStatusPayload is published when a step starts, finishes, or fails.
type StepStatusPayload struct {
	Type            string                 `json:"type"` // always EventTypeStepStatus
	ExecutionID     string                 `json:"execution_id"`
	StepExecutionID string                 `json:"step_execution_id"`
	StepName        string                 `json:"step_name"`
	StepOrder       int                    `json:"step_order"`
	RetryAttempt    int                    `json:"retry_attempt"`
	Status          models.ExecutionStatus `json:"status"`
	ExitCode        *int                   `json:"exit_code,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Timestamp       string                 `json:"timestamp"` // RFC3339Nano
}

// OutputChunkPayload streams live stdout/stderr. Transient: chunks missed
// during a reconnect are not replayed, the persisted step record carries
// the full buffered text.
type OutputChunkPayload struct {
	Type            string `json:"type"` // always EventTypeOutputChunk
	ExecutionID     string `json:"execution_id"`
	StepExecutionID string `json:"step_execution_id,omitempty"`
	Stream          string `json:"stream"` // "stdout" or "stderr"
	Data            string `json:"data"`
	Timestamp       string `json:"timestamp"` // RFC3339Nano
}

// ApprovalPendingPayload is published when an execution parks waiting for
// an operator, so approval queues update without polling.
type ApprovalPendingPayload struct {
	Type        string `json:"type"` // always EventTypeApprovalPending
	ExecutionID string `json:"execution_id"`
	RunbookID   string `json:"runbook_id"`
	RunbookName string `json:"runbook_name,omitempty"`
	AlertID     string `json:"alert_id,omitempty"`
	DueAt       string `json:"due_at,omitempty"` // RFC3339
	Timestamp   string `json:"timestamp"`        // RFC3339Nano
}

// AlertUpdatedPayload is broadcast on the global alerts channel after an
// alert upsert.
type AlertUpdatedPayload struct {
	Type            string             `json:"type"` // always EventTypeAlertUpdated
	AlertID         string             `json:"alert_id"`
	Fingerprint     string             `json:"fingerprint"`
	Name            string             `json:"name"`
	Severity        string             `json:"severity,omitempty"`
	Status          models.AlertStatus `json:"status"`
	OccurrenceCount int                `json:"occurrence_count"`
	Timestamp       string             `json:"timestamp"` // RFC3339Nano
}

// BlackoutStatusPayload marks a blackout window edge (became active or
// inactive). Emitted by the sweep loop, transient.
type BlackoutStatusPayload struct {
	Type       string `json:"type"` // always EventTypeBlackoutStatus
	WindowID   string `json:"window_id"`
	WindowName string `json:"window_name"`
	Active     bool   `json:"active"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}
