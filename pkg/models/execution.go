package models

import "time"

// ExecutionStatus is the lifecycle state of a runbook execution. Step
// executions share the same enum minus pending_approval.
type ExecutionStatus string

// Execution statuses.
const (
	StatusPending         ExecutionStatus = "pending"
	StatusPendingApproval ExecutionStatus = "pending_approval"
	StatusApproved        ExecutionStatus = "approved"
	StatusRunning         ExecutionStatus = "running"
	StatusCompleted       ExecutionStatus = "completed"
	StatusFailed          ExecutionStatus = "failed"
	StatusCancelled       ExecutionStatus = "cancelled"
	StatusTimeout         ExecutionStatus = "timeout"
)

// IsValid checks if the execution status is a known value.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusPendingApproval, StatusApproved, StatusRunning,
		StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status can never be left again.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// allowedTransitions is the one-directional execution lifecycle. Operators
// may cancel an execution that has not been claimed yet, so pending and
// approved admit cancelled in addition to running.
var allowedTransitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending:         {StatusRunning, StatusCancelled},
	StatusPendingApproval: {StatusApproved, StatusCancelled, StatusTimeout},
	StatusApproved:        {StatusRunning, StatusCancelled},
	StatusRunning:         {StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout},
}

// CanTransition reports whether moving from one status to another is a
// legal lifecycle step.
func CanTransition(from, to ExecutionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status that may legally move into to.
// Stores use it to guard state updates with a single conditional write.
func TransitionSources(to ExecutionStatus) []ExecutionStatus {
	var from []ExecutionStatus
	for source, nexts := range allowedTransitions {
		for _, next := range nexts {
			if next == to {
				from = append(from, source)
				break
			}
		}
	}
	return from
}

// ExecutionMode records how an execution came to exist.
type ExecutionMode string

// Execution modes.
const (
	ModeAuto     ExecutionMode = "auto"
	ModeSemiAuto ExecutionMode = "semi_auto"
	ModeManual   ExecutionMode = "manual"
)

// IsValid checks if the execution mode is a known value.
func (m ExecutionMode) IsValid() bool {
	switch m {
	case ModeAuto, ModeSemiAuto, ModeManual:
		return true
	default:
		return false
	}
}

// RunbookExecution is one run of a runbook against a target. The
// orchestrator exclusively owns the record from the moment it enters
// running until it reaches a terminal state; everyone else goes through
// guarded store transitions.
type RunbookExecution struct {
	ID              string          `db:"id" json:"id"`
	RunbookID       string          `db:"runbook_id" json:"runbook_id"`
	RunbookVersion  int             `db:"runbook_version" json:"runbook_version"`
	ServerID        *string         `db:"server_id" json:"server_id,omitempty"`
	AlertID         *string         `db:"alert_id" json:"alert_id,omitempty"`
	TriggerID       *string         `db:"trigger_id" json:"trigger_id,omitempty"`
	Status          ExecutionStatus `db:"status" json:"status"`
	Mode            ExecutionMode   `db:"mode" json:"mode"`
	StartedAt       *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	DurationMS      *int64          `db:"duration_ms" json:"duration_ms,omitempty"`
	InitiatedBy     string          `db:"initiated_by" json:"initiated_by,omitempty"`
	ApprovedBy      *string         `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	ApprovalDueAt   *time.Time      `db:"approval_due_at" json:"approval_due_at,omitempty"`
	Variables       AnyMap          `db:"variables" json:"variables,omitempty"`
	ExtractedValues AnyMap          `db:"extracted_values" json:"extracted_values,omitempty"`
	ErrorMessage    string          `db:"error_message" json:"error_message,omitempty"`
	IsDryRun        bool            `db:"is_dry_run" json:"is_dry_run"`
	ClaimedBy       string          `db:"claimed_by" json:"claimed_by,omitempty"`
	LastHeartbeatAt *time.Time      `db:"last_heartbeat_at" json:"last_heartbeat_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	Steps []StepExecution `db:"-" json:"steps,omitempty"`
}

// StepExecution records one attempted step of an execution. Steps skipped
// for platform mismatch leave no record.
type StepExecution struct {
	ID                string          `db:"id" json:"id"`
	ExecutionID       string          `db:"execution_id" json:"execution_id"`
	StepOrder         int             `db:"step_order" json:"step_order"`
	StepName          string          `db:"step_name" json:"step_name"`
	Status            ExecutionStatus `db:"status" json:"status"`
	StartedAt         *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	DurationMS        *int64          `db:"duration_ms" json:"duration_ms,omitempty"`
	ExitCode          *int            `db:"exit_code" json:"exit_code,omitempty"`
	Stdout            string          `db:"stdout" json:"stdout"`
	Stderr            string          `db:"stderr" json:"stderr"`
	ErrorMessage      string          `db:"error_message" json:"error_message,omitempty"`
	RetryAttempt      int             `db:"retry_attempt" json:"retry_attempt"`
	RollbackPerformed bool            `db:"rollback_performed" json:"rollback_performed"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}
