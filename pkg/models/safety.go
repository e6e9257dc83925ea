package models

import "time"

// BreakerState is the circuit breaker position.
type BreakerState string

// Breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// IsValid checks if the breaker state is a known value.
func (s BreakerState) IsValid() bool {
	switch s {
	case BreakerClosed, BreakerOpen, BreakerHalfOpen:
		return true
	default:
		return false
	}
}

// BreakerScope is what a circuit breaker guards.
type BreakerScope string

// Breaker scopes.
const (
	ScopeRunbook BreakerScope = "runbook"
	ScopeServer  BreakerScope = "server"
	ScopeGlobal  BreakerScope = "global"
)

// IsValid checks if the breaker scope is a known value.
func (s BreakerScope) IsValid() bool {
	switch s {
	case ScopeRunbook, ScopeServer, ScopeGlobal:
		return true
	default:
		return false
	}
}

// Breaker tuning defaults.
const (
	DefaultFailureThreshold     = 5
	DefaultSuccessThreshold     = 3
	DefaultFailureWindowMinutes = 10
	DefaultOpenDurationMinutes  = 15
)

// CircuitBreaker guards a scope against repeated failures. One record
// exists per (scope, scope_id); Version carries the optimistic lock used
// by compare-and-set updates.
type CircuitBreaker struct {
	ID                   string       `db:"id" json:"id"`
	Scope                BreakerScope `db:"scope" json:"scope"`
	ScopeID              string       `db:"scope_id" json:"scope_id"`
	State                BreakerState `db:"state" json:"state"`
	FailureCount         int          `db:"failure_count" json:"failure_count"`
	SuccessCount         int          `db:"success_count" json:"success_count"`
	FailureThreshold     int          `db:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold     int          `db:"success_threshold" json:"success_threshold"`
	FailureWindowMinutes int          `db:"failure_window_minutes" json:"failure_window_minutes"`
	OpenDurationMinutes  int          `db:"open_duration_minutes" json:"open_duration_minutes"`
	OpenedAt             *time.Time   `db:"opened_at" json:"opened_at,omitempty"`
	HalfOpenAt           *time.Time   `db:"half_open_at" json:"half_open_at,omitempty"`
	LastFailureAt        *time.Time   `db:"last_failure_at" json:"last_failure_at,omitempty"`
	ManuallyOpened       bool         `db:"manually_opened" json:"manually_opened"`
	ProbeExecutionID     string       `db:"probe_execution_id" json:"-"`
	Version              int64        `db:"version" json:"-"`
	CreatedAt            time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time    `db:"updated_at" json:"updated_at"`
}

// OpenElapsed reports whether the breaker has been open long enough to
// probe again.
func (b *CircuitBreaker) OpenElapsed(now time.Time) bool {
	if b.OpenedAt == nil {
		return true
	}
	return now.Sub(*b.OpenedAt) >= time.Duration(b.OpenDurationMinutes)*time.Minute
}

// WindowExpired reports whether the last recorded failure fell out of the
// failure counting window.
func (b *CircuitBreaker) WindowExpired(now time.Time) bool {
	if b.LastFailureAt == nil || b.FailureWindowMinutes <= 0 {
		return false
	}
	return now.Sub(*b.LastFailureAt) > time.Duration(b.FailureWindowMinutes)*time.Minute
}

// Recurrence is how often a blackout window repeats.
type Recurrence string

// Blackout recurrences.
const (
	RecurrenceOnce    Recurrence = "once"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// IsValid checks if the recurrence is a known value.
func (r Recurrence) IsValid() bool {
	switch r {
	case RecurrenceOnce, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	default:
		return false
	}
}

// AppliesTo selects which execution modes a blackout window suppresses.
type AppliesTo string

// Blackout applicability.
const (
	AppliesAutoOnly AppliesTo = "auto_only"
	AppliesAll      AppliesTo = "all"
)

// IsValid checks if the applicability is a known value.
func (a AppliesTo) IsValid() bool {
	switch a {
	case AppliesAutoOnly, AppliesAll:
		return true
	default:
		return false
	}
}

// BlackoutWindow is a recurring interval during which executions are
// suppressed. DailyStart and DailyEnd are "HH:MM" wall-clock strings
// interpreted in Timezone; an empty ApplyRunbookIDs list means every
// runbook.
type BlackoutWindow struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	Enabled         bool       `db:"enabled" json:"enabled"`
	Recurrence      Recurrence `db:"recurrence" json:"recurrence"`
	StartTime       *time.Time `db:"start_time" json:"start_time,omitempty"`
	EndTime         *time.Time `db:"end_time" json:"end_time,omitempty"`
	DailyStart      string     `db:"daily_start" json:"daily_start,omitempty"`
	DailyEnd        string     `db:"daily_end" json:"daily_end,omitempty"`
	DaysOfWeek      IntList    `db:"days_of_week" json:"days_of_week,omitempty"`
	DaysOfMonth     IntList    `db:"days_of_month" json:"days_of_month,omitempty"`
	Timezone        string     `db:"timezone" json:"timezone"`
	AppliesTo       AppliesTo  `db:"applies_to" json:"applies_to"`
	ApplyRunbookIDs StringList `db:"applies_to_runbook_ids" json:"applies_to_runbook_ids,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Covers reports whether the window applies to an execution of the given
// mode and runbook.
func (w *BlackoutWindow) Covers(mode ExecutionMode, runbookID string) bool {
	if w.AppliesTo == AppliesAutoOnly && mode != ModeAuto {
		return false
	}
	if len(w.ApplyRunbookIDs) == 0 {
		return true
	}
	return w.ApplyRunbookIDs.Contains(runbookID)
}
