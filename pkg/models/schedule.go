package models

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleType is how a schedule decides when to fire.
type ScheduleType string

// Schedule types.
const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleDate     ScheduleType = "date"
)

// IsValid checks if the schedule type is a known value.
func (t ScheduleType) IsValid() bool {
	switch t {
	case ScheduleCron, ScheduleInterval, ScheduleDate:
		return true
	default:
		return false
	}
}

// Schedule fires a runbook on a recurring cron expression, a fixed
// interval, or once at a point in time. A fire that was missed by more
// than MisfireGraceSeconds is skipped; within the grace it runs once and
// further missed fires are logged as skipped.
type Schedule struct {
	ID                  string       `db:"id" json:"id"`
	Name                string       `db:"name" json:"name"`
	RunbookID           string       `db:"runbook_id" json:"runbook_id"`
	ServerID            *string      `db:"server_id" json:"server_id,omitempty"`
	ScheduleType        ScheduleType `db:"schedule_type" json:"schedule_type"`
	CronExpression      string       `db:"cron_expression" json:"cron_expression,omitempty"`
	IntervalMinutes     int          `db:"interval_minutes" json:"interval_minutes,omitempty"`
	RunAt               *time.Time   `db:"run_at" json:"run_at,omitempty"`
	Enabled             bool         `db:"enabled" json:"enabled"`
	MisfireGraceSeconds int          `db:"misfire_grace_seconds" json:"misfire_grace_seconds"`
	MaxInstances        int          `db:"max_instances" json:"max_instances"`
	Variables           AnyMap       `db:"variables" json:"variables,omitempty"`
	LastRunAt           *time.Time   `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt           *time.Time   `db:"next_run_at" json:"next_run_at,omitempty"`
	CreatedAt           time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at" json:"updated_at"`
}

// NextAfter computes when the schedule should fire next, strictly after
// the given instant. A nil result means it never fires again (a one-shot
// date already past).
func (s *Schedule) NextAfter(after time.Time) (*time.Time, error) {
	switch s.ScheduleType {
	case ScheduleCron:
		spec, err := cron.ParseStandard(s.CronExpression)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", s.CronExpression, err)
		}
		next := spec.Next(after)
		return &next, nil
	case ScheduleInterval:
		if s.IntervalMinutes <= 0 {
			return nil, fmt.Errorf("interval schedule needs interval_minutes > 0")
		}
		next := after.Add(time.Duration(s.IntervalMinutes) * time.Minute)
		return &next, nil
	case ScheduleDate:
		if s.RunAt == nil {
			return nil, fmt.Errorf("date schedule needs run_at")
		}
		if s.RunAt.After(after) {
			next := *s.RunAt
			return &next, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown schedule type %q", s.ScheduleType)
	}
}
