package safety

import (
	"fmt"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// WindowActive reports whether a blackout window covers the instant now.
// Recurring windows are evaluated on the wall clock of the window's
// timezone; daily ranges may wrap midnight (22:00-06:00).
func WindowActive(w *models.BlackoutWindow, now time.Time) (bool, error) {
	switch w.Recurrence {
	case models.RecurrenceOnce:
		if w.StartTime == nil || w.EndTime == nil {
			return false, fmt.Errorf("blackout %s: once requires start_time and end_time", w.ID)
		}
		return !now.Before(*w.StartTime) && !now.After(*w.EndTime), nil
	}

	loc, err := loadLocation(w.Timezone)
	if err != nil {
		return false, fmt.Errorf("blackout %s: %w", w.ID, err)
	}
	local := now.In(loc)

	switch w.Recurrence {
	case models.RecurrenceDaily:
		return inDailyRange(local, w.DailyStart, w.DailyEnd)
	case models.RecurrenceWeekly:
		if !containsInt(w.DaysOfWeek, int(local.Weekday())) {
			return false, nil
		}
		return inDailyRange(local, w.DailyStart, w.DailyEnd)
	case models.RecurrenceMonthly:
		if !containsInt(w.DaysOfMonth, local.Day()) {
			return false, nil
		}
		return inDailyRange(local, w.DailyStart, w.DailyEnd)
	default:
		return false, fmt.Errorf("blackout %s: unknown recurrence %q", w.ID, w.Recurrence)
	}
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// inDailyRange checks whether the local wall clock falls inside
// [start, end]. A start later than the end wraps across midnight.
func inDailyRange(local time.Time, start, end string) (bool, error) {
	startMin, err := parseClock(start)
	if err != nil {
		return false, err
	}
	endMin, err := parseClock(end)
	if err != nil {
		return false, err
	}
	nowMin := local.Hour()*60 + local.Minute()

	if startMin <= endMin {
		return nowMin >= startMin && nowMin <= endMin, nil
	}
	// Overnight window, e.g. 22:00-06:00.
	return nowMin >= startMin || nowMin <= endMin, nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func containsInt(list models.IntList, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
