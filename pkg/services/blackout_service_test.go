package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func TestValidateBlackout(t *testing.T) {
	t.Run("valid daily window passes and defaults applies_to", func(t *testing.T) {
		w := &models.BlackoutWindow{
			Name:       "nightly freeze",
			Recurrence: models.RecurrenceDaily,
			DailyStart: "22:00",
			DailyEnd:   "06:00",
			Timezone:   "Europe/Prague",
		}
		require.NoError(t, validateBlackout(w))
		assert.Equal(t, models.AppliesAll, w.AppliesTo)
	})

	t.Run("valid once window passes", func(t *testing.T) {
		start := time.Now().Add(time.Hour)
		end := start.Add(2 * time.Hour)
		w := &models.BlackoutWindow{
			Name:       "maintenance",
			Recurrence: models.RecurrenceOnce,
			StartTime:  &start,
			EndTime:    &end,
			AppliesTo:  models.AppliesAutoOnly,
		}
		require.NoError(t, validateBlackout(w))
	})

	now := time.Now()
	later := now.Add(time.Hour)

	tests := []struct {
		name   string
		window models.BlackoutWindow
		field  string
	}{
		{
			name:   "missing name",
			window: models.BlackoutWindow{Recurrence: models.RecurrenceDaily, DailyStart: "01:00", DailyEnd: "02:00"},
			field:  "name",
		},
		{
			name:   "unknown recurrence",
			window: models.BlackoutWindow{Name: "w", Recurrence: "fortnightly"},
			field:  "recurrence",
		},
		{
			name:   "once without bounds",
			window: models.BlackoutWindow{Name: "w", Recurrence: models.RecurrenceOnce},
			field:  "start_time",
		},
		{
			name:   "once with inverted bounds",
			window: models.BlackoutWindow{Name: "w", Recurrence: models.RecurrenceOnce, StartTime: &later, EndTime: &now},
			field:  "end_time",
		},
		{
			name:   "weekly without days",
			window: models.BlackoutWindow{Name: "w", Recurrence: models.RecurrenceWeekly, DailyStart: "01:00", DailyEnd: "02:00"},
			field:  "days_of_week",
		},
		{
			name: "weekly with day out of range",
			window: models.BlackoutWindow{
				Name: "w", Recurrence: models.RecurrenceWeekly,
				DaysOfWeek: models.IntList{7}, DailyStart: "01:00", DailyEnd: "02:00",
			},
			field: "days_of_week",
		},
		{
			name: "monthly with day out of range",
			window: models.BlackoutWindow{
				Name: "w", Recurrence: models.RecurrenceMonthly,
				DaysOfMonth: models.IntList{0}, DailyStart: "01:00", DailyEnd: "02:00",
			},
			field: "days_of_month",
		},
		{
			name:   "broken clock string",
			window: models.BlackoutWindow{Name: "w", Recurrence: models.RecurrenceDaily, DailyStart: "25:99", DailyEnd: "02:00"},
			field:  "window",
		},
		{
			name: "unknown timezone",
			window: models.BlackoutWindow{
				Name: "w", Recurrence: models.RecurrenceDaily,
				DailyStart: "01:00", DailyEnd: "02:00", Timezone: "Mars/Olympus",
			},
			field: "window",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBlackout(&tt.window)
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
