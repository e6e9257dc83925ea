package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleNextAfter(t *testing.T) {
	after := time.Date(2026, 8, 20, 10, 15, 0, 0, time.UTC)

	t.Run("cron", func(t *testing.T) {
		s := &Schedule{ScheduleType: ScheduleCron, CronExpression: "0 3 * * *"}
		next, err := s.NextAfter(after)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, time.Date(2026, 8, 21, 3, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("invalid cron", func(t *testing.T) {
		s := &Schedule{ScheduleType: ScheduleCron, CronExpression: "every tuesday"}
		_, err := s.NextAfter(after)
		require.Error(t, err)
	})

	t.Run("interval", func(t *testing.T) {
		s := &Schedule{ScheduleType: ScheduleInterval, IntervalMinutes: 30}
		next, err := s.NextAfter(after)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, after.Add(30*time.Minute), *next)
	})

	t.Run("interval without minutes", func(t *testing.T) {
		s := &Schedule{ScheduleType: ScheduleInterval}
		_, err := s.NextAfter(after)
		require.Error(t, err)
	})

	t.Run("date in the future", func(t *testing.T) {
		runAt := after.Add(48 * time.Hour)
		s := &Schedule{ScheduleType: ScheduleDate, RunAt: &runAt}
		next, err := s.NextAfter(after)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, runAt, *next)
	})

	t.Run("date already fired", func(t *testing.T) {
		runAt := after.Add(-time.Hour)
		s := &Schedule{ScheduleType: ScheduleDate, RunAt: &runAt}
		next, err := s.NextAfter(after)
		require.NoError(t, err)
		assert.Nil(t, next)
	})

	t.Run("date without run_at", func(t *testing.T) {
		s := &Schedule{ScheduleType: ScheduleDate}
		_, err := s.NextAfter(after)
		require.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		s := &Schedule{ScheduleType: "lunar"}
		_, err := s.NextAfter(after)
		require.Error(t, err)
	})
}
