// Package triggers maps firing alerts onto runbooks. A trigger binds an
// alert pattern plus occurrence and duration thresholds to one runbook;
// the matcher returns the first accepting trigger in priority order and
// stamps its cooldown atomically so concurrent evaluators fire it once.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/rules"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// Candidate is a trigger that accepted an alert, together with the
// runbook it fires.
type Candidate struct {
	Trigger models.RunbookTrigger
	Runbook *models.Runbook
}

// Matcher evaluates stored triggers against alerts.
type Matcher struct {
	store *store.Store
}

// NewMatcher creates a trigger matcher over the store.
func NewMatcher(st *store.Store) *Matcher {
	return &Matcher{store: st}
}

// Match returns the first enabled trigger accepting the alert, or nil when
// none does. The winning trigger's last_triggered_at is stamped with a
// conditional update; losing a stamp race moves on to the next candidate.
func (m *Matcher) Match(ctx context.Context, alert *models.Alert) (*Candidate, error) {
	triggers, err := m.store.Runbooks.ListEnabledTriggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	now := time.Now().UTC()
	for i := range triggers {
		trigger := triggers[i]
		accepted, err := Accepts(&trigger, alert, now)
		if err != nil {
			slog.Warn("Skipping unevaluable trigger",
				"trigger_id", trigger.ID,
				"runbook_id", trigger.RunbookID,
				"error", err)
			continue
		}
		if !accepted {
			continue
		}

		stamped, err := m.store.Runbooks.MarkTriggered(ctx, trigger.ID, trigger.CooldownSeconds)
		if err != nil {
			return nil, fmt.Errorf("failed to stamp trigger %s: %w", trigger.ID, err)
		}
		if !stamped {
			// Another evaluator fired this trigger first; its cooldown now
			// holds, so keep looking further down the priority list.
			continue
		}

		runbook, err := m.store.Runbooks.Get(ctx, trigger.RunbookID)
		if err != nil {
			return nil, fmt.Errorf("failed to load runbook %s: %w", trigger.RunbookID, err)
		}
		return &Candidate{Trigger: trigger, Runbook: runbook}, nil
	}
	return nil, nil
}

// Accepts evaluates one trigger's patterns and thresholds against an
// alert without touching stored state.
func Accepts(t *models.RunbookTrigger, alert *models.Alert, now time.Time) (bool, error) {
	checks := []struct {
		pattern string
		value   string
	}{
		{t.AlertNamePattern, alert.Name},
		{t.SeverityPattern, alert.Severity},
		{t.InstancePattern, alert.Instance},
		{t.JobPattern, alert.Job},
	}
	for _, c := range checks {
		ok, err := rules.MatchPattern(c.pattern, c.value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	ok, err := rules.MatchAll(t.LabelMatchers, alert.Labels)
	if err != nil || !ok {
		return false, err
	}
	ok, err = rules.MatchAll(t.AnnotationMatchers, alert.Annotations)
	if err != nil || !ok {
		return false, err
	}

	if t.MinOccurrences > 1 && alert.OccurrenceCount < t.MinOccurrences {
		return false, nil
	}
	if t.MinDurationSeconds > 0 {
		elapsed := now.Sub(alert.StartsAt)
		if elapsed < time.Duration(t.MinDurationSeconds)*time.Second {
			return false, nil
		}
	}
	if t.InCooldown(now) {
		return false, nil
	}
	return true, nil
}
