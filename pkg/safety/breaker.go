package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// casRetries bounds optimistic-concurrency retry loops on breaker rows.
const casRetries = 5

// Breakers drives the circuit breaker state machine. All persistence is
// compare-and-set; concurrent pods retry on version conflicts.
type Breakers struct {
	store *store.Store
	rec   *audit.Recorder
}

// NewBreakers creates the breaker manager.
func NewBreakers(st *store.Store, rec *audit.Recorder) *Breakers {
	return &Breakers{store: st, rec: rec}
}

// Allow checks the breaker guarding (scope, scopeID) and, when it is
// half-open, claims the single probe slot for executionID. Returns a
// CircuitOpen denial when the breaker blocks execution.
func (b *Breakers) Allow(ctx context.Context, scope models.BreakerScope, scopeID, executionID string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		br, err := b.store.Breakers.GetOrCreate(ctx, scope, scopeID)
		if err != nil {
			return fmt.Errorf("failed to load breaker %s/%s: %w", scope, scopeID, err)
		}
		now := time.Now().UTC()

		switch br.State {
		case models.BreakerClosed:
			return nil

		case models.BreakerOpen:
			if br.ManuallyOpened || !br.OpenElapsed(now) {
				return b.deny(br, "circuit breaker is open")
			}
			// Open duration elapsed: move to half_open and fall through to
			// the probe claim. Losing the version race means another pod
			// transitioned first; reload and re-evaluate.
			br.State = models.BreakerHalfOpen
			br.HalfOpenAt = &now
			br.SuccessCount = 0
			br.ProbeExecutionID = ""
			if err := b.store.Breakers.Update(ctx, br); err != nil {
				if errors.Is(err, store.ErrStale) {
					continue
				}
				return fmt.Errorf("failed to half-open breaker %s: %w", br.ID, err)
			}
			b.auditTransition(br, models.BreakerOpen, models.BreakerHalfOpen)
			fallthrough

		case models.BreakerHalfOpen:
			claimed, err := b.store.Breakers.AcquireProbe(ctx, br.ID, executionID)
			if err != nil {
				return fmt.Errorf("failed to claim probe on breaker %s: %w", br.ID, err)
			}
			if !claimed {
				return b.deny(br, "half-open probe already in flight")
			}
			return nil

		default:
			return fmt.Errorf("breaker %s in unknown state %q", br.ID, br.State)
		}
	}
	return fmt.Errorf("breaker %s/%s: too many concurrent updates", scope, scopeID)
}

func (b *Breakers) deny(br *models.CircuitBreaker, msg string) error {
	return &DenialError{
		Kind:    DenialCircuitOpen,
		Message: msg,
		Details: models.AnyMap{
			"scope":    string(br.Scope),
			"scope_id": br.ScopeID,
			"state":    string(br.State),
		},
	}
}

// RecordSuccess feeds a successful execution result into the runbook and
// global breakers.
func (b *Breakers) RecordSuccess(ctx context.Context, runbookID, executionID string) {
	b.record(ctx, models.ScopeRunbook, runbookID, executionID, true)
	b.record(ctx, models.ScopeGlobal, "", executionID, true)
}

// RecordFailure feeds a failed execution result into the runbook and
// global breakers.
func (b *Breakers) RecordFailure(ctx context.Context, runbookID, executionID string) {
	b.record(ctx, models.ScopeRunbook, runbookID, executionID, false)
	b.record(ctx, models.ScopeGlobal, "", executionID, false)
}

func (b *Breakers) record(ctx context.Context, scope models.BreakerScope, scopeID, executionID string, success bool) {
	for attempt := 0; attempt < casRetries; attempt++ {
		br, err := b.store.Breakers.GetOrCreate(ctx, scope, scopeID)
		if err != nil {
			slog.Error("Failed to load breaker for result recording",
				"scope", scope, "scope_id", scopeID, "error", err)
			return
		}
		before := br.State

		now := time.Now().UTC()
		if success {
			applySuccess(br, now)
		} else {
			applyFailure(br, now)
		}
		if br.ProbeExecutionID == executionID {
			br.ProbeExecutionID = ""
		}

		if err := b.store.Breakers.Update(ctx, br); err != nil {
			if errors.Is(err, store.ErrStale) {
				continue
			}
			slog.Error("Failed to persist breaker result",
				"scope", scope, "scope_id", scopeID, "error", err)
			return
		}
		if br.State != before {
			b.auditTransition(br, before, br.State)
		}
		return
	}
	slog.Error("Breaker result recording exhausted retries", "scope", scope, "scope_id", scopeID)
}

// applyFailure advances the state machine for one failed execution.
func applyFailure(br *models.CircuitBreaker, now time.Time) {
	// Failures outside the counting window restart the consecutive count.
	if br.State == models.BreakerClosed && br.WindowExpired(now) {
		br.FailureCount = 0
	}
	br.FailureCount++
	br.SuccessCount = 0
	br.LastFailureAt = &now

	switch br.State {
	case models.BreakerClosed:
		if br.FailureCount >= br.FailureThreshold {
			br.State = models.BreakerOpen
			br.OpenedAt = &now
			br.ProbeExecutionID = ""
		}
	case models.BreakerHalfOpen:
		// A failed probe reopens immediately and restarts the clock.
		br.State = models.BreakerOpen
		br.OpenedAt = &now
		br.HalfOpenAt = nil
		br.ProbeExecutionID = ""
	}
}

// applySuccess advances the state machine for one successful execution.
func applySuccess(br *models.CircuitBreaker, now time.Time) {
	switch br.State {
	case models.BreakerClosed:
		br.FailureCount = 0
	case models.BreakerHalfOpen:
		br.SuccessCount++
		br.ProbeExecutionID = ""
		if br.SuccessCount >= br.SuccessThreshold && !br.ManuallyOpened {
			br.State = models.BreakerClosed
			br.FailureCount = 0
			br.SuccessCount = 0
			br.OpenedAt = nil
			br.HalfOpenAt = nil
		}
	}
}

// HalfOpenElapsed moves open breakers whose open duration has passed into
// half_open. The sweep loop calls this so probes become possible even when
// no execution attempt happens to trip the lazy path in Allow.
func (b *Breakers) HalfOpenElapsed(ctx context.Context) {
	elapsed, err := b.store.Breakers.ListOpenElapsed(ctx)
	if err != nil {
		slog.Error("Failed to list elapsed breakers", "error", err)
		return
	}
	for i := range elapsed {
		br := &elapsed[i]
		if br.ManuallyOpened {
			continue
		}
		now := time.Now().UTC()
		br.State = models.BreakerHalfOpen
		br.HalfOpenAt = &now
		br.SuccessCount = 0
		br.ProbeExecutionID = ""
		if err := b.store.Breakers.Update(ctx, br); err != nil {
			if errors.Is(err, store.ErrStale) {
				continue
			}
			slog.Error("Failed to half-open elapsed breaker", "breaker_id", br.ID, "error", err)
			continue
		}
		b.auditTransition(br, models.BreakerOpen, models.BreakerHalfOpen)
	}
}

// Override forces a breaker into a state on operator request. Opening with
// manuallyOpened pins the breaker until a later override clears it.
func (b *Breakers) Override(ctx context.Context, scope models.BreakerScope, scopeID string, state models.BreakerState, manuallyOpened bool, actor string) (*models.CircuitBreaker, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("invalid breaker state %q", state)
	}
	for attempt := 0; attempt < casRetries; attempt++ {
		br, err := b.store.Breakers.GetOrCreate(ctx, scope, scopeID)
		if err != nil {
			return nil, err
		}
		before := br.State
		now := time.Now().UTC()

		br.State = state
		br.ManuallyOpened = manuallyOpened
		br.ProbeExecutionID = ""
		switch state {
		case models.BreakerOpen:
			br.OpenedAt = &now
			br.HalfOpenAt = nil
		case models.BreakerHalfOpen:
			br.HalfOpenAt = &now
			br.SuccessCount = 0
		case models.BreakerClosed:
			br.FailureCount = 0
			br.SuccessCount = 0
			br.OpenedAt = nil
			br.HalfOpenAt = nil
		}

		if err := b.store.Breakers.Update(ctx, br); err != nil {
			if errors.Is(err, store.ErrStale) {
				continue
			}
			return nil, err
		}
		b.rec.EmitActor(actor, models.AuditBreakerOverride, "circuit_breaker", br.ID, models.AnyMap{
			"scope":           string(br.Scope),
			"scope_id":        br.ScopeID,
			"from":            string(before),
			"to":              string(state),
			"manually_opened": manuallyOpened,
		})
		return br, nil
	}
	return nil, fmt.Errorf("breaker %s/%s: too many concurrent updates", scope, scopeID)
}

func (b *Breakers) auditTransition(br *models.CircuitBreaker, from, to models.BreakerState) {
	b.rec.Emit(models.AuditBreakerChanged, "circuit_breaker", br.ID, models.AnyMap{
		"scope":         string(br.Scope),
		"scope_id":      br.ScopeID,
		"from":          string(from),
		"to":            string(to),
		"failure_count": br.FailureCount,
	})
}
