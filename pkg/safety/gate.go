// Package safety composes the pre-execution gates: circuit breakers, rate
// limits, cooldowns, and blackout windows. Gates run in a fixed order and
// a denial stops evaluation; denials are audited and never retried.
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// Gate evaluates all safety checks for a prospective execution.
type Gate struct {
	store    *store.Store
	breakers *Breakers
	rec      *audit.Recorder
}

// NewGate creates the composed safety gate.
func NewGate(st *store.Store, rec *audit.Recorder) *Gate {
	return &Gate{
		store:    st,
		breakers: NewBreakers(st, rec),
		rec:      rec,
	}
}

// Breakers exposes the breaker manager for result notification, the sweep
// loop, and the override API.
func (g *Gate) Breakers() *Breakers {
	return g.breakers
}

// CheckInput describes the execution asking to proceed. ExecutionID is
// pre-generated so a half-open breaker can bind its probe slot to it
// before the row exists.
type CheckInput struct {
	Runbook        *models.Runbook
	Mode           models.ExecutionMode
	ExecutionID    string
	Actor          string
	BypassCooldown bool
	BypassBlackout bool
}

// Check runs every gate in order: breakers, rate limit, cooldown,
// blackout. On denial it returns a *DenialError, releases any probe slot
// claimed earlier in the evaluation, and records the decision.
func (g *Gate) Check(ctx context.Context, in CheckInput) error {
	if err := g.check(ctx, in); err != nil {
		if denial, ok := AsDenial(err); ok {
			g.releaseProbe(ctx, in.ExecutionID)
			g.auditDenial(in, denial)
		}
		return err
	}
	if in.BypassCooldown || in.BypassBlackout {
		g.rec.EmitActor(in.Actor, models.AuditGateBypassed, "runbook_execution", in.ExecutionID, models.AnyMap{
			"runbook_id":      in.Runbook.ID,
			"bypass_cooldown": in.BypassCooldown,
			"bypass_blackout": in.BypassBlackout,
		})
	}
	return nil
}

func (g *Gate) check(ctx context.Context, in CheckInput) error {
	rb := in.Runbook
	now := time.Now().UTC()

	// 1. Circuit breakers, runbook scope then global.
	if err := g.breakers.Allow(ctx, models.ScopeRunbook, rb.ID, in.ExecutionID); err != nil {
		return err
	}
	if err := g.breakers.Allow(ctx, models.ScopeGlobal, "", in.ExecutionID); err != nil {
		return err
	}

	// 2. Hourly rate limit.
	if rb.MaxExecutionsPerHour > 0 {
		n, err := g.store.Executions.CountStartedSince(ctx, rb.ID, now.Add(-time.Hour))
		if err != nil {
			return fmt.Errorf("failed to count executions for rate limit: %w", err)
		}
		if n >= rb.MaxExecutionsPerHour {
			return &DenialError{
				Kind:    DenialRateLimited,
				Message: fmt.Sprintf("runbook executed %d times in the last hour (limit %d)", n, rb.MaxExecutionsPerHour),
				Details: models.AnyMap{"runbook_id": rb.ID, "limit": rb.MaxExecutionsPerHour, "count": n},
			}
		}
	}

	// 3. Cooldown between consecutive executions.
	if rb.CooldownMinutes > 0 && !in.BypassCooldown {
		window := now.Add(-time.Duration(rb.CooldownMinutes) * time.Minute)
		n, err := g.store.Executions.CountStartedSince(ctx, rb.ID, window)
		if err != nil {
			return fmt.Errorf("failed to count executions for cooldown: %w", err)
		}
		if n > 0 {
			return &DenialError{
				Kind:    DenialInCooldown,
				Message: fmt.Sprintf("runbook ran within the last %d minutes", rb.CooldownMinutes),
				Details: models.AnyMap{"runbook_id": rb.ID, "cooldown_minutes": rb.CooldownMinutes},
			}
		}
	}

	// 4. Blackout windows.
	if !in.BypassBlackout {
		windows, err := g.store.Blackouts.ListEnabled(ctx)
		if err != nil {
			return fmt.Errorf("failed to list blackout windows: %w", err)
		}
		for i := range windows {
			w := &windows[i]
			active, err := WindowActive(w, now)
			if err != nil {
				slog.Warn("Skipping unevaluable blackout window", "window_id", w.ID, "error", err)
				continue
			}
			if active && w.Covers(in.Mode, rb.ID) {
				return &DenialError{
					Kind:    DenialBlackout,
					Message: fmt.Sprintf("blackout window %q is active", w.Name),
					Details: models.AnyMap{"window_id": w.ID, "window_name": w.Name},
				}
			}
		}
	}

	return nil
}

// releaseProbe frees any half-open probe slot bound to the execution; a
// later gate may have denied after the breaker stage claimed it.
func (g *Gate) releaseProbe(ctx context.Context, executionID string) {
	if executionID == "" {
		return
	}
	if err := g.store.Breakers.ReleaseProbe(ctx, executionID); err != nil {
		slog.Error("Failed to release breaker probe", "execution_id", executionID, "error", err)
	}
}

func (g *Gate) auditDenial(in CheckInput, denial *DenialError) {
	details := models.AnyMap{
		"runbook_id": in.Runbook.ID,
		"kind":       string(denial.Kind),
		"message":    denial.Message,
	}
	for k, v := range denial.Details {
		details[k] = v
	}
	g.rec.EmitActor(in.Actor, models.AuditGateDenied, "runbook_execution", in.ExecutionID, details)
}
