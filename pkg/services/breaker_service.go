package services

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// BreakerService exposes circuit breaker state and operator overrides.
// The state machine itself lives in pkg/safety; overrides route through
// it so transitions stay audited in one place.
type BreakerService struct {
	store    *store.Store
	breakers *safety.Breakers
}

// NewBreakerService creates a breaker service.
func NewBreakerService(st *store.Store, breakers *safety.Breakers) *BreakerService {
	if st == nil {
		panic("NewBreakerService: store must not be nil")
	}
	if breakers == nil {
		panic("NewBreakerService: breakers must not be nil")
	}
	return &BreakerService{store: st, breakers: breakers}
}

// GetForRunbook returns the breaker guarding a runbook. A runbook that
// never tripped reports a closed breaker with default thresholds.
func (s *BreakerService) GetForRunbook(ctx context.Context, runbookID string) (*models.CircuitBreaker, error) {
	if _, err := s.store.Runbooks.Get(ctx, runbookID); err != nil {
		return nil, err
	}
	return s.store.Breakers.GetOrCreate(ctx, models.ScopeRunbook, runbookID)
}

// List returns breakers, optionally narrowed to one state.
func (s *BreakerService) List(ctx context.Context, state models.BreakerState) ([]models.CircuitBreaker, error) {
	if state != "" && !state.IsValid() {
		return nil, NewValidationError("state", fmt.Sprintf("unknown breaker state %q", state))
	}
	return s.store.Breakers.List(ctx, state)
}

// Override forces a runbook's breaker into the given state. Forcing open
// with manuallyOpened set pins it there until another override; the
// elapsed-timer will not half-open it.
func (s *BreakerService) Override(ctx context.Context, runbookID string, state models.BreakerState, manuallyOpened bool, actor string) (*models.CircuitBreaker, error) {
	if !state.IsValid() {
		return nil, NewValidationError("state", fmt.Sprintf("unknown breaker state %q", state))
	}
	if manuallyOpened && state != models.BreakerOpen {
		return nil, NewValidationError("manually_opened", "only open breakers can be pinned")
	}
	if _, err := s.store.Runbooks.Get(ctx, runbookID); err != nil {
		return nil, err
	}
	return s.breakers.Override(ctx, models.ScopeRunbook, runbookID, state, manuallyOpened, actor)
}
