package services

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// BlackoutService manages blackout windows.
type BlackoutService struct {
	store    *store.Store
	recorder *audit.Recorder
}

// NewBlackoutService creates a blackout service. recorder may be nil.
func NewBlackoutService(st *store.Store, recorder *audit.Recorder) *BlackoutService {
	if st == nil {
		panic("NewBlackoutService: store must not be nil")
	}
	return &BlackoutService{store: st, recorder: recorder}
}

// List returns all blackout windows with their current activity state
// resolved against the wall clock.
func (s *BlackoutService) List(ctx context.Context) ([]models.BlackoutWindow, error) {
	return s.store.Blackouts.List(ctx)
}

// Get returns one window by id.
func (s *BlackoutService) Get(ctx context.Context, id string) (*models.BlackoutWindow, error) {
	return s.store.Blackouts.Get(ctx, id)
}

// Create validates and stores a new blackout window.
func (s *BlackoutService) Create(ctx context.Context, w *models.BlackoutWindow, actor string) (*models.BlackoutWindow, error) {
	if err := validateBlackout(w); err != nil {
		return nil, err
	}
	if err := s.store.Blackouts.Create(ctx, w); err != nil {
		return nil, err
	}
	s.audit(actor, models.AuditResourceCreated, w.ID, w.Name)
	return w, nil
}

// Update validates and rewrites a blackout window.
func (s *BlackoutService) Update(ctx context.Context, w *models.BlackoutWindow, actor string) (*models.BlackoutWindow, error) {
	if w.ID == "" {
		return nil, NewValidationError("id", "id is required")
	}
	if err := validateBlackout(w); err != nil {
		return nil, err
	}
	if err := s.store.Blackouts.Update(ctx, w); err != nil {
		return nil, err
	}
	s.audit(actor, models.AuditResourceUpdated, w.ID, w.Name)
	return w, nil
}

// Delete removes a blackout window.
func (s *BlackoutService) Delete(ctx context.Context, id, actor string) error {
	w, err := s.store.Blackouts.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Blackouts.Delete(ctx, id); err != nil {
		return err
	}
	s.audit(actor, models.AuditResourceDeleted, id, w.Name)
	return nil
}

func (s *BlackoutService) audit(actor, action, id, name string) {
	if s.recorder == nil {
		return
	}
	s.recorder.EmitActor(actor, action, "blackout_window", id, models.AnyMap{"name": name})
}

// validateBlackout checks structure, then probes the window through the
// same evaluation the gate uses, so a window that would error at check
// time is rejected at write time.
func validateBlackout(w *models.BlackoutWindow) error {
	if w.Name == "" {
		return NewValidationError("name", "name is required")
	}
	if !w.Recurrence.IsValid() {
		return NewValidationError("recurrence", fmt.Sprintf("unknown recurrence %q", w.Recurrence))
	}
	if w.AppliesTo == "" {
		w.AppliesTo = models.AppliesAll
	}
	if !w.AppliesTo.IsValid() {
		return NewValidationError("applies_to", fmt.Sprintf("unknown applicability %q", w.AppliesTo))
	}

	switch w.Recurrence {
	case models.RecurrenceOnce:
		if w.StartTime == nil || w.EndTime == nil {
			return NewValidationError("start_time", "once windows need start_time and end_time")
		}
		if !w.EndTime.After(*w.StartTime) {
			return NewValidationError("end_time", "end_time must be after start_time")
		}
	case models.RecurrenceWeekly:
		if len(w.DaysOfWeek) == 0 {
			return NewValidationError("days_of_week", "weekly windows need days_of_week")
		}
		for _, d := range w.DaysOfWeek {
			if d < 0 || d > 6 {
				return NewValidationError("days_of_week", "days are 0 (Sunday) through 6 (Saturday)")
			}
		}
	case models.RecurrenceMonthly:
		if len(w.DaysOfMonth) == 0 {
			return NewValidationError("days_of_month", "monthly windows need days_of_month")
		}
		for _, d := range w.DaysOfMonth {
			if d < 1 || d > 31 {
				return NewValidationError("days_of_month", "days are 1 through 31")
			}
		}
	}

	if _, err := safety.WindowActive(w, time.Now()); err != nil {
		return NewValidationError("window", err.Error())
	}
	return nil
}
