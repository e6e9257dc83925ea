package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// Schedule defaults applied on create when the caller leaves them unset.
const (
	defaultMisfireGraceSeconds = 300
	defaultMaxInstances        = 1
)

// ScheduleService manages runbook schedules. The queue sweeper fires
// them; this service only validates definitions and keeps next_run_at
// primed.
type ScheduleService struct {
	store    *store.Store
	recorder *audit.Recorder
}

// NewScheduleService creates a schedule service. recorder may be nil.
func NewScheduleService(st *store.Store, recorder *audit.Recorder) *ScheduleService {
	if st == nil {
		panic("NewScheduleService: store must not be nil")
	}
	return &ScheduleService{store: st, recorder: recorder}
}

// List returns all schedules.
func (s *ScheduleService) List(ctx context.Context) ([]models.Schedule, error) {
	return s.store.Schedules.List(ctx)
}

// Get returns one schedule by id.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.Schedule, error) {
	return s.store.Schedules.Get(ctx, id)
}

// Create validates a schedule, primes its first fire time, and stores it.
func (s *ScheduleService) Create(ctx context.Context, sched *models.Schedule, actor string) (*models.Schedule, error) {
	if sched.MisfireGraceSeconds == 0 {
		sched.MisfireGraceSeconds = defaultMisfireGraceSeconds
	}
	if sched.MaxInstances == 0 {
		sched.MaxInstances = defaultMaxInstances
	}
	if err := s.validate(ctx, sched); err != nil {
		return nil, err
	}
	if err := s.prime(sched); err != nil {
		return nil, err
	}
	if err := s.store.Schedules.Create(ctx, sched); err != nil {
		return nil, err
	}
	s.audit(actor, models.AuditResourceCreated, sched.ID, sched.Name)
	return sched, nil
}

// Update validates and rewrites a schedule, recomputing its fire time
// from now.
func (s *ScheduleService) Update(ctx context.Context, sched *models.Schedule, actor string) (*models.Schedule, error) {
	if sched.ID == "" {
		return nil, NewValidationError("id", "id is required")
	}
	if err := s.validate(ctx, sched); err != nil {
		return nil, err
	}
	if err := s.prime(sched); err != nil {
		return nil, err
	}
	if err := s.store.Schedules.Update(ctx, sched); err != nil {
		return nil, err
	}
	s.audit(actor, models.AuditResourceUpdated, sched.ID, sched.Name)
	return sched, nil
}

// Delete removes a schedule.
func (s *ScheduleService) Delete(ctx context.Context, id, actor string) error {
	sched, err := s.store.Schedules.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Schedules.Delete(ctx, id); err != nil {
		return err
	}
	s.audit(actor, models.AuditResourceDeleted, id, sched.Name)
	return nil
}

func (s *ScheduleService) audit(actor, action, id, name string) {
	if s.recorder == nil {
		return
	}
	s.recorder.EmitActor(actor, action, "schedule", id, models.AnyMap{"name": name})
}

func (s *ScheduleService) validate(ctx context.Context, sched *models.Schedule) error {
	if sched.Name == "" {
		return NewValidationError("name", "name is required")
	}
	if !sched.ScheduleType.IsValid() {
		return NewValidationError("schedule_type", fmt.Sprintf("unknown schedule type %q", sched.ScheduleType))
	}
	if sched.MisfireGraceSeconds < 0 {
		return NewValidationError("misfire_grace_seconds", "must not be negative")
	}
	if sched.MaxInstances < 1 {
		return NewValidationError("max_instances", "must be at least 1")
	}
	if sched.ScheduleType == models.ScheduleDate && sched.RunAt != nil && sched.RunAt.Before(time.Now()) {
		return NewValidationError("run_at", "must be in the future")
	}

	if sched.RunbookID == "" {
		return NewValidationError("runbook_id", "runbook_id is required")
	}
	if _, err := s.store.Runbooks.Get(ctx, sched.RunbookID); errors.Is(err, store.ErrNotFound) {
		return NewValidationError("runbook_id", fmt.Sprintf("runbook %q not found", sched.RunbookID))
	} else if err != nil {
		return fmt.Errorf("loading runbook: %w", err)
	}
	if sched.ServerID != nil {
		if _, err := s.store.Servers.Get(ctx, *sched.ServerID); errors.Is(err, store.ErrNotFound) {
			return NewValidationError("server_id", fmt.Sprintf("server %q not found", *sched.ServerID))
		} else if err != nil {
			return fmt.Errorf("loading server: %w", err)
		}
	}
	return nil
}

// prime computes next_run_at from now. This also exercises the cron
// expression, so an unparseable one fails the write.
func (s *ScheduleService) prime(sched *models.Schedule) error {
	next, err := sched.NextAfter(time.Now().UTC())
	if err != nil {
		return NewValidationError("schedule", err.Error())
	}
	sched.NextRunAt = next
	return nil
}
