// Package services implements the business operations behind the API:
// gated execution creation shared by triggers, schedules and operators,
// approval and cancellation, and CRUD over the configuration entities.
// Services validate input, translate outcomes into sentinel errors, and
// leave HTTP concerns to the api package.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/notify"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// ExecutionService owns runbook executions up to the point a queue worker
// claims them: gated creation, approval, operator cancellation, and reads.
type ExecutionService struct {
	store    *store.Store
	gate     *safety.Gate
	recorder *audit.Recorder
	events   *events.Publisher
	notifier *notify.Service
}

// NewExecutionService creates an execution service. The recorder and
// publisher may be nil; the notifier is nil-safe by construction.
func NewExecutionService(st *store.Store, gate *safety.Gate, recorder *audit.Recorder, publisher *events.Publisher, notifier *notify.Service) *ExecutionService {
	if st == nil {
		panic("NewExecutionService: store must not be nil")
	}
	if gate == nil {
		panic("NewExecutionService: gate must not be nil")
	}
	return &ExecutionService{
		store:    st,
		gate:     gate,
		recorder: recorder,
		events:   publisher,
		notifier: notifier,
	}
}

// CreateExecutionInput carries everything needed to enqueue one execution.
// The runbook comes in full because every caller has already loaded it.
type CreateExecutionInput struct {
	Runbook   *models.Runbook
	Mode      models.ExecutionMode
	Actor     string
	ServerID  *string
	AlertID   *string
	TriggerID *string

	// AlertName feeds notifications; empty when no alert is involved.
	AlertName string

	Variables models.AnyMap
	DryRun    bool

	// Bypass flags skip individual gates. The gate audits every use.
	BypassCooldown bool
	BypassBlackout bool

	// Details is merged into the execution.created audit record, e.g. the
	// schedule that fired.
	Details models.AnyMap
}

// Create runs the safety gates and enqueues a new execution in pending or
// pending_approval. Trigger matches, schedule ticks and API execute
// requests all go through here, so every path is gated and audited the
// same way.
//
// Dry runs skip the gates entirely: they never reach a driver, are
// excluded from the rate and cooldown counters, and must not claim a
// half-open probe slot that only a real run's outcome would release. They
// never wait for approval either.
func (s *ExecutionService) Create(ctx context.Context, in CreateExecutionInput) (*models.RunbookExecution, error) {
	rb := in.Runbook
	if rb == nil {
		return nil, NewValidationError("runbook", "runbook is required")
	}
	if !rb.Enabled {
		return nil, NewValidationError("runbook", fmt.Sprintf("runbook %q is disabled", rb.Name))
	}
	if !in.Mode.IsValid() {
		return nil, NewValidationError("mode", fmt.Sprintf("unknown execution mode %q", in.Mode))
	}
	if in.Actor == "" {
		in.Actor = models.ActorSystem
	}

	executionID := uuid.NewString()
	mode := in.Mode
	status := models.StatusPending
	var approvalDue *time.Time
	if !in.DryRun && rb.NeedsApproval() {
		status = models.StatusPendingApproval
		due := time.Now().UTC().Add(time.Duration(rb.ApprovalTimeoutMinutes) * time.Minute)
		approvalDue = &due
		// An unattended execution that pauses for a human is no longer
		// fully automatic.
		if mode == models.ModeAuto {
			mode = models.ModeSemiAuto
		}
	}

	if !in.DryRun {
		if err := s.gate.Check(ctx, safety.CheckInput{
			Runbook:        rb,
			Mode:           mode,
			ExecutionID:    executionID,
			Actor:          in.Actor,
			BypassCooldown: in.BypassCooldown,
			BypassBlackout: in.BypassBlackout,
		}); err != nil {
			return nil, err
		}
	}

	ex := &models.RunbookExecution{
		ID:             executionID,
		RunbookID:      rb.ID,
		RunbookVersion: rb.Version,
		ServerID:       in.ServerID,
		AlertID:        in.AlertID,
		TriggerID:      in.TriggerID,
		Status:         status,
		Mode:           mode,
		InitiatedBy:    in.Actor,
		ApprovalDueAt:  approvalDue,
		Variables:      in.Variables,
		IsDryRun:       in.DryRun,
	}
	if err := s.store.Executions.Create(ctx, ex); err != nil {
		// The gate may have bound a half-open probe slot to this id.
		if !in.DryRun {
			s.releaseProbe(ctx, executionID)
		}
		return nil, fmt.Errorf("creating execution: %w", err)
	}

	details := models.AnyMap{
		"runbook_id":   rb.ID,
		"runbook_name": rb.Name,
		"mode":         string(mode),
		"status":       string(status),
		"dry_run":      in.DryRun,
	}
	if in.AlertID != nil {
		details["alert_id"] = *in.AlertID
	}
	if in.TriggerID != nil {
		details["trigger_id"] = *in.TriggerID
	}
	for k, v := range in.Details {
		details[k] = v
	}
	s.audit(in.Actor, models.AuditExecutionCreated, ex.ID, details)
	s.publishStatus(ctx, ex, rb.Name)

	if ex.Status == models.StatusPendingApproval {
		s.publishApprovalPending(ctx, ex, rb.Name)
		s.notifier.NotifyApprovalPending(ctx, notify.ApprovalPendingInput{
			ExecutionID: ex.ID,
			RunbookName: rb.Name,
			AlertName:   in.AlertName,
			DueAt:       *approvalDue,
		})
	}

	slog.Info("Execution created",
		"execution_id", ex.ID,
		"runbook_id", rb.ID,
		"mode", mode,
		"status", status,
		"dry_run", in.DryRun)
	return ex, nil
}

// ExecuteRunbookInput is an operator's execute request.
type ExecuteRunbookInput struct {
	RunbookID string
	Actor     string

	// Roles are the caller's group memberships. The bypass flags are
	// honored only for holders of models.RoleAdmin.
	Roles []string

	ServerID       *string
	AlertID        *string
	DryRun         bool
	Variables      models.AnyMap
	BypassCooldown bool
	BypassBlackout bool
}

// ExecuteRunbook creates a manual execution of a runbook. The optional
// server and alert references are resolved up front so a typo fails the
// request instead of the execution.
func (s *ExecutionService) ExecuteRunbook(ctx context.Context, in ExecuteRunbookInput) (*models.RunbookExecution, error) {
	if (in.BypassCooldown || in.BypassBlackout) && !hasAnyRole(in.Roles, []string{models.RoleAdmin}) {
		return nil, fmt.Errorf("%w: gate bypass requires the %q role", ErrForbidden, models.RoleAdmin)
	}

	rb, err := s.store.Runbooks.Get(ctx, in.RunbookID)
	if err != nil {
		return nil, err
	}

	var alertName string
	if in.AlertID != nil {
		alert, err := s.store.Alerts.Get(ctx, *in.AlertID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewValidationError("alert_id", fmt.Sprintf("alert %q not found", *in.AlertID))
		}
		if err != nil {
			return nil, fmt.Errorf("loading alert: %w", err)
		}
		alertName = alert.Name
	}
	if in.ServerID != nil {
		if _, err := s.store.Servers.Get(ctx, *in.ServerID); errors.Is(err, store.ErrNotFound) {
			return nil, NewValidationError("server_id", fmt.Sprintf("server %q not found", *in.ServerID))
		} else if err != nil {
			return nil, fmt.Errorf("loading server: %w", err)
		}
	}

	return s.Create(ctx, CreateExecutionInput{
		Runbook:        rb,
		Mode:           models.ModeManual,
		Actor:          in.Actor,
		ServerID:       in.ServerID,
		AlertID:        in.AlertID,
		AlertName:      alertName,
		Variables:      in.Variables,
		DryRun:         in.DryRun,
		BypassCooldown: in.BypassCooldown,
		BypassBlackout: in.BypassBlackout,
	})
}

// Get returns an execution with its step records attached.
func (s *ExecutionService) Get(ctx context.Context, id string) (*models.RunbookExecution, error) {
	ex, err := s.store.Executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.Executions.ListSteps(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading steps: %w", err)
	}
	ex.Steps = steps
	return ex, nil
}

// List returns executions matching the filter, newest first.
func (s *ExecutionService) List(ctx context.Context, filter store.ExecutionFilter) ([]models.RunbookExecution, error) {
	return s.store.Executions.List(ctx, filter)
}

// Approve moves a pending_approval execution to approved so a worker can
// claim it. When the runbook restricts approval to specific roles the
// caller must hold one of them. An approval arriving after the window
// elapsed is rejected; the sweeper times the execution out.
func (s *ExecutionService) Approve(ctx context.Context, id, actor string, roles []string) (*models.RunbookExecution, error) {
	ex, err := s.store.Executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rb, err := s.store.Runbooks.Get(ctx, ex.RunbookID)
	if err != nil {
		return nil, fmt.Errorf("loading runbook: %w", err)
	}
	if len(rb.ApprovalRoles) > 0 && !hasAnyRole(roles, rb.ApprovalRoles) {
		return nil, fmt.Errorf("%w: approval requires one of roles %v", ErrForbidden, []string(rb.ApprovalRoles))
	}
	if ex.ApprovalDueAt != nil && time.Now().After(*ex.ApprovalDueAt) {
		return nil, ErrApprovalExpired
	}

	if err := s.store.Executions.Approve(ctx, id, actor); err != nil {
		return nil, err
	}

	s.audit(actor, models.AuditExecutionApproved, id, models.AnyMap{
		"runbook_id":   rb.ID,
		"runbook_name": rb.Name,
	})
	ex, err = s.store.Executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, ex, rb.Name)

	slog.Info("Execution approved", "execution_id", id, "approved_by", actor)
	return ex, nil
}

// Cancel marks an execution cancelled. For rows still in the queue this
// is the whole story. For running executions the API layer additionally
// cancels the execution context through the worker pool on this pod; a
// worker on another pod discovers the terminal row when its finalize is
// rejected and discards its result.
func (s *ExecutionService) Cancel(ctx context.Context, id, actor string) (*models.RunbookExecution, error) {
	ex, err := s.store.Executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ex.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: execution is already %s", store.ErrInvalidTransition, ex.Status)
	}

	if err := s.store.Executions.Cancel(ctx, id, actor); err != nil {
		return nil, err
	}
	// A cancelled execution never reports a breaker outcome, so give back
	// any half-open probe slot bound at creation.
	s.releaseProbe(ctx, id)

	s.audit(actor, models.AuditExecutionCancel, id, models.AnyMap{
		"runbook_id":      ex.RunbookID,
		"previous_status": string(ex.Status),
	})
	ex, err = s.store.Executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, ex, "")

	slog.Info("Execution cancelled", "execution_id", id, "cancelled_by", actor)
	return ex, nil
}

func (s *ExecutionService) releaseProbe(ctx context.Context, executionID string) {
	if err := s.store.Breakers.ReleaseProbe(ctx, executionID); err != nil {
		slog.Error("Failed to release breaker probe slot", "execution_id", executionID, "error", err)
	}
}

func (s *ExecutionService) publishStatus(ctx context.Context, ex *models.RunbookExecution, runbookName string) {
	if s.events == nil {
		return
	}
	payload := events.ExecutionStatusPayload{
		ExecutionID:  ex.ID,
		RunbookID:    ex.RunbookID,
		RunbookName:  runbookName,
		Status:       ex.Status,
		Mode:         ex.Mode,
		IsDryRun:     ex.IsDryRun,
		ErrorMessage: ex.ErrorMessage,
	}
	if ex.AlertID != nil {
		payload.AlertID = *ex.AlertID
	}
	if err := s.events.PublishExecutionStatus(ctx, payload); err != nil {
		slog.Warn("Failed to publish execution status", "execution_id", ex.ID, "error", err)
	}
}

func (s *ExecutionService) publishApprovalPending(ctx context.Context, ex *models.RunbookExecution, runbookName string) {
	if s.events == nil || ex.ApprovalDueAt == nil {
		return
	}
	payload := events.ApprovalPendingPayload{
		ExecutionID: ex.ID,
		RunbookID:   ex.RunbookID,
		RunbookName: runbookName,
		DueAt:       ex.ApprovalDueAt.Format(time.RFC3339),
	}
	if ex.AlertID != nil {
		payload.AlertID = *ex.AlertID
	}
	if err := s.events.PublishApprovalPending(ctx, payload); err != nil {
		slog.Warn("Failed to publish approval pending", "execution_id", ex.ID, "error", err)
	}
}

func (s *ExecutionService) audit(actor, action, resourceID string, details models.AnyMap) {
	if s.recorder == nil {
		return
	}
	s.recorder.EmitActor(actor, action, "runbook_execution", resourceID, details)
}

// hasAnyRole reports whether the caller holds at least one required role.
func hasAnyRole(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
