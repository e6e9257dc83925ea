// Package orchestrator drives claimed runbook executions to a terminal
// state: it resolves the target server, renders each step against the
// execution context, dispatches through the executor drivers, extracts
// outputs for later steps, and rolls back completed steps when a step
// fails without continue_on_fail.
//
// The engine owns everything between claim and terminal persistence.
// Step records, output chunks, and audit entries are written
// progressively while the execution runs; the queue worker persists only
// the final Result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/executor"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/notify"
	"github.com/codeready-toolchain/remedy/pkg/store"
	"github.com/codeready-toolchain/remedy/pkg/template"
)

// chunkBuffer bounds the per-execution output stream. When the consumer
// falls behind, chunks are dropped rather than stalling the driver; the
// full text still lands on the step record.
const chunkBuffer = 256

// Store is the persistence surface the engine needs: entity loads for
// context building, credential decryption at the driver boundary, and
// step progress writes. *store.Store is adapted via FromStore.
type Store interface {
	Runbook(ctx context.Context, id string) (*models.Runbook, error)
	Alert(ctx context.Context, id string) (*models.Alert, error)
	Server(ctx context.Context, id string) (*models.ServerCredential, error)
	FindTarget(ctx context.Context, value string) (*models.ServerCredential, error)
	Secret(sc *models.ServerCredential) ([]byte, error)
	CreateStep(ctx context.Context, step *models.StepExecution) error
	UpdateStep(ctx context.Context, step *models.StepExecution) error
}

// FromStore adapts the SQL store to the engine's Store surface.
func FromStore(st *store.Store) Store {
	return storeAdapter{st}
}

type storeAdapter struct {
	st *store.Store
}

func (a storeAdapter) Runbook(ctx context.Context, id string) (*models.Runbook, error) {
	return a.st.Runbooks.Get(ctx, id)
}

func (a storeAdapter) Alert(ctx context.Context, id string) (*models.Alert, error) {
	return a.st.Alerts.Get(ctx, id)
}

func (a storeAdapter) Server(ctx context.Context, id string) (*models.ServerCredential, error) {
	return a.st.Servers.Get(ctx, id)
}

func (a storeAdapter) FindTarget(ctx context.Context, value string) (*models.ServerCredential, error) {
	return a.st.Servers.FindTarget(ctx, value)
}

func (a storeAdapter) Secret(sc *models.ServerCredential) ([]byte, error) {
	return a.st.Servers.DecryptSecret(sc)
}

func (a storeAdapter) CreateStep(ctx context.Context, step *models.StepExecution) error {
	return a.st.Executions.CreateStep(ctx, step)
}

func (a storeAdapter) UpdateStep(ctx context.Context, step *models.StepExecution) error {
	return a.st.Executions.UpdateStep(ctx, step)
}

// EventPublisher is the subset of the event bus the engine emits on.
// May be nil (streaming disabled).
type EventPublisher interface {
	PublishExecutionStatus(ctx context.Context, payload events.ExecutionStatusPayload) error
	PublishStepStatus(ctx context.Context, payload events.StepStatusPayload) error
	PublishOutputChunk(ctx context.Context, payload events.OutputChunkPayload) error
}

// Result is the terminal outcome of one execution. Intermediate state
// (step records, output chunks, audit events) was already written while
// the engine ran; the worker persists only this final status.
type Result struct {
	Status      models.ExecutionStatus
	Error       error
	Extracted   models.AnyMap
	RunbookName string        // for terminal events and notifications
	ThreadTS    string        // Slack thread from the start notification
	Details     models.AnyMap // extra audit detail, e.g. a panic trace
}

// Engine executes runbook executions that a queue worker has claimed.
type Engine struct {
	store    Store
	drivers  *executor.Registry
	events   EventPublisher
	recorder *audit.Recorder
	notifier *notify.Service
}

// NewEngine creates an execution engine.
// publisher may be nil (streaming disabled); recorder may be nil (audit
// disabled, tests only); notifier is nil-safe by construction.
func NewEngine(st Store, drivers *executor.Registry, publisher EventPublisher, recorder *audit.Recorder, notifier *notify.Service) *Engine {
	if st == nil {
		panic("orchestrator: store is required")
	}
	if drivers == nil {
		panic("orchestrator: driver registry is required")
	}
	return &Engine{
		store:    st,
		drivers:  drivers,
		events:   publisher,
		recorder: recorder,
		notifier: notifier,
	}
}

// Run drives one claimed execution to a terminal state and returns the
// status the worker should persist. The execution row is already in
// running. Panics are captured: the execution fails with a synthetic
// error, completed steps are rolled back, and the trace is attached to
// the audit detail.
func (e *Engine) Run(ctx context.Context, ex *models.RunbookExecution) (res *Result) {
	log := slog.With("execution_id", ex.ID, "runbook_id", ex.RunbookID)

	r := &run{
		engine:   e,
		ex:       ex,
		log:      log,
		profiles: map[string]*models.ServerCredential{},
	}
	r.startChunkPump()
	defer r.stopChunkPump()

	defer func() {
		if rec := recover(); rec != nil {
			trace := string(debug.Stack())
			log.Error("Execution panicked", "panic", rec, "stack", trace)
			r.rollbackAll(context.WithoutCancel(ctx))
			res = r.terminal(models.StatusFailed, fmt.Errorf("internal error: %v", rec))
			res.Details = models.AnyMap{"panic": fmt.Sprint(rec), "stack": trace}
		}
	}()

	if err := r.prepare(ctx); err != nil {
		log.Error("Execution preparation failed", "error", err)
		return r.terminal(models.StatusFailed, err)
	}

	r.publishExecutionStatus(ctx, models.StatusRunning, "")
	r.threadTS = e.notifier.NotifyExecutionStarted(ctx, notify.ExecutionStartedInput{
		ExecutionID: ex.ID,
		RunbookName: r.runbook.Name,
		AlertName:   r.alertName(),
		DryRun:      ex.IsDryRun,
	})

	return r.execute(ctx)
}

// run carries the mutable state of one execution through the step loop.
type run struct {
	engine *Engine
	ex     *models.RunbookExecution
	log    *slog.Logger

	runbook *models.Runbook
	alert   *models.Alert
	server  *models.ServerCredential
	tctx    template.Context

	// profiles caches api credential profile lookups across steps.
	profiles map[string]*models.ServerCredential

	// completed collects successfully finished steps for rollback.
	completed []completedStep

	threadTS string

	chunks    chan events.OutputChunkPayload
	chunkDone chan struct{}
}

// completedStep remembers what a rollback needs: the step definition, its
// persisted record, and the already-rendered working directory and
// environment from the forward run.
type completedStep struct {
	step     *models.RunbookStep
	record   *models.StepExecution
	rendered *renderedStep
}

// prepare loads the runbook, the triggering alert if any, resolves the
// target server, and builds the template context.
func (r *run) prepare(ctx context.Context) error {
	rb, err := r.engine.store.Runbook(ctx, r.ex.RunbookID)
	if err != nil {
		return fmt.Errorf("loading runbook: %w", err)
	}
	r.runbook = rb

	if r.ex.AlertID != nil {
		alert, err := r.engine.store.Alert(ctx, *r.ex.AlertID)
		if err != nil {
			return fmt.Errorf("loading alert: %w", err)
		}
		r.alert = alert
	}

	if err := r.resolveServer(ctx); err != nil {
		return err
	}

	r.tctx = template.Build(r.alert, r.server, r.ex, r.ex.Variables, r.ex.ExtractedValues)
	return nil
}

// resolveServer picks the target server: the alert label when
// target_from_alert is set, otherwise the execution's explicit server or
// the runbook default.
func (r *run) resolveServer(ctx context.Context) error {
	if r.runbook.TargetFromAlert {
		if r.alert == nil {
			return fmt.Errorf("ServerUnresolved: runbook %q targets from alert but execution has no alert", r.runbook.Name)
		}
		value := r.alert.Labels[r.runbook.TargetAlertLabel]
		if value == "" {
			return fmt.Errorf("ServerUnresolved: alert has no %q label", r.runbook.TargetAlertLabel)
		}
		server, err := r.engine.store.FindTarget(ctx, value)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("ServerUnresolved: no server matches %q", value)
			}
			return fmt.Errorf("resolving target %q: %w", value, err)
		}
		r.server = server
		return nil
	}

	serverID := r.ex.ServerID
	if serverID == nil {
		serverID = r.runbook.DefaultServerID
	}
	if serverID == nil {
		return errors.New("ServerUnresolved: execution has no server and runbook has no default")
	}
	server, err := r.engine.store.Server(ctx, *serverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("ServerUnresolved: server %s does not exist", *serverID)
		}
		return fmt.Errorf("loading server: %w", err)
	}
	r.server = server
	return nil
}

// terminal builds the result handed back to the worker.
func (r *run) terminal(status models.ExecutionStatus, err error) *Result {
	res := &Result{Status: status, Error: err, ThreadTS: r.threadTS}
	if r.tctx != nil {
		res.Extracted = r.tctx.Extracted()
	}
	if r.runbook != nil {
		res.RunbookName = r.runbook.Name
	}
	return res
}

// interrupted maps a context error to the matching terminal status:
// deadline exceeded is an execution timeout, anything else is an
// operator cancellation.
func (r *run) interrupted(err error) *Result {
	status := models.StatusCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		status = models.StatusTimeout
	}
	return r.terminal(status, err)
}

func (r *run) alertName() string {
	if r.alert == nil {
		return ""
	}
	return r.alert.Name
}

// publishExecutionStatus emits an execution.status event. Failures are
// logged, never propagated.
func (r *run) publishExecutionStatus(ctx context.Context, status models.ExecutionStatus, errorMessage string) {
	if r.engine.events == nil {
		return
	}
	payload := events.ExecutionStatusPayload{
		Type:         events.EventTypeExecutionStatus,
		ExecutionID:  r.ex.ID,
		RunbookID:    r.ex.RunbookID,
		Status:       status,
		Mode:         r.ex.Mode,
		IsDryRun:     r.ex.IsDryRun,
		ErrorMessage: errorMessage,
		Timestamp:    time.Now().Format(time.RFC3339Nano),
	}
	if r.runbook != nil {
		payload.RunbookName = r.runbook.Name
	}
	if r.ex.AlertID != nil {
		payload.AlertID = *r.ex.AlertID
	}
	if err := r.engine.events.PublishExecutionStatus(ctx, payload); err != nil {
		r.log.Warn("Failed to publish execution status", "status", status, "error", err)
	}
}

// startChunkPump starts the goroutine that forwards streamed output to
// the event bus. Driver sinks enqueue without blocking; when the buffer
// is full the chunk is dropped because the full text is persisted on the
// step record at completion.
func (r *run) startChunkPump() {
	if r.engine.events == nil {
		return
	}
	r.chunks = make(chan events.OutputChunkPayload, chunkBuffer)
	r.chunkDone = make(chan struct{})
	go func() {
		defer close(r.chunkDone)
		for payload := range r.chunks {
			if err := r.engine.events.PublishOutputChunk(context.Background(), payload); err != nil {
				r.log.Debug("Failed to publish output chunk", "error", err)
			}
		}
	}()
}

func (r *run) stopChunkPump() {
	if r.chunks == nil {
		return
	}
	close(r.chunks)
	<-r.chunkDone
	r.chunks = nil
}

// sink returns the executor sink streaming one step's output, or nil
// when streaming is disabled.
func (r *run) sink(rec *models.StepExecution) executor.Sink {
	if r.chunks == nil {
		return nil
	}
	return func(chunk executor.Chunk) {
		payload := events.OutputChunkPayload{
			Type:            events.EventTypeOutputChunk,
			ExecutionID:     r.ex.ID,
			StepExecutionID: rec.ID,
			Stream:          chunk.Stream,
			Data:            chunk.Data,
			Timestamp:       time.Now().Format(time.RFC3339Nano),
		}
		select {
		case r.chunks <- payload:
		default:
		}
	}
}

// audit enqueues a system audit event if a recorder is wired.
func (e *Engine) audit(action, resourceType, resourceID string, details models.AnyMap) {
	if e.recorder == nil {
		return
	}
	e.recorder.Emit(action, resourceType, resourceID, details)
}
