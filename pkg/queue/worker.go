package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/notify"
	"github.com/codeready-toolchain/remedy/pkg/orchestrator"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and runs executions.
type Worker struct {
	id        string
	podID     string
	store     *store.Store
	config    *config.QueueConfig
	runner    Runner
	publisher *events.Publisher
	recorder  *audit.Recorder
	notifier  *notify.Service
	breakers  *safety.Breakers
	pool      ExecutionRegistry
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu                  sync.RWMutex
	status              WorkerStatus
	currentExecutionID  string
	executionsProcessed int
	lastActivity        time.Time
}

// ExecutionRegistry is the subset of WorkerPool used by Worker to expose
// the running execution for API-triggered cancellation.
type ExecutionRegistry interface {
	Register(executionID string, cancel context.CancelFunc)
	Unregister(executionID string)
}

// NewWorker creates a new queue worker.
// publisher may be nil (streaming disabled); recorder may be nil (audit
// disabled, tests only); notifier is nil-safe by construction; breakers
// may be nil (no breaker bookkeeping, tests only).
func NewWorker(id, podID string, st *store.Store, cfg *config.QueueConfig, runner Runner, pool ExecutionRegistry,
	publisher *events.Publisher, recorder *audit.Recorder, notifier *notify.Service, breakers *safety.Breakers) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		store:        st,
		config:       cfg,
		runner:       runner,
		publisher:    publisher,
		recorder:     recorder,
		notifier:     notifier,
		breakers:     breakers,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                  w.id,
		Status:              w.status,
		CurrentExecutionID:  w.currentExecutionID,
		ExecutionsProcessed: w.executionsProcessed,
		LastActivity:        w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoExecutions) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing execution", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims an execution, and runs it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// 1. Check global capacity (best-effort; racy with concurrent workers but
	//    bounded by WorkerCount and mitigated by poll jitter).
	running, err := w.store.Executions.CountRunning(ctx)
	if err != nil {
		return fmt.Errorf("checking running executions: %w", err)
	}
	if running >= w.config.MaxConcurrentExecutions {
		return ErrAtCapacity
	}

	// 2. Claim the oldest runnable execution.
	ex, err := w.store.Executions.ClaimNext(ctx, w.podID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoExecutions
		}
		return fmt.Errorf("claiming execution: %w", err)
	}

	log := slog.With("execution_id", ex.ID, "runbook_id", ex.RunbookID, "worker_id", w.id)
	log.Info("Execution claimed", "mode", ex.Mode, "dry_run", ex.IsDryRun)

	w.audit(models.AuditExecutionStarted, ex.ID, models.AnyMap{
		"runbook_id": ex.RunbookID,
		"pod_id":     w.podID,
		"mode":       string(ex.Mode),
		"dry_run":    ex.IsDryRun,
	})

	w.setStatus(WorkerStatusWorking, ex.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	// 3. Bound the whole run, steps and rollbacks included.
	runCtx, cancelRun := context.WithTimeout(ctx, w.config.ExecutionTimeout)
	defer cancelRun()

	// 4. Register the cancel function for API-triggered cancellation.
	w.pool.Register(ex.ID, cancelRun)
	defer w.pool.Unregister(ex.ID)

	// 5. Heartbeat while the run is in flight.
	heartbeatCtx, cancelHeartbeat := context.WithCancel(runCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, ex.ID)

	// 6. Run. The runner writes step records and live events itself and
	//    always hands back a terminal result; normalize guards the contract.
	result := w.normalize(runCtx, w.runner.Run(runCtx, ex))

	// 7. Stop the heartbeat before the terminal write.
	cancelHeartbeat()

	// 8. Persist terminal state (background context; runCtx is often
	//    already cancelled or expired at this point).
	w.finalize(context.Background(), ex, result, log)

	w.mu.Lock()
	w.executionsProcessed++
	w.mu.Unlock()

	log.Info("Execution finished", "status", result.Status)
	return nil
}

// normalize guards against a nil or statusless result, mapping context
// errors onto the matching terminal status.
func (w *Worker) normalize(runCtx context.Context, result *orchestrator.Result) *orchestrator.Result {
	if result == nil {
		result = &orchestrator.Result{}
	}
	if result.Status != "" {
		return result
	}
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = models.StatusTimeout
		result.Error = fmt.Errorf("execution exceeded %v", w.config.ExecutionTimeout)
	case errors.Is(runCtx.Err(), context.Canceled):
		result.Status = models.StatusCancelled
		result.Error = context.Canceled
	default:
		result.Status = models.StatusFailed
		result.Error = fmt.Errorf("runner returned no status")
	}
	return result
}

// finalize writes the terminal row and emits the events, audit record,
// notification, and breaker bookkeeping that go with it.
func (w *Worker) finalize(ctx context.Context, ex *models.RunbookExecution, result *orchestrator.Result, log *slog.Logger) {
	errMsg := ""
	if result.Error != nil {
		errMsg = result.Error.Error()
	}

	if err := w.store.Executions.Finish(ctx, ex.ID, result.Status, errMsg, result.Extracted); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// The row is already terminal: cancelled through the API, or
			// recovered as an orphan. That outcome is canonical and this
			// result is discarded, breaker bookkeeping included.
			log.Warn("Execution was finalized elsewhere", "status", result.Status)
			return
		}
		log.Error("Failed to finalize execution", "status", result.Status, "error", err)
		return
	}

	w.publishTerminal(ctx, ex, result, errMsg)

	details := models.AnyMap{
		"runbook_id": ex.RunbookID,
		"status":     string(result.Status),
		"dry_run":    ex.IsDryRun,
	}
	if errMsg != "" {
		details["error"] = errMsg
	}
	for k, v := range result.Details {
		details[k] = v
	}
	w.audit(models.AuditExecutionFinished, ex.ID, details)

	w.notifyFinished(ctx, ex, result, errMsg)
	w.recordBreakers(ctx, ex, result)
}

// runHeartbeat refreshes the execution's liveness timestamp until stopped.
// Orphan detection treats a stale heartbeat as a dead pod.
func (w *Worker) runHeartbeat(ctx context.Context, executionID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Executions.Heartbeat(ctx, executionID, w.podID); err != nil {
				slog.Warn("Heartbeat update failed", "execution_id", executionID, "error", err)
			}
		}
	}
}

// recordBreakers feeds the outcome into the circuit breakers. Dry runs
// never count: they touch no drivers and hold no probe slot.
func (w *Worker) recordBreakers(ctx context.Context, ex *models.RunbookExecution, result *orchestrator.Result) {
	if ex.IsDryRun || w.breakers == nil {
		return
	}
	switch result.Status {
	case models.StatusCompleted:
		w.breakers.RecordSuccess(ctx, ex.RunbookID, ex.ID)
	case models.StatusFailed, models.StatusTimeout:
		w.breakers.RecordFailure(ctx, ex.RunbookID, ex.ID)
	case models.StatusCancelled:
		// No outcome to report; free any half-open probe slot bound to
		// this execution at admission.
		if err := w.store.Breakers.ReleaseProbe(ctx, ex.ID); err != nil {
			slog.Error("Failed to release breaker probe slot", "execution_id", ex.ID, "error", err)
		}
	}
}

// publishTerminal publishes the terminal execution status event.
// Non-blocking: errors are logged.
func (w *Worker) publishTerminal(ctx context.Context, ex *models.RunbookExecution, result *orchestrator.Result, errMsg string) {
	if w.publisher == nil {
		return
	}
	payload := events.ExecutionStatusPayload{
		ExecutionID:  ex.ID,
		RunbookID:    ex.RunbookID,
		RunbookName:  result.RunbookName,
		Status:       result.Status,
		Mode:         ex.Mode,
		IsDryRun:     ex.IsDryRun,
		ErrorMessage: errMsg,
	}
	if ex.AlertID != nil {
		payload.AlertID = *ex.AlertID
	}
	if err := w.publisher.PublishExecutionStatus(ctx, payload); err != nil {
		slog.Warn("Failed to publish execution status",
			"execution_id", ex.ID, "status", result.Status, "error", err)
	}
}

// notifyFinished sends the terminal Slack notification, threading it under
// the start message when the runner resolved a thread.
func (w *Worker) notifyFinished(ctx context.Context, ex *models.RunbookExecution, result *orchestrator.Result, errMsg string) {
	var duration time.Duration
	if ex.StartedAt != nil {
		duration = time.Since(*ex.StartedAt)
	}
	w.notifier.NotifyExecutionFinished(ctx, notify.ExecutionFinishedInput{
		ExecutionID:  ex.ID,
		RunbookName:  result.RunbookName,
		Status:       result.Status,
		Duration:     duration,
		ErrorMessage: errMsg,
		ThreadTS:     result.ThreadTS,
	})
}

func (w *Worker) audit(action, executionID string, details models.AnyMap) {
	if w.recorder == nil {
		return
	}
	w.recorder.Emit(action, "runbook_execution", executionID, details)
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker health fields.
func (w *Worker) setStatus(status WorkerStatus, executionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentExecutionID = executionID
	w.lastActivity = time.Now()
}
