package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/notify"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// WorkerPool manages the queue workers of one pod.
type WorkerPool struct {
	podID     string
	store     *store.Store
	config    *config.QueueConfig
	runner    Runner
	publisher *events.Publisher
	recorder  *audit.Recorder
	notifier  *notify.Service
	breakers  *safety.Breakers
	workers   []*Worker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Cancel registry: execution_id → cancel function
	active  map[string]context.CancelFunc
	mu      sync.RWMutex
	started bool

	// Orphan detection state
	orphans orphanState
}

// NewWorkerPool creates a new worker pool. The optional dependencies
// follow the same rules as NewWorker.
func NewWorkerPool(podID string, st *store.Store, cfg *config.QueueConfig, runner Runner,
	publisher *events.Publisher, recorder *audit.Recorder, notifier *notify.Service, breakers *safety.Breakers) *WorkerPool {
	return &WorkerPool{
		podID:     podID,
		store:     st,
		config:    cfg,
		runner:    runner,
		publisher: publisher,
		recorder:  recorder,
		notifier:  notifier,
		breakers:  breakers,
		workers:   make([]*Worker, 0, cfg.WorkerCount),
		stopCh:    make(chan struct{}),
		active:    make(map[string]context.CancelFunc),
	}
}

// Start recovers executions this pod abandoned in a previous run, then
// spawns the worker goroutines and the orphan detection background task.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	if err := p.recoverStartupOrphans(ctx); err != nil {
		return fmt.Errorf("recovering startup orphans: %w", err)
	}

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.store, p.config, p.runner, p,
			p.publisher, p.recorder, p.notifier, p.breakers)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits up to the graceful shutdown
// budget for running executions to finish. Executions still running when
// the budget elapses keep their claim and are recovered as orphans after
// the next start.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeExecutionIDs()
	if len(active) > 0 {
		slog.Info("Waiting for running executions to finish",
			"count", len(active),
			"execution_ids", active)
	}

	done := make(chan struct{})
	go func() {
		for _, worker := range p.workers {
			worker.Stop()
		}
		close(done)
	}()

	// Signal orphan detection to stop
	p.stopOnce.Do(func() { close(p.stopCh) })

	budget := p.config.GracefulShutdownTimeout
	if budget <= 0 {
		budget = 5 * time.Minute
	}
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(budget):
		slog.Warn("Shutdown budget elapsed, abandoning running executions",
			"execution_ids", p.activeExecutionIDs())
	}
	p.wg.Wait()
}

// Register stores a cancel function for API-triggered cancellation.
func (p *WorkerPool) Register(executionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[executionID] = cancel
}

// Unregister removes the cancel function when processing ends.
func (p *WorkerPool) Unregister(executionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, executionID)
}

// Cancel triggers context cancellation for an execution on this pod.
// Returns true if the execution was found and cancelled on this pod.
func (p *WorkerPool) Cancel(executionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.active[executionID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.store.Executions.CountQueued(ctx)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check",
			"pod_id", p.podID, "error", errQ)
	}

	running, errR := p.store.Executions.CountRunning(ctx)
	if errR != nil {
		slog.Error("Failed to query running executions for health check",
			"pod_id", p.podID, "error", errR)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	// DB errors affect health status - if we can't reach the DB, we're not healthy
	dbHealthy := errQ == nil && errR == nil
	isHealthy := len(p.workers) > 0 && running <= p.config.MaxConcurrentExecutions && dbHealthy

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastScan
	orphansRecovered := p.orphans.recovered
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errR != nil {
			dbError = fmt.Sprintf("running executions query failed: %v", errR)
		}
	}

	return &PoolHealth{
		IsHealthy:         isHealthy,
		DBReachable:       dbHealthy,
		DBError:           dbError,
		PodID:             p.podID,
		ActiveWorkers:     activeWorkers,
		TotalWorkers:      len(p.workers),
		RunningExecutions: running,
		MaxConcurrent:     p.config.MaxConcurrentExecutions,
		QueueDepth:        queueDepth,
		WorkerStats:       workerStats,
		LastOrphanScan:    lastOrphanScan,
		OrphansRecovered:  orphansRecovered,
	}
}

// activeExecutionIDs returns IDs of executions running on this pod (for logging).
func (p *WorkerPool) activeExecutionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}
