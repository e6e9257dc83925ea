// Package queue claims queued executions and drives them to a terminal
// state. Each pod runs a pool of polling workers plus a sweeper goroutine
// for time-based work: due schedules, approval deadlines, breaker probe
// timers, blackout edges, and retention cleanup.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/orchestrator"
)

// Sentinel errors for queue polling.
var (
	// ErrNoExecutions indicates the queue holds nothing claimable.
	ErrNoExecutions = errors.New("no executions available")

	// ErrAtCapacity indicates the global concurrent execution limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// Runner drives one claimed execution to its terminal result.
//
// The runner owns the run itself: it resolves targets and templates,
// walks the steps, and writes step records, output chunks, and live
// events progressively while it runs. The worker handles only claiming,
// heartbeat, the terminal row, and breaker bookkeeping.
type Runner interface {
	Run(ctx context.Context, ex *models.RunbookExecution) *orchestrator.Result
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy         bool           `json:"is_healthy"`
	DBReachable       bool           `json:"db_reachable"`
	DBError           string         `json:"db_error,omitempty"`
	PodID             string         `json:"pod_id"`
	ActiveWorkers     int            `json:"active_workers"`
	TotalWorkers      int            `json:"total_workers"`
	RunningExecutions int            `json:"running_executions"`
	MaxConcurrent     int            `json:"max_concurrent"`
	QueueDepth        int            `json:"queue_depth"`
	WorkerStats       []WorkerHealth `json:"worker_stats"`
	LastOrphanScan    time.Time      `json:"last_orphan_scan"`
	OrphansRecovered  int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                  string       `json:"id"`
	Status              WorkerStatus `json:"status"`
	CurrentExecutionID  string       `json:"current_execution_id,omitempty"`
	ExecutionsProcessed int          `json:"executions_processed"`
	LastActivity        time.Time    `json:"last_activity"`
}
