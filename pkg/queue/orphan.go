package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu        sync.Mutex
	lastScan  time.Time
	recovered int
}

// runOrphanDetection periodically scans for executions whose claiming pod
// stopped heartbeating. All pods run this independently — recovery is
// idempotent because Finish rejects rows that are already terminal.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds running executions with stale heartbeats
// and fails them.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().Add(-p.config.OrphanThreshold)

	orphans, err := p.store.Executions.FindStaleRunning(ctx, threshold)
	if err != nil {
		return fmt.Errorf("querying stale executions: %w", err)
	}

	if len(orphans) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("Detected orphaned executions", "count", len(orphans))

	recovered := 0
	for i := range orphans {
		ex := &orphans[i]
		lastHeartbeat := "unknown"
		if ex.LastHeartbeatAt != nil {
			lastHeartbeat = ex.LastHeartbeatAt.Format(time.RFC3339)
		}
		msg := fmt.Sprintf("orphaned: no heartbeat from pod %s since %s", ex.ClaimedBy, lastHeartbeat)

		if err := p.failOrphan(ctx, ex, msg); err != nil {
			slog.Error("Failed to recover orphaned execution",
				"execution_id", ex.ID, "error", err)
			continue
		}
		slog.Warn("Orphaned execution marked as failed",
			"execution_id", ex.ID, "old_pod_id", ex.ClaimedBy, "last_heartbeat", lastHeartbeat)
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastScan = time.Now()
	p.orphans.recovered += recovered
	p.orphans.mu.Unlock()

	return nil
}

// recoverStartupOrphans fails executions this pod left running when it
// previously crashed. Runs once during Start, before the workers begin
// claiming. A pod that dies without restarting is covered by the periodic
// heartbeat scan instead.
func (p *WorkerPool) recoverStartupOrphans(ctx context.Context) error {
	orphans, err := p.store.Executions.FindPodRunning(ctx, p.podID)
	if err != nil {
		return fmt.Errorf("querying executions claimed by pod: %w", err)
	}
	if len(orphans) == 0 {
		return nil
	}

	slog.Warn("Found startup orphans from previous run",
		"pod_id", p.podID, "count", len(orphans))

	for i := range orphans {
		ex := &orphans[i]
		msg := fmt.Sprintf("orphaned: pod %s restarted while execution was running", p.podID)
		if err := p.failOrphan(ctx, ex, msg); err != nil {
			slog.Error("Failed to recover startup orphan",
				"execution_id", ex.ID, "error", err)
			continue
		}
		slog.Info("Startup orphan recovered", "execution_id", ex.ID)
	}

	return nil
}

// failOrphan drives one abandoned execution to failed, with the event,
// audit record, and breaker bookkeeping a worker finalize would produce.
func (p *WorkerPool) failOrphan(ctx context.Context, ex *models.RunbookExecution, msg string) error {
	if err := p.store.Executions.Finish(ctx, ex.ID, models.StatusFailed, msg, nil); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Another pod recovered it first.
			return nil
		}
		return err
	}

	if p.publisher != nil {
		payload := events.ExecutionStatusPayload{
			ExecutionID:  ex.ID,
			RunbookID:    ex.RunbookID,
			Status:       models.StatusFailed,
			Mode:         ex.Mode,
			IsDryRun:     ex.IsDryRun,
			ErrorMessage: msg,
		}
		if ex.AlertID != nil {
			payload.AlertID = *ex.AlertID
		}
		if err := p.publisher.PublishExecutionStatus(ctx, payload); err != nil {
			slog.Warn("Failed to publish orphan status", "execution_id", ex.ID, "error", err)
		}
	}

	if p.recorder != nil {
		p.recorder.Emit(models.AuditExecutionFinished, "runbook_execution", ex.ID, models.AnyMap{
			"runbook_id": ex.RunbookID,
			"status":     string(models.StatusFailed),
			"dry_run":    ex.IsDryRun,
			"orphaned":   true,
			"error":      msg,
		})
	}

	// An orphaned run is a failed remediation: feed the breakers so a
	// crashing driver host cannot keep a broken runbook firing. Recording
	// also frees any half-open probe slot bound to this execution.
	if p.breakers != nil && !ex.IsDryRun {
		p.breakers.RecordFailure(ctx, ex.RunbookID, ex.ID)
	}

	return nil
}
