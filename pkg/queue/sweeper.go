package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/notify"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/services"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// Sweeper runs the periodic time-based work of one pod: firing due
// schedules, expiring overdue approvals, moving elapsed breakers to
// half-open, announcing blackout edges, and retention cleanup. Every pod
// runs one; each concern is guarded by a compare-and-swap or an
// idempotent write, so concurrent sweeps never double-fire.
type Sweeper struct {
	store      *store.Store
	executions *services.ExecutionService
	breakers   *safety.Breakers
	publisher  *events.Publisher
	recorder   *audit.Recorder
	notifier   *notify.Service
	interval   time.Duration
	retention  *config.RetentionConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// blackoutActive remembers the last observed state per window so only
	// edges are announced.
	blackoutActive map[string]bool
	lastCleanup    time.Time
}

// NewSweeper creates the background sweeper. The execution service is
// required; breakers, publisher, recorder, and notifier follow the same
// optional rules as the workers. retention may be nil (cleanup disabled).
func NewSweeper(st *store.Store, executions *services.ExecutionService, breakers *safety.Breakers,
	publisher *events.Publisher, recorder *audit.Recorder, notifier *notify.Service,
	cfg *config.QueueConfig, retention *config.RetentionConfig) *Sweeper {
	if st == nil {
		panic("queue: sweeper store is required")
	}
	if executions == nil {
		panic("queue: sweeper execution service is required")
	}
	return &Sweeper{
		store:          st,
		executions:     executions,
		breakers:       breakers,
		publisher:      publisher,
		recorder:       recorder,
		notifier:       notifier,
		interval:       cfg.SweepInterval,
		retention:      retention,
		stopCh:         make(chan struct{}),
		blackoutActive: make(map[string]bool),
	}
}

// Start begins the sweep loop in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the sweeper to stop and waits for the current pass to end.
// It is safe to call Stop multiple times.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	slog.Info("Sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			slog.Info("Sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("Context cancelled, sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one pass. The concerns are independent; a failure in one
// does not block the others.
func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()
	s.fireDueSchedules(ctx, now)
	s.expireApprovals(ctx, now)
	if s.breakers != nil {
		s.breakers.HalfOpenElapsed(ctx)
	}
	s.announceBlackoutEdges(ctx, now)
	s.cleanup(ctx, now)
}

// fireDueSchedules claims and fires schedules whose next run has passed.
// MarkFired compare-and-swaps on the observed next_run_at, so exactly one
// pod wins each tick.
func (s *Sweeper) fireDueSchedules(ctx context.Context, now time.Time) {
	due, err := s.store.Schedules.ListDue(ctx, now)
	if err != nil {
		slog.Error("Failed to list due schedules", "error", err)
		return
	}
	for i := range due {
		s.fireSchedule(ctx, &due[i], now)
	}
}

func (s *Sweeper) fireSchedule(ctx context.Context, sched *models.Schedule, now time.Time) {
	log := slog.With("schedule_id", sched.ID, "schedule_name", sched.Name)

	// ListDue filters on next_run_at, so it is always set here.
	seen := *sched.NextRunAt

	next, err := sched.NextAfter(now)
	if err != nil {
		// A schedule that cannot compute its next run would stay due
		// forever; disable it instead of hot-looping.
		log.Error("Failed to compute next run, disabling schedule", "error", err)
		if derr := s.store.Schedules.Disable(ctx, sched.ID); derr != nil {
			log.Error("Failed to disable schedule", "error", derr)
		}
		return
	}

	claimed, err := s.store.Schedules.MarkFired(ctx, sched.ID, seen, now, next)
	if err != nil {
		log.Error("Failed to mark schedule fired", "error", err)
		return
	}
	if !claimed {
		// Another pod won this tick.
		return
	}

	// Misfires collapse into a single firing: MarkFired already advanced
	// next_run_at past every missed tick. Beyond the grace the stale tick
	// is skipped rather than run.
	grace := time.Duration(sched.MisfireGraceSeconds) * time.Second
	if grace > 0 && now.Sub(seen) > grace {
		log.Warn("Schedule misfired beyond grace, skipping run",
			"due_at", seen, "late_by", now.Sub(seen), "grace", grace)
		s.audit(models.AuditScheduleSkipped, "schedule", sched.ID, models.AnyMap{
			"schedule_name": sched.Name,
			"due_at":        seen.Format(time.RFC3339),
			"reason":        "misfire grace exceeded",
		})
		s.disableIfOneShot(ctx, sched)
		return
	}

	if sched.MaxInstances > 0 {
		running, err := s.store.Schedules.CountRunningInstances(ctx, sched.RunbookID)
		if err != nil {
			log.Error("Failed to count running instances", "error", err)
			return
		}
		if running >= sched.MaxInstances {
			log.Warn("Schedule skipped, max instances reached",
				"running", running, "max_instances", sched.MaxInstances)
			s.audit(models.AuditScheduleSkipped, "schedule", sched.ID, models.AnyMap{
				"schedule_name": sched.Name,
				"reason":        "max instances reached",
				"running":       running,
			})
			s.disableIfOneShot(ctx, sched)
			return
		}
	}

	rb, err := s.store.Runbooks.Get(ctx, sched.RunbookID)
	if err != nil {
		log.Error("Failed to load scheduled runbook", "runbook_id", sched.RunbookID, "error", err)
		return
	}

	ex, err := s.executions.Create(ctx, services.CreateExecutionInput{
		Runbook:   rb,
		Mode:      models.ModeAuto,
		Actor:     models.ActorSystem,
		ServerID:  sched.ServerID,
		Variables: sched.Variables,
		Details: models.AnyMap{
			"schedule_id":   sched.ID,
			"schedule_name": sched.Name,
		},
	})
	if err != nil {
		if denial, ok := safety.AsDenial(err); ok {
			log.Info("Scheduled execution denied by safety gate",
				"kind", denial.Kind, "reason", denial.Message)
		} else {
			log.Error("Failed to create scheduled execution", "error", err)
		}
		s.disableIfOneShot(ctx, sched)
		return
	}

	log.Info("Schedule fired", "execution_id", ex.ID, "next_run", next)
	s.audit(models.AuditScheduleFired, "schedule", sched.ID, models.AnyMap{
		"schedule_name": sched.Name,
		"runbook_id":    sched.RunbookID,
		"execution_id":  ex.ID,
	})
	s.disableIfOneShot(ctx, sched)
}

// disableIfOneShot turns off a date schedule once its moment has passed.
func (s *Sweeper) disableIfOneShot(ctx context.Context, sched *models.Schedule) {
	if sched.ScheduleType != models.ScheduleDate {
		return
	}
	if err := s.store.Schedules.Disable(ctx, sched.ID); err != nil {
		slog.Error("Failed to disable one-shot schedule", "schedule_id", sched.ID, "error", err)
	}
}

// expireApprovals times out executions whose approval window has closed.
func (s *Sweeper) expireApprovals(ctx context.Context, now time.Time) {
	expired, err := s.store.Executions.ExpireApprovals(ctx, now)
	if err != nil {
		slog.Error("Failed to expire approvals", "error", err)
		return
	}

	for i := range expired {
		ex := &expired[i]
		slog.Info("Approval window elapsed, execution timed out",
			"execution_id", ex.ID, "runbook_id", ex.RunbookID)

		// The gate binds half-open probe slots at admission; an expired
		// approval never ran, so give the slot back.
		if err := s.store.Breakers.ReleaseProbe(ctx, ex.ID); err != nil {
			slog.Error("Failed to release breaker probe slot",
				"execution_id", ex.ID, "error", err)
		}

		runbookName := ""
		if rb, err := s.store.Runbooks.Get(ctx, ex.RunbookID); err == nil {
			runbookName = rb.Name
		}

		s.audit(models.AuditExecutionTimeout, "runbook_execution", ex.ID, models.AnyMap{
			"runbook_id": ex.RunbookID,
			"reason":     "approval window elapsed",
		})
		s.publishStatus(ctx, ex, runbookName, "approval window elapsed")
		s.notifier.NotifyExecutionFinished(ctx, notify.ExecutionFinishedInput{
			ExecutionID:  ex.ID,
			RunbookName:  runbookName,
			Status:       models.StatusTimeout,
			ErrorMessage: "approval window elapsed",
		})
	}
}

// announceBlackoutEdges publishes an event whenever a blackout window
// starts or stops covering the current instant.
func (s *Sweeper) announceBlackoutEdges(ctx context.Context, now time.Time) {
	windows, err := s.store.Blackouts.ListEnabled(ctx)
	if err != nil {
		slog.Error("Failed to list blackout windows", "error", err)
		return
	}

	seen := make(map[string]bool, len(windows))
	for i := range windows {
		w := &windows[i]
		active, err := safety.WindowActive(w, now)
		if err != nil {
			slog.Warn("Skipping unevaluable blackout window", "window_id", w.ID, "error", err)
			continue
		}
		seen[w.ID] = true

		prev, known := s.blackoutActive[w.ID]
		if known && prev == active {
			continue
		}
		s.blackoutActive[w.ID] = active
		if !known && !active {
			// A quiet window on first sight is not an edge.
			continue
		}

		slog.Info("Blackout window state changed",
			"window_id", w.ID, "window_name", w.Name, "active", active)
		if s.publisher != nil {
			if err := s.publisher.PublishBlackoutStatus(ctx, events.BlackoutStatusPayload{
				WindowID:   w.ID,
				WindowName: w.Name,
				Active:     active,
			}); err != nil {
				slog.Warn("Failed to publish blackout status", "window_id", w.ID, "error", err)
			}
		}
	}

	// Forget windows that were deleted or disabled.
	for id := range s.blackoutActive {
		if !seen[id] {
			delete(s.blackoutActive, id)
		}
	}
}

// cleanup enforces the retention policy. It runs at most once per
// CleanupInterval regardless of the sweep frequency; the deletes are
// idempotent, so overlapping pods only cost redundant statements.
func (s *Sweeper) cleanup(ctx context.Context, now time.Time) {
	if s.retention == nil || now.Sub(s.lastCleanup) < s.retention.CleanupInterval {
		return
	}
	s.lastCleanup = now

	if n, err := s.store.Events.DeleteBefore(ctx, now.Add(-s.retention.EventTTL)); err != nil {
		slog.Error("Failed to delete expired stream events", "error", err)
	} else if n > 0 {
		slog.Info("Expired stream events deleted", "count", n)
	}

	cutoff := now.AddDate(0, 0, -s.retention.ExecutionRetentionDays)
	if n, err := s.store.Executions.DeleteTerminalBefore(ctx, cutoff); err != nil {
		slog.Error("Failed to delete old executions", "error", err)
	} else if n > 0 {
		slog.Info("Old executions deleted", "count", n, "cutoff", cutoff)
	}

	// Alerts are deliberately exempt: the engine never deletes an alert
	// row, whatever its age or status.
	cutoff = now.AddDate(0, 0, -s.retention.AuditRetentionDays)
	if n, err := s.store.Audit.DeleteBefore(ctx, cutoff); err != nil {
		slog.Error("Failed to delete old audit events", "error", err)
	} else if n > 0 {
		slog.Info("Old audit events deleted", "count", n, "cutoff", cutoff)
	}
}

func (s *Sweeper) publishStatus(ctx context.Context, ex *models.RunbookExecution, runbookName, errMsg string) {
	if s.publisher == nil {
		return
	}
	payload := events.ExecutionStatusPayload{
		ExecutionID:  ex.ID,
		RunbookID:    ex.RunbookID,
		RunbookName:  runbookName,
		Status:       models.StatusTimeout,
		Mode:         ex.Mode,
		IsDryRun:     ex.IsDryRun,
		ErrorMessage: errMsg,
	}
	if ex.AlertID != nil {
		payload.AlertID = *ex.AlertID
	}
	if err := s.publisher.PublishExecutionStatus(ctx, payload); err != nil {
		slog.Warn("Failed to publish execution status", "execution_id", ex.ID, "error", err)
	}
}

func (s *Sweeper) audit(action, resourceType, resourceID string, details models.AnyMap) {
	if s.recorder == nil {
		return
	}
	s.recorder.Emit(action, resourceType, resourceID, details)
}
