// Package intake receives monitoring webhooks and turns them into stored
// alerts and, through the rules and trigger engines, into pending runbook
// executions. Ingest is synchronous up to the enqueue; evaluation runs on
// a small worker pool so a slow rule set or analysis call never holds up
// the webhook response.
package intake

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/events"
	"github.com/codeready-toolchain/remedy/pkg/llm"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/services"
	"github.com/codeready-toolchain/remedy/pkg/store"
	"github.com/codeready-toolchain/remedy/pkg/triggers"
)

const (
	// evalQueueSize bounds the evaluation backlog. Producers block when it
	// fills; alerts are already persisted by then, so backpressure delays
	// evaluation without losing data.
	evalQueueSize = 512

	// evalWorkers drains the evaluation queue. Evaluation is cheap
	// (pattern matching plus a few store reads), two workers keep up with
	// webhook bursts while bounding store fan-out.
	evalWorkers = 2

	// evalTimeout bounds one evaluation pass, trigger stamping included.
	evalTimeout = 30 * time.Second

	// analysisTimeout bounds one background analysis call plus writeback.
	analysisTimeout = 2 * time.Minute

	// lockShards is the size of the fingerprint lock table.
	lockShards = 64
)

// Pipeline is the alert intake path: validate, dedup-upsert, enqueue
// evaluation. One instance runs per pod.
type Pipeline struct {
	store      *store.Store
	executions *services.ExecutionService
	matcher    *triggers.Matcher
	analyzer   *llm.Client
	events     *events.Publisher
	recorder   *audit.Recorder

	queue chan evaluation
	locks [lockShards]sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	workers  sync.WaitGroup
	tasks    sync.WaitGroup
}

type evaluation struct {
	alertID string
}

// NewPipeline creates the intake pipeline. The analyzer, publisher, and
// recorder may be nil; those side effects are skipped.
func NewPipeline(
	st *store.Store,
	executions *services.ExecutionService,
	matcher *triggers.Matcher,
	analyzer *llm.Client,
	publisher *events.Publisher,
	recorder *audit.Recorder,
) *Pipeline {
	if st == nil {
		panic("intake: store is required")
	}
	if executions == nil {
		panic("intake: execution service is required")
	}
	if matcher == nil {
		panic("intake: trigger matcher is required")
	}
	return &Pipeline{
		store:      st,
		executions: executions,
		matcher:    matcher,
		analyzer:   analyzer,
		events:     publisher,
		recorder:   recorder,
		queue:      make(chan evaluation, evalQueueSize),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the evaluation workers.
func (p *Pipeline) Start() {
	for i := 0; i < evalWorkers; i++ {
		p.workers.Add(1)
		go p.runWorker(i)
	}
	slog.Info("Alert intake pipeline started",
		"workers", evalWorkers,
		"queue_size", cap(p.queue))
}

// Stop signals the workers, waits for them to drain the queue, then waits
// for in-flight analysis tasks. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.workers.Wait()
	p.tasks.Wait()
	slog.Info("Alert intake pipeline stopped")
}

// Ingest validates a webhook payload, upserts every alert in it, and
// enqueues each for evaluation. Returns the stored alert ids in payload
// order. Validation failures wrap ErrInvalidPayload; a store failure
// returns after the alerts already processed were stored and enqueued, so
// a sender retry is safe.
func (p *Pipeline) Ingest(ctx context.Context, payload *WebhookPayload) ([]string, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(payload.Alerts))
	for i := range payload.Alerts {
		alert := payload.Alerts[i].ToAlert(payload.Status)
		stored, err := p.ingestOne(ctx, alert)
		if err != nil {
			return nil, fmt.Errorf("ingesting alert %q: %w", alert.Name, err)
		}
		ids = append(ids, stored.ID)
	}
	return ids, nil
}

// ingestOne upserts one alert under its fingerprint lock and enqueues its
// evaluation. The lock also covers the update event and audit record, so
// deliveries of the same fingerprint observe arrival order end to end.
func (p *Pipeline) ingestOne(ctx context.Context, alert *models.Alert) (*models.Alert, error) {
	lock := p.fingerprintLock(alert.Fingerprint)
	lock.Lock()
	stored, err := p.store.Alerts.Upsert(ctx, alert)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	p.publishAlertUpdated(ctx, stored)
	p.audit(models.AuditAlertReceived, "alert", stored.ID, models.AnyMap{
		"fingerprint":      stored.Fingerprint,
		"alert_name":       stored.Name,
		"severity":         stored.Severity,
		"status":           string(stored.Status),
		"occurrence_count": stored.OccurrenceCount,
	})
	lock.Unlock()

	slog.Debug("Alert ingested",
		"alert_id", stored.ID,
		"alert_name", stored.Name,
		"fingerprint", stored.Fingerprint,
		"occurrence_count", stored.OccurrenceCount)

	select {
	case p.queue <- evaluation{alertID: stored.ID}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopCh:
		// Shutting down. The alert is stored; the next delivery or a
		// restart re-evaluates it.
	}
	return stored, nil
}

func (p *Pipeline) fingerprintLock(fingerprint string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(fingerprint))
	return &p.locks[h.Sum32()%lockShards]
}

func (p *Pipeline) runWorker(id int) {
	defer p.workers.Done()
	log := slog.With("component", "intake", "worker_id", id)
	log.Debug("Evaluation worker started")

	for {
		select {
		case <-p.stopCh:
			// Drain whatever is already queued before exiting so stored
			// alerts do not sit unevaluated until the next delivery.
			for {
				select {
				case ev := <-p.queue:
					p.process(ev, log)
				default:
					log.Debug("Evaluation worker stopped")
					return
				}
			}
		case ev := <-p.queue:
			p.process(ev, log)
		}
	}
}

func (p *Pipeline) process(ev evaluation, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	alert, err := p.store.Alerts.Get(ctx, ev.alertID)
	if err != nil {
		log.Error("Failed to load alert for evaluation", "alert_id", ev.alertID, "error", err)
		return
	}
	p.evaluateAlert(ctx, alert, log)
}

func (p *Pipeline) publishAlertUpdated(ctx context.Context, alert *models.Alert) {
	if p.events == nil {
		return
	}
	err := p.events.PublishAlertUpdated(ctx, events.AlertUpdatedPayload{
		AlertID:         alert.ID,
		Fingerprint:     alert.Fingerprint,
		Name:            alert.Name,
		Severity:        alert.Severity,
		Status:          alert.Status,
		OccurrenceCount: alert.OccurrenceCount,
	})
	if err != nil {
		slog.Warn("Failed to publish alert update", "alert_id", alert.ID, "error", err)
	}
}

func (p *Pipeline) audit(action, resourceType, resourceID string, details models.AnyMap) {
	if p.recorder == nil {
		return
	}
	p.recorder.Emit(action, resourceType, resourceID, details)
}
