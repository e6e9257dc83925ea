// Package audit provides the append-only decision log. Producers enqueue
// events to a background writer; the enqueue never drops: when the buffer
// is full, callers block until the writer catches up.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

const (
	defaultQueueSize     = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = time.Second
)

// Recorder buffers audit events and writes them in batches. Events from
// one producer goroutine reach the log in the order they were recorded.
type Recorder struct {
	store         *store.Store
	ch            chan models.AuditEvent
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
}

// NewRecorder creates an audit recorder with the given buffer size; zero
// means the default.
func NewRecorder(st *store.Store, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Recorder{
		store:         st,
		ch:            make(chan models.AuditEvent, queueSize),
		stopCh:        make(chan struct{}),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop flushes buffered events and waits for the writer to finish.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Record enqueues one event. The fast path never blocks; a full buffer
// blocks the caller instead of dropping the event.
func (r *Recorder) Record(ev models.AuditEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Actor == "" {
		ev.Actor = models.ActorSystem
	}

	select {
	case r.ch <- ev:
		return
	default:
	}

	slog.Warn("Audit queue full, blocking producer", "action", ev.Action)
	select {
	case r.ch <- ev:
	case <-r.stopCh:
		// Recorder is shutting down; write synchronously so the event is
		// not lost.
		r.append([]models.AuditEvent{ev})
	}
}

// Emit records a system-actor event.
func (r *Recorder) Emit(action, resourceType, resourceID string, details models.AnyMap) {
	r.Record(models.AuditEvent{
		Actor:        models.ActorSystem,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	})
}

// EmitActor records an event attributed to a user.
func (r *Recorder) EmitActor(actor, action, resourceType, resourceID string, details models.AnyMap) {
	r.Record(models.AuditEvent{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]models.AuditEvent, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.append(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-r.ch:
			batch = append(batch, ev)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stopCh:
			// Drain whatever producers managed to enqueue before Stop.
			for {
				select {
				case ev := <-r.ch:
					batch = append(batch, ev)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) append(batch []models.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.Audit.Append(ctx, batch); err != nil {
		slog.Error("Failed to persist audit batch", "count", len(batch), "error", err)
	}
}
