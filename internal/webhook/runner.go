// runner.go
//
// Detached execution of webhook events. The POST handler returns as soon as
// Dispatch is called; the event is processed in its own goroutine under a
// context that outlives the request. Wait drains in-flight tasks at shutdown.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/store"
)

// DefaultTaskTimeout bounds one detached task when none is configured.
const DefaultTaskTimeout = 60 * time.Second

// EventProcessor handles one event. Satisfied by *Processor.
type EventProcessor interface {
	Process(ctx context.Context, ev *Event) error
}

// EventLog records deliveries and their outcome. Satisfied by *store.PostgresStore.
// RecordWebhookEvent returns store.ErrDuplicateEvent for a redelivery.
type EventLog interface {
	RecordWebhookEvent(ctx context.Context, e *store.WebhookEvent) (int64, error)
	MarkWebhookEventProcessed(ctx context.Context, id int64, procErr error) error
}

// Runner starts one goroutine per event. Safe for concurrent use.
type Runner struct {
	proc    EventProcessor
	log     EventLog // nil = no event log
	timeout time.Duration

	wg sync.WaitGroup
}

// NewRunner returns a Runner. eventLog may be nil; timeout <= 0 uses DefaultTaskTimeout.
func NewRunner(proc EventProcessor, eventLog EventLog, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Runner{proc: proc, log: eventLog, timeout: timeout}
}

// Dispatch processes ev in the background and returns immediately.
// The task keeps ctx's values but not its cancellation, so it survives the
// request that delivered the event.
func (r *Runner) Dispatch(ctx context.Context, ev Event) {
	taskID := newTaskID()
	detached := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()
		r.run(ctx, taskID, &ev)
	}()
}

// run executes one task. Every failure ends here: logged with the event, never returned.
func (r *Runner) run(ctx context.Context, taskID string, ev *Event) {
	attrs := append([]any{"task_id", taskID}, ev.LogAttrs()...)
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("webhook task panicked", append(attrs, "panic", fmt.Sprint(p))...)
		}
	}()

	var eventID int64
	if r.log != nil {
		id, err := r.log.RecordWebhookEvent(ctx, toRecord(ev))
		switch {
		case errors.Is(err, store.ErrDuplicateEvent):
			slog.Info("webhook task skipped: duplicate delivery", attrs...)
			return
		case err != nil:
			// The event log is an audit trail; processing goes ahead without it.
			slog.Warn("webhook task: recording event failed", append(attrs, "error", err)...)
		default:
			eventID = id
		}
	}

	procErr := r.proc.Process(ctx, ev)
	if procErr != nil {
		slog.Error("webhook task failed", append(attrs, "error", procErr, "duration_ms", time.Since(start).Milliseconds())...)
	} else {
		slog.Info("webhook task done", append(attrs, "duration_ms", time.Since(start).Milliseconds())...)
	}

	if eventID != 0 {
		if err := r.log.MarkWebhookEventProcessed(ctx, eventID, procErr); err != nil {
			slog.Warn("webhook task: marking event processed failed", append(attrs, "event_id", eventID, "error", err)...)
		}
	}
}

// Wait blocks until every dispatched task has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for webhook tasks: %w", ctx.Err())
	}
}

func toRecord(ev *Event) *store.WebhookEvent {
	rec := &store.WebhookEvent{
		ObjectType:     ev.ObjectType,
		ObjectID:       ev.ObjectID,
		AspectType:     ev.AspectType,
		OwnerID:        ev.OwnerID,
		SubscriptionID: ev.SubscriptionID,
		EventTime:      ev.EventTime,
	}
	if len(ev.Updates) > 0 && json.Valid(ev.Updates) {
		rec.Updates = []byte(ev.Updates)
	}
	return rec
}

// newTaskID returns a time-ordered id for correlating a task's log lines.
func newTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}
