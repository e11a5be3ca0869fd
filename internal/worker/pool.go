package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minisource/evertask/internal/cancelreg"
	"github.com/minisource/evertask/internal/eventbus"
	"github.com/minisource/evertask/internal/logcapture"
	"github.com/minisource/evertask/internal/models"
	"github.com/minisource/evertask/internal/store"
	"github.com/minisource/evertask/internal/wqueue"
)

// Pool is one queue's worker pool: `parallelism` goroutines dequeuing from
// `queue`, each executing at most one task at a time (spec §4.4).
type Pool struct {
	queue       *wqueue.Queue
	parallelism int
	registry    *Registry
	store       store.Store
	bus         *eventbus.Bus
	cancels     *cancelreg.Registry
	log         *zap.Logger

	wg sync.WaitGroup
}

// NewPool wires a Pool to its dependencies. log may be nil (defaults to a
// no-op logger).
func NewPool(queue *wqueue.Queue, parallelism int, registry *Registry, st store.Store, bus *eventbus.Bus, cancels *cancelreg.Registry, log *zap.Logger) *Pool {
	if parallelism < 1 {
		parallelism = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		queue:       queue,
		parallelism: parallelism,
		registry:    registry,
		store:       st,
		bus:         bus,
		cancels:     cancels,
		log:         log,
	}
}

// Run starts `parallelism` worker goroutines and blocks until ctx is
// cancelled and every in-flight task returns.
func (p *Pool) Run(ctx context.Context) {
	p.wg.Add(p.parallelism)
	for i := 0; i < p.parallelism; i++ {
		go func() {
			defer p.wg.Done()
			p.loop(ctx)
		}()
	}
	<-ctx.Done()
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			return // ctx cancelled, or the queue was closed
		}
		p.execute(ctx, task)
	}
}

// execute runs one task to the end of this occurrence, including in-place
// retries: a terminal status, or WaitingQueue for a recurring task whose
// series continues.
// ctx is the pool's long-lived context (used for persistence so a cancelled
// or timed-out task's own execution context doesn't block writing its
// final status).
func (p *Pool) execute(ctx context.Context, task models.Task) {
	if p.cancels.TakeBlacklisted(task.ID) {
		// Cancelled while still sitting in this pool's queue, never started:
		// spec §4.4 step 1 ("if id is in the cancellation blacklist, skip").
		p.writeStatus(ctx, task.ID, models.StatusCancelled, "cancelled before execution")
		p.bus.Publish(eventbus.Event{
			Kind: eventbus.KindCancelled, TaskID: task.ID,
			RequestType: task.RequestType, QueueName: task.QueueName, OccurredUtc: time.Now().UTC(),
		})
		return
	}

	taskCtx, cancel := p.executionContext(ctx, task)
	p.cancels.Register(task.ID, cancel)
	defer p.cancels.Unregister(task.ID)
	defer cancel()

	p.writeStatus(ctx, task.ID, models.StatusInProgress, "")
	p.bus.Publish(eventbus.Event{
		Kind: eventbus.KindStarted, TaskID: task.ID,
		RequestType: task.RequestType, QueueName: task.QueueName, OccurredUtc: time.Now().UTC(),
	})

	sink := logcapture.New(task.ID, p.log)
	attempt := 0

	for {
		started := time.Now()
		outcome, runErr := p.invoke(taskCtx, task, sink)
		task.ExecutionTimeMs = time.Since(started).Milliseconds()

		p.recordRun(ctx, task.ID, outcome, runErr, task.ExecutionTimeMs)
		if logs := sink.Drain(); len(logs) > 0 {
			if err := p.store.AppendLogs(ctx, logs); err != nil {
				p.log.Warn("worker: failed to persist execution logs", zap.Error(err), zap.String("task_id", task.ID.String()))
			}
		}

		switch outcome {
		case models.RunStatusCompleted:
			if task.IsRecurring && task.NextRunUtc != nil {
				// Series continues: Dispatcher.OnDue already scheduled the
				// next occurrence before handing this one to the queue, so
				// the status written here must stay non-terminal or that
				// already-scheduled tick will find IsTerminal() and bail
				// without ever enqueuing it (spec §4.4 step 5).
				p.finish(ctx, task, models.StatusWaitingQueue, "", true, runErr)
				return
			}
			p.finish(ctx, task, models.StatusCompleted, "", true, runErr)
			return
		case models.RunStatusCancelled:
			p.finish(ctx, task, models.StatusCancelled, errString(runErr), false, runErr)
			return
		case models.RunStatusTimeout, models.RunStatusFailed:
			if attempt < task.MaxRetries {
				attempt++
				if !p.sleepForRetry(ctx, task) {
					return
				}
				continue
			}
			p.finish(ctx, task, models.StatusFailed, errString(runErr), false, runErr)
			return
		}
	}
}

func (p *Pool) executionContext(parent context.Context, task models.Task) (context.Context, context.CancelFunc) {
	if task.TimeoutMs > 0 {
		return context.WithTimeout(parent, time.Duration(task.TimeoutMs)*time.Millisecond)
	}
	return context.WithCancel(parent)
}

func (p *Pool) sleepForRetry(ctx context.Context, task models.Task) bool {
	delay := time.Duration(task.RetryDelayMs) * time.Millisecond
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// invoke runs one attempt, converting panics and context errors into a
// classified RunStatus.
func (p *Pool) invoke(taskCtx context.Context, task models.Task, sink *logcapture.Sink) (models.RunStatus, error) {
	fn, lookupErr := p.registry.Lookup(task.HandlerType)
	if lookupErr != nil {
		return models.RunStatusFailed, lookupErr
	}

	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panicked: %v", r)
			}
		}()
		return fn(taskCtx, task.Payload, sink)
	}()

	if runErr == nil {
		return models.RunStatusCompleted, nil
	}
	if errors.Is(taskCtx.Err(), context.Canceled) {
		return models.RunStatusCancelled, runErr
	}
	if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		return models.RunStatusTimeout, runErr
	}
	return models.RunStatusFailed, runErr
}

func (p *Pool) recordRun(ctx context.Context, taskID uuid.UUID, outcome models.RunStatus, runErr error, durationMs int64) {
	run := &models.RunAudit{
		TaskID:          taskID,
		ExecutedAtUtc:   time.Now().UTC(),
		Status:          outcome,
		Exception:       errString(runErr),
		ExecutionTimeMs: durationMs,
	}
	p.retryWrite(ctx, func(ctx context.Context) error { return p.store.RecordRun(ctx, run) }, "record run")
}

func (p *Pool) finish(ctx context.Context, task models.Task, status models.Status, exception string, success bool, _ error) {
	p.writeStatus(ctx, task.ID, status, exception)
	p.retryWrite(ctx, func(ctx context.Context) error {
		return p.store.UpsertDailyHistory(ctx, task.ID, time.Now().UTC(), success, task.ExecutionTimeMs)
	}, "upsert daily history")

	kind := eventbus.KindCompleted
	switch status {
	case models.StatusCancelled:
		kind = eventbus.KindCancelled
	case models.StatusFailed:
		kind = eventbus.KindFailed
	}
	p.bus.Publish(eventbus.Event{
		Kind: kind, TaskID: task.ID, RequestType: task.RequestType,
		QueueName: task.QueueName, OccurredUtc: time.Now().UTC(), Exception: exception,
	})
}

func (p *Pool) writeStatus(ctx context.Context, id uuid.UUID, status models.Status, exception string) {
	p.retryWrite(ctx, func(ctx context.Context) error { return p.store.SetStatus(ctx, id, status, exception) }, "set status")
}

// retryWrite implements the Open Question decision for post-dispatch
// status-write failures: 3 attempts, 50ms linear backoff, then log and
// continue rather than fail the whole run over a persistence blip.
func (p *Pool) retryWrite(ctx context.Context, fn func(context.Context) error, what string) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := fn(ctx); err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
			continue
		}
		return
	}
	p.log.Error("worker: persistence write failed after retries", zap.String("what", what), zap.Error(lastErr))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
