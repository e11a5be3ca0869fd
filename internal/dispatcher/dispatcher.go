// Package dispatcher implements task submission and cancellation (spec
// §4.2, component G): validating a request, deduping by TaskKey, persisting
// the task, and routing it to either the timer scheduler (component E, for
// anything not due immediately) or straight into a worker queue (component
// C, component D's manager).
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minisource/evertask/internal/cancelreg"
	"github.com/minisource/evertask/internal/eventbus"
	"github.com/minisource/evertask/internal/models"
	"github.com/minisource/evertask/internal/rrule"
	"github.com/minisource/evertask/internal/store"
	"github.com/minisource/evertask/internal/timerwheel"
	"github.com/minisource/evertask/internal/wqueue"
)

// ErrInvalidSchedule is returned when a caller asks to run a task at a
// specific past instant (Open Question decision: a one-shot "at" request in
// the past is almost certainly a bug, so it fails rather than silently
// running immediately).
var ErrInvalidSchedule = errors.New("dispatcher: scheduled instant is in the past")

// ErrHandlerTypeRequired is returned when Request.HandlerType is empty.
var ErrHandlerTypeRequired = errors.New("dispatcher: handler type is required")

// Request is the producer-facing description of work to run (spec §6.1).
// It is deliberately decoupled from models.Task — a Request never carries
// an ID, status, or run counters.
type Request struct {
	RequestType  string
	HandlerType  string
	Payload      []byte
	QueueName    string
	TaskKey      string
	Priority     int
	TimeoutMs    int64
	MaxRetries   int
	RetryDelayMs int64
	AuditLevel   models.AuditLevel
}

func (r Request) validate() error {
	if r.HandlerType == "" {
		return ErrHandlerTypeRequired
	}
	return nil
}

func (r Request) toTask(now time.Time) models.Task {
	priority := r.Priority
	if priority == 0 {
		priority = 5
	}
	queue := r.QueueName
	if queue == "" {
		queue = wqueue.DefaultQueueName
	}
	return models.Task{
		ID:           uuid.Must(uuid.NewV7()),
		RequestType:  r.RequestType,
		HandlerType:  r.HandlerType,
		Payload:      r.Payload,
		Status:       models.StatusWaitingQueue,
		QueueName:    queue,
		TaskKey:      r.TaskKey,
		CreatedAtUtc: now,
		Priority:     priority,
		TimeoutMs:    r.TimeoutMs,
		MaxRetries:   r.MaxRetries,
		RetryDelayMs: r.RetryDelayMs,
		AuditLevel:   r.AuditLevel,
	}
}

// Dispatcher is the programmer-facing entry point for submitting and
// cancelling work.
type Dispatcher struct {
	store    store.Store
	wheel    *timerwheel.Wheel
	queues   *wqueue.Manager
	bus      *eventbus.Bus
	cancels  *cancelreg.Registry
	idemHint IdempotencyHint // optional; nil is valid (store is always authoritative)
	logger   *zap.Logger
}

// New wires a Dispatcher. idemHint and log may both be nil.
func New(st store.Store, wheel *timerwheel.Wheel, queues *wqueue.Manager, bus *eventbus.Bus, cancels *cancelreg.Registry, idemHint IdempotencyHint, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{store: st, wheel: wheel, queues: queues, bus: bus, cancels: cancels, idemHint: idemHint, logger: log}
}

func (d *Dispatcher) log() *zap.SugaredLogger { return d.logger.Sugar() }

// DispatchNow submits req to run as soon as a worker is free.
func (d *Dispatcher) DispatchNow(ctx context.Context, req Request) (uuid.UUID, error) {
	return d.dispatchOneShot(ctx, req, time.Time{})
}

// DispatchAt submits req to run at (or shortly after) the given instant.
// A past instant fails with ErrInvalidSchedule.
func (d *Dispatcher) DispatchAt(ctx context.Context, req Request, at time.Time) (uuid.UUID, error) {
	if !at.After(time.Now()) {
		return uuid.Nil, ErrInvalidSchedule
	}
	return d.dispatchOneShot(ctx, req, at)
}

// DispatchAfter submits req to run after delay has elapsed.
func (d *Dispatcher) DispatchAfter(ctx context.Context, req Request, delay time.Duration) (uuid.UUID, error) {
	if delay <= 0 {
		return d.dispatchOneShot(ctx, req, time.Time{})
	}
	return d.dispatchOneShot(ctx, req, time.Now().Add(delay))
}

// dispatchOneShot handles DispatchNow/DispatchAt/DispatchAfter: at.IsZero()
// means "run immediately."
func (d *Dispatcher) dispatchOneShot(ctx context.Context, req Request, at time.Time) (uuid.UUID, error) {
	if err := req.validate(); err != nil {
		return uuid.Nil, err
	}

	if existing, ok, err := d.dedupe(ctx, req.TaskKey); err != nil {
		return uuid.Nil, err
	} else if ok {
		return existing, nil
	}

	task := req.toTask(time.Now().UTC())
	if !at.IsZero() {
		scheduled := at.UTC()
		task.ScheduledExecutionUtc = &scheduled
		task.NextRunUtc = &scheduled
		task.Status = models.StatusPending
	}

	if err := d.store.Persist(ctx, &task); err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: persist task: %w", err)
	}
	d.markHint(ctx, req.TaskKey)

	d.bus.Publish(eventbus.Event{
		Kind: eventbus.KindDispatched, TaskID: task.ID, RequestType: task.RequestType,
		QueueName: task.QueueName, OccurredUtc: task.CreatedAtUtc,
	})

	if at.IsZero() || !at.After(time.Now()) {
		return task.ID, d.enqueue(ctx, task)
	}
	d.wheel.Schedule(task.ID, at.UTC())
	return task.ID, nil
}

// DispatchRecurring submits req to run repeatedly per rule, anchored at
// scheduledTime (the calendar/interval baseline — typically time.Now() for
// a brand-new schedule).
func (d *Dispatcher) DispatchRecurring(ctx context.Context, req Request, rule rrule.Rule, scheduledTime time.Time) (uuid.UUID, error) {
	if err := req.validate(); err != nil {
		return uuid.Nil, err
	}

	if existing, ok, err := d.dedupe(ctx, req.TaskKey); err != nil {
		return uuid.Nil, err
	} else if ok {
		return existing, nil
	}

	ruleJSON, err := marshalRule(rule)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: marshal recurring rule: %w", err)
	}

	result, err := rrule.CalculateNextValidRun(rule, scheduledTime.UTC(), 0, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: calculate first run: %w", err)
	}

	now := time.Now().UTC()
	task := req.toTask(now)
	task.IsRecurring = true
	task.RecurringRule = ruleJSON
	task.ScheduledExecutionUtc = &scheduledTime
	task.MaxRuns = rule.MaxRuns
	task.RunUntil = rule.RunUntil
	if req.QueueName == "" {
		task.QueueName = wqueue.RecurringQueueName
	}
	task.Status = models.StatusPending
	task.NextRunUtc = result.NextRun

	if err := d.store.Persist(ctx, &task); err != nil {
		return uuid.Nil, fmt.Errorf("dispatcher: persist recurring task: %w", err)
	}
	d.markHint(ctx, req.TaskKey)

	d.bus.Publish(eventbus.Event{
		Kind: eventbus.KindDispatched, TaskID: task.ID, RequestType: task.RequestType,
		QueueName: task.QueueName, OccurredUtc: now,
	})

	if result.NextRun != nil {
		d.wheel.Schedule(task.ID, *result.NextRun)
	}
	return task.ID, nil
}

// Cancel stops taskID: if it is currently executing, its handler's context
// is cancelled; if it is pending in the timer wheel or a queue, it is
// removed before it ever runs. Either way the task is marked Cancelled.
func (d *Dispatcher) Cancel(ctx context.Context, taskID uuid.UUID) error {
	d.wheel.Cancel(taskID)
	d.cancels.Blacklist(taskID) // catches a task already dequeued into a worker queue
	d.cancels.Cancel(taskID)    // interrupts it if already running
	if err := d.store.SetCancelledByUser(ctx, taskID); err != nil {
		return fmt.Errorf("dispatcher: cancel task %s: %w", taskID, err)
	}
	d.bus.Publish(eventbus.Event{Kind: eventbus.KindCancelled, TaskID: taskID, OccurredUtc: time.Now().UTC()})
	return nil
}

// OnDue is the timerwheel.OnDue callback (evertask.New hands timerwheel.New
// a closure that forwards to it): a scheduled task, one-shot or recurring,
// has become due. It loads
// the task, enqueues it for execution, and — if recurring — computes and
// schedules its next occurrence before returning, so a crash between "fired"
// and "next scheduled" never silently drops the series.
func (d *Dispatcher) OnDue(taskID uuid.UUID, runAt time.Time) {
	ctx := context.Background()

	task, err := d.store.GetByID(ctx, taskID)
	if err != nil {
		d.log().Errorf("dispatcher: OnDue lookup failed for %s: %v", taskID, err)
		return
	}
	if task.Status.IsTerminal() {
		return // cancelled or completed between scheduling and firing
	}
	if task.Paused {
		// A paused recurring task skips this tick but keeps its next
		// occurrence in the wheel; a paused one-shot task is not enqueued.
		if task.IsRecurring {
			d.rescheduleRecurring(ctx, task, runAt)
		}
		return
	}

	if task.IsRecurring {
		// Mutates task in place so the snapshot handed to enqueue below
		// carries the freshly computed NextRunUtc (nil once the series is
		// exhausted) instead of clobbering it with the pre-reschedule value.
		d.rescheduleRecurring(ctx, task, runAt)
	}

	if err := d.enqueue(ctx, *task); err != nil {
		d.log().Errorf("dispatcher: failed to enqueue due task %s: %v", taskID, err)
	}
}

func (d *Dispatcher) rescheduleRecurring(ctx context.Context, task *models.Task, runAt time.Time) {
	rule, err := unmarshalRule(task.RecurringRule)
	if err != nil {
		d.log().Errorf("dispatcher: unmarshal recurring rule for %s: %v", task.ID, err)
		return
	}
	baseline := runAt
	if task.ScheduledExecutionUtc != nil {
		baseline = *task.ScheduledExecutionUtc
	}
	result, err := rrule.CalculateNextValidRun(rule, baseline, task.CurrentRunCount+1, runAt)
	if err != nil {
		d.log().Errorf("dispatcher: calculate next run for %s: %v", task.ID, err)
		return
	}
	task.NextRunUtc = result.NextRun
	if err := d.store.UpdateTask(ctx, task); err != nil {
		d.log().Errorf("dispatcher: persist next run for %s: %v", task.ID, err)
		return
	}
	if result.NextRun != nil {
		d.wheel.Schedule(task.ID, *result.NextRun)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, task models.Task) error {
	task.Status = models.StatusQueued
	if err := d.store.UpdateTask(ctx, &task); err != nil {
		return fmt.Errorf("dispatcher: update task before enqueue: %w", err)
	}
	return d.queues.EnqueueTask(ctx, task)
}

func (d *Dispatcher) dedupe(ctx context.Context, taskKey string) (uuid.UUID, bool, error) {
	if taskKey == "" {
		return uuid.Nil, false, nil
	}
	if d.idemHint != nil && !d.idemHint.MightExist(ctx, taskKey) {
		return uuid.Nil, false, nil // fast path: Redis says this key was never seen
	}
	existing, err := d.store.GetByTaskKey(ctx, taskKey)
	if errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("dispatcher: dedupe lookup: %w", err)
	}
	return existing.ID, true, nil
}

func (d *Dispatcher) markHint(ctx context.Context, taskKey string) {
	if taskKey == "" || d.idemHint == nil {
		return
	}
	d.idemHint.MarkSeen(ctx, taskKey)
}
