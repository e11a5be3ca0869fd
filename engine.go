// Package evertask is the programmer-facing facade over the execution
// engine: an Engine that owns a store, a set of named queues, the timer
// scheduler, and the worker pools, plus RegisterHandler/Dispatch*/Cancel for
// host applications to drive it.
package evertask

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minisource/evertask/config"
	"github.com/minisource/evertask/internal/cancelreg"
	"github.com/minisource/evertask/internal/dispatcher"
	"github.com/minisource/evertask/internal/eventbus"
	"github.com/minisource/evertask/internal/models"
	"github.com/minisource/evertask/internal/rrule"
	"github.com/minisource/evertask/internal/store"
	"github.com/minisource/evertask/internal/timerwheel"
	"github.com/minisource/evertask/internal/wqueue"
	"github.com/minisource/evertask/internal/worker"
	"github.com/minisource/evertask/internal/wsvc"
)

// Re-exported so callers never need to import internal packages directly.
type (
	Status     = models.Status
	RunStatus  = models.RunStatus
	AuditLevel = models.AuditLevel
	Task       = models.Task
	TaskDetail = models.TaskDetail
	Event      = eventbus.Event
	EventKind  = eventbus.Kind
	EventSink  = eventbus.Sink
	Store      = store.Store
	Rule       = rrule.Rule
)

const (
	StatusWaitingQueue   = models.StatusWaitingQueue
	StatusQueued         = models.StatusQueued
	StatusInProgress     = models.StatusInProgress
	StatusPending        = models.StatusPending
	StatusCancelled      = models.StatusCancelled
	StatusCompleted      = models.StatusCompleted
	StatusFailed         = models.StatusFailed
	StatusServiceStopped = models.StatusServiceStopped

	AuditLevelMinimal = models.AuditLevelMinimal
	AuditLevelNormal  = models.AuditLevelNormal
	AuditLevelVerbose = models.AuditLevelVerbose
)

// Engine wires every internal component and exposes the dispatch/cancel
// surface of spec §6.1.
type Engine struct {
	store   store.Store
	log     *zap.Logger
	cfg     config.EngineConfig
	reg     *worker.Registry
	queues  *wqueue.Manager
	wheel   *timerwheel.Wheel
	bus     *eventbus.Bus
	cancels *cancelreg.Registry
	disp    *dispatcher.Dispatcher
	svc     *wsvc.Service

	mu       sync.RWMutex
	defaults map[string]handlerDefaults
}

type handlerDefaults struct {
	timeoutMs    int64
	maxRetries   int
	retryDelayMs int64
	queueName    string
}

// New wires an Engine against st (any store.Store implementation — use
// store/memory for embedding/tests, store/postgres for production). log and
// idemHint may both be nil.
func New(st store.Store, log *zap.Logger, cfg config.EngineConfig, idemHint dispatcher.IdempotencyHint) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	reg := worker.NewRegistry()
	queues := wqueue.NewManager(wqueue.Options{
		Capacity:    cfg.DefaultQueueCapacity,
		Parallelism: cfg.DefaultParallelism,
		FullMode:    wqueue.FullModeWait,
	})
	bus := eventbus.New(log)
	cancels := cancelreg.New()

	e := &Engine{
		store: st, log: log, cfg: cfg, reg: reg, queues: queues,
		bus: bus, cancels: cancels, defaults: make(map[string]handlerDefaults),
	}

	wheel := timerwheel.New(func(id uuid.UUID, at time.Time) { e.disp.OnDue(id, at) })
	e.wheel = wheel
	e.disp = dispatcher.New(st, wheel, queues, bus, cancels, idemHint, log)
	e.svc = wsvc.New(st, reg, queues, wheel, bus, cancels, log, wsvc.Options{
		GraceTimeout:    cfg.GraceTimeout,
		CleanupInterval: cfg.CleanupInterval,
		CleanupHorizon:  cfg.CleanupHorizon,
	})
	return e
}

// Start begins boot recovery and the timer scheduler/worker pools.
func (e *Engine) Start(ctx context.Context) error { return e.svc.Start(ctx) }

// Stop signals shutdown and waits up to the configured grace period.
func (e *Engine) Stop(ctx context.Context) { e.svc.Stop(ctx) }

// Store exposes the read-only monitoring surface (GetDetail/GetPendingTasks
// and friends) for a host's own monitoring endpoints (see cmd/apitask).
func (e *Engine) Store() store.Store { return e.store }

// Subscribe registers sink on the event bus; returns an unsubscribe func.
func (e *Engine) Subscribe(sink EventSink) func() { return e.bus.Subscribe(sink) }

// ConfigureQueue sets capacity/parallelism/full-mode policy for a named
// queue before it is first used.
func (e *Engine) ConfigureQueue(name string, capacity, parallelism int, fullMode wqueue.FullMode) {
	e.queues.Configure(name, wqueue.Options{Capacity: capacity, Parallelism: parallelism, FullMode: fullMode})
}

func (e *Engine) setDefaults(requestType string, d handlerDefaults) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults[requestType] = d
}

func (e *Engine) defaultsFor(requestType string) handlerDefaults {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.defaults[requestType]
	if !ok {
		return handlerDefaults{timeoutMs: e.cfg.DefaultTimeout.Milliseconds(), maxRetries: e.cfg.DefaultMaxRetries, retryDelayMs: e.cfg.DefaultRetryDelay.Milliseconds()}
	}
	return d
}

// Cancel stops id cooperatively: signals its handler's context if running,
// removes it from the timer wheel/queue if not yet started, and marks it
// Cancelled either way.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) error {
	return e.disp.Cancel(ctx, id)
}
