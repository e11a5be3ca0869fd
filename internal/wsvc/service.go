// Package wsvc owns the worker-service lifecycle (spec §4.8, component H):
// boot recovery of tasks left behind by a previous process, starting the
// timer scheduler (E) and every queue's worker pool (F), and a graceful,
// grace-period-bounded stop. Adapted from the teacher's
// Scheduler.Start/Stop (internal/scheduler/scheduler.go), generalized from
// one scheduler+one worker pool to an arbitrary set of named queues.
package wsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/minisource/evertask/internal/cancelreg"
	"github.com/minisource/evertask/internal/eventbus"
	"github.com/minisource/evertask/internal/models"
	"github.com/minisource/evertask/internal/store"
	"github.com/minisource/evertask/internal/timerwheel"
	"github.com/minisource/evertask/internal/wqueue"
	"github.com/minisource/evertask/internal/worker"
)

// Options configures a Service.
type Options struct {
	// GraceTimeout bounds how long Stop waits for in-flight tasks before
	// force-cancelling and marking them ServiceStopped. 0 means the
	// teacher-style default of 30s.
	GraceTimeout time.Duration
	// CleanupInterval drives the retention sweep (SUPPLEMENTED FEATURES #5).
	// 0 disables it.
	CleanupInterval time.Duration
	// CleanupHorizon is how far back terminal rows are kept.
	CleanupHorizon time.Duration
}

// Service is the process-lifecycle owner for the timer scheduler and every
// queue's worker pool.
type Service struct {
	store    store.Store
	registry *worker.Registry
	queues   *wqueue.Manager
	wheel    *timerwheel.Wheel
	bus      *eventbus.Bus
	cancels  *cancelreg.Registry
	log      *zap.Logger
	opts     Options

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a Service. log may be nil.
func New(st store.Store, registry *worker.Registry, queues *wqueue.Manager, wheel *timerwheel.Wheel, bus *eventbus.Bus, cancels *cancelreg.Registry, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.GraceTimeout <= 0 {
		opts.GraceTimeout = 30 * time.Second
	}
	return &Service{store: st, registry: registry, queues: queues, wheel: wheel, bus: bus, cancels: cancels, log: log, opts: opts}
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start runs boot recovery, then starts the timer wheel and one worker pool
// per currently-registered queue.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("wsvc: service already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	if err := s.recover(s.ctx); err != nil {
		return fmt.Errorf("wsvc: boot recovery: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wheel.Run(s.ctx)
	}()

	for _, q := range s.queues.All() {
		parallelism := s.queues.Options(q.Name()).Parallelism
		pool := worker.NewPool(q, parallelism, s.registry, s.store, s.bus, s.cancels, s.log)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			pool.Run(s.ctx)
		}()
	}

	if s.opts.CleanupInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cleanupLoop(s.ctx)
		}()
	}

	return nil
}

// Stop signals the cancellation tree, waits up to the configured grace
// period for in-flight tasks to finish on their own, then hard-cancels and
// marks anything still InProgress ServiceStopped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(s.opts.GraceTimeout):
	}

	// Anything still in flight past the grace period is abandoned rather
	// than waited on further: a handler that ignores its context must not
	// be able to block shutdown indefinitely. Its goroutine may still write
	// its own status and run audit later, replacing the ServiceStopped
	// status this sweep records.
	s.sweepInProgress(ctx)
}

// recover implements spec §4.8's boot sequence: enumerate pending rows,
// rebuild each one's executor, and re-dispatch without re-persisting.
func (s *Service) recover(ctx context.Context) error {
	pending, err := s.store.GetPendingTasks(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, task := range pending {
		if _, lookupErr := s.registry.Lookup(task.HandlerType); lookupErr != nil {
			s.markUnrecoverable(ctx, task)
			continue
		}

		switch {
		case task.IsRecurring:
			if task.NextRunUtc != nil {
				s.wheel.Schedule(task.ID, *task.NextRunUtc)
			}
		case task.ScheduledExecutionUtc != nil && task.ScheduledExecutionUtc.After(now):
			s.wheel.Schedule(task.ID, *task.ScheduledExecutionUtc)
		default:
			if err := s.store.SetStatus(ctx, task.ID, models.StatusQueued, ""); err != nil {
				s.log.Sugar().Errorf("wsvc: recovery status update failed for %s: %v", task.ID, err)
				continue
			}
			if err := s.queues.EnqueueTask(ctx, task); err != nil {
				s.log.Sugar().Errorf("wsvc: recovery enqueue failed for %s: %v", task.ID, err)
			}
		}
	}
	return nil
}

func (s *Service) markUnrecoverable(ctx context.Context, task models.Task) {
	const msg = "handler not registered at boot recovery"
	if err := s.store.SetStatus(ctx, task.ID, models.StatusServiceStopped, msg); err != nil {
		s.log.Sugar().Errorf("wsvc: failed to mark %s service-stopped: %v", task.ID, err)
		return
	}
	s.log.Sugar().Warnf("wsvc: task %s (%s) has no registered handler, marked ServiceStopped", task.ID, task.HandlerType)
	s.bus.Publish(eventbus.Event{
		Kind: eventbus.KindFailed, TaskID: task.ID, RequestType: task.RequestType,
		QueueName: task.QueueName, OccurredUtc: time.Now().UTC(), Exception: msg,
	})
}

// sweepInProgress implements spec §4.8's stop step 3: anything still
// InProgress after the grace period is hard-cancelled and marked
// ServiceStopped.
func (s *Service) sweepInProgress(ctx context.Context) {
	pending, err := s.store.GetPendingTasks(ctx)
	if err != nil {
		s.log.Sugar().Errorf("wsvc: stop sweep lookup failed: %v", err)
		return
	}
	for _, task := range pending {
		if task.Status != models.StatusInProgress {
			continue
		}
		s.cancels.Cancel(task.ID)
		const reason = "shutdown grace period elapsed"
		if err := s.store.SetStatus(ctx, task.ID, models.StatusServiceStopped, reason); err != nil {
			s.log.Sugar().Errorf("wsvc: stop sweep status update failed for %s: %v", task.ID, err)
			continue
		}
		run := &models.RunAudit{TaskID: task.ID, ExecutedAtUtc: time.Now().UTC(), Status: models.RunStatusServiceStopped, Exception: reason}
		if err := s.store.RecordRun(ctx, run); err != nil {
			s.log.Sugar().Errorf("wsvc: stop sweep run-audit write failed for %s: %v", task.ID, err)
		}
		s.bus.Publish(eventbus.Event{
			Kind: eventbus.KindFailed, TaskID: task.ID, RequestType: task.RequestType,
			QueueName: task.QueueName, OccurredUtc: time.Now().UTC(), Exception: reason,
		})
	}
}

func (s *Service) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.opts.CleanupHorizon)
			deleted, err := s.store.CleanupOlderThan(ctx, cutoff)
			if err != nil {
				s.log.Sugar().Errorf("wsvc: cleanup sweep failed: %v", err)
				continue
			}
			if deleted > 0 {
				s.log.Sugar().Infof("wsvc: cleanup sweep removed %d rows older than %s", deleted, cutoff)
			}
		}
	}
}
