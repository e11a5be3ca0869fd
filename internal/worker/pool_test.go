package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minisource/evertask/internal/cancelreg"
	"github.com/minisource/evertask/internal/eventbus"
	"github.com/minisource/evertask/internal/logcapture"
	"github.com/minisource/evertask/internal/models"
	"github.com/minisource/evertask/internal/store/memory"
	"github.com/minisource/evertask/internal/wqueue"
)

func newHarness(t *testing.T) (*Pool, *wqueue.Queue, *memory.Store) {
	t.Helper()
	st := memory.New()
	q := wqueue.NewQueue("default", 10)
	reg := NewRegistry()
	bus := eventbus.New(nil)
	cancels := cancelreg.New()
	return NewPool(q, 2, reg, st, bus, cancels, nil), q, st
}

func persistAndEnqueue(t *testing.T, st *memory.Store, q *wqueue.Queue, task models.Task) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Persist(ctx, &task))
	require.NoError(t, q.Enqueue(ctx, task, wqueue.FullModeThrowException))
}

func TestPool_SuccessfulRunMarksCompleted(t *testing.T) {
	pool, q, st := newHarness(t)
	var invoked int32
	pool.registry.Register("noop", func(ctx context.Context, payload []byte, log *logcapture.Sink) error {
		atomic.AddInt32(&invoked, 1)
		log.Infof("ran")
		return nil
	})

	task := models.Task{ID: uuid.New(), RequestType: "t", HandlerType: "noop", Status: models.StatusWaitingQueue, CreatedAtUtc: time.Now().UTC()}
	persistAndEnqueue(t, st, q, task)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go pool.Run(ctx)

	require.Eventually(t, func() bool {
		got, err := st.GetByID(context.Background(), task.ID)
		return err == nil && got.Status == models.StatusCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&invoked))

	detail, err := st.GetDetail(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, detail.RunAudits, 1)
	assert.Equal(t, models.RunStatusCompleted, detail.RunAudits[0].Status)
	require.Len(t, detail.ExecutionLogs, 1)
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	pool, q, st := newHarness(t)
	var calls int32
	pool.registry.Register("flaky", func(ctx context.Context, payload []byte, log *logcapture.Sink) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return errors.New("transient")
		}
		return nil
	})

	task := models.Task{
		ID: uuid.New(), RequestType: "t", HandlerType: "flaky",
		Status: models.StatusWaitingQueue, CreatedAtUtc: time.Now().UTC(),
		MaxRetries: 2, RetryDelayMs: 1,
	}
	persistAndEnqueue(t, st, q, task)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go pool.Run(ctx)

	require.Eventually(t, func() bool {
		got, err := st.GetByID(context.Background(), task.ID)
		return err == nil && got.Status == models.StatusCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPool_ExhaustedRetriesMarksFailed(t *testing.T) {
	pool, q, st := newHarness(t)
	pool.registry.Register("alwaysfails", func(ctx context.Context, payload []byte, log *logcapture.Sink) error {
		return errors.New("nope")
	})

	task := models.Task{
		ID: uuid.New(), RequestType: "t", HandlerType: "alwaysfails",
		Status: models.StatusWaitingQueue, CreatedAtUtc: time.Now().UTC(),
		MaxRetries: 1, RetryDelayMs: 1,
	}
	persistAndEnqueue(t, st, q, task)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go pool.Run(ctx)

	require.Eventually(t, func() bool {
		got, err := st.GetByID(context.Background(), task.ID)
		return err == nil && got.Status == models.StatusFailed
	}, time.Second, 5*time.Millisecond)

	got, err := st.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "nope", got.Exception)
}

func TestPool_UnregisteredHandlerMarksFailed(t *testing.T) {
	pool, q, st := newHarness(t)

	task := models.Task{ID: uuid.New(), RequestType: "t", HandlerType: "missing", Status: models.StatusWaitingQueue, CreatedAtUtc: time.Now().UTC()}
	persistAndEnqueue(t, st, q, task)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go pool.Run(ctx)

	require.Eventually(t, func() bool {
		got, err := st.GetByID(context.Background(), task.ID)
		return err == nil && got.Status == models.StatusFailed
	}, time.Second, 5*time.Millisecond)
}

func TestPool_BlacklistedTaskSkipsExecutionWithoutRunAudit(t *testing.T) {
	pool, q, st := newHarness(t)
	var invoked int32
	pool.registry.Register("noop", func(ctx context.Context, payload []byte, log *logcapture.Sink) error {
		atomic.AddInt32(&invoked, 1)
		return nil
	})

	task := models.Task{ID: uuid.New(), RequestType: "t", HandlerType: "noop", Status: models.StatusQueued, CreatedAtUtc: time.Now().UTC()}
	persistAndEnqueue(t, st, q, task)
	pool.cancels.Blacklist(task.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go pool.Run(ctx)

	require.Eventually(t, func() bool {
		got, err := st.GetByID(context.Background(), task.ID)
		return err == nil && got.Status == models.StatusCancelled
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&invoked))
	detail, err := st.GetDetail(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.RunAudits)
}

func TestPool_RecurringSuccessWritesWaitingQueueWhenSeriesContinues(t *testing.T) {
	pool, q, st := newHarness(t)
	pool.registry.Register("noop", func(ctx context.Context, payload []byte, log *logcapture.Sink) error {
		return nil
	})

	next := time.Now().Add(time.Hour)
	task := models.Task{
		ID: uuid.New(), RequestType: "t", HandlerType: "noop",
		Status: models.StatusWaitingQueue, CreatedAtUtc: time.Now().UTC(),
		IsRecurring: true, NextRunUtc: &next,
	}
	persistAndEnqueue(t, st, q, task)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go pool.Run(ctx)

	require.Eventually(t, func() bool {
		detail, err := st.GetDetail(context.Background(), task.ID)
		return err == nil && len(detail.RunAudits) == 1
	}, time.Second, 5*time.Millisecond)

	got, err := st.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitingQueue, got.Status)
}

func TestPool_RecurringSuccessWritesCompletedWhenSeriesExhausted(t *testing.T) {
	pool, q, st := newHarness(t)
	pool.registry.Register("noop", func(ctx context.Context, payload []byte, log *logcapture.Sink) error {
		return nil
	})

	task := models.Task{
		ID: uuid.New(), RequestType: "t", HandlerType: "noop",
		Status: models.StatusWaitingQueue, CreatedAtUtc: time.Now().UTC(),
		IsRecurring: true, NextRunUtc: nil,
	}
	persistAndEnqueue(t, st, q, task)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go pool.Run(ctx)

	require.Eventually(t, func() bool {
		got, err := st.GetByID(context.Background(), task.ID)
		return err == nil && got.Status == models.StatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestPool_CancelStopsRunningHandler(t *testing.T) {
	pool, q, st := newHarness(t)
	started := make(chan struct{})
	pool.registry.Register("long", func(ctx context.Context, payload []byte, log *logcapture.Sink) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	task := models.Task{ID: uuid.New(), RequestType: "t", HandlerType: "long", Status: models.StatusWaitingQueue, CreatedAtUtc: time.Now().UTC()}
	persistAndEnqueue(t, st, q, task)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go pool.Run(ctx)

	<-started
	require.True(t, pool.cancels.Cancel(task.ID))

	require.Eventually(t, func() bool {
		got, err := st.GetByID(context.Background(), task.ID)
		return err == nil && got.Status == models.StatusCancelled
	}, time.Second, 5*time.Millisecond)
}
