package wqueue

import (
	"context"
	"testing"
	"time"

	"github.com/minisource/evertask/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskWithPriority(p int) models.Task {
	return models.Task{RequestType: "t", Priority: p}
}

func TestQueue_DequeueOrdersByPriority(t *testing.T) {
	q := NewQueue("default", 10)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, taskWithPriority(5), FullModeThrowException))
	require.NoError(t, q.Enqueue(ctx, taskWithPriority(9), FullModeThrowException))
	require.NoError(t, q.Enqueue(ctx, taskWithPriority(5), FullModeThrowException))
	require.NoError(t, q.Enqueue(ctx, taskWithPriority(1), FullModeThrowException))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, first.Priority)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, second.Priority)

	third, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, third.Priority, "equal priority ties break FIFO")

	fourth, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fourth.Priority)
}

func TestQueue_ThrowExceptionWhenFull(t *testing.T) {
	q := NewQueue("bounded", 1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, taskWithPriority(1), FullModeThrowException))
	err := q.Enqueue(ctx, taskWithPriority(1), FullModeThrowException)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueue_WaitUnblocksOnDequeue(t *testing.T) {
	q := NewQueue("bounded", 1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, taskWithPriority(1), FullModeThrowException))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, taskWithPriority(2), FullModeWait)
	}()

	select {
	case <-done:
		t.Fatal("Enqueue under Wait should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not unblock after space freed")
	}
}

func TestQueue_DequeueRespectsContextCancellation(t *testing.T) {
	q := NewQueue("empty", 10)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseUnblocksWaiters(t *testing.T) {
	q := NewQueue("empty", 10)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock a pending Dequeue")
	}
}

func TestManager_LazyRecurringQueue(t *testing.T) {
	m := NewManager(Options{Capacity: 10, Parallelism: 1})
	q := m.Get(RecurringQueueName)
	require.NotNil(t, q)
	assert.Equal(t, RecurringQueueName, q.Name())
	assert.Same(t, q, m.Get(RecurringQueueName), "Get is idempotent once created")
}

func TestManager_EnqueueTaskFallsBackToDefault(t *testing.T) {
	m := NewManager(Options{Capacity: 10, Parallelism: 1})
	m.Configure("reports", Options{Capacity: 1, Parallelism: 1, FullMode: FullModeFallbackToDefault})

	ctx := context.Background()
	full := models.Task{RequestType: "r", QueueName: "reports"}
	overflow := models.Task{RequestType: "r2", QueueName: "reports"}

	require.NoError(t, m.EnqueueTask(ctx, full))
	require.NoError(t, m.EnqueueTask(ctx, overflow))

	assert.Equal(t, 1, m.Get("reports").Len())
	assert.Equal(t, 1, m.Get(DefaultQueueName).Len())
}
