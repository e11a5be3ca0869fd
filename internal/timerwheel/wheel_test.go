package timerwheel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWheel_FiresInOrder(t *testing.T) {
	var mu sync.Mutex
	var fired []uuid.UUID

	w := New(func(taskID uuid.UUID, _ time.Time) {
		mu.Lock()
		fired = append(fired, taskID)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()
	w.Schedule(c, now.Add(60*time.Millisecond))
	w.Schedule(a, now.Add(10*time.Millisecond))
	w.Schedule(b, now.Add(30*time.Millisecond))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uuid.UUID{a, b, c}, fired)
}

func TestWheel_CancelPreventsFire(t *testing.T) {
	fired := make(chan uuid.UUID, 1)
	w := New(func(taskID uuid.UUID, _ time.Time) { fired <- taskID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	id := uuid.New()
	w.Schedule(id, time.Now().Add(20*time.Millisecond))
	assert.True(t, w.Cancel(id))

	select {
	case <-fired:
		t.Fatal("cancelled entry fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestWheel_RescheduleMovesDeadline(t *testing.T) {
	fired := make(chan time.Time, 1)
	w := New(func(_ uuid.UUID, runAt time.Time) { fired <- runAt })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	id := uuid.New()
	w.Schedule(id, time.Now().Add(time.Hour))
	soon := time.Now().Add(10 * time.Millisecond)
	w.Schedule(id, soon)

	select {
	case got := <-fired:
		assert.WithinDuration(t, soon, got, 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("rescheduled entry never fired")
	}
}

func TestWheel_LenTracksPending(t *testing.T) {
	w := New(func(uuid.UUID, time.Time) {})
	assert.Equal(t, 0, w.Len())
	id := uuid.New()
	w.Schedule(id, time.Now().Add(time.Hour))
	assert.Equal(t, 1, w.Len())
	w.Cancel(id)
	assert.Equal(t, 0, w.Len())
}
