// Package timerwheel implements the monotonic timer scheduler (spec §4.3,
// component E): a single goroutine that sleeps exactly until the next due
// instant and fires a callback, backed by a container/heap min-heap keyed on
// RunAt. Built fresh rather than adapted from the teacher — the teacher's
// scheduler polls Postgres on a 1s ticker (internal/scheduler/scheduler.go's
// schedulerLoop); EverTask has no such backing store to poll and instead
// needs zero-latency, event-driven wakeups, the idiom the pack's
// nandlabs-golly/chrono scheduler uses (a buffered "wake" channel plus a
// single sleeper that recomputes its timer whenever the heap changes).
package timerwheel

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OnDue is invoked from the wheel's own goroutine when a task becomes due.
// Implementations must return quickly (typically: hand the task id to a
// worker queue) — OnDue blocking delays every later-due entry.
type OnDue func(taskID uuid.UUID, runAt time.Time)

type entry struct {
	taskID uuid.UUID
	runAt  time.Time
	index  int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].runAt.Before(h[j].runAt) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is the process-wide timer scheduler for one-time and recurring
// task activations.
type Wheel struct {
	onDue OnDue

	mu      sync.Mutex
	entries entryHeap
	byID    map[uuid.UUID]*entry
	wake    chan struct{}

	runOnce sync.Once
	stopped chan struct{}
}

// New constructs a Wheel. Call Run to start its goroutine.
func New(onDue OnDue) *Wheel {
	return &Wheel{
		onDue:   onDue,
		byID:    make(map[uuid.UUID]*entry),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

func (w *Wheel) notifyWake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Schedule adds or reschedules taskID to fire at runAt.
func (w *Wheel) Schedule(taskID uuid.UUID, runAt time.Time) {
	w.mu.Lock()
	if e, ok := w.byID[taskID]; ok {
		e.runAt = runAt
		heap.Fix(&w.entries, e.index)
	} else {
		e := &entry{taskID: taskID, runAt: runAt}
		heap.Push(&w.entries, e)
		w.byID[taskID] = e
	}
	w.mu.Unlock()
	w.notifyWake()
}

// Cancel removes taskID if it is still pending. Returns false if it had
// already fired or was never scheduled.
func (w *Wheel) Cancel(taskID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byID[taskID]
	if !ok {
		return false
	}
	heap.Remove(&w.entries, e.index)
	delete(w.byID, taskID)
	return true
}

// Len reports the number of pending entries.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Run blocks, driving the wheel until ctx is cancelled. Call it from its own
// goroutine.
func (w *Wheel) Run(ctx context.Context) {
	defer close(w.stopped)
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		w.mu.Lock()
		var wait time.Duration
		hasNext := len(w.entries) > 0
		if hasNext {
			wait = time.Until(w.entries[0].runAt)
		}
		w.mu.Unlock()

		if !hasNext {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}

		if wait <= 0 {
			w.fireDue(ctx)
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.wake:
			timer.Stop()
			continue
		case <-timer.C:
			w.fireDue(ctx)
		}
	}
}

// fireDue pops and invokes every entry whose runAt has passed.
func (w *Wheel) fireDue(ctx context.Context) {
	now := time.Now()
	for {
		w.mu.Lock()
		if len(w.entries) == 0 || w.entries[0].runAt.After(now) {
			w.mu.Unlock()
			return
		}
		e := heap.Pop(&w.entries).(*entry)
		delete(w.byID, e.taskID)
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}
		w.onDue(e.taskID, e.runAt)
	}
}
