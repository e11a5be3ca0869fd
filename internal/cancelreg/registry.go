// Package cancelreg is the process-wide cancellation-handle registry (spec
// §4.1/§5, component I): it maps a running task's ID to the
// context.CancelFunc the worker pool created for it, so Dispatcher.Cancel
// can interrupt a task that is currently executing. It also holds the
// cancellation blacklist (spec §4.2/§4.4 step 1): task IDs cancelled while
// still sitting in a worker queue, not yet running, so a worker pool can
// refuse to start them once dequeued.
package cancelreg

import (
	"sync"

	"github.com/google/uuid"
)

const shardCount = 32

type shard struct {
	mu          sync.Mutex
	cancels     map[uuid.UUID]func()
	blacklisted map[uuid.UUID]struct{}
}

// Registry is a sharded map from task ID to cancel function, sized to avoid
// a single lock becoming a bottleneck under many concurrently running tasks.
type Registry struct {
	shards [shardCount]*shard
}

// New constructs an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{
			cancels:     make(map[uuid.UUID]func()),
			blacklisted: make(map[uuid.UUID]struct{}),
		}
	}
	return r
}

func (r *Registry) shardFor(id uuid.UUID) *shard {
	var h uint32
	for _, b := range id {
		h = h*31 + uint32(b)
	}
	return r.shards[h%shardCount]
}

// Register records cancel as the way to interrupt taskID's in-flight
// execution. It overwrites any previous registration for the same ID.
func (r *Registry) Register(taskID uuid.UUID, cancel func()) {
	s := r.shardFor(taskID)
	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.mu.Unlock()
}

// Unregister removes taskID once its execution has finished (success,
// failure, or cancellation) so the registry doesn't grow unbounded.
func (r *Registry) Unregister(taskID uuid.UUID) {
	s := r.shardFor(taskID)
	s.mu.Lock()
	delete(s.cancels, taskID)
	s.mu.Unlock()
}

// Cancel invokes the registered cancel function for taskID, if any is
// currently registered. Returns false if taskID isn't running (already
// finished, or never started).
func (r *Registry) Cancel(taskID uuid.UUID) bool {
	s := r.shardFor(taskID)
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Len reports the number of currently-registered (running) tasks.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.cancels)
		s.mu.Unlock()
	}
	return n
}

// Blacklist marks taskID cancelled unconditionally, independent of whether
// it is currently registered as running. Dispatcher.Cancel calls this for
// every cancellation so a task still sitting in a worker queue is caught
// before a pool ever starts it.
func (r *Registry) Blacklist(taskID uuid.UUID) {
	s := r.shardFor(taskID)
	s.mu.Lock()
	s.blacklisted[taskID] = struct{}{}
	s.mu.Unlock()
}

// TakeBlacklisted reports whether taskID was cancelled before a worker
// pool started it, clearing the entry so the set doesn't grow unbounded.
// A worker pool calls this at the top of execute, before any status write.
func (r *Registry) TakeBlacklisted(taskID uuid.UUID) bool {
	s := r.shardFor(taskID)
	s.mu.Lock()
	_, ok := s.blacklisted[taskID]
	delete(s.blacklisted, taskID)
	s.mu.Unlock()
	return ok
}
