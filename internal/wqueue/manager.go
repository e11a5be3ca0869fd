package wqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/minisource/evertask/internal/models"
)

// DefaultQueueName and RecurringQueueName are the two well-known queues
// every EverTask engine carries: "default" always exists; "recurring" is
// created lazily the first time a recurring task is dispatched (spec §4.4).
const (
	DefaultQueueName   = "default"
	RecurringQueueName = "recurring"
)

// Options configures a named queue at creation time.
type Options struct {
	Capacity    int
	Parallelism int
	FullMode    FullMode
}

// Manager is the named-queue registry (component D): it owns every Queue by
// name, lazily creates "recurring", and implements FullModeFallbackToDefault
// by retrying a rejected Enqueue against "default".
type Manager struct {
	mu      sync.RWMutex
	queues  map[string]*Queue
	options map[string]Options
	deflt   Options
}

// NewManager constructs a registry pre-seeded with the "default" queue.
func NewManager(defaultOptions Options) *Manager {
	m := &Manager{
		queues:  make(map[string]*Queue),
		options: make(map[string]Options),
		deflt:   defaultOptions,
	}
	m.queues[DefaultQueueName] = NewQueue(DefaultQueueName, defaultOptions.Capacity)
	m.options[DefaultQueueName] = defaultOptions
	return m
}

// Configure registers (or reconfigures, before first use) a named queue's
// capacity/parallelism/full-mode policy.
func (m *Manager) Configure(name string, opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[name] = opts
	if _, ok := m.queues[name]; ok {
		// Capacity changes only take effect for queues created after this call.
		return
	}
	m.queues[name] = NewQueue(name, opts.Capacity)
}

// Get returns the named queue, lazily creating "recurring" (and any other
// name not yet configured) using the default queue's options.
func (m *Manager) Get(name string) *Queue {
	if name == "" {
		name = DefaultQueueName
	}
	m.mu.RLock()
	q, ok := m.queues[name]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q
	}
	opts, ok := m.options[name]
	if !ok {
		opts = m.deflt
	}
	q = NewQueue(name, opts.Capacity)
	m.queues[name] = q
	m.options[name] = opts
	return q
}

// Options returns the configured options for name, or the default options
// if name was never explicitly configured.
func (m *Manager) Options(name string) Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if opts, ok := m.options[name]; ok {
		return opts
	}
	return m.deflt
}

// All returns every currently-registered queue, for worker-pool wiring and
// boot recovery.
func (m *Manager) All() []*Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q)
	}
	return out
}

// EnqueueTask routes a task to its own queue (models.Task.QueueName),
// applying that queue's configured full-mode policy.
// FullModeFallbackToDefault retries against "default" when the named queue
// rejects with ErrQueueFull (spec §4.4).
func (m *Manager) EnqueueTask(ctx context.Context, task models.Task) error {
	name := task.QueueName
	if name == "" {
		name = DefaultQueueName
	}
	q := m.Get(name)
	mode := m.Options(name).FullMode

	err := q.Enqueue(ctx, task, mode)
	if errors.Is(err, ErrQueueFull) && mode == FullModeFallbackToDefault && name != DefaultQueueName {
		return m.Get(DefaultQueueName).Enqueue(ctx, task, FullModeThrowException)
	}
	return err
}
