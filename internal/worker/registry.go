// Package worker implements the worker pool (spec §4.4, component F) that
// dequeues ready tasks, enforces timeout/retry/cancellation, records
// status/audit via the store, and emits lifecycle events. Adapted from the
// teacher's processJob/handleExecutionFailure pair
// (internal/scheduler/scheduler.go), generalized from "execute an HTTP
// webhook" to "invoke a registered in-process handler."
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/minisource/evertask/internal/logcapture"
)

// ErrHandlerNotRegistered is returned when a task names a HandlerType with
// no corresponding registration.
var ErrHandlerNotRegistered = errors.New("worker: handler not registered")

// HandlerFunc is the type-erased form every evertask.Handler[T] compiles
// down to via evertask.RegisterHandler — unmarshal the raw payload, invoke
// the user's handler, and return its error. Kept internal so the pool
// doesn't need generics (Go forbids generic methods, and the pool must
// dispatch on a runtime-known HandlerType string).
type HandlerFunc func(ctx context.Context, payload []byte, log *logcapture.Sink) error

// Registry maps a HandlerType name to its type-erased invocation func.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds handlerType to fn. Re-registering the same name overwrites
// the previous binding (the engine doesn't treat this as an error — tests
// and hot-reload commonly re-register).
func (r *Registry) Register(handlerType string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerType] = fn
}

// Lookup returns the registered func for handlerType, or
// ErrHandlerNotRegistered.
func (r *Registry) Lookup(handlerType string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[handlerType]
	if !ok {
		return nil, ErrHandlerNotRegistered
	}
	return fn, nil
}
