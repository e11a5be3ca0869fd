package evertask

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/minisource/evertask/internal/dispatcher"
	"github.com/minisource/evertask/internal/eventbus"
	"github.com/minisource/evertask/internal/logcapture"
)

// Handler is the single required capability of a registered handler (spec
// §6.1's "Handle(request, cancel)"). ctx carries the task's timeout/
// cancellation signal in place of an explicit cancel token.
type Handler[T any] interface {
	Handle(ctx context.Context, request T) error
}

// The following are optional capabilities (spec §9's "capability set ...
// passed as a value to the worker; no inheritance required"). RegisterHandler
// checks each via a type assertion on the concrete handler value — a handler
// implements whichever subset of these it needs.
type (
	// OnStartedHook is notified when a task begins executing.
	OnStartedHook interface{ OnStarted(taskID uuid.UUID) }
	// OnCompletedHook is notified when a task completes successfully.
	OnCompletedHook interface{ OnCompleted(taskID uuid.UUID) }
	// OnErrorHook is notified when a worker ends a task Failed or Cancelled,
	// including a queued task skipped because it was cancelled. Cancelling
	// a task that is still waiting in the timer wheel does not notify it.
	OnErrorHook interface{ OnError(taskID uuid.UUID, exception string) }
	// TimeoutProvider supplies a per-handler-type default timeout.
	TimeoutProvider interface{ Timeout() time.Duration }
	// RetryPolicyProvider supplies a per-handler-type default retry policy.
	RetryPolicyProvider interface {
		RetryPolicy() (maxRetries int, delay time.Duration)
	}
	// QueueNameProvider routes every dispatch of this handler type to a
	// specific named queue unless the caller overrides it with
	// WithQueueName.
	QueueNameProvider interface{ QueueName() string }
)

// RegisterHandler binds requestType to h for the lifetime of e.
// Re-registering a requestType overwrites the previous handler binding and
// defaults (matches internal/worker.Registry.Register's semantics); a
// lifecycle-hook subscription made for the earlier handler is not removed.
//
// Go forbids generic methods, so this is a free function rather than
// (*Engine).RegisterHandler[T] — the type parameter is carried entirely by
// h's static type.
func RegisterHandler[T any](e *Engine, requestType string, h Handler[T]) error {
	if requestType == "" {
		return fmt.Errorf("evertask: request type is required")
	}

	e.reg.Register(requestType, func(ctx context.Context, payload []byte, log *logcapture.Sink) error {
		var req T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("evertask: unmarshal %s payload: %w", requestType, err)
			}
		}
		return h.Handle(ctx, req)
	})

	var d handlerDefaults
	if tp, ok := any(h).(TimeoutProvider); ok {
		d.timeoutMs = tp.Timeout().Milliseconds()
	}
	if rp, ok := any(h).(RetryPolicyProvider); ok {
		maxRetries, delay := rp.RetryPolicy()
		d.maxRetries = maxRetries
		d.retryDelayMs = delay.Milliseconds()
	}
	if qp, ok := any(h).(QueueNameProvider); ok {
		d.queueName = qp.QueueName()
	}
	e.setDefaults(requestType, d)

	_, wantsStarted := any(h).(OnStartedHook)
	_, wantsCompleted := any(h).(OnCompletedHook)
	_, wantsError := any(h).(OnErrorHook)
	if wantsStarted || wantsCompleted || wantsError {
		e.bus.Subscribe(&hookSink{requestType: requestType, handler: h})
	}

	return nil
}

// hookSink adapts a registered handler's optional lifecycle hooks to the
// event bus, since the worker pool's HandlerFunc carries no task ID and the
// bus already emits per-task Started/Completed/Failed/Cancelled events.
type hookSink struct {
	requestType string
	handler     interface{}
}

func (s *hookSink) Publish(e eventbus.Event) {
	if e.RequestType != s.requestType {
		return
	}
	switch e.Kind {
	case eventbus.KindStarted:
		if h, ok := s.handler.(OnStartedHook); ok {
			h.OnStarted(e.TaskID)
		}
	case eventbus.KindCompleted:
		if h, ok := s.handler.(OnCompletedHook); ok {
			h.OnCompleted(e.TaskID)
		}
	case eventbus.KindFailed, eventbus.KindCancelled:
		if h, ok := s.handler.(OnErrorHook); ok {
			h.OnError(e.TaskID, e.Exception)
		}
	}
}

// DispatchOption overrides a dispatched task's default configuration (spec
// §6.1's "optional configuration: timeout, retryPolicy, queueName", plus the
// idempotency key and audit level).
type DispatchOption func(*dispatcher.Request)

func WithTaskKey(key string) DispatchOption {
	return func(r *dispatcher.Request) { r.TaskKey = key }
}

func WithPriority(p int) DispatchOption {
	return func(r *dispatcher.Request) { r.Priority = p }
}

func WithQueueName(name string) DispatchOption {
	return func(r *dispatcher.Request) { r.QueueName = name }
}

func WithTimeout(d time.Duration) DispatchOption {
	return func(r *dispatcher.Request) { r.TimeoutMs = d.Milliseconds() }
}

func WithMaxRetries(n int) DispatchOption {
	return func(r *dispatcher.Request) { r.MaxRetries = n }
}

func WithRetryDelay(d time.Duration) DispatchOption {
	return func(r *dispatcher.Request) { r.RetryDelayMs = d.Milliseconds() }
}
func WithAuditLevel(level AuditLevel) DispatchOption {
	return func(r *dispatcher.Request) { r.AuditLevel = level }
}

func buildRequest[T any](e *Engine, requestType string, payload T, opts []DispatchOption) (dispatcher.Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return dispatcher.Request{}, fmt.Errorf("evertask: marshal %s payload: %w", requestType, err)
	}
	d := e.defaultsFor(requestType)
	req := dispatcher.Request{
		RequestType:  requestType,
		HandlerType:  requestType,
		Payload:      raw,
		QueueName:    d.queueName,
		Priority:     5,
		TimeoutMs:    d.timeoutMs,
		MaxRetries:   d.maxRetries,
		RetryDelayMs: d.retryDelayMs,
		AuditLevel:   AuditLevelNormal,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req, nil
}

// DispatchNow submits payload under requestType to run as soon as a worker
// is free.
func DispatchNow[T any](ctx context.Context, e *Engine, requestType string, payload T, opts ...DispatchOption) (uuid.UUID, error) {
	req, err := buildRequest(e, requestType, payload, opts)
	if err != nil {
		return uuid.Nil, err
	}
	return e.disp.DispatchNow(ctx, req)
}

// DispatchAt submits payload to run at (or shortly after) at.
func DispatchAt[T any](ctx context.Context, e *Engine, requestType string, payload T, at time.Time, opts ...DispatchOption) (uuid.UUID, error) {
	req, err := buildRequest(e, requestType, payload, opts)
	if err != nil {
		return uuid.Nil, err
	}
	return e.disp.DispatchAt(ctx, req, at)
}

// DispatchAfter submits payload to run after delay has elapsed.
func DispatchAfter[T any](ctx context.Context, e *Engine, requestType string, payload T, delay time.Duration, opts ...DispatchOption) (uuid.UUID, error) {
	req, err := buildRequest(e, requestType, payload, opts)
	if err != nil {
		return uuid.Nil, err
	}
	return e.disp.DispatchAfter(ctx, req, delay)
}

// DispatchRecurring submits payload to run repeatedly per rule, anchored at
// scheduledTime.
func DispatchRecurring[T any](ctx context.Context, e *Engine, requestType string, payload T, rule Rule, scheduledTime time.Time, opts ...DispatchOption) (uuid.UUID, error) {
	req, err := buildRequest(e, requestType, payload, opts)
	if err != nil {
		return uuid.Nil, err
	}
	return e.disp.DispatchRecurring(ctx, req, rule, scheduledTime)
}
