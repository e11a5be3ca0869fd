package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Sink receives every published Event. Publish is fire-and-forget: each
// delivery runs on its own goroutine, so a slow sink never stalls the worker
// that published it (spec §4.7: "best effort, never on the hot execution
// path"). No event is dropped, and deliveries to one sink are not ordered.
type Sink interface {
	Publish(e Event)
}

// Bus fans Events out to every subscribed Sink, non-blockingly.
type Bus struct {
	log *zap.Logger

	mu    sync.RWMutex
	sinks []Sink
}

// New constructs an empty Bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log}
}

// Subscribe registers sink to receive every future Publish. Returns an
// unsubscribe function.
func (b *Bus) Subscribe(sink Sink) (unsubscribe func()) {
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	idx := len(b.sinks) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.sinks) && b.sinks[idx] == sink {
			b.sinks = append(b.sinks[:idx], b.sinks[idx+1:]...)
		}
	}
}

// Publish fans e out to every subscribed sink. Each sink is invoked in its
// own goroutine with a panic guard, so one misbehaving sink can't affect
// another or the caller.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, sink := range sinks {
		sink := sink
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("eventbus: sink panicked", zap.Any("recover", r), zap.String("kind", string(e.Kind)))
				}
			}()
			sink.Publish(e)
		}()
	}
}
