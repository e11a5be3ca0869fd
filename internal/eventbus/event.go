// Package eventbus implements the best-effort lifecycle event fan-out of
// spec §4.7 (component J), with an optional Redis Pub/Sub relay so external,
// cross-process monitors can subscribe to a read-only feed.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the lifecycle transition an Event reports.
type Kind string

const (
	KindDispatched Kind = "dispatched"
	KindStarted    Kind = "started"
	KindCompleted  Kind = "completed"
	KindFailed     Kind = "failed"
	KindCancelled  Kind = "cancelled"
)

// Event is one lifecycle notification (spec §4.7). Each subscriber receives
// its own copy on a separate goroutine, so a slow subscriber never blocks
// the bus; it stays subscribed and no event is discarded.
type Event struct {
	Kind        Kind      `json:"kind"`
	TaskID      uuid.UUID `json:"task_id"`
	RequestType string    `json:"request_type"`
	QueueName   string    `json:"queue_name"`
	OccurredUtc time.Time `json:"occurred_utc"`
	Exception   string    `json:"exception,omitempty"`
}
