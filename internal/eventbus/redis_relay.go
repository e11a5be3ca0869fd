package eventbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay is an optional Sink that republishes every Event onto a Redis
// Pub/Sub channel, so a process outside the engine (a monitoring dashboard,
// an alerting pipeline) can observe task lifecycle transitions without
// importing EverTask. Grounded on the teacher's use of
// `github.com/redis/go-redis/v9` (internal/scheduler/lock.go) — repurposed
// here from distributed-lock coordination (not applicable; EverTask is
// single-process per spec §1/§5) into a one-way, best-effort monitoring
// feed.
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedisRelay wraps an already-connected client. channel is the Pub/Sub
// channel every Event is marshalled to as JSON and published on.
func NewRedisRelay(client *redis.Client, channel string, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{client: client, channel: channel, log: log}
}

// Publish implements Sink. Marshal/publish errors are logged, never
// returned — a relay outage must not affect task execution.
func (r *RedisRelay) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		r.log.Error("eventbus: failed to marshal event for redis relay", zap.Error(err))
		return
	}
	ctx := context.Background()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.Warn("eventbus: redis publish failed", zap.Error(err), zap.String("channel", r.channel))
	}
}
