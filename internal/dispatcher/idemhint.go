package dispatcher

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyHint is a best-effort cache that lets the dispatcher skip a
// Postgres round-trip on the common path: a brand-new TaskKey. The store is
// consulted only when the hint answers "might exist", so a false "might
// exist" costs an extra read, while a false "never seen" (e.g. after a Redis
// restart) skips store.GetByTaskKey and that dispatch is not deduplicated.
type IdempotencyHint interface {
	// MightExist reports whether key was marked seen recently. The
	// dispatcher trusts false and skips the store lookup; true is only a
	// hint.
	MightExist(ctx context.Context, key string) bool
	MarkSeen(ctx context.Context, key string)
}

// RedisIdempotencyHint repurposes the teacher's distributed-lock SetNX
// pattern (internal/scheduler/lock.go) as a one-way "have I seen this
// TaskKey" cache rather than a mutual-exclusion lock.
type RedisIdempotencyHint struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyHint builds a hint cache. ttl bounds how long a TaskKey
// is remembered; 0 defaults to one hour.
func NewRedisIdempotencyHint(client *redis.Client, ttl time.Duration) *RedisIdempotencyHint {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisIdempotencyHint{client: client, ttl: ttl}
}

func (h *RedisIdempotencyHint) hintKey(key string) string {
	return "evertask:taskkey:" + key
}

// MightExist fails open: a Redis error is treated as "might exist," which
// falls back to the authoritative, slower store lookup instead of silently
// allowing a duplicate dispatch.
func (h *RedisIdempotencyHint) MightExist(ctx context.Context, key string) bool {
	n, err := h.client.Exists(ctx, h.hintKey(key)).Result()
	if err != nil {
		return true
	}
	return n > 0
}

func (h *RedisIdempotencyHint) MarkSeen(ctx context.Context, key string) {
	h.client.Set(ctx, h.hintKey(key), "1", h.ttl)
}
