package sip

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"doorgate/pkg/utils"
)

// CallLimiter caps how many inbound calls are handled at once. Calls rejected
// by the limiter get 486 Busy Here.
type CallLimiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// LocalLimiter is an in-process semaphore, the default for single-instance
// deployments.
type LocalLimiter struct {
	slots chan struct{}
}

func NewLocalLimiter(limit int) *LocalLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &LocalLimiter{slots: make(chan struct{}, limit)}
}

func (l *LocalLimiter) Acquire(_ context.Context) (bool, error) {
	select {
	case l.slots <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

func (l *LocalLimiter) Release(_ context.Context) {
	select {
	case <-l.slots:
	default:
	}
}

// RedisLimiter shares the cap across instances registered against the same
// trunk. The TTL keeps a crashed instance from pinning slots forever.
type RedisLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, key string, limit int) *RedisLimiter {
	if limit <= 0 {
		limit = 1
	}
	if key == "" {
		key = "doorgate:calls:active"
	}
	return &RedisLimiter{rdb: rdb, key: key, limit: limit, ttl: 5 * time.Minute}
}

func (l *RedisLimiter) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key, l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context) {
	_ = utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key)
}
