package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when a Redis lock could not be taken before the
// retry budget ran out.
var ErrNotObtained = errors.New("lock not obtained")

// Redis is a Locker shared by every process using the same Redis server.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

// NewRedis returns a Locker backed by rdb. Locks expire after ttl if their
// holder dies without releasing them.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		prefix: "predaja:lock:",
	}
}

// Lock obtains key, retrying until ctx is done or the lock TTL has passed.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	attempts := int(r.ttl / r.retry)
	l, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.retry), attempts),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtaining lock %s: %w", key, err)
	}

	return func() {
		// Release with a fresh context so a cancelled request still frees the key.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			slog.Warn("releasing lock", "key", key, "error", err)
		}
	}, nil
}
