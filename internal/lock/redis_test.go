package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when PREDAJA_TEST_REDIS is set, e.g. localhost:6379.
func TestRedisLock(t *testing.T) {
	addr := os.Getenv("PREDAJA_TEST_REDIS")
	if addr == "" {
		t.Skip("PREDAJA_TEST_REDIS not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	require.NoError(t, rdb.Ping(ctx).Err())

	l := NewRedis(rdb, 200*time.Millisecond)
	key := ProductKey("redis-test")

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)

	_, err = l.Lock(ctx, key)
	require.ErrorIs(t, err, ErrNotObtained)

	unlock()
	again, err := l.Lock(ctx, key)
	require.NoError(t, err)
	again()
}
