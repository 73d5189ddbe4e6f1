package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise RedisLocker against a real redis instance; set
// REDIS_TEST_ADDR to run them (e.g. in CI, a redis:7 service container).
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping redis-backed lock test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	client := newTestClient(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()
	key := Key("test-group-" + uniqueSuffix())

	lk, err := locker.Acquire(ctx, key, time.Second, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, lk.Release(ctx))

	val, err := client.Get(ctx, key).Result()
	assert.ErrorIs(t, err, redis.Nil)
	assert.Empty(t, val)
}

func TestRedisLocker_SecondAcquireContendsUntilReleased(t *testing.T) {
	client := newTestClient(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()
	key := Key("test-group-" + uniqueSuffix())

	first, err := locker.Acquire(ctx, key, time.Second, 5*time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, 300*time.Millisecond, 5*time.Second)
	assert.ErrorIs(t, err, ErrContended)

	require.NoError(t, first.Release(ctx))

	second, err := locker.Acquire(ctx, key, time.Second, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestRedisLocker_ReleaseDoesNotClobberReacquiredLock(t *testing.T) {
	client := newTestClient(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()
	key := Key("test-group-" + uniqueSuffix())

	first, err := locker.Acquire(ctx, key, time.Second, 200*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(400 * time.Millisecond) // let it expire

	second, err := locker.Acquire(ctx, key, time.Second, 5*time.Second)
	require.NoError(t, err)

	// first's release must not remove second's still-valid key.
	require.NoError(t, first.Release(ctx))

	val, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.NotEmpty(t, val)

	require.NoError(t, second.Release(ctx))
}

func uniqueSuffix() string {
	return time.Now().Format("150405.000000000")
}
