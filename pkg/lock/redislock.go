package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pollInterval = 100 * time.Millisecond

// releaseScript deletes the key only if it still holds our token, so a
// Release call can never clobber a lock some other holder has since
// acquired after ours expired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisLocker implements Locker on top of go-redis using SET NX PX for
// acquisition and a Lua compare-and-delete for release.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker wraps an already-connected client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire polls SET key token NX PX releaseTimeout every 100ms until it
// succeeds or acquireTimeout elapses.
func (l *RedisLocker) Acquire(ctx context.Context, key string, acquireTimeout, releaseTimeout time.Duration) (Lock, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(acquireTimeout)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, releaseTimeout).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &redisLock{client: l.client, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrContended
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

// Release runs the compare-and-delete script; it is a no-op (not an
// error) if the key has already expired or been claimed by someone else.
func (r *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err()
}
