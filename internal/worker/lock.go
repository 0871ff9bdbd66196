package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rendis/flowengine/pkg/schema"
)

// LockGrace is added to the run timeout to get the lock ttl.
const LockGrace = 3 * time.Second

// Locker serializes the executions of one run across workers.
// The returned func releases the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Deletes the key only while it still holds our token, so an expired lock
// taken over by another worker is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a locker. Keys are namespaced under prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "flowengine:lock"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire takes the lock or fails with ErrCodeLock when another holder has it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	full := l.prefix + ":" + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLock, "acquire lock %s: %s", key, err.Error()).WithCause(err)
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeLock, "lock %s is held by another worker", key).
			WithDetails(map[string]any{"key": key})
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{full}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return schema.NewErrorf(schema.ErrCodeLock, "release lock %s: %s", key, err.Error()).WithCause(err)
		}
		return nil
	}
	return release, nil
}

var _ Locker = (*RedisLocker)(nil)
