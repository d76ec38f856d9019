// Package lock implements the Sync Coordinator's distributed lock
// (spec.md §4.11): a named Redis lock acquired with SET NX EX and released
// with a compare-and-delete Lua script so a lease only ever removes the
// key it created. The Redis client construction follows the teacher
// pack's redis cache adapter.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker implements reviews.Locker against a Redis SET NX EX lock.
type RedisLocker struct {
	client *redis.Client
	logger *zap.Logger
}

// New builds a RedisLocker. addr/pass/db mirror the teacher pack's redis
// client construction.
func New(addr, pass string, db int, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}),
		logger: logger,
	}
}

// Acquire takes the named lock, or reports failure if it is already held.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (reviews.Lease, bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		l.logger.Warn("lock: redis error", zap.String("key", key), zap.Error(err))
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &lease{client: l.client, key: key, owner: owner}, true, nil
}

type lease struct {
	client *redis.Client
	key    string
	owner  string
}

// Release deletes the lock only if it is still owned by this lease
// (compare-and-delete via a Lua script), making Release idempotent and
// safe to call from every exit path even after TTL expiry.
func (l *lease) Release(ctx context.Context) error {
	return l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Err()
}
