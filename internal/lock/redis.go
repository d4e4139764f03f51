package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/erazemk/nxledger/internal/metrics"
)

const lockKeyPrefix = "nxledger:lock:"

// releaseScript deletes a lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis server.
// Locks expire after TTL so a crashed holder cannot wedge an entity.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis returns a Redis-backed Locker.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

// Lock polls SET NX for every key until all are held or ctx ends.
func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	start := time.Now()
	keys = normalizeKeys(keys)
	token := uuid.NewString()

	var held []string
	for _, key := range keys {
		if err := r.acquire(ctx, lockKeyPrefix+key, token); err != nil {
			r.releaseAll(held, token)
			return nil, err
		}
		held = append(held, lockKeyPrefix+key)
	}
	metrics.LockWait.Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() { once.Do(func() { r.releaseAll(held, token) }) }, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("locking %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) releaseAll(keys []string, token string) {
	// Release even if the request context is already done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, key := range keys {
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			slog.Error("failed to release lock", "key", key, "error", err)
		}
	}
}
