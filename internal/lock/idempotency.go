package lock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "nxledger:idem:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// Idempotency remembers request keys so a retried mutation is applied once.
type Idempotency interface {
	// Claim returns true the first time key is seen within the TTL.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so the request can be retried.
	Release(ctx context.Context, key string) error
}

// LocalIdempotency is an in-process Idempotency.
type LocalIdempotency struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewLocalIdempotency returns an in-process Idempotency with the default TTL.
func NewLocalIdempotency() *LocalIdempotency {
	return &LocalIdempotency{seen: make(map[string]time.Time), ttl: idempotencyKeyTTL, now: time.Now}
}

func (l *LocalIdempotency) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, exp := range l.seen {
		if now.After(exp) {
			delete(l.seen, k)
		}
	}
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = now.Add(l.ttl)
	return true, nil
}

func (l *LocalIdempotency) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
	return nil
}

// RedisIdempotency shares claimed keys across processes.
type RedisIdempotency struct {
	client *redis.Client
}

// NewRedisIdempotency returns a Redis-backed Idempotency.
func NewRedisIdempotency(client *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{client: client}
}

func (r *RedisIdempotency) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}
