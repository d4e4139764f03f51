package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalSerializes(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "box:B1", "pallet:P1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside.Load())
	}
	if len(l.slots) != 0 {
		t.Errorf("slots not cleaned up: %d left", len(l.slots))
	}
}

func TestLocalOverlappingOrder(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := []string{"a", "b"}
			if i%2 == 1 {
				keys = []string{"b", "a"}
			}
			unlock, err := l.Lock(ctx, keys...)
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			unlock()
		}()
	}
	wg.Wait()
}

func TestLocalContextCancel(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}
}

func TestLocalUnlockTwice(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
	unlock()

	unlock, err = l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock()
}

func TestLocalIdempotency(t *testing.T) {
	idem := NewLocalIdempotency()
	now := time.Now()
	idem.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := idem.Claim(ctx, "req-1")
	if !ok {
		t.Fatal("first claim should succeed")
	}
	ok, _ = idem.Claim(ctx, "req-1")
	if ok {
		t.Fatal("second claim should fail")
	}

	now = now.Add(25 * time.Hour)
	ok, _ = idem.Claim(ctx, "req-1")
	if !ok {
		t.Fatal("claim after expiry should succeed")
	}

	if err := idem.Release(ctx, "req-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = idem.Claim(ctx, "req-1")
	if !ok {
		t.Fatal("claim after release should succeed")
	}
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("NXLEDGER_TEST_REDIS")
	if addr == "" {
		t.Skip("NXLEDGER_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLock(t *testing.T) {
	client := testRedis(t)
	l := NewRedis(client, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "test:"+t.Name())
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, "test:"+t.Name()); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}

	unlock()
	unlock, err = l.Lock(ctx, "test:"+t.Name())
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock()
}

func TestRedisIdempotency(t *testing.T) {
	client := testRedis(t)
	idem := NewRedisIdempotency(client)
	ctx := context.Background()
	key := "test:" + t.Name() + ":" + time.Now().String()
	t.Cleanup(func() { client.Del(ctx, idempotencyKeyPrefix+key) })

	ok, err := idem.Claim(ctx, key)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = idem.Claim(ctx, key)
	if err != nil || ok {
		t.Fatalf("second claim: ok=%v err=%v", ok, err)
	}

	if err := idem.Release(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = idem.Claim(ctx, key)
	if err != nil || !ok {
		t.Fatalf("claim after release: ok=%v err=%v", ok, err)
	}
}
