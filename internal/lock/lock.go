// Package lock serializes mutations of one logical entity across requests.
package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/erazemk/nxledger/internal/metrics"
)

// ErrNotAcquired is returned when a lock could not be taken before the context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker takes exclusive locks on a set of keys. Keys are acquired in sorted
// order so two callers locking overlapping sets cannot deadlock.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

func normalizeKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns an empty in-process Locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock blocks until every key is held or ctx ends.
func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	start := time.Now()
	keys = normalizeKeys(keys)

	var held []string
	for _, key := range keys {
		if err := l.acquire(ctx, key); err != nil {
			for _, k := range held {
				l.release(k, true)
			}
			return nil, errors.Join(ErrNotAcquired, err)
		}
		held = append(held, key)
	}
	metrics.LockWait.Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, k := range held {
				l.release(k, true)
			}
		})
	}, nil
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(key, false)
		return ctx.Err()
	}
}

func (l *Local) release(key string, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.slots[key]
	if held {
		<-s.ch
	}
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
