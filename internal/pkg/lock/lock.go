// Package lock provides keyed single-writer locks.
// The wager engine takes one per user around balance changes and one per
// risk bucket around check-and-increment.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is what LockWithTimeout and WithLockContext return when the
// key stays held past the timeout. fn is not run. Callers treat it as a
// retryable failure.
var ErrLockTimeout = errors.New("lock acquisition timeout")

// entry is a one-slot semaphore so waiters can give up on ctx cancellation.
type entry struct {
	sem  chan struct{}
	refs int
}

// KeyLock serializes work per key while letting different keys run in parallel.
// Entries are dropped once no goroutine holds or waits on them.
type KeyLock[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
	pool    sync.Pool
}

// New creates an empty KeyLock.
func New[K comparable]() *KeyLock[K] {
	return &KeyLock[K]{
		entries: make(map[K]*entry),
		pool: sync.Pool{
			New: func() any {
				return &entry{sem: make(chan struct{}, 1)}
			},
		},
	}
}

// NewUserLock creates a lock keyed by user ID.
func NewUserLock() *KeyLock[int64] {
	return New[int64]()
}

func (l *KeyLock[K]) acquireRef(key K) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = l.pool.Get().(*entry)
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *KeyLock[K]) releaseRef(key K, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
		l.pool.Put(e)
	}
}

// Lock blocks until the key is held.
func (l *KeyLock[K]) Lock(key K) {
	e := l.acquireRef(key)
	e.sem <- struct{}{}
}

// Unlock releases the key. Unlocking a key that is not held is a no-op.
func (l *KeyLock[K]) Unlock(key K) {
	l.mu.Lock()
	e, ok := l.entries[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-e.sem:
		l.releaseRef(key, e)
	default:
	}
}

// TryLock acquires the key without blocking.
func (l *KeyLock[K]) TryLock(key K) bool {
	e := l.acquireRef(key)
	select {
	case e.sem <- struct{}{}:
		return true
	default:
		l.releaseRef(key, e)
		return false
	}
}

// LockWithTimeout waits for the key until timeout or ctx cancellation.
// Returns ErrLockTimeout on timeout and ctx.Err() on cancellation.
func (l *KeyLock[K]) LockWithTimeout(ctx context.Context, key K, timeout time.Duration) error {
	e := l.acquireRef(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-timer.C:
		l.releaseRef(key, e)
		return ErrLockTimeout
	case <-ctx.Done():
		l.releaseRef(key, e)
		return ctx.Err()
	}
}

// WithLock executes fn while holding the key.
func (l *KeyLock[K]) WithLock(key K, fn func() error) error {
	l.Lock(key)
	defer l.Unlock(key)
	return fn()
}

// WithLockContext executes fn while holding the key, giving up after timeout.
func (l *KeyLock[K]) WithLockContext(ctx context.Context, key K, timeout time.Duration, fn func() error) error {
	if err := l.LockWithTimeout(ctx, key, timeout); err != nil {
		return err
	}
	defer l.Unlock(key)

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// IsLocked is a point-in-time check.
func (l *KeyLock[K]) IsLocked(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	return ok && len(e.sem) == 1
}

// Len returns the number of keys currently held or awaited.
func (l *KeyLock[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
