package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestConcurrentBalanceSafetyProperty checks serialization per user.
// *For any* set of concurrent balance deltas on one user, the final balance
// equals the sequential sum.
func TestConcurrentBalanceSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initialBalance := rapid.Int64Range(1000, 100000).Draw(t, "initialBalance")
		amounts := rapid.SliceOfN(rapid.Int64Range(-500, 500), 2, 20).Draw(t, "amounts")
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		expected := initialBalance
		for _, a := range amounts {
			expected += a
		}

		ul := NewUserLock()
		balance := initialBalance

		var wg sync.WaitGroup
		wg.Add(len(amounts))
		for _, amount := range amounts {
			go func(amount int64) {
				defer wg.Done()
				ul.Lock(userID)
				defer ul.Unlock(userID)
				balance += amount
			}(amount)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("balance mismatch: expected %d, got %d", expected, balance)
		}
		if ul.Len() != 0 {
			t.Fatalf("expected no lingering entries, got %d", ul.Len())
		}
	})
}

// TestBucketKeysIndependentProperty checks that string keys (risk buckets)
// are serialized independently.
func TestBucketKeysIndependentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numKeys := rapid.IntRange(2, 8).Draw(t, "numKeys")
		opsPerKey := rapid.IntRange(5, 20).Draw(t, "opsPerKey")

		kl := New[string]()
		totals := make(map[string]*int64, numKeys)
		for i := 0; i < numKeys; i++ {
			var v int64
			totals[fmt.Sprintf("2026101714:%d", i)] = &v
		}

		var wg sync.WaitGroup
		for key := range totals {
			for j := 0; j < opsPerKey; j++ {
				wg.Add(1)
				go func(k string) {
					defer wg.Done()
					_ = kl.WithLock(k, func() error {
						*totals[k] += 10
						return nil
					})
				}(key)
			}
		}
		wg.Wait()

		for key, v := range totals {
			if *v != int64(opsPerKey)*10 {
				t.Fatalf("key %s: expected %d, got %d", key, opsPerKey*10, *v)
			}
		}
	})
}

// TestTryLockSingleHolderProperty checks that TryLock never admits two holders.
func TestTryLockSingleHolderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")
		attempts := rapid.IntRange(5, 20).Draw(t, "attempts")

		ul := NewUserLock()
		var holders, maxHolders atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})

		wg.Add(attempts)
		for i := 0; i < attempts; i++ {
			go func() {
				defer wg.Done()
				<-start
				if ul.TryLock(userID) {
					n := holders.Add(1)
					for {
						m := maxHolders.Load()
						if n <= m || maxHolders.CompareAndSwap(m, n) {
							break
						}
					}
					holders.Add(-1)
					ul.Unlock(userID)
				}
			}()
		}
		close(start)
		wg.Wait()

		if maxHolders.Load() != 1 {
			t.Fatalf("expected exactly one concurrent holder, saw %d", maxHolders.Load())
		}
		if !ul.TryLock(userID) {
			t.Fatal("lock should be available after all attempts finish")
		}
		ul.Unlock(userID)
	})
}

// TestLockUnlockSymmetryProperty checks that balanced cycles leave the key free.
func TestLockUnlockSymmetryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")
		cycles := rapid.IntRange(1, 50).Draw(t, "cycles")

		ul := NewUserLock()
		for i := 0; i < cycles; i++ {
			ul.Lock(userID)
			ul.Unlock(userID)
		}

		if ul.IsLocked(userID) {
			t.Fatal("lock should be free after symmetric cycles")
		}
	})
}

func TestLockWithTimeout_TimesOut(t *testing.T) {
	ul := NewUserLock()
	ul.Lock(7)
	defer ul.Unlock(7)

	err := ul.LockWithTimeout(context.Background(), 7, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.True(t, ul.IsLocked(7))
}

func TestWithLockContext_TimeoutSkipsFn(t *testing.T) {
	ul := NewUserLock()
	ul.Lock(7)
	defer ul.Unlock(7)

	ran := false
	err := ul.WithLockContext(context.Background(), 7, 20*time.Millisecond, func() error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, ran)
}

func TestLockWithTimeout_ContextCancelled(t *testing.T) {
	ul := NewUserLock()
	ul.Lock(7)
	defer ul.Unlock(7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ul.LockWithTimeout(ctx, 7, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWithLockContext_ReleasesAfterError(t *testing.T) {
	ul := NewUserLock()
	boom := fmt.Errorf("boom")

	err := ul.WithLockContext(context.Background(), 1, time.Second, func() error {
		assert.True(t, ul.IsLocked(1))
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.False(t, ul.IsLocked(1))
	assert.Equal(t, 0, ul.Len())
}

func TestUnlock_NotHeldIsNoop(t *testing.T) {
	kl := New[string]()
	kl.Unlock("missing")
	assert.False(t, kl.IsLocked("missing"))
}
