package redislock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/testutil"
)

func TestLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		rdb, mr := testutil.NewTestRedis(t)
		l := NewLocker(rdb)

		token, err := l.Acquire(ctx, "settle:stripe:pi_1", time.Second, 0)
		require.NoError(t, err)
		require.NotEmpty(t, token)
		require.True(t, mr.Exists("lock:settle:stripe:pi_1"))

		released, err := l.Release(ctx, "settle:stripe:pi_1", token)
		require.NoError(t, err)
		require.True(t, released)
		require.False(t, mr.Exists("lock:settle:stripe:pi_1"))
	})

	t.Run("second acquire times out while held", func(t *testing.T) {
		rdb, _ := testutil.NewTestRedis(t)
		l := NewLocker(rdb)

		_, err := l.Acquire(ctx, "k", time.Minute, 0)
		require.NoError(t, err)

		_, err = l.Acquire(ctx, "k", time.Minute, 60*time.Millisecond)
		require.True(t, errors.Is(err, ErrLockTimeout))
	})

	t.Run("release with stale token keeps new owner", func(t *testing.T) {
		rdb, mr := testutil.NewTestRedis(t)
		l := NewLocker(rdb)

		stale, err := l.Acquire(ctx, "k", 100*time.Millisecond, 0)
		require.NoError(t, err)
		mr.FastForward(200 * time.Millisecond)

		fresh, err := l.Acquire(ctx, "k", time.Minute, 0)
		require.NoError(t, err)

		released, err := l.Release(ctx, "k", stale)
		require.NoError(t, err)
		require.False(t, released)

		got, err := mr.Get("lock:k")
		require.NoError(t, err)
		require.Equal(t, fresh, got)
	})

	t.Run("store unreachable is an external error", func(t *testing.T) {
		rdb, mr := testutil.NewTestRedis(t)
		l := NewLocker(rdb)
		mr.Close()

		_, err := l.Acquire(ctx, "k", time.Second, time.Second)
		require.True(t, apperr.IsKind(err, apperr.KindExternalService))
		require.False(t, errors.Is(err, ErrLockTimeout))
	})

	t.Run("with lock serializes critical sections", func(t *testing.T) {
		rdb, _ := testutil.NewTestRedis(t)
		l := NewLocker(rdb)

		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := l.WithLock(ctx, "shared", time.Second, 2*time.Second, func(context.Context) error {
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), maxInside)
	})
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to limit then stops counting", func(t *testing.T) {
		rdb, mr := testutil.NewTestRedis(t)
		rl := NewRateLimiter(rdb)

		for i := 0; i < 3; i++ {
			allowed, remaining, err := rl.CheckAndIncrement(ctx, "user:1", 3, time.Minute)
			require.NoError(t, err)
			require.True(t, allowed)
			require.Equal(t, 2-i, remaining)
		}

		allowed, remaining, err := rl.CheckAndIncrement(ctx, "user:1", 3, time.Minute)
		require.NoError(t, err)
		require.False(t, allowed)
		require.Equal(t, 0, remaining)

		got, err := mr.Get("rl:user:1")
		require.NoError(t, err)
		require.Equal(t, "3", got)
	})

	t.Run("window expiry resets the counter", func(t *testing.T) {
		rdb, mr := testutil.NewTestRedis(t)
		rl := NewRateLimiter(rdb)

		_, _, err := rl.CheckAndIncrement(ctx, "user:2", 1, time.Second)
		require.NoError(t, err)
		require.True(t, mr.TTL("rl:user:2") > 0)

		allowed, _, err := rl.CheckAndIncrement(ctx, "user:2", 1, time.Second)
		require.NoError(t, err)
		require.False(t, allowed)

		mr.FastForward(2 * time.Second)
		allowed, _, err = rl.CheckAndIncrement(ctx, "user:2", 1, time.Second)
		require.NoError(t, err)
		require.True(t, allowed)
	})

	t.Run("store unreachable returns error", func(t *testing.T) {
		rdb, mr := testutil.NewTestRedis(t)
		rl := NewRateLimiter(rdb)
		mr.Close()

		_, _, err := rl.CheckAndIncrement(ctx, "user:3", 1, time.Second)
		require.True(t, apperr.IsKind(err, apperr.KindExternalService))
	})
}
