// Package redislock provides keyed mutual exclusion and fixed-window counters
// on top of redis. Neither is a guarantor of financial invariants: callers
// still rely on conditional writes in the database.
package redislock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"subscription-billing/internal/domain/apperr"
)

const lockPrefix = "lock:"

// ErrLockTimeout is returned when the lock stayed held for the whole wait.
var ErrLockTimeout = &apperr.Error{Kind: apperr.KindExternalService, Code: "lock_timeout", Message: "lock wait timed out"}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	rdb   redis.Cmdable
	retry time.Duration
}

func NewLocker(rdb redis.Cmdable) *Locker {
	return &Locker{rdb: rdb, retry: 25 * time.Millisecond}
}

// Acquire tries SET NX PX until wait elapses and returns the ownership token.
// A redis failure is reported as an external service error so callers can
// fail closed.
func (l *Locker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.rdb.SetNX(ctx, lockPrefix+key, token, ttl).Result()
		if err != nil {
			return "", apperr.External("lock store", err)
		}
		if ok {
			return token, nil
		}
		if time.Now().Add(l.retry).After(deadline) {
			return "", ErrLockTimeout.WithMessage("lock %q held by another owner", key)
		}

		select {
		case <-ctx.Done():
			return "", apperr.External("lock store", ctx.Err())
		case <-time.After(l.retry):
		}
	}
}

// Release deletes key if it is still owned by token. It reports whether the
// lock was ours at release time.
func (l *Locker) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{lockPrefix + key}, token).Int()
	if err != nil {
		return false, apperr.External("lock store", err)
	}
	return n == 1, nil
}

// WithLock runs fn while holding key. Release uses a fresh context so a
// cancelled request still frees the lock.
func (l *Locker) WithLock(ctx context.Context, key string, ttl, wait time.Duration, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx, key, ttl, wait)
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_, _ = l.Release(rctx, key, token)
	}()
	return fn(ctx)
}
