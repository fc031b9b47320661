package redislock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"subscription-billing/internal/domain/apperr"
)

const rateLimitPrefix = "rl:"

// incrementScript refuses to count past the limit, so a throttled caller
// does not extend its own penalty. PEXPIRE is set only on the first hit.
var incrementScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
	return {0, current}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, current}
`)

type RateLimiter struct {
	rdb redis.Cmdable
}

func NewRateLimiter(rdb redis.Cmdable) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// CheckAndIncrement counts one hit against key within window. It returns an
// external service error when redis is unreachable; callers decide whether
// to fail open.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	if limit <= 0 {
		return false, 0, nil
	}
	res, err := incrementScript.Run(ctx, r.rdb, []string{rateLimitPrefix + key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, apperr.External("rate limit store", err)
	}
	allowed := res[0] == 1
	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, nil
}
