package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Limiter interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// RateLimit throttles each caller (user_id, or client IP before auth) to
// limit requests per window. If the counter store is down the request is
// let through and a warning is logged.
func RateLimit(l Limiter, scope string, limit int, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetString("user_id")
		if caller == "" {
			caller = "ip:" + c.ClientIP()
		}
		key := scope + ":" + caller

		allowed, remaining, err := l.CheckAndIncrement(c.Request.Context(), key, limit, window)
		if err != nil {
			if log != nil {
				log.Warn("rate limiter unavailable, allowing request", zap.String("key", key), zap.Error(err))
			}
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
