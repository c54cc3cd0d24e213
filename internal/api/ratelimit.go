package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increments a fixed-window counter and reports the new count and
// the time left in the window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisCounter keeps rate limit windows in redis with INCR and EXPIRE.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return count, window, err
		}
		return count, window, nil
	}
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return count, 0, err
	}
	if ttl < 0 {
		// the key lost its expiry (EXPIRE failed after INCR); restart the window
		c.client.Expire(ctx, key, window)
		ttl = window
	}
	return count, ttl, nil
}

// RateLimit allows limit requests per owner per window. Counter errors let
// the request through.
func RateLimit(counter Counter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if counter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := OwnerFrom(r.Context())
			if owner == "" {
				owner = "anonymous"
			}
			key := fmt.Sprintf("clipforge:rl:ingest:%s", owner)

			count, ttl, err := counter.Incr(r.Context(), key, window)
			if err != nil {
				logger.Warn("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			reset := int(ttl.Seconds())
			if reset < 0 {
				reset = 0
			}
			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.Itoa(reset))

			if count > int64(limit) {
				h.Set("Retry-After", strconv.Itoa(reset))
				WriteError(w, http.StatusTooManyRequests,
					fmt.Sprintf("rate limit exceeded: %d requests per %s", limit, window), "RATE_LIMITED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
