package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

const tooManyRequestsMessage = "リクエストが多すぎます。しばらくしてから再度お試しください。"

// ErrNoLimiterStore is returned when limiting is enabled but Redis is missing.
var ErrNoLimiterStore = errors.New("redis client is nil")

// RateLimiter counts form submissions per client in fixed Redis windows.
type RateLimiter struct {
	rdb     *redis.Client
	enabled bool
	policy  FailPolicy
}

// NewRateLimiter returns a limiter backed by rdb. Limiting is disabled when
// env is "test", "development" or "stress" so local workflows are not throttled.
func NewRateLimiter(rdb *redis.Client, env string, policy FailPolicy) *RateLimiter {
	enabled := true
	switch env {
	case "", "test", "development", "stress":
		enabled = false
	}
	return &RateLimiter{rdb: rdb, enabled: enabled, policy: policy}
}

// Allow reports whether id may perform one more request against resource.
func (l *RateLimiter) Allow(ctx context.Context, resource, id string, limit int, window time.Duration) (bool, error) {
	if l == nil || !l.enabled {
		return true, nil
	}
	if l.rdb == nil {
		return false, ErrNoLimiterStore
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)

	cnt, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		l.rdb.Expire(ctx, key, window)
	}
	return cnt <= int64(limit), nil
}

// Limit returns a Fiber middleware enforcing `limit` submissions per `window`
// on the named resource. Only POST requests are counted. Clients are keyed by
// the signed-in profile id when present, otherwise by remote IP.
func (l *RateLimiter) Limit(name string, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		id := "ip:" + c.IP()
		if uid, ok := c.Locals("userID").(string); ok && uid != "" {
			id = "user:" + uid
		}

		allowed, err := l.Allow(c.UserContext(), name, id, limit, window)
		if err != nil {
			if l.policy == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limit store unavailable, rejecting",
					slog.String("resource", name),
					slog.String("error", err.Error()),
				)
				return c.Status(fiber.StatusServiceUnavailable).SendString(tooManyRequestsMessage)
			}
			return c.Next()
		}

		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).SendString(tooManyRequestsMessage)
		}
		return c.Next()
	}
}
