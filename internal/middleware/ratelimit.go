package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/pinspire/platform/internal/config"
)

// RateLimit applies a fixed-window counter per client IP and route, backed
// by Redis so the limit holds across instances. Credential endpoints get
// this to slow down guessing. With limiting disabled, or no Redis client,
// or Redis erroring at request time, requests pass through: the limiter
// must never take the login path down with it.
func RateLimit(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := cfg.Prefix + ":" + c.Path() + ":" + c.RealIP()
			ctx := c.Request().Context()

			n, err := rdb.Incr(ctx, key).Result()
			if err != nil {
				return next(c)
			}
			if n == 1 {
				rdb.Expire(ctx, key, cfg.Window)
			}
			if n > int64(cfg.Limit) {
				retry := int64(cfg.Window.Round(time.Second).Seconds())
				if retry < 1 {
					retry = 1
				}
				c.Response().Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
