// Package middleware holds the echo middleware shared by service binaries.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowcore/common/ratelimit"
)

const apiWindow = time.Minute

// RateLimit admits at most limit requests per user per minute. The key is
// the X-User-ID header, falling back to the caller's IP for anonymous
// traffic. Store errors fail open so an unhealthy Redis never takes the API
// down with it.
func RateLimit(store ratelimit.Store, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get("X-User-ID")
			if key == "" {
				key = c.RealIP()
			}

			decision, err := store.Allow(c.Request().Context(), "api:"+key, apiWindow, limit)
			if err != nil {
				return next(c)
			}
			if !decision.Allowed {
				retryAfter := time.Duration(decision.RetryAfter) * time.Millisecond
				c.Response().Header().Set("Retry-After",
					strconv.Itoa(int(retryAfter/time.Second)+1))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":          "rate_limit_exceeded",
					"limit":          decision.Limit,
					"current":        decision.Current,
					"retry_after_ms": decision.RetryAfter,
				})
			}
			return next(c)
		}
	}
}
