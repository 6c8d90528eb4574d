package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/common/ratelimit"
)

// didContextKey is where the auth middleware stores the caller's DID
const didContextKey = "did"

// GlobalRateLimitMiddleware checks the global service-wide rate limit.
// Redis errors let the request through (fail open).
func GlobalRateLimitMiddleware(rateLimiter *ratelimit.RateLimiter, policy ratelimit.Policy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result, err := rateLimiter.CheckGlobalLimit(c.Request().Context(), policy)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "global_rate_limit_exceeded",
					"message": "Service is experiencing high load. Please try again later.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window_seconds":      policy.WindowSeconds,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}

// DIDRateLimitMiddleware checks per-owner rate limits.
// Must run after the auth middleware has stored the DID in the echo context.
func DIDRateLimitMiddleware(rateLimiter *ratelimit.RateLimiter, policy ratelimit.Policy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			owner, ok := c.Get(didContextKey).(string)
			if !ok || owner == "" {
				return next(c)
			}

			result, err := rateLimiter.CheckDIDLimit(c.Request().Context(), owner, policy)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "did_rate_limit_exceeded",
					"message": "You have exceeded your request quota. Please wait before trying again.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window_seconds":      policy.WindowSeconds,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
