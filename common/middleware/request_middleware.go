package middleware

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/common/clients"
	"github.com/lyzr/datavault/common/logger"
	"github.com/lyzr/datavault/common/metrics"
)

// RequestContext copies the request id assigned by echo's RequestID middleware
// into the request context, where loggers and outbound clients pick it up.
// Must run after middleware.RequestID().
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if requestID == "" {
				return next(c)
			}

			ctx := context.WithValue(c.Request().Context(), logger.RequestIDKey, requestID)
			ctx = clients.WithRequestID(ctx, requestID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// Metrics records every request by its route template, not its concrete path
func Metrics(m metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			m.RecordRequest(c.Request().Method, c.Path(), c.Response().Status, time.Since(start))
			return nil
		}
	}
}
