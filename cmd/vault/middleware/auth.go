package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/common/logger"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// DIDKey is the echo context key for the authenticated owner DID.
	// The per-DID rate limiter reads the same key.
	DIDKey ContextKey = "did"
)

// SessionResolver maps an access token to the DID that owns it
type SessionResolver interface {
	ResolveAccessToken(ctx context.Context, token string) (string, error)
}

// RequireDID authenticates the request by its bearer access token and stores
// the owner DID in the echo context.
//
// Usage:
//
//	g := e.Group("/content", middleware.RequireDID(authService, log))
//
// Accessing in handlers:
//
//	owner := middleware.GetDID(c)
func RequireDID(sessions SessionResolver, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "authorization bearer token is required",
				})
			}

			owner, err := sessions.ResolveAccessToken(c.Request().Context(), token)
			if err != nil {
				log.Debug("access token rejected", "error", err)
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "invalid or expired access token",
				})
			}

			c.Set(string(DIDKey), owner)
			return next(c)
		}
	}
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header, or ""
func BearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// GetDID retrieves the authenticated DID from the request context
// Returns empty string if not set
func GetDID(c echo.Context) string {
	owner, _ := c.Get(string(DIDKey)).(string)
	return owner
}
