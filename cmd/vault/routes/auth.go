package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/cmd/vault/container"
	"github.com/lyzr/datavault/cmd/vault/handlers"
	vaultmiddleware "github.com/lyzr/datavault/cmd/vault/middleware"
	commonmiddleware "github.com/lyzr/datavault/common/middleware"
)

// RegisterAuthRoutes registers the DID challenge-response login routes
func RegisterAuthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAuthHandler(c.AuthService, c.Components.Logger)

	auth := e.Group("/auth")
	{
		auth.POST("/challenge", h.Challenge) // POST /auth/challenge
		auth.POST("/login", h.Login)         // POST /auth/login
		auth.POST("/refresh", h.Refresh)     // POST /auth/refresh
		auth.POST("/logout", h.Logout)       // POST /auth/logout
	}
}

// ownerMiddleware authenticates the caller and, when enabled, applies the per-DID rate limit
func ownerMiddleware(c *container.Container) []echo.MiddlewareFunc {
	mw := []echo.MiddlewareFunc{
		vaultmiddleware.RequireDID(c.AuthService, c.Components.Logger),
	}
	if c.RateLimiter != nil {
		mw = append(mw, commonmiddleware.DIDRateLimitMiddleware(c.RateLimiter, c.PerDIDPolicy))
	}
	return mw
}
