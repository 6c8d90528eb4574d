package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/cmd/vault/container"
	"github.com/lyzr/datavault/cmd/vault/handlers"
)

// RegisterPublicRoutes registers unauthenticated read access by DID and key.
// Register after the static routes so /content, /keys and friends take precedence.
func RegisterPublicRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewPublicHandler(c.StorageService, c.Components.Logger)

	e.GET("/:did/:key", h.Get) // GET /{did}/{key}
}
