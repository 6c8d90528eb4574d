package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/cmd/vault/container"
	"github.com/lyzr/datavault/cmd/vault/handlers"
)

// RegisterContentRoutes registers the owner's content and storage routes.
// All of them require a bearer access token.
func RegisterContentRoutes(e *echo.Echo, c *container.Container) {
	log := c.Components.Logger
	content := handlers.NewContentHandler(c.StorageService, log)
	storage := handlers.NewStorageHandler(c.StorageService, log)

	// Middleware is attached per route rather than through a root group,
	// which would turn every unmatched path into a 401
	mw := ownerMiddleware(c)

	e.POST("/content/:key", content.Create, mw...)       // POST /content/{key}
	e.GET("/content/:key", content.Get, mw...)           // GET /content/{key}
	e.PUT("/content/:key", content.Update, mw...)        // PUT /content/{key}
	e.PUT("/content/:key/:id", content.Update, mw...)    // PUT /content/{key}/{id}
	e.DELETE("/content/:key", content.Delete, mw...)     // DELETE /content/{key}
	e.DELETE("/content/:key/:id", content.Delete, mw...) // DELETE /content/{key}/{id}
	e.GET("/keys", storage.Keys, mw...)                  // GET /keys
	e.GET("/storage", storage.Storage, mw...)            // GET /storage
	e.GET("/backup", storage.Backup, mw...)              // GET /backup
}
