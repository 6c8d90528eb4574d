package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lyzr/datavault/cmd/vault/container"
	"github.com/lyzr/datavault/cmd/vault/routes"
	"github.com/lyzr/datavault/common/bootstrap"
	"github.com/lyzr/datavault/common/db"
	"github.com/lyzr/datavault/common/metrics"
	commonmiddleware "github.com/lyzr/datavault/common/middleware"
	"github.com/lyzr/datavault/common/server"
	"github.com/lyzr/datavault/common/validation"
)

const serviceName = "vault"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap common components (DB, redis, logger, queue, cache, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName,
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return db.Migrate(ctx, database)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap vault: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	if serviceContainer.Reconciler != nil {
		if err := serviceContainer.Reconciler.Start(ctx); err != nil {
			components.Logger.Warn("orphaned pin reconciler not started", "error", err)
		}
	}

	e := setupEcho()
	setupMiddleware(e, serviceContainer)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	srv := server.New(serviceName, components.Config.Service.Port, e, components.Logger)
	if err := srv.Run(ctx); err != nil {
		components.Logger.Error("Server error", "error", err)
		components.Shutdown(context.Background())
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.NewRequestValidator()
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, c *container.Container) {
	cfg := c.Components.Config

	e.Use(middleware.RequestID())
	e.Use(commonmiddleware.RequestContext())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Service.AllowedOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(commonmiddleware.Metrics(metrics.NewHTTPMetrics()))

	if c.RateLimiter != nil {
		e.Use(commonmiddleware.GlobalRateLimitMiddleware(c.RateLimiter, c.GlobalPolicy))
	}
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": serviceName,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": serviceName,
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterAuthRoutes(e, serviceContainer)
	routes.RegisterContentRoutes(e, serviceContainer)
	routes.RegisterPublicRoutes(e, serviceContainer)
}
