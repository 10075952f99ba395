package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/flowcore/cmd/flowd/container"
	"github.com/lyzr/flowcore/cmd/flowd/routes"
	"github.com/lyzr/flowcore/common/bootstrap"
	"github.com/lyzr/flowcore/common/db"
	"github.com/lyzr/flowcore/common/engine/store"
	"github.com/lyzr/flowcore/common/journal"
	"github.com/lyzr/flowcore/common/middleware"
	"github.com/lyzr/flowcore/common/plugin/install"
	"github.com/lyzr/flowcore/common/server"
)

// apiRequestsPerMinute is the per-user API window; run admission has its own
// tiered limits on top.
const apiRequestsPerMinute = 300

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "flowd",
		bootstrap.WithDBInitHook(ensureSchemas))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap flowd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	if err := serviceContainer.Start(runCtx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start background workers: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho(serviceContainer)
	registerRoutes(e, serviceContainer)
	startServer(e, components)
}

// ensureSchemas creates every table the service owns.
func ensureSchemas(database *db.DB) error {
	ctx := context.Background()
	if err := store.NewPostgresStore(database).EnsureSchema(ctx); err != nil {
		return err
	}
	if err := journal.NewPostgresStore(database).EnsureSchema(ctx); err != nil {
		return err
	}
	return install.NewPostgresStore(database).EnsureSchema(ctx)
}

func setupEcho(c *container.Container) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORS())
	e.Use(middleware.RateLimit(c.RateLimit, apiRequestsPerMinute))
	return e
}

func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterExecutionRoutes(e, c)
	routes.RegisterHookRoutes(e, c)
	routes.RegisterInstallRoutes(e, c)

	e.GET("/health", func(ec echo.Context) error {
		if err := c.Components.Health(ec.Request().Context()); err != nil {
			return ec.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
		return ec.JSON(200, map[string]string{"status": "ok", "service": "flowd"})
	})
	e.GET("/metrics", echo.WrapHandler(c.Components.Metrics.Handler()))
}

func startServer(e *echo.Echo, components *bootstrap.Components) {
	srv := server.New("flowd", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
