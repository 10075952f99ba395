// Package routes maps the flowd HTTP surface onto its handlers.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowcore/cmd/flowd/container"
	"github.com/lyzr/flowcore/cmd/flowd/handlers"
)

// RegisterExecutionRoutes wires the execution lifecycle endpoints.
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c)
	ev := handlers.NewEventsHandler(c)

	execs := e.Group("/v1/executions")
	execs.POST("", h.Start)
	execs.GET("/:id", h.Get)
	execs.POST("/:id/resume", h.Resume)
	execs.POST("/:id/cancel", h.Cancel)
	execs.GET("/:id/events", ev.Stream)
}

// RegisterHookRoutes wires the inbound webhook endpoint.
func RegisterHookRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHookHandler(c)
	e.POST("/v1/hooks/:token", h.Receive)
}

// RegisterInstallRoutes wires the plugin install API.
func RegisterInstallRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewInstallHandler(c)

	installs := e.Group("/v1/plugins/installs")
	installs.POST("", h.Create)
	installs.GET("", h.List)
	installs.GET("/:id", h.Get)
	installs.POST("/:id/cancel", h.Cancel)
}
