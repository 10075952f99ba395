package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowcore/cmd/flowd/container"
	"github.com/lyzr/flowcore/common/plugin/install"
)

// InstallHandler serves the plugin install API.
type InstallHandler struct {
	c *container.Container
}

// NewInstallHandler creates the install handler.
func NewInstallHandler(c *container.Container) *InstallHandler {
	return &InstallHandler{c: c}
}

func (h *InstallHandler) installer(c echo.Context) (*install.Installer, string, error) {
	if h.c.Installer == nil {
		return nil, "", echo.NewHTTPError(http.StatusServiceUnavailable, "no container runtime available")
	}
	userID := c.Request().Header.Get(userHeader)
	if userID == "" {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "X-User-ID header is required")
	}
	return h.c.Installer, userID, nil
}

// Create queues a plugin install.
// POST /v1/plugins/installs
func (h *InstallHandler) Create(c echo.Context) error {
	inst, userID, err := h.installer(c)
	if err != nil {
		return err
	}
	var req install.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	task, err := inst.Enqueue(c.Request().Context(), userID, req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, task)
}

// Get returns one install task; owner only.
// GET /v1/plugins/installs/:id
func (h *InstallHandler) Get(c echo.Context) error {
	inst, userID, err := h.installer(c)
	if err != nil {
		return err
	}
	task, err := inst.Status(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return installError(err)
	}
	return c.JSON(http.StatusOK, task)
}

// List returns the caller's install tasks; ?active=true filters to
// unfinished ones.
// GET /v1/plugins/installs
func (h *InstallHandler) List(c echo.Context) error {
	inst, userID, err := h.installer(c)
	if err != nil {
		return err
	}
	tasks, err := inst.List(c.Request().Context(), userID, c.QueryParam("active") == "true")
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []*install.Task{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// Cancel stops a queued or in-flight install; owner only.
// POST /v1/plugins/installs/:id/cancel
func (h *InstallHandler) Cancel(c echo.Context) error {
	inst, userID, err := h.installer(c)
	if err != nil {
		return err
	}
	task, err := inst.Cancel(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return installError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func installError(err error) error {
	switch {
	case errors.Is(err, install.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "install task not found")
	case errors.Is(err, install.ErrForbidden):
		// Indistinguishable from absent so task ids don't leak across users.
		return echo.NewHTTPError(http.StatusNotFound, "install task not found")
	case errors.Is(err, install.ErrTerminal):
		return echo.NewHTTPError(http.StatusConflict, "install task already finished")
	default:
		return err
	}
}
