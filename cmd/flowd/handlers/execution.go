// Package handlers implements the flowd HTTP API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowcore/cmd/flowd/container"
	"github.com/lyzr/flowcore/common/engine"
	"github.com/lyzr/flowcore/common/engine/store"
	"github.com/lyzr/flowcore/common/flow"
	"github.com/lyzr/flowcore/common/journal"
	"github.com/lyzr/flowcore/common/ratelimit"
)

// userHeader carries the caller's identity; auth itself happens upstream at
// the gateway.
const userHeader = "X-User-ID"

// ExecutionHandler serves the execution lifecycle endpoints.
type ExecutionHandler struct {
	c *container.Container
}

// NewExecutionHandler creates the execution handler.
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{c: c}
}

type startRequest struct {
	FlowID  string                 `json:"flow_id"`
	Flow    *flow.Flow             `json:"flow"`
	Payload map[string]interface{} `json:"payload"`
	UserID  string                 `json:"user_id"`
	Wait    bool                   `json:"wait"`
}

// Start begins a run from an inline flow definition or a previously
// registered flow id.
// POST /v1/executions
func (h *ExecutionHandler) Start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	userID := firstNonEmpty(req.UserID, c.Request().Header.Get(userHeader))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	f := req.Flow
	if f != nil {
		if err := h.c.Flows.Register(f); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	} else {
		var ok bool
		if f, ok = h.c.Flows.Get(req.FlowID); !ok {
			return echo.NewHTTPError(http.StatusNotFound, "unknown flow id")
		}
	}

	if err := h.admit(c, f, userID); err != nil {
		return err
	}

	start := engine.StartRequest{
		ExecutionID: uuid.NewString(),
		FlowID:      f.ID,
		UserID:      userID,
		Payload:     req.Payload,
	}

	if req.Wait {
		exec, err := h.c.Engine.Start(c.Request().Context(), f, start)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return c.JSON(http.StatusOK, executionBody(exec))
	}

	// Compile errors should reach the caller, so validate before detaching.
	if _, err := flow.Compile(f, h.c.Registry); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	go func() {
		if _, err := h.c.Engine.Start(context.Background(), f, start); err != nil {
			h.c.Components.Logger.Error("execution failed to start",
				"execution_id", start.ExecutionID, "error", err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"execution_id": start.ExecutionID,
		"flow_id":      f.ID,
		"state":        store.ExecRunning,
	})
}

// admit runs the tiered admission check: the flow's cost profile selects
// the per-user window. Store errors fail open.
func (h *ExecutionHandler) admit(c echo.Context, f *flow.Flow, userID string) error {
	if !h.c.Components.Config.RateLimit.Enabled {
		return nil
	}
	profile := ratelimit.InspectFlow(f, func(nodeType string) bool {
		handler, ok := h.c.Registry.Get(nodeType)
		return ok && handler.Category() != "plugin"
	})
	tier := profile.Tier

	key := "runs:" + userID + ":" + string(tier)
	decision, err := h.c.RateLimit.Allow(c.Request().Context(), key,
		ratelimit.WindowForTier(tier), ratelimit.LimitForTier(tier))
	if err != nil {
		return nil
	}
	h.c.Components.Metrics.RateLimitDecision(string(tier), decision.Allowed)
	if !decision.Allowed {
		return echo.NewHTTPError(http.StatusTooManyRequests,
			map[string]interface{}{
				"error":          "run_rate_limit_exceeded",
				"tier":           tier,
				"limit":          decision.Limit,
				"retry_after_ms": decision.RetryAfter,
			})
	}
	return nil
}

// Get returns the execution with its node records.
// GET /v1/executions/:id
func (h *ExecutionHandler) Get(c echo.Context) error {
	exec, records, err := h.c.Engine.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return err
	}
	body := executionBody(exec)
	body["nodes"] = records
	return c.JSON(http.StatusOK, body)
}

type resumeRequest struct {
	NodeID     string                 `json:"node_id"`
	ResumeData map[string]interface{} `json:"resume_data"`
}

// Resume re-enters a paused node. Validation happens inline; the run itself
// continues in the background.
// POST /v1/executions/:id/resume
func (h *ExecutionHandler) Resume(c echo.Context) error {
	executionID := c.Param("id")
	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.NodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node_id is required")
	}

	exec, err := h.c.ExecStore.GetExecution(c.Request().Context(), executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return err
	}
	if store.IsTerminal(exec.State) {
		return echo.NewHTTPError(http.StatusConflict, "execution already finished")
	}
	if _, err := h.c.Journal.Get(c.Request().Context(), executionID, req.NodeID); err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			return echo.NewHTTPError(http.StatusConflict, "node is not paused")
		}
		return err
	}

	go func() {
		if _, err := h.c.Engine.Resume(context.Background(), executionID, req.NodeID, req.ResumeData); err != nil {
			h.c.Components.Logger.Error("resume failed",
				"execution_id", executionID, "node_id", req.NodeID, "error", err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"execution_id": executionID,
		"node_id":      req.NodeID,
		"state":        store.ExecRunning,
	})
}

// Cancel stops a running or paused execution.
// POST /v1/executions/:id/cancel
func (h *ExecutionHandler) Cancel(c echo.Context) error {
	executionID := c.Param("id")
	if err := h.c.Engine.Cancel(c.Request().Context(), executionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": executionID,
		"state":        store.ExecCancelled,
	})
}

func executionBody(exec *store.Execution) map[string]interface{} {
	body := map[string]interface{}{
		"execution_id": exec.ID,
		"flow_id":      exec.FlowID,
		"user_id":      exec.UserID,
		"state":        exec.State,
		"started_at":   exec.StartedAt,
	}
	if exec.Error != "" {
		body["error"] = exec.Error
	}
	if exec.CompletedAt != nil {
		body["completed_at"] = exec.CompletedAt
	}
	return body
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
