package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowcore/cmd/flowd/container"
	"github.com/lyzr/flowcore/common/engine"
	"github.com/lyzr/flowcore/common/engine/store"
	"github.com/lyzr/flowcore/common/flow"
	"github.com/lyzr/flowcore/common/handlers/flowctl"
	"github.com/lyzr/flowcore/common/value"
)

const (
	// webhookWait bounds how long a hook request blocks on the run when the
	// flow builds its own HTTP response.
	webhookWait = 30 * time.Second

	maxHookBody = 1 << 20 // 1 MiB
)

// HookHandler turns inbound webhook requests into executions.
type HookHandler struct {
	c *container.Container
}

// NewHookHandler creates the webhook handler.
func NewHookHandler(c *container.Container) *HookHandler {
	return &HookHandler{c: c}
}

// Receive seeds a webhook-triggered run with the shaped request. Flows with
// a respondWebhook node answer synchronously; everything else gets 202.
// POST /v1/hooks/:token
func (h *HookHandler) Receive(c echo.Context) error {
	f, ok := h.c.Flows.ByHookToken(c.Param("token"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown hook")
	}

	payload, err := shapeRequest(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	start := engine.StartRequest{
		ExecutionID: uuid.NewString(),
		FlowID:      f.ID,
		UserID:      "webhook",
		Payload:     payload,
	}

	if !flowResponds(f) {
		go func() {
			if _, err := h.c.Engine.Start(context.Background(), f, start); err != nil {
				h.c.Components.Logger.Error("webhook execution failed to start",
					"execution_id", start.ExecutionID, "error", err)
			}
		}()
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"execution_id": start.ExecutionID,
			"state":        store.ExecRunning,
		})
	}

	start.Timeout = webhookWait
	exec, err := h.c.Engine.Start(c.Request().Context(), f, start)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return h.respond(c, exec)
}

// respond replays the response assembled by the flow's respondWebhook node,
// falling back to a summary when the run never reached one.
func (h *HookHandler) respond(c echo.Context, exec *store.Execution) error {
	records, err := h.c.ExecStore.ListNodes(c.Request().Context(), exec.ID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		raw, ok := rec.Metadata[flowctl.MetaWebhookResponse].(map[string]interface{})
		if !ok {
			continue
		}
		status := value.ToInt(raw["statusCode"], http.StatusOK)
		if headers, ok := raw["headers"].(map[string]interface{}); ok {
			for k, v := range headers {
				c.Response().Header().Set(k, value.ToString(v))
			}
		}
		return c.JSON(status, raw["body"])
	}

	body := executionBody(exec)
	status := http.StatusOK
	if exec.State == store.ExecFailed {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, body)
}

// shapeRequest builds the trigger payload from the inbound request.
func shapeRequest(c echo.Context) (map[string]interface{}, error) {
	r := c.Request()

	headers := map[string]interface{}{}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := map[string]interface{}{}
	for k, vs := range c.QueryParams() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}

	var body interface{} = map[string]interface{}{}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxHookBody))
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		var decoded interface{}
		if json.Unmarshal(raw, &decoded) == nil {
			body = decoded
		} else {
			body = string(raw)
		}
	}

	return map[string]interface{}{
		"method":  r.Method,
		"headers": headers,
		"query":   query,
		"body":    body,
	}, nil
}

// flowResponds reports whether the flow assembles its own webhook response.
func flowResponds(f *flow.Flow) bool {
	for _, n := range f.Nodes {
		if n.Type == "respondWebhook" {
			return true
		}
	}
	return false
}
