package flowctl

import (
	"context"
	"time"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/ratelimit"
	"github.com/lyzr/flowcore/common/value"
)

// RateLimiter admits items through a fixed-window budget. Overflow behaviour
// is configurable: suspend until the window resets, pass through marked
// dropped, or fail.
type RateLimiter struct {
	node.Base
	store ratelimit.Store
}

// NewRateLimiter creates the rate limiter handler backed by the given store.
func NewRateLimiter(store ratelimit.Store) *RateLimiter {
	return &RateLimiter{
		Base: node.Base{Def: node.Definition{
			Type:        "rateLimiter",
			DisplayName: "Rate Limiter",
			Description: "Limit how many items pass per time window",
			Icon:        "gauge",
			Category:    "flow",
			Schema: node.ObjectSchema(map[string]interface{}{
				"key": map[string]interface{}{
					"type":        "string",
					"description": "Budget key; defaults to the node id",
				},
				"maxRequests": map[string]interface{}{
					"type":    "integer",
					"default": 10,
				},
				"windowMs": map[string]interface{}{
					"type":    "integer",
					"default": 60000,
				},
				"mode": map[string]interface{}{
					"type":    "string",
					"enum":    []interface{}{"delay", "drop", "error"},
					"default": "delay",
				},
			}),
			Interface: node.Ports([]string{"main"}, []string{"out"}),
		}},
		store: store,
	}
}

// Execute consults the shared budget for this node's key.
func (h *RateLimiter) Execute(ctx context.Context, nc *node.Context) *node.Result {
	key := nc.ConfigString("key", nc.NodeID)
	maxRequests := nc.ConfigInt("maxRequests", 10)
	windowMs := nc.ConfigInt("windowMs", 60000)
	mode := nc.ConfigString("mode", "delay")

	if maxRequests < 1 {
		return node.Fail(node.KindValidation, "maxRequests must be >= 1, got %d", maxRequests)
	}
	if windowMs < 1 {
		return node.Fail(node.KindValidation, "windowMs must be >= 1, got %d", windowMs)
	}
	if h.store == nil {
		return node.Fail(node.KindDependency, "rate limit store is not configured")
	}

	decision, err := h.store.Allow(ctx, key, time.Duration(windowMs)*time.Millisecond, int64(maxRequests))
	if err != nil {
		return node.Fail(node.KindDependency, "rate limit check failed: %v", err)
	}

	if decision.Allowed {
		out := value.CloneMap(nc.Input)
		return node.Succeed(out)
	}

	switch mode {
	case "drop":
		out := value.CloneMap(nc.Input)
		out["dropped"] = true
		return node.Succeed(out)
	case "error":
		return node.Fail(node.KindRateLimited, "Rate limit exceeded for key %q", key)
	default: // delay
		waitMs := decision.RetryAfter
		if waitMs <= 0 {
			waitMs = int64(windowMs)
		}
		resumeAt := time.Now().Add(time.Duration(waitMs) * time.Millisecond).UTC()
		return node.Suspend(&node.PauseRequest{
			ResumeKind:        "timer",
			ScheduledResumeAt: &resumeAt,
			Hint: map[string]interface{}{
				"_rateLimiter": map[string]interface{}{
					"waitMs": waitMs,
					"key":    key,
				},
			},
		})
	}
}
