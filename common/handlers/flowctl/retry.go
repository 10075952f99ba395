package flowctl

import (
	"context"
	"math"
	"math/rand"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Back-off strategies.
const (
	strategyFixed       = "fixed"
	strategyLinear      = "linear"
	strategyExponential = "exponential"
	strategyJitter      = "jitter"
)

// Retry re-drives a failed downstream node. On first entry it is passthrough
// plus retry configuration; when the engine loops a failure back carrying
// _error, it increments the attempt counter and computes the next delay.
type Retry struct {
	node.Base
}

// NewRetry creates the retry handler.
func NewRetry() *Retry {
	return &Retry{Base: node.Base{Def: node.Definition{
		Type:        "retry",
		DisplayName: "Retry",
		Description: "Retry a failed downstream node with configurable back-off",
		Icon:        "rotate-ccw",
		Category:    "flow",
		Schema: node.ObjectSchema(map[string]interface{}{
			"maxRetries": map[string]interface{}{
				"type":    "integer",
				"default": 3,
			},
			"strategy": map[string]interface{}{
				"type":    "string",
				"enum":    []interface{}{strategyFixed, strategyLinear, strategyExponential, strategyJitter},
				"default": strategyExponential,
			},
			"initialDelayMs": map[string]interface{}{
				"type":    "integer",
				"default": 1000,
			},
			"multiplier": map[string]interface{}{
				"type":    "number",
				"default": 2,
			},
		}),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute distinguishes first entry from an error loop-back by the presence
// of _error in the input.
func (h *Retry) Execute(ctx context.Context, nc *node.Context) *node.Result {
	maxRetries := nc.ConfigInt("maxRetries", 3)
	strategy := nc.ConfigString("strategy", strategyExponential)
	initialDelay := nc.ConfigInt("initialDelayMs", 1000)
	multiplier := nc.ConfigFloat("multiplier", 2)

	errVal, failed := nc.Input["_error"]
	if !failed {
		out := value.CloneMap(nc.Input)
		out["_retryConfig"] = map[string]interface{}{
			"maxRetries":     maxRetries,
			"strategy":       strategy,
			"initialDelayMs": initialDelay,
			"multiplier":     multiplier,
		}
		return node.Succeed(out)
	}

	attempt := value.ToInt(nc.Input["_retryAttempt"], 0) + 1
	if attempt > maxRetries {
		kind := failureKind(errVal)
		return node.Fail(kind, "Max retries (%d) exceeded", maxRetries)
	}

	out := value.CloneMap(nc.Input)
	delete(out, "_error")
	out["_retryAttempt"] = attempt
	out["_retryDelay"] = nextDelay(strategy, initialDelay, multiplier, attempt)
	return node.Succeed(out)
}

// nextDelay computes the back-off for the given attempt (1-based).
func nextDelay(strategy string, initialMs int, multiplier float64, attempt int) int {
	switch strategy {
	case strategyLinear:
		return initialMs * attempt
	case strategyExponential:
		if multiplier <= 0 {
			multiplier = 2
		}
		return int(float64(initialMs) * math.Pow(multiplier, float64(attempt-1)))
	case strategyJitter:
		if initialMs <= 0 {
			return 0
		}
		return initialMs + rand.Intn(initialMs)
	default:
		return initialMs
	}
}

// failureKind recovers the original error kind from the loop-back envelope.
func failureKind(errVal interface{}) node.Kind {
	if m, ok := errVal.(map[string]interface{}); ok {
		if k := value.ToString(m["kind"]); k != "" {
			return node.Kind(k)
		}
	}
	return node.KindInternal
}
