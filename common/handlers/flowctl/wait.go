package flowctl

import (
	"context"
	"time"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

var waitUnits = map[string]time.Duration{
	"milliseconds": time.Millisecond,
	"seconds":      time.Second,
	"minutes":      time.Minute,
	"hours":        time.Hour,
	"days":         24 * time.Hour,
}

// Wait suspends the execution for a configured duration. The pause is
// durable; a timer worker resumes it when the deadline passes.
type Wait struct {
	node.Base
}

// NewWait creates the wait handler.
func NewWait() *Wait {
	return &Wait{Base: node.Base{Def: node.Definition{
		Type:        "wait",
		DisplayName: "Wait",
		Description: "Pause the execution for a fixed duration",
		Icon:        "clock",
		Category:    "flow",
		Schema: node.ObjectSchema(map[string]interface{}{
			"amount": map[string]interface{}{
				"type":    "number",
				"default": 1,
			},
			"unit": map[string]interface{}{
				"type":    "string",
				"enum":    []interface{}{"milliseconds", "seconds", "minutes", "hours", "days"},
				"default": "seconds",
			},
		}),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute pauses on first entry and emits wait info on resume.
func (h *Wait) Execute(ctx context.Context, nc *node.Context) *node.Result {
	if rd, resumed := nc.ResumeData(); resumed {
		out := value.CloneMap(nc.Input)
		out["_waitInfo"] = waitInfo(rd)
		return node.Succeed(out)
	}

	amount := nc.ConfigFloat("amount", 1)
	unitName := nc.ConfigString("unit", "seconds")
	unit, ok := waitUnits[unitName]
	if !ok {
		return node.Fail(node.KindValidation, "unknown wait unit %q", unitName)
	}
	if amount < 0 {
		return node.Fail(node.KindValidation, "wait amount must be >= 0, got %v", amount)
	}

	d := time.Duration(amount * float64(unit))
	if d <= 0 {
		out := value.CloneMap(nc.Input)
		out["_waitInfo"] = map[string]interface{}{
			"waitedMs":  0,
			"resumedAt": time.Now().UTC().Format(time.RFC3339),
		}
		return node.Succeed(out)
	}

	resumeAt := time.Now().Add(d).UTC()
	return node.Suspend(&node.PauseRequest{
		ResumeKind:        "timer",
		ScheduledResumeAt: &resumeAt,
		Hint: map[string]interface{}{
			"pausedAt":          time.Now().UTC().Format(time.RFC3339Nano),
			"scheduledResumeAt": resumeAt.Format(time.RFC3339Nano),
		},
	})
}

// waitInfo derives elapsed wait time from the resume payload.
func waitInfo(rd map[string]interface{}) map[string]interface{} {
	resumedAt := time.Now().UTC()
	info := map[string]interface{}{
		"resumedAt": resumedAt.Format(time.RFC3339),
	}

	if raw := value.ToString(rd["pausedAt"]); raw != "" {
		if pausedAt, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			info["waitedMs"] = resumedAt.Sub(pausedAt).Milliseconds()
			return info
		}
	}
	info["waitedMs"] = int64(0)
	return info
}
