package trigger

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// cronParser accepts standard five-field cron expressions plus @every and
// the @hourly family of descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule starts runs on a cron timetable. The scheduler collaborator fires
// the runs; the handler validates the expression and reports the next
// execution instant.
type Schedule struct {
	node.Base
	now func() time.Time
}

// NewSchedule creates the schedule trigger.
func NewSchedule() *Schedule {
	return &Schedule{
		Base: node.Base{Def: node.Definition{
			Type:        "scheduleTrigger",
			DisplayName: "Schedule Trigger",
			Description: "Start the flow on a cron timetable",
			Icon:        "alarm-clock",
			Category:    "trigger",
			Schema: node.ObjectSchema(map[string]interface{}{
				"cron": map[string]interface{}{
					"type":        "string",
					"description": "Five-field cron expression, e.g. */5 * * * *",
				},
				"timezone": map[string]interface{}{
					"type":    "string",
					"default": "UTC",
				},
			}, "cron"),
			Interface: node.Ports(nil, []string{"out"}),
			Trigger:   true,
		}},
		now: time.Now,
	}
}

// ValidateConfig checks the cron expression and timezone beyond the schema.
func (h *Schedule) ValidateConfig(config map[string]interface{}) node.ValidationResult {
	res := h.Base.ValidateConfig(config)
	if !res.Valid {
		return res
	}
	var errs []string
	if expr, _ := config["cron"].(string); expr != "" {
		if _, err := cronParser.Parse(expr); err != nil {
			errs = append(errs, "invalid cron expression: "+err.Error())
		}
	}
	if tz, _ := config["timezone"].(string); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, "unknown timezone "+tz)
		}
	}
	if len(errs) > 0 {
		return node.ValidationResult{Valid: false, Errors: errs}
	}
	return res
}

// Execute emits the seed payload plus the next execution instant.
func (h *Schedule) Execute(ctx context.Context, nc *node.Context) *node.Result {
	expr := nc.ConfigString("cron", "")
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return node.Fail(node.KindValidation, "invalid cron expression %q: %v", expr, err)
	}
	loc, err := time.LoadLocation(nc.ConfigString("timezone", "UTC"))
	if err != nil {
		return node.Fail(node.KindValidation, "unknown timezone %q", nc.ConfigString("timezone", "UTC"))
	}

	next := schedule.Next(h.now().In(loc))
	out := value.CloneMap(nc.Input)
	if len(out) == 0 {
		out["firedAt"] = h.now().In(loc).Format(time.RFC3339)
	}
	out["nextExecution"] = next.Format(time.RFC3339)
	return node.Succeed(out)
}
