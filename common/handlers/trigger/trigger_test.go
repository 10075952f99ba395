package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowcore/common/node"
)

func triggerContext(config, input map[string]interface{}) *node.Context {
	return &node.Context{
		ExecutionID: "exec-1",
		UserID:      "user-1",
		NodeID:      "node-1",
		Config:      config,
		Input:       input,
	}
}

func TestManualPassesSeedThrough(t *testing.T) {
	h := NewManual()
	res := h.Execute(context.Background(), triggerContext(nil, map[string]interface{}{
		"orderId": "o-7",
	}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, "o-7", res.Output["orderId"])
}

func TestManualBareStartEmitsSample(t *testing.T) {
	h := NewManual()
	res := h.Execute(context.Background(), triggerContext(nil, map[string]interface{}{}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, "user-1", res.Output["triggeredBy"])
	assert.Contains(t, res.Output, "triggeredAt")
}

func TestWebhookSampleShape(t *testing.T) {
	h := NewWebhook()
	res := h.Execute(context.Background(), triggerContext(nil, map[string]interface{}{}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, "POST", res.Output["method"])
	assert.Contains(t, res.Output, "headers")
	assert.Contains(t, res.Output, "query")
	assert.Contains(t, res.Output, "body")
}

func TestErrorTriggerPassesEnvelope(t *testing.T) {
	h := NewErrorTrigger()
	res := h.Execute(context.Background(), triggerContext(nil, map[string]interface{}{
		"error": map[string]interface{}{"nodeId": "n3", "kind": "dependency", "message": "boom"},
	}))

	require.True(t, res.IsSuccess())
	env := res.Output["error"].(map[string]interface{})
	assert.Equal(t, "n3", env["nodeId"])
}

func TestScheduleValidateConfig(t *testing.T) {
	h := NewSchedule()

	vr := h.ValidateConfig(map[string]interface{}{"cron": "*/5 * * * *"})
	assert.True(t, vr.Valid)

	vr = h.ValidateConfig(map[string]interface{}{"cron": "@hourly"})
	assert.True(t, vr.Valid)

	vr = h.ValidateConfig(map[string]interface{}{"cron": "not a cron"})
	assert.False(t, vr.Valid)

	vr = h.ValidateConfig(map[string]interface{}{"cron": "* * * * *", "timezone": "Mars/Olympus"})
	assert.False(t, vr.Valid)
}

func TestScheduleReportsNextExecution(t *testing.T) {
	h := NewSchedule()
	h.now = func() time.Time {
		return time.Date(2024, 3, 15, 12, 7, 30, 0, time.UTC)
	}

	res := h.Execute(context.Background(), triggerContext(map[string]interface{}{
		"cron": "*/15 * * * *",
	}, map[string]interface{}{}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, "2024-03-15T12:15:00Z", res.Output["nextExecution"])
	assert.Contains(t, res.Output, "firedAt")
}

func TestScheduleKeepsSeedPayload(t *testing.T) {
	h := NewSchedule()
	res := h.Execute(context.Background(), triggerContext(map[string]interface{}{
		"cron": "0 0 * * *",
	}, map[string]interface{}{"tick": 3}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, 3, res.Output["tick"])
	assert.NotContains(t, res.Output, "firedAt")
	assert.Contains(t, res.Output, "nextExecution")
}

func TestScheduleRejectsBadExpression(t *testing.T) {
	h := NewSchedule()
	res := h.Execute(context.Background(), triggerContext(map[string]interface{}{
		"cron": "61 * * * *",
	}, map[string]interface{}{}))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)
}
