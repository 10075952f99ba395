package hitlnode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowcore/common/hitl"
	"github.com/lyzr/flowcore/common/node"
)

func hitlContext(config, input map[string]interface{}) *node.Context {
	return &node.Context{
		ExecutionID: "exec-1",
		NodeID:      "node-1",
		Config:      config,
		Input:       input,
	}
}

func withResume(nc *node.Context, rd map[string]interface{}) *node.Context {
	nc.Global = map[string]interface{}{node.GlobalResumeKey: rd}
	return nc
}

func TestApprovalPausesAndRecordsRequest(t *testing.T) {
	store := hitl.NewMemoryStore()
	h := NewApproval(store, nil)

	res := h.Execute(context.Background(), hitlContext(map[string]interface{}{
		"title":   "Release to production?",
		"message": "Deploy build 42",
	}, map[string]interface{}{"build": 42}))

	require.True(t, res.IsPause())
	require.NotNil(t, res.Pause)
	assert.Equal(t, "approval", res.Pause.ResumeKind)
	assert.NotEmpty(t, res.Pause.ExternalToken)

	rec, err := store.Get(context.Background(), "exec-1", "node-1")
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusPending, rec.Status)
	assert.Equal(t, hitl.KindApproval, rec.Kind)
	assert.Equal(t, res.Pause.ExternalToken, rec.Token)
	assert.Equal(t, "Release to production?", rec.Payload["title"])
}

func TestApprovalRepeatEntryReusesToken(t *testing.T) {
	store := hitl.NewMemoryStore()
	h := NewApproval(store, nil)
	nc := hitlContext(map[string]interface{}{}, map[string]interface{}{})

	first := h.Execute(context.Background(), nc)
	require.True(t, first.IsPause())

	// A redelivered dispatch must not mint a second pending request.
	second := h.Execute(context.Background(), nc)
	require.True(t, second.IsPause())
	assert.Equal(t, first.Pause.ExternalToken, second.Pause.ExternalToken)
}

func TestApprovalResumeRoutesDecisionBranch(t *testing.T) {
	h := NewApproval(hitl.NewMemoryStore(), nil)

	nc := withResume(hitlContext(map[string]interface{}{}, map[string]interface{}{"build": 42}),
		map[string]interface{}{
			"approvalStatus": hitl.StatusApproved,
			"response":       map[string]interface{}{"comment": "ship it"},
		})
	res := h.Execute(context.Background(), nc)
	require.True(t, res.IsSuccess())
	assert.Equal(t, []string{"approved"}, res.Branches)
	assert.Equal(t, hitl.StatusApproved, res.Output["status"])
	assert.Equal(t, map[string]interface{}{"comment": "ship it"}, res.Output["response"])
	assert.Equal(t, 42, res.Output["build"])

	nc = withResume(hitlContext(map[string]interface{}{
		"rejectedBranch": "denied",
	}, map[string]interface{}{}), map[string]interface{}{
		"approvalStatus": hitl.StatusRejected,
	})
	res = h.Execute(context.Background(), nc)
	require.True(t, res.IsSuccess())
	assert.Equal(t, []string{"denied"}, res.Branches)
}

func TestApprovalWithoutStoreFails(t *testing.T) {
	h := NewApproval(nil, nil)
	res := h.Execute(context.Background(), hitlContext(nil, nil))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindDependency, res.Err.Kind)
}

func TestFormPausesWithFieldDescriptors(t *testing.T) {
	store := hitl.NewMemoryStore()
	h := NewForm(store, nil)

	fields := []interface{}{
		map[string]interface{}{"name": "reason", "type": "text"},
	}
	res := h.Execute(context.Background(), hitlContext(map[string]interface{}{
		"title": "Tell us more", "fields": fields,
	}, map[string]interface{}{}))

	require.True(t, res.IsPause())
	assert.Equal(t, "form", res.Pause.ResumeKind)
	assert.Equal(t, fields, res.Pause.Hint["fields"])

	rec, err := store.Get(context.Background(), "exec-1", "node-1")
	require.NoError(t, err)
	assert.Equal(t, hitl.KindForm, rec.Kind)
}

func TestFormResumeMergesSubmission(t *testing.T) {
	h := NewForm(hitl.NewMemoryStore(), nil)

	nc := withResume(hitlContext(map[string]interface{}{}, map[string]interface{}{"id": "x"}),
		map[string]interface{}{
			"formData":    map[string]interface{}{"reason": "because"},
			"submittedAt": "2024-03-15T12:00:00Z",
		})
	res := h.Execute(context.Background(), nc)

	require.True(t, res.IsSuccess())
	assert.Equal(t, "x", res.Output["id"])
	assert.Equal(t, map[string]interface{}{"reason": "because"}, res.Output["formData"])
	assert.Equal(t, "2024-03-15T12:00:00Z", res.Output["submittedAt"])
}
