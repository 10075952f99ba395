package hitlnode

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowcore/common/hitl"
	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Form suspends the execution until a person submits the configured form,
// then passes the submission downstream.
type Form struct {
	node.Base
	store hitl.Store
	log   node.Logger
}

// NewForm creates the form handler backed by the given store.
func NewForm(store hitl.Store, log node.Logger) *Form {
	return &Form{
		Base: node.Base{Def: node.Definition{
			Type:        "form",
			DisplayName: "Form",
			Description: "Pause until a person fills in the configured form",
			Icon:        "clipboard-list",
			Category:    "humanInTheLoop",
			Schema: node.ObjectSchema(map[string]interface{}{
				"title": map[string]interface{}{
					"type":    "string",
					"default": "Input required",
				},
				"fields": map[string]interface{}{
					"type":        "array",
					"description": "Field descriptors shown to the submitter",
				},
			}),
			Interface: node.Ports([]string{"main"}, []string{"out"}),
		}},
		store: store,
		log:   log,
	}
}

// Execute pauses on first entry; a re-entry carrying resume data emits the
// submitted values merged over the input.
func (h *Form) Execute(ctx context.Context, nc *node.Context) *node.Result {
	if rd, resumed := nc.ResumeData(); resumed {
		out := value.CloneMap(nc.Input)
		submission, _ := rd["formData"].(map[string]interface{})
		out["formData"] = submission
		out["submittedAt"] = value.ToString(rd["submittedAt"])
		return node.Succeed(out)
	}

	if h.store == nil {
		return node.Fail(node.KindDependency, "form store is not configured")
	}

	token := uuid.NewString()
	form := &hitl.Approval{
		ID:          uuid.NewString(),
		ExecutionID: nc.ExecutionID,
		NodeID:      nc.NodeID,
		Kind:        hitl.KindForm,
		Status:      hitl.StatusPending,
		Token:       token,
		Payload: map[string]interface{}{
			"title":  nc.ConfigString("title", "Input required"),
			"fields": nc.ConfigList("fields"),
		},
		CreatedAt: time.Now().UTC(),
	}
	created, err := h.store.CreatePending(ctx, form)
	if err != nil {
		return node.Fail(node.KindDependency, "failed to record form request: %v", err)
	}
	if !created {
		if existing, gerr := h.store.Get(ctx, nc.ExecutionID, nc.NodeID); gerr == nil {
			token = existing.Token
		}
	}
	if h.log != nil {
		h.log.Info("form requested", "execution_id", nc.ExecutionID, "node_id", nc.NodeID)
	}

	return node.Suspend(&node.PauseRequest{
		ResumeKind:    "form",
		ExternalToken: token,
		Hint: map[string]interface{}{
			"title":  form.Payload["title"],
			"fields": form.Payload["fields"],
		},
	})
}
