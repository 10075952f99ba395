// Package hitlnode implements the human-in-the-loop node handlers: approval
// gates and form submissions. Both pause the execution durably on first entry
// and complete when the engine re-enters them with resume data.
package hitlnode

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowcore/common/hitl"
	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Approval suspends the execution until a person approves or rejects it,
// then follows the configured branch for the decision.
type Approval struct {
	node.Base
	store hitl.Store
	log   node.Logger
}

// NewApproval creates the approval handler backed by the given store.
func NewApproval(store hitl.Store, log node.Logger) *Approval {
	return &Approval{
		Base: node.Base{Def: node.Definition{
			Type:        "approval",
			DisplayName: "Approval",
			Description: "Pause until a person approves or rejects, then follow the matching branch",
			Icon:        "user-check",
			Category:    "humanInTheLoop",
			Schema: node.ObjectSchema(map[string]interface{}{
				"title": map[string]interface{}{
					"type":    "string",
					"default": "Approval required",
				},
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Shown to the approver; supports {{path}} expressions",
				},
				"approvedBranch": map[string]interface{}{
					"type":    "string",
					"default": "approved",
				},
				"rejectedBranch": map[string]interface{}{
					"type":    "string",
					"default": "rejected",
				},
			}),
			Interface: node.Ports([]string{"main"}, []string{"approved", "rejected"}),
		}},
		store: store,
		log:   log,
	}
}

// Execute pauses on first entry; a re-entry carrying resume data emits the
// decision and routes the matching branch.
func (h *Approval) Execute(ctx context.Context, nc *node.Context) *node.Result {
	approvedBranch := nc.ConfigString("approvedBranch", "approved")
	rejectedBranch := nc.ConfigString("rejectedBranch", "rejected")

	if rd, resumed := nc.ResumeData(); resumed {
		status := value.ToString(rd["approvalStatus"])
		branch := rejectedBranch
		if status == hitl.StatusApproved {
			branch = approvedBranch
		}
		out := value.CloneMap(nc.Input)
		out["status"] = status
		out["branch"] = branch
		if resp, ok := rd["response"].(map[string]interface{}); ok {
			out["response"] = resp
		}
		return node.SucceedBranches(out, branch)
	}

	if h.store == nil {
		return node.Fail(node.KindDependency, "approval store is not configured")
	}

	token := uuid.NewString()
	approval := &hitl.Approval{
		ID:          uuid.NewString(),
		ExecutionID: nc.ExecutionID,
		NodeID:      nc.NodeID,
		Kind:        hitl.KindApproval,
		Status:      hitl.StatusPending,
		Token:       token,
		Payload: map[string]interface{}{
			"title":   nc.ConfigString("title", "Approval required"),
			"message": nc.ConfigString("message", ""),
			"input":   value.CloneMap(nc.Input),
		},
		CreatedAt: time.Now().UTC(),
	}
	created, err := h.store.CreatePending(ctx, approval)
	if err != nil {
		return node.Fail(node.KindDependency, "failed to record approval request: %v", err)
	}
	if !created {
		// An earlier attempt already recorded it; reuse its token.
		if existing, gerr := h.store.Get(ctx, nc.ExecutionID, nc.NodeID); gerr == nil {
			token = existing.Token
		}
	}
	if h.log != nil {
		h.log.Info("approval requested", "execution_id", nc.ExecutionID, "node_id", nc.NodeID)
	}

	return node.Suspend(&node.PauseRequest{
		ResumeKind:    "approval",
		ExternalToken: token,
		Hint: map[string]interface{}{
			"title":          approval.Payload["title"],
			"approvedBranch": approvedBranch,
			"rejectedBranch": rejectedBranch,
		},
	})
}
