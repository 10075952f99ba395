// Package handlers wires the built-in node handler set into a registry.
package handlers

import (
	"net/http"

	"github.com/lyzr/flowcore/common/handlers/flowctl"
	hitlnode "github.com/lyzr/flowcore/common/handlers/hitl"
	"github.com/lyzr/flowcore/common/handlers/netio"
	"github.com/lyzr/flowcore/common/handlers/sysio"
	"github.com/lyzr/flowcore/common/handlers/transform"
	"github.com/lyzr/flowcore/common/handlers/trigger"
	"github.com/lyzr/flowcore/common/hitl"
	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/ratelimit"
)

// Deps carries the shared collaborators handlers are built on.
type Deps struct {
	Logger         node.Logger
	RateLimit      ratelimit.Store
	Approvals      hitl.Store
	HTTPClient     *http.Client
	URLPolicy      *netio.URLPolicy
	CommandEnabled bool
}

// RegisterBuiltins registers every built-in handler. Called once at startup
// before plugin types are added.
func RegisterBuiltins(reg *node.Registry, deps Deps) error {
	all := []node.Handler{
		// flow control
		flowctl.NewCondition(),
		flowctl.NewSwitch(),
		flowctl.NewFilter(),
		flowctl.NewMerge(),
		flowctl.NewLoop(),
		flowctl.NewSplitOut(),
		flowctl.NewRetry(),
		flowctl.NewRateLimiter(deps.RateLimit),
		flowctl.NewWait(),
		flowctl.NewNoOp(),
		flowctl.NewStopAndError(),
		flowctl.NewRespondWebhook(),

		// human in the loop
		hitlnode.NewApproval(deps.Approvals, deps.Logger),
		hitlnode.NewForm(deps.Approvals, deps.Logger),

		// network
		netio.NewRequest(deps.HTTPClient, deps.URLPolicy),

		// system
		sysio.NewCommand(deps.CommandEnabled, deps.Logger),
		sysio.NewCrypto(),
		sysio.NewCode(),

		// transforms
		transform.NewSetFields(),
		transform.NewRenameKeys(),
		transform.NewItemLists(),
		transform.NewLimit(),
		transform.NewAggregate(),
		transform.NewSort(),
		transform.NewRemoveDuplicates(),
		transform.NewCompareDataset(),
		transform.NewJSON(),
		transform.NewXML(),
		transform.NewHTML(),
		transform.NewMarkdown(),
		transform.NewRegex(),
		transform.NewSpreadsheet(),
		transform.NewDateTime(),

		// triggers
		trigger.NewManual(),
		trigger.NewSchedule(),
		trigger.NewWebhook(),
		trigger.NewFormTrigger(),
		trigger.NewEmail(),
		trigger.NewErrorTrigger(),
	}

	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
