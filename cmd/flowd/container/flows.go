package container

import (
	"fmt"
	"sync"

	"github.com/lyzr/flowcore/common/flow"
	"github.com/lyzr/flowcore/common/handlers/sysio"
)

// FlowRegistry indexes the flow definitions this process can start. Flow
// editing and long-term flow storage live in another service; definitions
// arrive inline with run requests and are kept here so webhook hooks and
// flow-id starts can find them.
type FlowRegistry struct {
	mu    sync.RWMutex
	flows map[string]*flow.Flow
	hooks map[string]string // webhook token -> flow id
}

// NewFlowRegistry creates an empty registry.
func NewFlowRegistry() *FlowRegistry {
	return &FlowRegistry{
		flows: make(map[string]*flow.Flow),
		hooks: make(map[string]string),
	}
}

// Register upserts a flow and indexes its webhook trigger tokens.
func (r *FlowRegistry) Register(f *flow.Flow) error {
	if f == nil || f.ID == "" {
		return fmt.Errorf("flow definition needs a flow_id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Drop hook tokens pointing at the previous version of this flow.
	for token, id := range r.hooks {
		if id == f.ID {
			delete(r.hooks, token)
		}
	}
	r.flows[f.ID] = f
	for _, n := range f.Nodes {
		if n.Type != "webhookTrigger" || n.Config == nil {
			continue
		}
		if token, ok := n.Config["token"].(string); ok && token != "" {
			r.hooks[token] = f.ID
		}
	}
	return nil
}

// Get returns a registered flow.
func (r *FlowRegistry) Get(flowID string) (*flow.Flow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[flowID]
	return f, ok
}

// ByHookToken resolves a webhook path token to its flow. Token comparison is
// constant time so the lookup does not leak which tokens exist.
func (r *FlowRegistry) ByHookToken(token string) (*flow.Flow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched string
	for candidate, flowID := range r.hooks {
		if sysio.ConstantTimeEquals(candidate, token) {
			matched = flowID
		}
	}
	if matched == "" {
		return nil, false
	}
	f, ok := r.flows[matched]
	return f, ok
}
