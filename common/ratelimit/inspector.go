package ratelimit

import "github.com/lyzr/flowcore/common/flow"

// FlowProfile is the cost analysis of a flow used for tiered admission.
type FlowProfile struct {
	Tier        Tier
	TotalNodes  int
	IONodes     int
	PluginNodes int
}

// ioNodeTypes are built-ins that reach outside the process.
var ioNodeTypes = map[string]bool{
	"httpRequest":    true,
	"executeCommand": true,
	"approval":       true,
	"form":           true,
	"wait":           true,
}

// InspectFlow classifies a flow definition into an admission tier. Plugin
// node types are everything not classified as built-in I/O; the lookup tells
// us which types the core itself registered.
func InspectFlow(f *flow.Flow, isBuiltin func(nodeType string) bool) FlowProfile {
	p := FlowProfile{Tier: TierSimple}
	if f == nil {
		return p
	}
	p.TotalNodes = len(f.Nodes)
	for _, n := range f.Nodes {
		if ioNodeTypes[n.Type] {
			p.IONodes++
			continue
		}
		if isBuiltin != nil && !isBuiltin(n.Type) {
			p.PluginNodes++
		}
	}

	switch {
	case p.PluginNodes >= 1 || p.TotalNodes >= 50:
		p.Tier = TierHeavy
	case p.IONodes >= 1:
		p.Tier = TierStandard
	default:
		p.Tier = TierSimple
	}
	return p
}
