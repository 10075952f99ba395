package engine

import (
	"github.com/lyzr/flowcore/common/expr"
	"github.com/lyzr/flowcore/common/value"
	"github.com/lyzr/flowcore/common/engine/store"
)

// assembleInput builds the input envelope for one dispatch.
//
// A seeded node (trigger payload, retry envelope, resumed input) takes its
// seed verbatim. Otherwise the outputs of the live, succeeded predecessors
// merge in topological order with last-writer-wins on key collisions, and
// every predecessor output is also exposed individually through Previous.
func (r *run) assembleInput(nodeID string) (input map[string]interface{}, previous map[string]map[string]interface{}, order []string) {
	if seed, ok := r.seeds[nodeID]; ok {
		delete(r.seeds, nodeID)
		return value.CloneMap(seed), nil, nil
	}

	if prev, ok := r.prevOverride[nodeID]; ok {
		order = r.prevOrder[nodeID]
		delete(r.prevOverride, nodeID)
		delete(r.prevOrder, nodeID)
		return mergeOutputs(prev, order), prev, order
	}

	var sources []string
	seen := make(map[string]bool)
	for _, e := range r.graph.Predecessors(nodeID) {
		if r.edges[e] != edgeLive || r.states[e.Source] != store.NodeSucceeded {
			continue
		}
		if !seen[e.Source] {
			seen[e.Source] = true
			sources = append(sources, e.Source)
		}
	}

	switch len(sources) {
	case 0:
		return map[string]interface{}{}, nil, nil
	case 1:
		return value.CloneMap(r.outputs[sources[0]]), nil, nil
	}

	previous = make(map[string]map[string]interface{}, len(sources))
	for _, src := range sources {
		previous[src] = value.CloneMap(r.outputs[src])
	}
	return mergeOutputs(previous, sources), previous, sources
}

// mergeOutputs flattens ordered predecessor outputs into one envelope,
// later writers winning.
func mergeOutputs(previous map[string]map[string]interface{}, order []string) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, src := range order {
		for k, v := range previous[src] {
			merged[k] = v
		}
	}
	return merged
}

// expandConfig resolves {{...}} expressions in node configuration against the
// assembled input.
func expandConfig(config, input map[string]interface{}) map[string]interface{} {
	if config == nil {
		return map[string]interface{}{}
	}
	return expr.Resolve(config, input)
}
