package ratelimit

import "time"

// Tier classifies a flow by execution cost for run-admission limits.
type Tier string

const (
	TierSimple   Tier = "simple"   // no plugin or command nodes
	TierStandard Tier = "standard" // some external work
	TierHeavy    Tier = "heavy"    // plugin heavy or very large flows
)

// TierConfig defines the admission window for one tier.
type TierConfig struct {
	Tier        Tier
	Limit       int64
	Window      time.Duration
	Description string
}

// DefaultTierConfigs holds the per-tier run-admission windows.
var DefaultTierConfigs = map[Tier]TierConfig{
	TierSimple: {
		Tier:        TierSimple,
		Limit:       100,
		Window:      time.Minute,
		Description: "Simple flows (pure transforms) - 100 runs/minute",
	},
	TierStandard: {
		Tier:        TierStandard,
		Limit:       20,
		Window:      time.Minute,
		Description: "Standard flows (external I/O) - 20 runs/minute",
	},
	TierHeavy: {
		Tier:        TierHeavy,
		Limit:       5,
		Window:      time.Minute,
		Description: "Heavy flows (plugin nodes or 50+ nodes) - 5 runs/minute",
	},
}

// LimitForTier returns the admission limit, falling back to the most
// restrictive tier for unknown values.
func LimitForTier(tier Tier) int64 {
	if cfg, ok := DefaultTierConfigs[tier]; ok {
		return cfg.Limit
	}
	return DefaultTierConfigs[TierHeavy].Limit
}

// WindowForTier returns the admission window for a tier.
func WindowForTier(tier Tier) time.Duration {
	if cfg, ok := DefaultTierConfigs[tier]; ok {
		return cfg.Window
	}
	return DefaultTierConfigs[TierHeavy].Window
}
