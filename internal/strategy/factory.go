package strategy

import (
	"strings"
)

// Params expresses tunable knobs required by the generator constructor.
type Params struct {
	Symbols              []string
	LiquidationThreshold float64
	WhaleThreshold       float64
	SizeFloor            float64
	MaxPositionUSD       float64
}

// Build returns a generator whose active rules match the configured mode.
// Unknown modes fall back to running every rule.
func Build(mode string, params Params) *SweepGenerator {
	g := &SweepGenerator{
		symbols:              append([]string(nil), params.Symbols...),
		liquidationThreshold: params.LiquidationThreshold,
		whaleThreshold:       params.WhaleThreshold,
		sizeFloor:            params.SizeFloor,
		maxPositionUSD:       params.MaxPositionUSD,
		liquidations:         true,
		whales:               true,
	}
	if g.liquidationThreshold <= 0 {
		g.liquidationThreshold = defaultLiquidationThreshold
	}
	if g.whaleThreshold <= 0 {
		g.whaleThreshold = defaultWhaleThreshold
	}
	if g.sizeFloor <= 0 {
		g.sizeFloor = defaultSizeFloor
	}

	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "liquidation", "liquidations", "fade":
		g.whales = false
	case "whale", "whales", "follow":
		g.liquidations = false
	}
	return g
}
