// Package strategy turns raw order-flow sweeps into candidate trade signals.
package strategy

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sweepbot-go/internal/signal"
)

const (
	defaultLiquidationThreshold = 50_000
	defaultWhaleThreshold       = 10_000
	defaultSizeFloor            = 1_000

	// confidence = min(usd/liquidationNorm, liquidationCap) * 100
	liquidationNorm = 100_000
	liquidationCap  = 0.9

	liquidationSizeFraction = 0.01
	whaleSizeFraction       = 0.1
	balanceFraction         = 0.15

	whaleConfidence = 75
	whaleMinTrades  = 2
)

var usdPrinter = message.NewPrinter(language.English)

// SweepGenerator applies the liquidation-fade and whale-follow rules to a batch of sweeps.
type SweepGenerator struct {
	symbols              []string
	liquidationThreshold float64
	whaleThreshold       float64
	sizeFloor            float64
	maxPositionUSD       float64
	liquidations         bool
	whales               bool
}

// Name returns the identifier for the rule set in use.
func (g *SweepGenerator) Name() string {
	switch {
	case g.liquidations && g.whales:
		return "sweep:all"
	case g.liquidations:
		return "sweep:liquidation"
	default:
		return "sweep:whale"
	}
}

// Symbols returns the tracked symbols in resolution order.
func (g *SweepGenerator) Symbols() []string {
	out := make([]string, len(g.symbols))
	copy(out, g.symbols)
	return out
}

// Generate produces signals in event order. Within one event the liquidation signal precedes the whale signal.
// Events that resolve to no tracked symbol, or to a symbol without a quote, are dropped.
func (g *SweepGenerator) Generate(sweeps []signal.Sweep, quotes map[string]signal.Quote, balance float64) []signal.Signal {
	whaleCounts := g.countWhaleTrades(sweeps)

	var out []signal.Signal
	for _, sw := range sweeps {
		symbol, ok := ResolveSymbol(sw.Market, g.symbols)
		if !ok {
			continue
		}
		quote, ok := quotes[symbol]
		if !ok {
			continue
		}

		if g.liquidations && sw.USDAmount >= g.liquidationThreshold && sw.Size > g.sizeFloor {
			out = append(out, signal.Signal{
				Symbol:         symbol,
				Side:           sw.Side.Opposite(),
				Kind:           signal.KindLiquidation,
				Reason:         usdPrinter.Sprintf("Large liquidation: $%.0f", sw.USDAmount),
				ConfidencePct:  math.Min(sw.USDAmount/liquidationNorm, liquidationCap) * 100,
				SizeUSD:        g.size(sw.USDAmount*liquidationSizeFraction, balance),
				ReferencePrice: quote.Mid,
			})
		}

		if n := whaleCounts[sw.Trader]; g.whales && sw.Trader != "" && n >= whaleMinTrades {
			out = append(out, signal.Signal{
				Symbol:         symbol,
				Side:           sw.Side,
				Kind:           signal.KindWhale,
				Reason:         fmt.Sprintf("Whale %s... active (%d trades)", truncate(sw.Trader, 10), n),
				ConfidencePct:  whaleConfidence,
				SizeUSD:        g.size(sw.USDAmount*whaleSizeFraction, balance),
				ReferencePrice: quote.Mid,
			})
		}
	}
	return out
}

func (g *SweepGenerator) countWhaleTrades(sweeps []signal.Sweep) map[string]int {
	counts := make(map[string]int)
	for _, sw := range sweeps {
		if sw.Trader == "" {
			continue
		}
		if sw.USDAmount >= g.whaleThreshold {
			counts[sw.Trader]++
		}
	}
	return counts
}

func (g *SweepGenerator) size(raw, balance float64) float64 {
	size := math.Min(raw, balance*balanceFraction)
	if g.maxPositionUSD > 0 {
		size = math.Min(size, g.maxPositionUSD)
	}
	return size
}

// ResolveSymbol returns the first tracked symbol contained (case-insensitively) in market.
func ResolveSymbol(market string, symbols []string) (string, bool) {
	upper := strings.ToUpper(market)
	for _, sym := range symbols {
		if sym == "" {
			continue
		}
		if strings.Contains(upper, strings.ToUpper(sym)) {
			return sym, true
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
