// Package signal standardizes payloads shared between data ingestion, strategy and paper layers.
package signal

import (
	"strings"
	"time"
)

// Side enumerates trade directions.
type Side string

const (
	// Buy opens a long exposure.
	Buy Side = "BUY"
	// Sell opens a short exposure.
	Sell Side = "SELL"
)

// ParseSide normalizes a provider side string. Anything that is not a sell is treated as a buy.
func ParseSide(raw string) Side {
	if strings.EqualFold(strings.TrimSpace(raw), string(Sell)) {
		return Sell
	}
	return Buy
}

// Opposite returns the inverse direction.
func (s Side) Opposite() Side {
	if s == Sell {
		return Buy
	}
	return Sell
}

// Quote is a top-of-book snapshot for one symbol. Mid and SpreadPct are derived from bid/ask.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Mid       float64
	SpreadPct float64
	Ts        time.Time
}

// NewQuote derives mid and spread from the best bid and ask.
func NewQuote(symbol string, bid, ask float64, ts time.Time) Quote {
	mid := (bid + ask) / 2
	spread := 0.0
	if mid > 0 {
		spread = (ask - bid) / mid * 100
	}
	return Quote{Symbol: symbol, Bid: bid, Ask: ask, Mid: mid, SpreadPct: spread, Ts: ts}
}

// Sweep is one aggressive order-flow event reported by the flow provider.
type Sweep struct {
	Trader    string
	Market    string
	Side      Side
	USDAmount float64
	Size      float64
	Ts        time.Time
}

// Kind labels which rule produced a signal.
type Kind string

const (
	KindLiquidation Kind = "liquidation"
	KindWhale       Kind = "whale"
)

// Signal is a candidate trade produced from order flow. It lives for a single cycle.
type Signal struct {
	Symbol         string
	Side           Side
	Kind           Kind
	Reason         string
	ConfidencePct  float64
	SizeUSD        float64
	ReferencePrice float64
}
