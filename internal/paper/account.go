package paper

import (
	"sort"
	"time"

	"sweepbot-go/internal/signal"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	TakeProfit CloseReason = "TAKE_PROFIT"
	StopLoss   CloseReason = "STOP_LOSS"
)

// Position is an open simulated exposure. It is never mutated after admission.
type Position struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Side          signal.Side `json:"side"`
	EntryPrice    float64     `json:"entryPrice"`
	SizeUSD       float64     `json:"sizeUsd"`
	TPPrice       float64     `json:"tpPrice"`
	SLPrice       float64     `json:"slPrice"`
	ConfidencePct float64     `json:"confidencePct"`
	Reason        string      `json:"reason"`
	OpenedAt      time.Time   `json:"openedAt"`
}

// Trade is the immutable record of a closed position.
type Trade struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Side        signal.Side `json:"side"`
	EntryPrice  float64     `json:"entryPrice"`
	ExitPrice   float64     `json:"exitPrice"`
	SizeUSD     float64     `json:"sizeUsd"`
	PnLPct      float64     `json:"pnlPct"`
	PnLUSD      float64     `json:"pnlUsd"`
	CloseReason CloseReason `json:"closeReason"`
	OpenedAt    time.Time   `json:"openedAt"`
	ClosedAt    time.Time   `json:"closedAt"`
}

// Account tracks virtual cash, open positions and closed trade history while trading in paper mode.
// Opening a position escrows its size out of BalanceUSD; closing returns size plus realized PnL.
type Account struct {
	BalanceUSD        float64             `json:"balanceUsd"`
	InitialBalanceUSD float64             `json:"initialBalanceUsd"`
	OpenPositions     map[string]Position `json:"openPositions"`
	Trades            []Trade             `json:"trades"`
	TradeCounter      int                 `json:"tradeCounter"`
}

// NewAccount constructs an account populated with starting cash and no history.
func NewAccount(initialBalanceUSD float64) Account {
	return Account{
		BalanceUSD:        initialBalanceUSD,
		InitialBalanceUSD: initialBalanceUSD,
		OpenPositions:     make(map[string]Position),
		Trades:            []Trade{},
	}
}

// Clone returns a deep copy that shares no maps or slices with the receiver.
func (a Account) Clone() Account {
	out := a
	out.OpenPositions = make(map[string]Position, len(a.OpenPositions))
	for sym, pos := range a.OpenPositions {
		out.OpenPositions[sym] = pos
	}
	out.Trades = make([]Trade, len(a.Trades))
	copy(out.Trades, a.Trades)
	return out
}

// Escrowed is the capital currently locked in open positions.
func (a Account) Escrowed() float64 {
	total := 0.0
	for _, pos := range a.OpenPositions {
		total += pos.SizeUSD
	}
	return total
}

// RealizedPnL sums PnL over the closed trade history.
func (a Account) RealizedPnL() float64 {
	total := 0.0
	for _, tr := range a.Trades {
		total += tr.PnLUSD
	}
	return total
}

// Symbols returns open position symbols in sorted order.
func (a Account) Symbols() []string {
	out := make([]string, 0, len(a.OpenPositions))
	for sym := range a.OpenPositions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
