// Package paper simulates position lifecycles against live quotes without touching a venue.
package paper

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sweepbot-go/internal/risk"
	"sweepbot-go/internal/signal"
)

// TradeRecorder captures closed trades for later inspection.
type TradeRecorder interface {
	Record(Trade)
}

const epsilon = 1e-9

// Params configures exits and admission gates.
type Params struct {
	TakeProfitPct float64
	StopLossPct   float64
	Limits        risk.Limits
}

// Manager owns the Account and drives the NONE -> OPEN -> NONE state machine per symbol.
type Manager struct {
	mu       sync.Mutex
	params   Params
	account  Account
	log      zerolog.Logger
	now      func() time.Time
	recorder TradeRecorder
}

// Option configures Manager construction.
type Option func(*Manager)

// WithClock overrides the time source used for openedAt/closedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRecorder attaches a journal that receives every closed trade.
func WithRecorder(r TradeRecorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// NewManager takes ownership of account. The caller must not use account afterwards.
func NewManager(account Account, params Params, log zerolog.Logger, opts ...Option) *Manager {
	if account.OpenPositions == nil {
		account.OpenPositions = make(map[string]Position)
	}
	m := &Manager{
		params:  params,
		account: account,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Params returns the exit and admission configuration.
func (m *Manager) Params() Params { return m.params }

// Snapshot returns a deep copy of the account suitable for persistence.
func (m *Manager) Snapshot() Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account.Clone()
}

// Restore replaces the owned account.
func (m *Manager) Restore(account Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = account.Clone()
}

// Balance reports free (non-escrowed) cash.
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account.BalanceUSD
}

// Open returns the open position for symbol, if any.
func (m *Manager) Open(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.account.OpenPositions[symbol]
	return pos, ok
}

// TargetPrices derives take-profit and stop-loss prices from the entry. It is a pure function.
func TargetPrices(entry float64, side signal.Side, tpPct, slPct float64) (tp, sl float64) {
	if side == signal.Sell {
		return entry * (1 - tpPct/100), entry * (1 + slPct/100)
	}
	return entry * (1 + tpPct/100), entry * (1 - slPct/100)
}

// PnLPct is the directional percentage move from entry to current.
func PnLPct(side signal.Side, entry, current float64) float64 {
	if entry == 0 {
		return 0
	}
	if side == signal.Sell {
		return (entry - current) / entry * 100
	}
	return (current - entry) / entry * 100
}

// Admit opens a position for the signal when every gate passes and escrows its size.
// Refusals are returned as *PositionError wrapping a risk sentinel.
func (m *Manager) Admit(sig signal.Signal) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.account.OpenPositions[sig.Symbol]; exists {
		return Position{}, &PositionError{Symbol: sig.Symbol, Op: "admit", Err: risk.ErrDuplicatePosition}
	}
	if err := m.params.Limits.Check(sig.ConfidencePct, sig.SizeUSD, m.account.BalanceUSD); err != nil {
		return Position{}, &PositionError{Symbol: sig.Symbol, Op: "admit", Err: err}
	}
	if sig.ReferencePrice <= 0 {
		return Position{}, &PositionError{Symbol: sig.Symbol, Op: "admit", Err: fmt.Errorf("invalid reference price %.8f", sig.ReferencePrice)}
	}

	tp, sl := TargetPrices(sig.ReferencePrice, sig.Side, m.params.TakeProfitPct, m.params.StopLossPct)
	pos := Position{
		ID:            fmt.Sprintf("POS_%04d", m.account.TradeCounter),
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		EntryPrice:    sig.ReferencePrice,
		SizeUSD:       sig.SizeUSD,
		TPPrice:       tp,
		SLPrice:       sl,
		ConfidencePct: sig.ConfidencePct,
		Reason:        sig.Reason,
		OpenedAt:      m.now(),
	}
	m.account.OpenPositions[sig.Symbol] = pos
	m.account.BalanceUSD -= sig.SizeUSD
	m.account.TradeCounter++

	m.log.Info().
		Str("id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("entry", pos.EntryPrice).
		Float64("size_usd", pos.SizeUSD).
		Float64("tp", pos.TPPrice).
		Float64("sl", pos.SLPrice).
		Float64("balance", m.account.BalanceUSD).
		Msg("position opened")
	return pos, nil
}

// Rejection pairs a refused signal with the reason.
type Rejection struct {
	Signal signal.Signal
	Err    error
}

// AdmitAll admits signals in generation order. The first admissible signal per symbol wins;
// later ones for the same symbol are refused as duplicates.
func (m *Manager) AdmitAll(signals []signal.Signal) ([]Position, []Rejection) {
	var opened []Position
	var rejected []Rejection
	for _, sig := range signals {
		pos, err := m.Admit(sig)
		if err != nil {
			m.log.Info().Err(err).Str("symbol", sig.Symbol).Str("kind", string(sig.Kind)).Msg("signal rejected")
			rejected = append(rejected, Rejection{Signal: sig, Err: err})
			continue
		}
		opened = append(opened, pos)
	}
	return opened, rejected
}

// Evaluate marks every open position with an available quote and closes those that crossed
// take-profit or stop-loss. Positions without a quote are carried over untouched.
func (m *Manager) Evaluate(quotes map[string]signal.Quote) []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []Trade
	for _, sym := range m.account.Symbols() {
		q, ok := quotes[sym]
		if !ok {
			continue
		}
		pos := m.account.OpenPositions[sym]
		pnl := PnLPct(pos.Side, pos.EntryPrice, q.Mid)

		var reason CloseReason
		switch {
		case pnl >= m.params.TakeProfitPct-epsilon:
			reason = TakeProfit
		case pnl <= -m.params.StopLossPct+epsilon:
			reason = StopLoss
		default:
			continue
		}
		closed = append(closed, m.closeLocked(pos, q.Mid, pnl, reason))
	}
	return closed
}

func (m *Manager) closeLocked(pos Position, exit, pnlPct float64, reason CloseReason) Trade {
	pnlUSD := pos.SizeUSD * pnlPct / 100
	m.account.BalanceUSD += pos.SizeUSD + pnlUSD

	tr := Trade{
		ID:          pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit,
		SizeUSD:     pos.SizeUSD,
		PnLPct:      pnlPct,
		PnLUSD:      pnlUSD,
		CloseReason: reason,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    m.now(),
	}
	m.account.Trades = append(m.account.Trades, tr)
	delete(m.account.OpenPositions, pos.Symbol)

	if m.recorder != nil {
		m.recorder.Record(tr)
	}
	m.log.Info().
		Str("id", tr.ID).
		Str("symbol", tr.Symbol).
		Str("reason", string(reason)).
		Float64("exit", exit).
		Float64("pnl_pct", pnlPct).
		Float64("pnl_usd", pnlUSD).
		Float64("balance", m.account.BalanceUSD).
		Msg("position closed")
	return tr
}

// PositionMark is an open position marked against the latest quote.
type PositionMark struct {
	Position
	Current     float64
	PnLPct      float64
	Unrealized  float64
	QuoteMissed bool
}

// Summary is a point-in-time report of the account.
type Summary struct {
	BalanceUSD        float64
	InitialBalanceUSD float64
	EquityUSD         float64
	TotalPnLUSD       float64
	TotalPnLPct       float64
	ClosedTrades      int
	Wins              int
	Open              []PositionMark
}

// Summary marks open positions with quotes. Positions without a quote are valued at cost.
func (m *Manager) Summary(quotes map[string]signal.Quote) Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct := m.account
	s := Summary{
		BalanceUSD:        acct.BalanceUSD,
		InitialBalanceUSD: acct.InitialBalanceUSD,
		ClosedTrades:      len(acct.Trades),
	}
	for _, tr := range acct.Trades {
		if tr.PnLUSD > 0 {
			s.Wins++
		}
	}
	equity := acct.BalanceUSD
	for _, sym := range acct.Symbols() {
		pos := acct.OpenPositions[sym]
		mark := PositionMark{Position: pos, Current: pos.EntryPrice}
		if q, ok := quotes[sym]; ok {
			mark.Current = q.Mid
			mark.PnLPct = PnLPct(pos.Side, pos.EntryPrice, q.Mid)
			mark.Unrealized = pos.SizeUSD * mark.PnLPct / 100
		} else {
			mark.QuoteMissed = true
		}
		equity += pos.SizeUSD + mark.Unrealized
		s.Open = append(s.Open, mark)
	}
	s.EquityUSD = equity
	s.TotalPnLUSD = acct.BalanceUSD + acct.Escrowed() - acct.InitialBalanceUSD
	if acct.InitialBalanceUSD > 0 {
		s.TotalPnLPct = s.TotalPnLUSD / acct.InitialBalanceUSD * 100
	}
	return s
}
