// Package engine schedules trading cycles and connects the feed, strategy, account and
// persistence layers.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sweepbot-go/internal/metrics"
	"sweepbot-go/internal/notify"
	"sweepbot-go/internal/paper"
	"sweepbot-go/internal/risk"
	"sweepbot-go/internal/signal"
)

// PriceFeed returns whatever quotes it could resolve. Missing symbols are absent.
type PriceFeed interface {
	GetQuotes(ctx context.Context, symbols []string) map[string]signal.Quote
}

// SweepSource returns the latest order-flow batch.
type SweepSource interface {
	FetchSweeps(ctx context.Context) ([]signal.Sweep, error)
}

// Store persists account snapshots.
type Store interface {
	Load() (paper.Account, error)
	Save(paper.Account) error
}

// Notifier receives lifecycle events. Delivery failures never affect the cycle.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

type drainer interface {
	Close(ctx context.Context) error
}

const (
	defaultInterval     = 30 * time.Second
	defaultRetryDelay   = 10 * time.Second
	defaultDrainTimeout = 5 * time.Second
)

// Engine runs one cycle per interval until its context is canceled.
type Engine struct {
	manager  *paper.Manager
	gen      Generator
	feed     PriceFeed
	flow     SweepSource
	store    Store
	notifier Notifier
	log      zerolog.Logger

	interval     time.Duration
	retryDelay   time.Duration
	drainTimeout time.Duration

	savePending bool
	lastQuotes  map[string]signal.Quote
	reloads     chan struct{}
}

// Option configures Engine construction.
type Option func(*Engine)

// WithInterval sets the pause between cycles.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithNotifier attaches the lifecycle event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRetryDelay sets the shorter pause used after a cycle that had no quotes at all.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryDelay = d
		}
	}
}

// WithDrainTimeout bounds how long shutdown waits for queued notifications.
func WithDrainTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.drainTimeout = d
		}
	}
}

// New wires an engine. The manager must already hold the bootstrapped account.
func New(manager *paper.Manager, gen Generator, feed PriceFeed, flow SweepSource, store Store, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		manager:      manager,
		gen:          gen,
		feed:         feed,
		flow:         flow,
		store:        store,
		log:          log,
		interval:     defaultInterval,
		retryDelay:   defaultRetryDelay,
		drainTimeout: defaultDrainTimeout,
		reloads:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bootstrap loads the persisted account. An unreadable or corrupt snapshot is not fatal:
// the condition is logged and a fresh account is returned.
func Bootstrap(store Store, initialBalance float64, log zerolog.Logger) paper.Account {
	acct, err := store.Load()
	if err != nil {
		log.Warn().Err(err).Float64("initial_balance", initialBalance).Msg("account snapshot unusable, starting fresh; prior history is lost")
		return paper.NewAccount(initialBalance)
	}
	log.Info().
		Float64("balance", acct.BalanceUSD).
		Int("open", len(acct.OpenPositions)).
		Int("trades", len(acct.Trades)).
		Msg("account loaded")
	return acct
}

// Run executes a cycle immediately and then once per interval. A cycle without any quote is
// retried after the shorter retry delay. On cancellation it saves the account one final time,
// logs the summary and drains the notifier.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Dur("interval", e.interval).Strs("symbols", e.gen.Symbols()).Msg("paper engine started")

	timer := time.NewTimer(e.interval)
	defer timer.Stop()
	for {
		res, err := e.RunOnce(ctx)
		if err != nil {
			e.log.Error().Err(err).Msg("cycle completed with errors")
		}
		timer.Reset(e.nextDelay(res))
		if !e.wait(ctx, timer) {
			e.Shutdown()
			return ctx.Err()
		}
	}
}

// wait blocks until the next cycle is due, serving reload requests meanwhile.
// It returns false once ctx is canceled.
func (e *Engine) wait(ctx context.Context, timer *time.Timer) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-e.reloads:
			e.reload()
		case <-timer.C:
			return true
		}
	}
}

// RequestReload asks a running engine to replace its account with the persisted snapshot
// before the next cycle. Requests made while one is pending are coalesced.
func (e *Engine) RequestReload() {
	select {
	case e.reloads <- struct{}{}:
	default:
	}
}

func (e *Engine) reload() {
	acct, err := e.store.Load()
	if err != nil {
		e.log.Warn().Err(err).Msg("state reload failed, keeping in-memory account")
		e.savePending = true
		return
	}
	e.manager.Restore(acct)
	e.savePending = false
	e.log.Info().
		Float64("balance", acct.BalanceUSD).
		Int("open", len(acct.OpenPositions)).
		Int("trades", len(acct.Trades)).
		Msg("account reloaded from snapshot")
}

func (e *Engine) nextDelay(res CycleResult) time.Duration {
	if res.Quotes == 0 && e.retryDelay < e.interval {
		return e.retryDelay
	}
	return e.interval
}

// RunOnce performs a single fetch, generate, admit, evaluate, persist and notify pass.
// The returned error is a persistence failure; in-memory state stays authoritative and the
// save is retried on the next cycle.
func (e *Engine) RunOnce(ctx context.Context) (CycleResult, error) {
	metrics.CyclesTotal.Inc()

	quotes := e.feed.GetQuotes(ctx, e.gen.Symbols())
	if len(quotes) == 0 {
		e.log.Warn().Msg("no quotes available, skipping cycle")
		return CycleResult{}, e.retryPendingSave()
	}
	e.lastQuotes = quotes

	sweeps, err := e.flow.FetchSweeps(ctx)
	if err != nil {
		metrics.FlowFailuresTotal.Inc()
		e.log.Warn().Err(err).Msg("order flow unavailable, treating as empty batch")
		sweeps = nil
	}
	metrics.SweepsTotal.Add(float64(len(sweeps)))
	e.log.Debug().Int("quotes", len(quotes)).Int("sweeps", len(sweeps)).Msg("cycle inputs")

	res := Step(e.manager, e.gen, quotes, sweeps)
	e.record(res)

	var saveErr error
	if res.Mutated() || e.savePending {
		saveErr = e.persist()
	}
	e.emit(ctx, res)
	e.logSummary(e.manager.Summary(quotes))
	return res, saveErr
}

// Shutdown persists unconditionally and flushes notifications.
func (e *Engine) Shutdown() {
	if err := e.persist(); err != nil {
		e.log.Error().Err(err).Msg("final save failed")
	} else {
		e.log.Info().Msg("final state saved")
	}
	e.logSummary(e.manager.Summary(e.lastQuotes))

	if d, ok := e.notifier.(drainer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), e.drainTimeout)
		defer cancel()
		if err := d.Close(ctx); err != nil {
			e.log.Warn().Err(err).Msg("notifications not fully delivered")
		}
	}
	e.log.Info().Msg("paper engine stopped")
}

func (e *Engine) retryPendingSave() error {
	if !e.savePending {
		return nil
	}
	return e.persist()
}

func (e *Engine) persist() error {
	if err := e.store.Save(e.manager.Snapshot()); err != nil {
		e.savePending = true
		metrics.PersistFailuresTotal.Inc()
		e.log.Error().Err(err).Msg("state save failed, keeping in-memory account")
		return err
	}
	e.savePending = false
	return nil
}

func (e *Engine) record(res CycleResult) {
	for _, sig := range res.Signals {
		metrics.SignalsTotal.WithLabelValues(string(sig.Kind)).Inc()
	}
	metrics.AdmissionsTotal.WithLabelValues("opened").Add(float64(len(res.Opened)))
	for _, rej := range res.Rejected {
		metrics.AdmissionsTotal.WithLabelValues(rejectionLabel(rej.Err)).Inc()
	}
	for _, tr := range res.Closed {
		metrics.ClosesTotal.WithLabelValues(string(tr.CloseReason)).Inc()
	}
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, risk.ErrDuplicatePosition):
		return "duplicate"
	case errors.Is(err, risk.ErrBelowConfidence):
		return "low_confidence"
	case errors.Is(err, risk.ErrBelowMinSize):
		return "below_min_size"
	case errors.Is(err, risk.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "invalid"
	}
}

func (e *Engine) emit(ctx context.Context, res CycleResult) {
	if e.notifier == nil {
		return
	}
	params := e.manager.Params()
	for _, pos := range res.Opened {
		ev := notify.OpenEvent{Position: pos, TakeProfitPct: params.TakeProfitPct, StopLossPct: params.StopLossPct}
		if err := e.notifier.Notify(ctx, ev); err != nil {
			e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("open notification not queued")
		}
	}
	for _, tr := range res.Closed {
		if err := e.notifier.Notify(ctx, notify.CloseEvent{Trade: tr}); err != nil {
			e.log.Warn().Err(err).Str("symbol", tr.Symbol).Msg("close notification not queued")
		}
	}
}

func (e *Engine) logSummary(s paper.Summary) {
	metrics.BalanceUSD.Set(s.BalanceUSD)
	metrics.EquityUSD.Set(s.EquityUSD)
	metrics.OpenPositions.Set(float64(len(s.Open)))

	e.log.Info().
		Str("balance", cents(s.BalanceUSD)).
		Str("initial", cents(s.InitialBalanceUSD)).
		Str("equity", cents(s.EquityUSD)).
		Str("total_pnl", cents(s.TotalPnLUSD)).
		Str("total_pnl_pct", cents(s.TotalPnLPct)).
		Int("open", len(s.Open)).
		Int("closed", s.ClosedTrades).
		Int("wins", s.Wins).
		Msg("paper trading summary")
	for _, mark := range s.Open {
		ev := e.log.Info().
			Str("symbol", mark.Symbol).
			Str("side", string(mark.Side)).
			Str("entry", cents(mark.EntryPrice)).
			Str("now", cents(mark.Current)).
			Str("pnl_pct", cents(mark.PnLPct))
		if mark.QuoteMissed {
			ev = ev.Bool("stale", true)
		}
		ev.Msg("open position")
	}
}

func cents(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
