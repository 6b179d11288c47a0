package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweepbot-go/internal/notify"
	"sweepbot-go/internal/paper"
	"sweepbot-go/internal/risk"
	"sweepbot-go/internal/signal"
	"sweepbot-go/internal/strategy"
)

type fakeFeed struct {
	mu    sync.Mutex
	mids  map[string]float64
	calls int
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFeed) set(sym string, mid float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mids == nil {
		f.mids = make(map[string]float64)
	}
	f.mids[sym] = mid
}

func (f *fakeFeed) GetQuotes(_ context.Context, symbols []string) map[string]signal.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[string]signal.Quote)
	for _, sym := range symbols {
		if mid, ok := f.mids[sym]; ok {
			out[sym] = signal.NewQuote(sym, mid, mid, time.Now())
		}
	}
	return out
}

type fakeFlow struct {
	batches [][]signal.Sweep
	err     error
}

func (f *fakeFlow) FetchSweeps(context.Context) ([]signal.Sweep, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

type memStore struct {
	mu    sync.Mutex
	saved []paper.Account
	fail  error
	load  paper.Account
	lerr  error
}

func (s *memStore) Load() (paper.Account, error) { return s.load, s.lerr }

func (s *memStore) Save(a paper.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.saved = append(s.saved, a)
	return nil
}

func (s *memStore) saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	closed bool
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Close(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func liquidation(market string, side signal.Side, usd float64) signal.Sweep {
	return signal.Sweep{Trader: "0xliq", Market: market, Side: side, USDAmount: usd, Size: 5000}
}

type harness struct {
	engine   *Engine
	manager  *paper.Manager
	feed     *fakeFeed
	flow     *fakeFlow
	store    *memStore
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	params := paper.Params{TakeProfitPct: 0.6, StopLossPct: 3, Limits: risk.Limits{MinConfidencePct: 60, MinSizeUSD: 10}}
	h := &harness{
		manager:  paper.NewManager(paper.NewAccount(1000), params, zerolog.Nop()),
		feed:     &fakeFeed{},
		flow:     &fakeFlow{},
		store:    &memStore{},
		notifier: &recordingNotifier{},
	}
	gen := strategy.Build("all", strategy.Params{Symbols: []string{"BTC", "ETH", "SOL"}, MaxPositionUSD: 150})
	h.engine = New(h.manager, gen, h.feed, h.flow, h.store, zerolog.Nop(),
		WithNotifier(h.notifier), WithInterval(10*time.Millisecond))
	return h
}

func TestRunOnceOpensPersistsAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.feed.set("ETH", 3000)
	h.flow.batches = [][]signal.Sweep{{liquidation("ETH-PERP", signal.Sell, 60000)}}

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Opened, 1)
	assert.Empty(t, res.Closed)
	assert.Equal(t, 1, h.store.saves())

	saved := h.store.saved[0]
	assert.InDelta(t, 850.0, saved.BalanceUSD, 1e-9)
	assert.Contains(t, saved.OpenPositions, "ETH")

	require.Len(t, h.notifier.events, 1)
	open, ok := h.notifier.events[0].(notify.OpenEvent)
	require.True(t, ok)
	assert.Equal(t, "POS_0000", open.Position.ID)
	assert.Equal(t, 0.6, open.TakeProfitPct)
	assert.Equal(t, 3.0, open.StopLossPct)
}

func TestRunOnceClosesOnTakeProfit(t *testing.T) {
	h := newHarness(t)
	h.feed.set("ETH", 3000)
	h.flow.batches = [][]signal.Sweep{{liquidation("ETH-PERP", signal.Sell, 60000)}}
	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	h.feed.set("ETH", 3018)
	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, paper.TakeProfit, res.Closed[0].CloseReason)
	assert.Equal(t, 2, h.store.saves())
	assert.InDelta(t, 1000.9, h.manager.Balance(), 1e-6)

	require.Len(t, h.notifier.events, 2)
	_, ok := h.notifier.events[1].(notify.CloseEvent)
	assert.True(t, ok)
}

func TestReadOnlyCycleDoesNotPersist(t *testing.T) {
	h := newHarness(t)
	h.feed.set("BTC", 50000)

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Mutated())
	assert.Zero(t, h.store.saves())
	assert.Empty(t, h.notifier.events)
}

func TestNoQuotesSkipsCycle(t *testing.T) {
	h := newHarness(t)
	h.flow.batches = [][]signal.Sweep{{liquidation("ETH", signal.Sell, 90000)}}

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Signals)
	assert.Len(t, h.flow.batches, 1, "sweeps should not be fetched without quotes")
	assert.Zero(t, h.store.saves())
}

func TestFailedSaveIsRetriedNextCycle(t *testing.T) {
	h := newHarness(t)
	h.feed.set("ETH", 3000)
	h.flow.batches = [][]signal.Sweep{{liquidation("ETH-PERP", signal.Sell, 60000)}}
	h.store.fail = errors.New("disk full")

	_, err := h.engine.RunOnce(context.Background())
	require.Error(t, err)
	_, open := h.manager.Open("ETH")
	assert.True(t, open, "in-memory state stays authoritative")

	h.store.fail = nil
	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Mutated())
	require.Equal(t, 1, h.store.saves())
	assert.Contains(t, h.store.saved[0].OpenPositions, "ETH")
}

func TestFlowFailureStillEvaluates(t *testing.T) {
	h := newHarness(t)
	h.feed.set("ETH", 3000)
	h.flow.batches = [][]signal.Sweep{{liquidation("ETH-PERP", signal.Sell, 60000)}}
	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	h.flow.err = errors.New("503")
	h.feed.set("ETH", 2910)
	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, paper.StopLoss, res.Closed[0].CloseReason)
}

func TestRunPersistsAndDrainsOnShutdown(t *testing.T) {
	h := newHarness(t)
	h.feed.set("BTC", 50000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, 1, h.store.saves(), "only the final save should run")
	h.notifier.mu.Lock()
	assert.True(t, h.notifier.closed)
	h.notifier.mu.Unlock()
}

func TestRunRetriesSoonerWithoutQuotes(t *testing.T) {
	h := newHarness(t)
	gen := strategy.Build("all", strategy.Params{Symbols: []string{"ETH"}})
	eng := New(h.manager, gen, h.feed, h.flow, h.store, zerolog.Nop(),
		WithInterval(time.Hour), WithRetryDelay(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	require.Eventually(t, func() bool { return h.feed.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)

	// once quotes are back the full interval applies
	h.feed.set("ETH", 3000)
	require.Eventually(t, func() bool { return h.feed.callCount() >= 4 }, 2*time.Second, 5*time.Millisecond)
	n := h.feed.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, h.feed.callCount(), n+1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestNextDelay(t *testing.T) {
	h := newHarness(t)
	e := New(h.manager, nil, h.feed, h.flow, h.store, zerolog.Nop(), WithInterval(30*time.Second))
	assert.Equal(t, defaultRetryDelay, e.nextDelay(CycleResult{}))
	assert.Equal(t, 30*time.Second, e.nextDelay(CycleResult{Quotes: 2}))

	short := New(h.manager, nil, h.feed, h.flow, h.store, zerolog.Nop(), WithInterval(time.Second))
	assert.Equal(t, time.Second, short.nextDelay(CycleResult{}), "retry never exceeds the interval")
}

func TestReloadReplacesAccountWhileRunning(t *testing.T) {
	h := newHarness(t)
	gen := strategy.Build("all", strategy.Params{Symbols: []string{"ETH"}})
	eng := New(h.manager, gen, h.feed, h.flow, h.store, zerolog.Nop(), WithInterval(time.Hour))

	persisted := paper.NewAccount(1000)
	persisted.BalanceUSD = 850
	persisted.OpenPositions["BTC"] = paper.Position{ID: "POS_0007", Symbol: "BTC", Side: signal.Buy, EntryPrice: 50000, SizeUSD: 150}
	persisted.TradeCounter = 8
	h.store.load = persisted

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	require.Eventually(t, func() bool { return h.feed.callCount() >= 1 }, 2*time.Second, 5*time.Millisecond)
	eng.RequestReload()
	eng.RequestReload()
	require.Eventually(t, func() bool {
		_, ok := h.manager.Open("BTC")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 850.0, h.manager.Balance(), 1e-9)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	require.NotZero(t, h.store.saves())
	assert.Equal(t, 8, h.store.saved[len(h.store.saved)-1].TradeCounter)
}

func TestFailedReloadKeepsAccountAndSchedulesSave(t *testing.T) {
	h := newHarness(t)
	h.feed.set("ETH", 3000)
	h.flow.batches = [][]signal.Sweep{{liquidation("ETH-PERP", signal.Sell, 60000)}}
	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, h.store.saves())

	h.store.lerr = errors.New("state snapshot corrupt")
	h.engine.reload()
	_, open := h.manager.Open("ETH")
	assert.True(t, open, "in-memory account must survive a failed reload")

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Mutated())
	assert.Equal(t, 2, h.store.saves(), "snapshot is rewritten after a failed reload")
}

func TestBootstrapFallsBackOnLoadError(t *testing.T) {
	st := &memStore{lerr: errors.New("state snapshot corrupt")}
	acct := Bootstrap(st, 750, zerolog.Nop())
	assert.Equal(t, 750.0, acct.BalanceUSD)
	assert.Empty(t, acct.OpenPositions)

	st = &memStore{load: paper.NewAccount(1234)}
	acct = Bootstrap(st, 750, zerolog.Nop())
	assert.Equal(t, 1234.0, acct.BalanceUSD)
}

func TestRejectionLabel(t *testing.T) {
	wrap := func(err error) error { return &paper.PositionError{Symbol: "BTC", Op: "admit", Err: err} }
	assert.Equal(t, "duplicate", rejectionLabel(wrap(risk.ErrDuplicatePosition)))
	assert.Equal(t, "low_confidence", rejectionLabel(wrap(risk.ErrBelowConfidence)))
	assert.Equal(t, "below_min_size", rejectionLabel(wrap(risk.ErrBelowMinSize)))
	assert.Equal(t, "insufficient_balance", rejectionLabel(wrap(risk.ErrInsufficientBalance)))
	assert.Equal(t, "invalid", rejectionLabel(errors.New("x")))
}
