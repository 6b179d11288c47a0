// Package exchange hosts connectors for quote sources and order-flow providers.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sweepbot-go/internal/metrics"
	"sweepbot-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic quotes (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderHyperliquid polls the Hyperliquid info endpoint for the l2 book on every request.
	ProviderHyperliquid = "hyperliquid"
	// ProviderHyperliquidWS keeps the latest l2 book per symbol from the Hyperliquid websocket.
	ProviderHyperliquidWS = "hyperliquid_ws"
)

// ErrPriceUnavailable is returned when a quote cannot be produced for a symbol.
var ErrPriceUnavailable = errors.New("price unavailable")

const (
	defaultTimeout    = 10 * time.Second
	defaultStaleAfter = 30 * time.Second
	defaultBaseURL    = "https://api.hyperliquid.xyz"
	defaultWSURL      = "wss://api.hyperliquid.xyz/ws"
)

// Feed resolves top-of-book quotes from the configured provider.
type Feed struct {
	provider   string
	symbols    []string
	log        zerolog.Logger
	timeout    time.Duration
	staleAfter time.Duration
	baseURL    string
	wsURL      string
	client     *http.Client
	now        func() time.Time

	mu    sync.RWMutex
	books map[string]bookEntry
	stub  map[string]float64
}

type bookEntry struct {
	quote      signal.Quote
	receivedAt time.Time
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithTimeout bounds each quote fetch.
func WithTimeout(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithBaseURL overrides the Hyperliquid REST endpoint.
func WithBaseURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithWSURL overrides the Hyperliquid websocket endpoint.
func WithWSURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.wsURL = url
		}
	}
}

// WithStaleAfter sets how old a streamed book may be before it is refused.
func WithStaleAfter(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.staleAfter = d
		}
	}
}

// WithHTTPClient injects the client used for REST polling.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Feed) {
		if c != nil {
			f.client = c
		}
	}
}

// WithStubPrices seeds the stub provider with starting mids.
func WithStubPrices(prices map[string]float64) Option {
	return func(f *Feed) {
		for sym, px := range prices {
			f.stub[strings.ToUpper(sym)] = px
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:   strings.ToLower(provider),
		symbols:    normalizeSymbols(symbols),
		log:        log,
		timeout:    defaultTimeout,
		staleAfter: defaultStaleAfter,
		baseURL:    defaultBaseURL,
		wsURL:      defaultWSURL,
		now:        time.Now,
		books:      make(map[string]bookEntry),
		stub:       make(map[string]float64),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}
	return f
}

// Provider returns the normalized provider name.
func (f *Feed) Provider() string { return f.provider }

// Symbols returns the tracked symbols in configured order.
func (f *Feed) Symbols() []string {
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// Run maintains background connections for streaming providers until ctx is canceled.
// Polling providers have nothing to maintain and simply wait for cancellation.
func (f *Feed) Run(ctx context.Context) error {
	if f.provider == ProviderHyperliquidWS {
		return f.runStream(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

// GetQuote fetches a single top-of-book quote. Failures wrap ErrPriceUnavailable.
func (f *Feed) GetQuote(ctx context.Context, symbol string) (signal.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var (
		q   signal.Quote
		err error
	)
	switch f.provider {
	case ProviderHyperliquid:
		ctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		q, err = f.fetchL2Book(ctx, symbol)
	case ProviderHyperliquidWS:
		q, err = f.latestBook(symbol)
	default:
		q, err = f.stubQuote(symbol)
	}
	if err != nil {
		if errors.Is(err, ErrPriceUnavailable) {
			return signal.Quote{}, err
		}
		return signal.Quote{}, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}
	metrics.QuotesTotal.WithLabelValues(symbol).Inc()
	return q, nil
}

// GetQuotes fans out one fetch per symbol and merges the successes. It never fails as a whole;
// symbols that could not be quoted are absent from the result.
func (f *Feed) GetQuotes(ctx context.Context, symbols []string) map[string]signal.Quote {
	out := make(map[string]signal.Quote, len(symbols))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			q, err := f.GetQuote(ctx, sym)
			if err != nil {
				metrics.QuoteFailuresTotal.WithLabelValues(sym).Inc()
				f.log.Warn().Err(err).Str("symbol", sym).Str("provider", f.provider).Msg("quote fetch failed")
				return
			}
			mu.Lock()
			out[sym] = q
			mu.Unlock()
		}(sym)
	}
	wg.Wait()
	return out
}

// stubQuote walks each symbol's mid up by a fixed step per call so runs are reproducible.
func (f *Feed) stubQuote(symbol string) (signal.Quote, error) {
	if symbol == "" {
		return signal.Quote{}, fmt.Errorf("empty symbol")
	}
	f.mu.Lock()
	px, ok := f.stub[symbol]
	if !ok {
		px = 100
	}
	f.stub[symbol] = px * 1.0001
	f.mu.Unlock()

	half := px * 0.0001
	return signal.NewQuote(symbol, px-half, px+half, f.now().UTC()), nil
}
