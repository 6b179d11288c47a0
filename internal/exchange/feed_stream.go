package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"

	"sweepbot-go/internal/metrics"
	"sweepbot-go/internal/signal"
)

const (
	streamReadTimeout  = 30 * time.Second
	streamPingInterval = 15 * time.Second
	minBackoff         = time.Second
	maxBackoff         = 30 * time.Second
	backoffFactor      = 1.8
)

type wsSubscribe struct {
	Method       string         `json:"method"`
	Subscription *l2BookRequest `json:"subscription,omitempty"`
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func (f *Feed) runStream(ctx context.Context) error {
	if len(f.symbols) == 0 {
		return fmt.Errorf("hyperliquid stream requires at least one symbol")
	}

	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := f.consumeStream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = minBackoff
		}
		metrics.FeedReconnectsTotal.Inc()
		f.log.Warn().Err(err).Dur("backoff", backoff).Msg("hyperliquid stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	return time.Duration(math.Min(float64(maxBackoff), float64(d)*backoffFactor))
}

func (f *Feed) consumeStream(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	for _, sym := range f.symbols {
		sub := wsSubscribe{Method: "subscribe", Subscription: &l2BookRequest{Type: "l2Book", Coin: sym}}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(sub); err != nil {
			return true, fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	f.log.Info().Str("provider", ProviderHyperliquidWS).Strs("symbols", f.symbols).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(wsSubscribe{Method: "ping"}); err != nil {
					f.log.Warn().Err(err).Msg("hyperliquid ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()
	go func() {
		<-pingCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		var env wsEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			f.log.Warn().Err(err).Msg("failed to decode hyperliquid message")
			continue
		}
		if env.Channel != "l2Book" {
			continue
		}
		var book l2Book
		if err := json.Unmarshal(env.Data, &book); err != nil {
			f.log.Warn().Err(err).Msg("failed to decode hyperliquid book")
			continue
		}
		q, err := bookToQuote(book.Coin, book, f.now())
		if err != nil {
			f.log.Warn().Err(err).Str("symbol", book.Coin).Msg("invalid hyperliquid book")
			continue
		}
		f.storeBook(q)
	}
}

func (f *Feed) storeBook(q signal.Quote) {
	f.mu.Lock()
	f.books[q.Symbol] = bookEntry{quote: q, receivedAt: f.now()}
	f.mu.Unlock()
}

func (f *Feed) latestBook(symbol string) (signal.Quote, error) {
	f.mu.RLock()
	entry, ok := f.books[symbol]
	f.mu.RUnlock()
	if !ok {
		return signal.Quote{}, fmt.Errorf("%w: %s: no book received", ErrPriceUnavailable, symbol)
	}
	if age := f.now().Sub(entry.receivedAt); age > f.staleAfter {
		return signal.Quote{}, fmt.Errorf("%w: %s: book stale for %s", ErrPriceUnavailable, symbol, age.Truncate(time.Millisecond))
	}
	return entry.quote, nil
}
