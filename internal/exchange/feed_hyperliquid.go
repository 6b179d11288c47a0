package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"sweepbot-go/internal/signal"
)

type l2BookRequest struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

// l2Book is shared by the REST response and the websocket l2Book channel payload.
type l2Book struct {
	Coin   string      `json:"coin"`
	Time   int64       `json:"time"`
	Levels [][]l2Level `json:"levels"`
}

type l2Level struct {
	Px decimal.Decimal `json:"px"`
	Sz decimal.Decimal `json:"sz"`
	N  int             `json:"n"`
}

func (f *Feed) fetchL2Book(ctx context.Context, symbol string) (signal.Quote, error) {
	body, err := json.Marshal(l2BookRequest{Type: "l2Book", Coin: symbol})
	if err != nil {
		return signal.Quote{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return signal.Quote{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sweepbot-go/1.0 (paper)")

	resp, err := f.client.Do(req)
	if err != nil {
		return signal.Quote{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return signal.Quote{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var book l2Book
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return signal.Quote{}, fmt.Errorf("decode response: %w", err)
	}
	return bookToQuote(symbol, book, f.now())
}

// bookToQuote takes the best bid from levels[0] and the best ask from levels[1].
func bookToQuote(symbol string, book l2Book, fallback time.Time) (signal.Quote, error) {
	if len(book.Levels) < 2 || len(book.Levels[0]) == 0 || len(book.Levels[1]) == 0 {
		return signal.Quote{}, fmt.Errorf("book missing levels")
	}
	bid := book.Levels[0][0].Px
	ask := book.Levels[1][0].Px
	if !bid.IsPositive() || !ask.IsPositive() {
		return signal.Quote{}, fmt.Errorf("non-positive top of book bid=%s ask=%s", bid, ask)
	}
	ts := fallback.UTC()
	if book.Time > 0 {
		ts = time.UnixMilli(book.Time).UTC()
	}
	return signal.NewQuote(symbol, bid.InexactFloat64(), ask.InexactFloat64(), ts), nil
}
