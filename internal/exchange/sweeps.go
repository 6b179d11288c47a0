package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sweepbot-go/internal/signal"
)

// ErrFeedUnavailable is returned when the order-flow provider cannot be read.
var ErrFeedUnavailable = errors.New("order flow unavailable")

const defaultFlowURL = "https://moondev.com/api/polymarket/sweeps"

// SweepSource polls the order-flow provider for its most recent batch of sweeps.
type SweepSource struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// SweepOption configures SweepSource construction.
type SweepOption func(*SweepSource)

// WithSweepTimeout bounds each batch fetch.
func WithSweepTimeout(d time.Duration) SweepOption {
	return func(s *SweepSource) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

// NewSweepSource constructs a source reading from url (the public sweeps endpoint when empty).
func NewSweepSource(url string, log zerolog.Logger, opts ...SweepOption) *SweepSource {
	if url == "" {
		url = defaultFlowURL
	}
	s := &SweepSource{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type sweepsResponse struct {
	Data []json.RawMessage `json:"data"`
}

type sweepPayload struct {
	Trader    string          `json:"trader"`
	Market    string          `json:"market"`
	Side      string          `json:"side"`
	USDAmount flowNumber      `json:"usd_amount"`
	Size      flowNumber      `json:"size"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// flowNumber accepts JSON numbers, numeric strings, empty strings and null.
type flowNumber struct {
	decimal.Decimal
}

func (n *flowNumber) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		n.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", raw, err)
	}
	n.Decimal = d
	return nil
}

// FetchSweeps returns the provider's current batch in provider order. Individual malformed
// events are skipped; transport, status and envelope failures wrap ErrFeedUnavailable.
func (s *SweepSource) FetchSweeps(ctx context.Context) ([]signal.Sweep, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFeedUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sweepbot-go/1.0 (paper)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http do: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFeedUnavailable, resp.StatusCode)
	}

	var payload sweepsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrFeedUnavailable, err)
	}

	now := time.Now().UTC()
	out := make([]signal.Sweep, 0, len(payload.Data))
	for i, raw := range payload.Data {
		var p sweepPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			s.log.Warn().Err(err).Int("index", i).Msg("skipping malformed sweep")
			continue
		}
		out = append(out, signal.Sweep{
			Trader:    p.Trader,
			Market:    p.Market,
			Side:      signal.ParseSide(p.Side),
			USDAmount: p.USDAmount.InexactFloat64(),
			Size:      p.Size.InexactFloat64(),
			Ts:        parseFlowTime(p.Timestamp, now),
		})
	}
	return out, nil
}

// parseFlowTime accepts unix seconds or milliseconds (number or string) and RFC3339 strings.
func parseFlowTime(raw json.RawMessage, fallback time.Time) time.Time {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return fallback
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
		if v > 1e12 {
			return time.UnixMilli(int64(v)).UTC()
		}
		sec := int64(v)
		return time.Unix(sec, int64((v-float64(sec))*1e9)).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return fallback
}
