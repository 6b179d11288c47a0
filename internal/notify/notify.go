// Package notify delivers position lifecycle events to operator channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sweepbot-go/internal/metrics"
	"sweepbot-go/internal/paper"
	"sweepbot-go/internal/signal"
)

// Event is a position state transition.
type Event interface {
	Kind() string
	Symbol() string
}

// OpenEvent is emitted when a signal is admitted. The exit percentages are carried so
// messages can show them next to the derived prices.
type OpenEvent struct {
	Position      paper.Position
	TakeProfitPct float64
	StopLossPct   float64
}

func (OpenEvent) Kind() string     { return "open" }
func (e OpenEvent) Symbol() string { return e.Position.Symbol }

// CloseEvent is emitted when a position crosses take-profit or stop-loss.
type CloseEvent struct {
	Trade paper.Trade
}

func (CloseEvent) Kind() string     { return "close" }
func (e CloseEvent) Symbol() string { return e.Trade.Symbol }

// Sink is a single delivery channel.
type Sink interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// Multi fans an event out to every sink and joins their failures.
type Multi struct {
	sinks []Sink
}

// NewMulti skips nil sinks.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Name() string { return "multi" }

// Len reports how many sinks are attached.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			metrics.NotifyFailuresTotal.WithLabelValues(s.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to the structured log. It is the fallback when no remote channel is configured.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(_ context.Context, ev Event) error {
	switch e := ev.(type) {
	case OpenEvent:
		s.log.Info().
			Str("event", e.Kind()).
			Str("id", e.Position.ID).
			Str("symbol", e.Position.Symbol).
			Str("side", string(e.Position.Side)).
			Str("entry", usd(e.Position.EntryPrice)).
			Str("size_usd", usd(e.Position.SizeUSD)).
			Msg("notification")
	case CloseEvent:
		s.log.Info().
			Str("event", e.Kind()).
			Str("id", e.Trade.ID).
			Str("symbol", e.Trade.Symbol).
			Str("reason", string(e.Trade.CloseReason)).
			Str("pnl_usd", usd(e.Trade.PnLUSD)).
			Msg("notification")
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
	return nil
}

func usd(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func price(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(4)
}

func sideEmoji(side signal.Side) string {
	if side == signal.Buy {
		return "🟢"
	}
	return "🔴"
}

func resultEmoji(pnlUSD float64) string {
	if pnlUSD > 0 {
		return "✅"
	}
	return "❌"
}

// trimPct drops trailing zeros so 3.0 renders as 3 and 0.6 as 0.6.
func trimPct(v float64) string {
	return decimal.NewFromFloat(v).String()
}
