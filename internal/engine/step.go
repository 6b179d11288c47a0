package engine

import (
	"sweepbot-go/internal/paper"
	"sweepbot-go/internal/signal"
)

// Generator turns a sweep batch into candidate signals.
type Generator interface {
	Symbols() []string
	Generate(sweeps []signal.Sweep, quotes map[string]signal.Quote, balance float64) []signal.Signal
}

// CycleResult reports everything one cycle did to the account.
type CycleResult struct {
	Quotes   int
	Sweeps   int
	Signals  []signal.Signal
	Opened   []paper.Position
	Rejected []paper.Rejection
	Closed   []paper.Trade
}

// Mutated reports whether the account changed and must be persisted.
func (r CycleResult) Mutated() bool {
	return len(r.Opened) > 0 || len(r.Closed) > 0
}

// Step runs generate, admit and evaluate against an already fetched quote map and sweep batch.
// Signals are sized from the balance before any admission of this cycle. Positions opened in
// this step are evaluated against the same quotes.
func Step(m *paper.Manager, gen Generator, quotes map[string]signal.Quote, sweeps []signal.Sweep) CycleResult {
	res := CycleResult{Quotes: len(quotes), Sweeps: len(sweeps)}
	res.Signals = gen.Generate(sweeps, quotes, m.Balance())
	res.Opened, res.Rejected = m.AdmitAll(res.Signals)
	res.Closed = m.Evaluate(quotes)
	return res
}
