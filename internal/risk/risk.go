// Package risk holds the admission gates a signal must pass before it may escrow paper capital.
package risk

import "errors"

var (
	ErrDuplicatePosition   = errors.New("position already open for symbol")
	ErrBelowConfidence     = errors.New("signal confidence below threshold")
	ErrBelowMinSize        = errors.New("signal size below minimum")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Limits are the per-signal admission thresholds.
type Limits struct {
	MinConfidencePct float64
	MinSizeUSD       float64
}

// Check returns nil when a signal of the given confidence and size may be admitted against balance.
// Gates are evaluated in a fixed order so the reported reason is stable.
func (l Limits) Check(confidencePct, sizeUSD, balance float64) error {
	if confidencePct < l.MinConfidencePct {
		return ErrBelowConfidence
	}
	if sizeUSD < l.MinSizeUSD {
		return ErrBelowMinSize
	}
	if sizeUSD > balance {
		return ErrInsufficientBalance
	}
	return nil
}
