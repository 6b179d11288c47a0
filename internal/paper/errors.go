package paper

import "fmt"

// PositionError describes why an operation on a symbol's position was refused.
// Err is one of the risk package sentinels and can be matched with errors.Is.
type PositionError struct {
	Symbol string
	Op     string
	Err    error
}

func (e *PositionError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PositionError) Unwrap() error {
	return e.Err
}
