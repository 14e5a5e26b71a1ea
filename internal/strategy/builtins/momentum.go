// Package builtins provides the selection strategies that ship with the
// backtester.
package builtins

import (
	"etfmomentum/internal/engine"
	"etfmomentum/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = DualMomentum{}
	_ strategy.Strategy = RelativeMomentum{}
)

// DualMomentum holds the top assets by short lookback return among those
// with a positive long lookback return.
type DualMomentum struct {
	engine.DualMomentum
}

// Name returns "dual-momentum".
func (DualMomentum) Name() string { return "dual-momentum" }

// RelativeMomentum ranks by short lookback return alone, with no trend
// filter.
type RelativeMomentum struct {
	engine.RelativeMomentum
}

// Name returns "relative-momentum".
func (RelativeMomentum) Name() string { return "relative-momentum" }

// NewRegistry returns a registry holding every builtin strategy.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(DualMomentum{})
	r.Register(RelativeMomentum{})
	return r
}
