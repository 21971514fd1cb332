package strategy

import "trader-engine/pkg/types"

// FibGridParams configures the grid-level strategy.
type FibGridParams struct {
	GridLevels  int     `json:"grid_levels"`
	DistancePct float64 `json:"distance_pct"`
}

func (FibGridParams) Kind() Kind { return KindFibGrid }

// DefaultFibGridParams returns the stock parameter set.
func DefaultFibGridParams() FibGridParams {
	return FibGridParams{GridLevels: 5, DistancePct: 1.0}
}

// FibGrid lays GridLevels price levels spaced DistancePct×level percent
// above and below the base price (the first candle's close). The current
// price reaching an upper level signals BUY; reaching a lower level signals
// SELL. Sitting exactly between levels holds.
type FibGrid struct{}

// NewFibGrid creates the grid-level strategy.
func NewFibGrid() *FibGrid { return &FibGrid{} }

func (*FibGrid) Kind() Kind { return KindFibGrid }

func (*FibGrid) MinBars(Params) int { return 1 }

func (s *FibGrid) Evaluate(history []types.Candle, params Params) Signal {
	p, ok := params.(FibGridParams)
	if !ok || len(history) == 0 || p.GridLevels <= 0 {
		return SignalHold
	}

	base := history[0].Close
	current := history[len(history)-1].Close
	if base <= 0 {
		return SignalHold
	}

	for level := 1; level <= p.GridLevels; level++ {
		pct := p.DistancePct * float64(level) / 100.0
		if current >= base*(1+pct) {
			return SignalBuy
		}
		if current <= base*(1-pct) {
			return SignalSell
		}
	}
	return SignalHold
}
