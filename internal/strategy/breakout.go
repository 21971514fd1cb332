package strategy

import "trader-engine/pkg/types"

// BreakoutParams configures the windowed breakout strategy.
type BreakoutParams struct {
	Window      int     `json:"window"`
	BreakoutPct float64 `json:"breakout_pct"`
}

func (BreakoutParams) Kind() Kind { return KindWindowBreakout }

// DefaultBreakoutParams returns the stock parameter set.
func DefaultBreakoutParams() BreakoutParams {
	return BreakoutParams{Window: 20, BreakoutPct: 0.5}
}

// WindowBreakout signals BUY when the last close clears the highest high of
// the previous Window bars by BreakoutPct percent, and SELL when it breaks
// the lowest low by the same margin. A close exactly on a level holds.
type WindowBreakout struct{}

// NewWindowBreakout creates the windowed breakout strategy.
func NewWindowBreakout() *WindowBreakout { return &WindowBreakout{} }

func (*WindowBreakout) Kind() Kind { return KindWindowBreakout }

func (*WindowBreakout) MinBars(params Params) int {
	p, ok := params.(BreakoutParams)
	if !ok {
		return 0
	}
	return p.Window + 1
}

func (s *WindowBreakout) Evaluate(history []types.Candle, params Params) Signal {
	p, ok := params.(BreakoutParams)
	if !ok || p.Window <= 0 || len(history) < s.MinBars(params) {
		return SignalHold
	}

	last := history[len(history)-1].Close
	window := history[len(history)-1-p.Window : len(history)-1]

	highest := window[0].High
	lowest := window[0].Low
	for _, c := range window[1:] {
		if c.High > highest {
			highest = c.High
		}
		if c.Low < lowest {
			lowest = c.Low
		}
	}

	margin := p.BreakoutPct / 100.0
	if last > highest*(1+margin) {
		return SignalBuy
	}
	if last < lowest*(1-margin) {
		return SignalSell
	}
	return SignalHold
}
