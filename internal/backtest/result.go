package backtest

import (
	"sort"
	"time"
)

// ExitReason records which protective level ended a simulated trade.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitStopLoss   ExitReason = "STOP_LOSS"
)

// Trade is one closed round trip produced by the simulator. Pnl is
// fractional: 0.026 means the position gained 2.6% net of costs.
type Trade struct {
	Symbol     string
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Pnl        float64
	Reason     ExitReason
}

// Win reports whether the trade closed with positive net PnL.
func (t Trade) Win() bool { return t.Pnl > 0 }

// Result aggregates all closed trades of one simulation run.
type Result struct {
	Trades []Trade
}

// TotalPnl sums the fractional PnL of every trade.
func (r *Result) TotalPnl() float64 {
	var total float64
	for _, t := range r.Trades {
		total += t.Pnl
	}
	return total
}

// WinRate returns the share of winning trades in [0,1], 0 when no
// trades closed.
func (r *Result) WinRate() float64 {
	if len(r.Trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range r.Trades {
		if t.Win() {
			wins++
		}
	}
	return float64(wins) / float64(len(r.Trades))
}

// PnlBySymbol groups total PnL per symbol.
func (r *Result) PnlBySymbol() map[string]float64 {
	out := make(map[string]float64, len(r.Trades))
	for _, t := range r.Trades {
		out[t.Symbol] += t.Pnl
	}
	return out
}

// LosingSymbols lists symbols whose aggregate PnL is negative, sorted
// worst first.
func (r *Result) LosingSymbols() []string {
	bySymbol := r.PnlBySymbol()
	var losers []string
	for sym, pnl := range bySymbol {
		if pnl < 0 {
			losers = append(losers, sym)
		}
	}
	sort.Slice(losers, func(i, j int) bool {
		if bySymbol[losers[i]] != bySymbol[losers[j]] {
			return bySymbol[losers[i]] < bySymbol[losers[j]]
		}
		return losers[i] < losers[j]
	})
	return losers
}

// SortedByPnl returns the trades ordered best first, without mutating
// the result.
func (r *Result) SortedByPnl() []Trade {
	sorted := make([]Trade, len(r.Trades))
	copy(sorted, r.Trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Pnl > sorted[j].Pnl
	})
	return sorted
}
