package optimizer

import (
	"context"
	"math/rand"

	"trader-engine/internal/backtest"
)

// Evaluator scores one simulation config, returning its total
// fractional PnL. Implementations typically close over a backtest
// engine, the user's pairs and the active strategy.
type Evaluator interface {
	Evaluate(ctx context.Context, cfg backtest.Config) (float64, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, cfg backtest.Config) (float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, cfg backtest.Config) (float64, error) {
	return f(ctx, cfg)
}

// Candidate is one scored config. Fitness is only meaningful when
// Evaluated is true; failed or timed-out candidates stay unevaluated
// and never win.
type Candidate struct {
	Config    backtest.Config
	Fitness   float64
	Evaluated bool
}

func randomCandidate(base backtest.Config, ranges Ranges, rng *rand.Rand) *Candidate {
	cfg := base
	cfg.CommissionPct = ranges.CommissionPcts[rng.Intn(len(ranges.CommissionPcts))]
	cfg.CandleLimit = ranges.CandleLimits[rng.Intn(len(ranges.CandleLimits))]
	cfg.Timeframe = ranges.Timeframes[rng.Intn(len(ranges.Timeframes))]
	return &Candidate{Config: cfg}
}
