package optimizer

import (
	"context"
	"sync"
	"time"

	"trader-engine/internal/backtest"
	traderrors "trader-engine/internal/errors"
	"trader-engine/internal/logger"
)

const (
	defaultMaxWorkers       = 4
	defaultCandidateTimeout = 30 * time.Second
)

// GridSearch exhaustively scores every combination in the ranges and
// returns the best by total PnL. Candidates run on a bounded worker
// pool, each under its own timeout; a candidate that errors or times
// out is dropped from contention rather than failing the sweep.
type GridSearch struct {
	evaluator        Evaluator
	ranges           Ranges
	maxWorkers       int
	candidateTimeout time.Duration
	log              *logger.Logger
}

func NewGridSearch(evaluator Evaluator, ranges Ranges, log *logger.Logger) *GridSearch {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &GridSearch{
		evaluator:        evaluator,
		ranges:           ranges,
		maxWorkers:       defaultMaxWorkers,
		candidateTimeout: defaultCandidateTimeout,
		log:              log,
	}
}

// SetCandidateTimeout overrides the per-candidate evaluation budget.
func (g *GridSearch) SetCandidateTimeout(d time.Duration) { g.candidateTimeout = d }

// Run sweeps the full grid seeded from base and returns the winning
// config. Ties on fitness resolve to the earliest candidate in
// enumeration order, which keeps the sweep deterministic.
func (g *GridSearch) Run(ctx context.Context, base backtest.Config) (*Candidate, error) {
	candidates := g.enumerate(base)
	evaluateAll(ctx, g.evaluator, candidates, g.maxWorkers, g.candidateTimeout, g.log)

	var best *Candidate
	evaluated := 0
	for _, c := range candidates {
		if !c.Evaluated {
			continue
		}
		evaluated++
		if best == nil || c.Fitness > best.Fitness {
			best = c
		}
	}
	if best == nil {
		return nil, traderrors.New(traderrors.CategoryOptimizer, "grid_search", "run",
			"all candidates failed or timed out")
	}
	g.log.Info("grid search: %d/%d candidates evaluated, best pnl %.4f (commission %.1f%%, limit %d, tf %s)",
		evaluated, len(candidates), best.Fitness,
		best.Config.CommissionPct, best.Config.CandleLimit, best.Config.Timeframe)
	return best, nil
}

func (g *GridSearch) enumerate(base backtest.Config) []*Candidate {
	out := make([]*Candidate, 0, g.ranges.Size())
	for _, commission := range g.ranges.CommissionPcts {
		for _, limit := range g.ranges.CandleLimits {
			for _, tf := range g.ranges.Timeframes {
				cfg := base
				cfg.CommissionPct = commission
				cfg.CandleLimit = limit
				cfg.Timeframe = tf
				out = append(out, &Candidate{Config: cfg})
			}
		}
	}
	return out
}

// evaluateAll scores every unevaluated candidate on a bounded pool.
// Shared by the grid and genetic searchers.
func evaluateAll(ctx context.Context, evaluator Evaluator, candidates []*Candidate, maxWorkers int, timeout time.Duration, log *logger.Logger) {
	var wg sync.WaitGroup
	slots := make(chan struct{}, maxWorkers)

	for _, c := range candidates {
		if c.Evaluated {
			continue
		}
		wg.Add(1)
		go func(c *Candidate) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()

			evalCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			fitness, err := evaluator.Evaluate(evalCtx, c.Config)
			if err != nil {
				log.Warn("candidate dropped (commission %.1f%%, limit %d, tf %s): %v",
					c.Config.CommissionPct, c.Config.CandleLimit, c.Config.Timeframe, err)
				return
			}
			c.Fitness = fitness
			c.Evaluated = true
		}(c)
	}
	wg.Wait()
}
