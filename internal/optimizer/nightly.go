package optimizer

import (
	"context"
	"time"

	"trader-engine/internal/backtest"
	"trader-engine/internal/logger"
	"trader-engine/internal/strategy"
)

// PairExitUpdater persists re-tuned exit percentages for one symbol.
type PairExitUpdater interface {
	UpdatePairExits(ctx context.Context, userID int64, symbol string, takeProfitPct, stopLossPct float64) error
}

var (
	nightlyTakeProfitGrid = []float64{1.0, 2.0, 3.0, 4.0, 5.0}
	nightlyStopLossGrid   = []float64{0.5, 1.0, 1.5, 2.0}
)

// NightlyTuner re-fits the take-profit and stop-loss percentages of
// every active pair against recent history, once per day. A pair keeps
// its current exits unless some grid cell is profitable.
type NightlyTuner struct {
	engine  *backtest.Engine
	updater PairExitUpdater
	log     *logger.Logger
}

func NewNightlyTuner(engine *backtest.Engine, updater PairExitUpdater, log *logger.Logger) *NightlyTuner {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &NightlyTuner{engine: engine, updater: updater, log: log}
}

// RunOnce sweeps the exit grid for each pair and persists the winning
// percentages. Pair-level failures are logged and skipped so one bad
// symbol cannot block the rest of the batch.
func (n *NightlyTuner) RunOnce(ctx context.Context, userID int64, cfg backtest.Config, pairs []backtest.PairConfig, strat strategy.Strategy, params strategy.Params) {
	for _, pair := range pairs {
		tp, sl, pnl, found := n.tunePair(ctx, cfg, pair, strat, params)
		if !found {
			n.log.Info("nightly tune %s: no profitable exits, keeping tp %.2f%% / sl %.2f%%",
				pair.Symbol, pair.TakeProfitPct, pair.StopLossPct)
			continue
		}
		if err := n.updater.UpdatePairExits(ctx, userID, pair.Symbol, tp, sl); err != nil {
			n.log.Error("nightly tune %s: persist failed: %v", pair.Symbol, err)
			continue
		}
		n.log.Info("nightly tune %s: tp %.2f%% / sl %.2f%% (pnl %.4f)", pair.Symbol, tp, sl, pnl)
	}
}

func (n *NightlyTuner) tunePair(ctx context.Context, cfg backtest.Config, pair backtest.PairConfig, strat strategy.Strategy, params strategy.Params) (bestTp, bestSl, bestPnl float64, found bool) {
	for _, tp := range nightlyTakeProfitGrid {
		for _, sl := range nightlyStopLossGrid {
			candidate := pair
			candidate.TakeProfitPct = tp
			candidate.StopLossPct = sl
			result, err := n.engine.Run(ctx, cfg, []backtest.PairConfig{candidate}, strat, params, tp)
			if err != nil {
				n.log.Warn("nightly tune %s tp %.1f sl %.1f: %v", pair.Symbol, tp, sl, err)
				continue
			}
			pnl := result.TotalPnl()
			if pnl > 0 && (!found || pnl > bestPnl) {
				bestTp, bestSl, bestPnl, found = tp, sl, pnl, true
			}
		}
	}
	return bestTp, bestSl, bestPnl, found
}

// Start blocks until ctx is done, running RunOnce at every midnight
// UTC via the supplied batch callback. The callback gathers the
// current pairs and settings so each run sees fresh state.
func (n *NightlyTuner) Start(ctx context.Context, batch func(ctx context.Context)) {
	for {
		wait := time.Until(nextMidnightUTC(time.Now().UTC()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			batch(ctx)
		}
	}
}

func nextMidnightUTC(now time.Time) time.Time {
	return now.Truncate(24 * time.Hour).Add(24 * time.Hour)
}
