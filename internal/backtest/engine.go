package backtest

import (
	"context"
	"time"

	traderrors "trader-engine/internal/errors"
	"trader-engine/internal/logger"
	"trader-engine/internal/strategy"
	"trader-engine/pkg/types"
)

// CandleSource supplies historical candles to the simulator. Production
// runs load from the exchange with cache-through; tests feed fixtures.
type CandleSource interface {
	LoadHistory(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error)
}

// Engine replays historical candles through a strategy, one symbol at a
// time, and records the round trips a live orchestrator would have made.
// Runs are deterministic: identical inputs always produce identical
// results.
type Engine struct {
	source CandleSource
	log    *logger.Logger
}

func NewEngine(source CandleSource, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Engine{source: source, log: log}
}

// Run simulates the strategy over every pair in the config's date range.
// Symbols with fewer than two candles in range are skipped, not failed.
// fallbackExitPct substitutes for any pair whose own TP or SL percentage
// is unset.
func (e *Engine) Run(ctx context.Context, cfg Config, pairs []PairConfig, strat strategy.Strategy, params strategy.Params, fallbackExitPct float64) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strat == nil {
		return nil, traderrors.New(traderrors.CategoryConfig, "backtest", "run", "no strategy configured")
	}

	result := &Result{}
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, traderrors.Wrap(traderrors.CategoryData, "backtest", "run", err)
		}
		trades, err := e.runSymbol(ctx, cfg, pair, strat, params, fallbackExitPct)
		if err != nil {
			return nil, err
		}
		result.Trades = append(result.Trades, trades...)
	}

	e.log.Info("backtest finished: %d trades, total pnl %.4f, win rate %.1f%%",
		len(result.Trades), result.TotalPnl(), result.WinRate()*100)
	return result, nil
}

func (e *Engine) runSymbol(ctx context.Context, cfg Config, pair PairConfig, strat strategy.Strategy, params strategy.Params, fallbackExitPct float64) ([]Trade, error) {
	history, err := e.source.LoadHistory(ctx, pair.Symbol, cfg.Timeframe, cfg.CandleLimit)
	if err != nil {
		return nil, traderrors.Wrap(traderrors.CategoryData, "backtest", "load_history", err)
	}

	candles := filterRange(history, cfg.windowStart(), cfg.windowEnd())
	if len(candles) < 2 {
		e.log.Warn("skipping %s: %d candles in range, need at least 2", pair.Symbol, len(candles))
		return nil, nil
	}

	tpPct := pair.TakeProfitPct
	if tpPct <= 0 {
		tpPct = fallbackExitPct
	}
	slPct := pair.StopLossPct
	if slPct <= 0 {
		slPct = fallbackExitPct
	}
	costPct := cfg.roundTripCostPct()

	var trades []Trade
	inPosition := false
	var entry types.Candle

	for i := 1; i < len(candles); i++ {
		current := candles[i]
		if !inPosition {
			if strat.Evaluate(candles[:i+1], params) == strategy.SignalBuy {
				inPosition = true
				entry = current
			}
			continue
		}

		// Take profit wins when both levels fall inside the same bar.
		tpPrice := entry.Close * (1 + tpPct/100)
		slPrice := entry.Close * (1 - slPct/100)
		switch {
		case current.High >= tpPrice:
			trades = append(trades, closedTrade(pair.Symbol, entry, current, tpPrice, costPct, ExitTakeProfit))
			inPosition = false
		case current.Low <= slPrice:
			trades = append(trades, closedTrade(pair.Symbol, entry, current, slPrice, costPct, ExitStopLoss))
			inPosition = false
		}
	}
	// A position still open at the end of history is discarded, not
	// force-closed: only completed round trips count.
	return trades, nil
}

func closedTrade(symbol string, entry, exit types.Candle, exitPrice, costPct float64, reason ExitReason) Trade {
	return Trade{
		Symbol:     symbol,
		EntryTime:  entry.CloseTime,
		ExitTime:   exit.CloseTime,
		EntryPrice: entry.Close,
		ExitPrice:  exitPrice,
		Pnl:        (exitPrice-entry.Close)/entry.Close - costPct,
		Reason:     reason,
	}
}

func filterRange(candles []types.Candle, start, end time.Time) []types.Candle {
	out := make([]types.Candle, 0, len(candles))
	for _, c := range candles {
		if c.CloseTime.Before(start) || c.CloseTime.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}
