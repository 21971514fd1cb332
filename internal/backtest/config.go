package backtest

import (
	"time"

	traderrors "trader-engine/internal/errors"
)

// Config holds the per-user simulation settings. Dates are inclusive:
// StartDate is truncated to midnight UTC and EndDate extends to the end
// of its day, so a single-day range still admits that day's candles.
type Config struct {
	StartDate     time.Time
	EndDate       time.Time
	Timeframe     string
	CandleLimit   int
	CommissionPct float64
	SlippagePct   float64
	Leverage      int
}

// DefaultConfig returns a config covering the trailing 30 days on the
// 1m timeframe with typical spot taker costs.
func DefaultConfig() Config {
	now := time.Now().UTC()
	return Config{
		StartDate:     now.AddDate(0, 0, -30),
		EndDate:       now,
		Timeframe:     "1m",
		CandleLimit:   500,
		CommissionPct: 0.1,
		SlippagePct:   0.1,
		Leverage:      1,
	}
}

// Validate rejects configs the engine cannot run.
func (c Config) Validate() error {
	if c.EndDate.Before(c.StartDate) {
		return traderrors.New(traderrors.CategoryConfig, "backtest", "validate",
			"end date precedes start date")
	}
	if c.CandleLimit <= 0 {
		return traderrors.New(traderrors.CategoryConfig, "backtest", "validate",
			"candle limit must be positive")
	}
	if c.CommissionPct < 0 || c.SlippagePct < 0 {
		return traderrors.New(traderrors.CategoryConfig, "backtest", "validate",
			"commission and slippage must be non-negative")
	}
	return nil
}

// windowStart returns the inclusive lower bound of the date range.
func (c Config) windowStart() time.Time {
	return c.StartDate.UTC().Truncate(24 * time.Hour)
}

// windowEnd returns the inclusive upper bound, the last instant of EndDate's day.
func (c Config) windowEnd() time.Time {
	return c.EndDate.UTC().Truncate(24 * time.Hour).Add(24*time.Hour - time.Nanosecond)
}

// roundTripCostPct is the total fractional cost applied to every closed
// trade: commission and slippage are each paid on entry and exit.
func (c Config) roundTripCostPct() float64 {
	return 2 * (c.CommissionPct + c.SlippagePct) / 100
}

// PairConfig carries the per-symbol exit percentages used by the
// simulator. Zero percentages fall back to the account risk settings.
type PairConfig struct {
	Symbol        string
	TakeProfitPct float64
	StopLossPct   float64
}
