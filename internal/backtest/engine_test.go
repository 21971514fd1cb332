package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trader-engine/internal/strategy"
	"trader-engine/pkg/types"
)

var testStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) types.Candle {
	open := testStart.Add(time.Duration(i) * time.Minute)
	return types.Candle{
		Symbol:    "BTCUSDT",
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		OpenTime:  open,
		CloseTime: open.Add(time.Minute),
		Timeframe: "1m",
	}
}

type mapSource struct {
	candles map[string][]types.Candle
}

func (m mapSource) LoadHistory(_ context.Context, symbol, _ string, _ int) ([]types.Candle, error) {
	return m.candles[symbol], nil
}

// buyOnClose enters whenever the newest close matches one of the target
// prices, which lets tests script entries onto exact bars.
type buyOnClose struct {
	targets map[float64]bool
}

func (s buyOnClose) Kind() strategy.Kind { return "scripted" }

func (s buyOnClose) Evaluate(history []types.Candle, _ strategy.Params) strategy.Signal {
	if s.targets[history[len(history)-1].Close] {
		return strategy.SignalBuy
	}
	return strategy.SignalHold
}

func (s buyOnClose) MinBars(_ strategy.Params) int { return 1 }

type alwaysBuy struct{}

func (alwaysBuy) Kind() strategy.Kind { return "always_buy" }

func (alwaysBuy) Evaluate(_ []types.Candle, _ strategy.Params) strategy.Signal {
	return strategy.SignalBuy
}

func (alwaysBuy) MinBars(_ strategy.Params) int { return 1 }

func testConfig() Config {
	return Config{
		StartDate:     testStart,
		EndDate:       testStart.AddDate(0, 0, 1),
		Timeframe:     "1m",
		CandleLimit:   500,
		CommissionPct: 0.1,
		SlippagePct:   0.1,
		Leverage:      1,
	}
}

func TestRun_SingleRoundTripHitsTakeProfit(t *testing.T) {
	source := mapSource{candles: map[string][]types.Candle{
		"BTCUSDT": {
			bar(0, 100, 101, 99, 100),
			bar(1, 100, 105, 99, 102),
			bar(2, 102, 108, 101, 107),
		},
	}}
	engine := NewEngine(source, nil)
	pairs := []PairConfig{{Symbol: "BTCUSDT", TakeProfitPct: 3.0, StopLossPct: 1.0}}

	result, err := engine.Run(context.Background(), testConfig(), pairs,
		buyOnClose{targets: map[float64]bool{102: true}}, nil, 2.0)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	assert.Equal(t, 102.0, trade.EntryPrice)
	assert.InDelta(t, 105.06, trade.ExitPrice, 1e-9)
	assert.Equal(t, ExitTakeProfit, trade.Reason)
	assert.InDelta(t, 0.026, trade.Pnl, 1e-9)
	assert.True(t, trade.Win())
}

func TestRun_TakeProfitWinsWhenBothLevelsTouched(t *testing.T) {
	// The exit bar spans both the 3% target and the 1% stop.
	source := mapSource{candles: map[string][]types.Candle{
		"BTCUSDT": {
			bar(0, 100, 101, 99, 100),
			bar(1, 100, 103, 99, 100),
			bar(2, 100, 104, 98, 101),
		},
	}}
	engine := NewEngine(source, nil)
	pairs := []PairConfig{{Symbol: "BTCUSDT", TakeProfitPct: 3.0, StopLossPct: 1.0}}

	result, err := engine.Run(context.Background(), testConfig(), pairs,
		buyOnClose{targets: map[float64]bool{100: true}}, nil, 2.0)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, ExitTakeProfit, result.Trades[0].Reason)
}

func TestRun_StopLossExit(t *testing.T) {
	source := mapSource{candles: map[string][]types.Candle{
		"BTCUSDT": {
			bar(0, 100, 101, 99, 100),
			bar(1, 100, 101, 99, 100),
			bar(2, 100, 100.5, 98, 99),
		},
	}}
	engine := NewEngine(source, nil)
	pairs := []PairConfig{{Symbol: "BTCUSDT", TakeProfitPct: 3.0, StopLossPct: 1.0}}

	result, err := engine.Run(context.Background(), testConfig(), pairs,
		buyOnClose{targets: map[float64]bool{100: true}}, nil, 2.0)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	assert.Equal(t, ExitStopLoss, trade.Reason)
	assert.InDelta(t, 99.0, trade.ExitPrice, 1e-9)
	assert.Negative(t, trade.Pnl)
}

func TestRun_SkipsSymbolWithTooFewCandles(t *testing.T) {
	source := mapSource{candles: map[string][]types.Candle{
		"BTCUSDT": {bar(0, 100, 101, 99, 100)},
		"ETHUSDT": {},
	}}
	engine := NewEngine(source, nil)
	pairs := []PairConfig{
		{Symbol: "BTCUSDT", TakeProfitPct: 3.0, StopLossPct: 1.0},
		{Symbol: "ETHUSDT", TakeProfitPct: 3.0, StopLossPct: 1.0},
	}

	result, err := engine.Run(context.Background(), testConfig(), pairs, alwaysBuy{}, nil, 2.0)
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
}

func TestRun_SinglePositionPerSymbol(t *testing.T) {
	// An always-buy strategy must not pyramid: the open position has to
	// close before a new entry is allowed.
	source := mapSource{candles: map[string][]types.Candle{
		"BTCUSDT": {
			bar(0, 100, 101, 99, 100),
			bar(1, 100, 101, 99, 100), // entry at 100
			bar(2, 100, 104, 99.5, 103), // TP at 103, then re-entry on bar 3
			bar(3, 103, 104, 102, 103),
			bar(4, 103, 108, 102, 107), // second TP at 106.09
		},
	}}
	engine := NewEngine(source, nil)
	pairs := []PairConfig{{Symbol: "BTCUSDT", TakeProfitPct: 3.0, StopLossPct: 1.0}}

	result, err := engine.Run(context.Background(), testConfig(), pairs, alwaysBuy{}, nil, 2.0)
	require.NoError(t, err)
	require.Len(t, result.Trades, 2)
	assert.Equal(t, 100.0, result.Trades[0].EntryPrice)
	assert.Equal(t, 103.0, result.Trades[1].EntryPrice)
}

func TestRun_OpenPositionAtEndDiscarded(t *testing.T) {
	source := mapSource{candles: map[string][]types.Candle{
		"BTCUSDT": {
			bar(0, 100, 101, 99, 100),
			bar(1, 100, 101, 99.5, 100),
			bar(2, 100, 101, 99.5, 100.5),
		},
	}}
	engine := NewEngine(source, nil)
	pairs := []PairConfig{{Symbol: "BTCUSDT", TakeProfitPct: 3.0, StopLossPct: 1.0}}

	result, err := engine.Run(context.Background(), testConfig(), pairs,
		buyOnClose{targets: map[float64]bool{100: true}}, nil, 2.0)
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
}

func TestRun_FallbackExitPercentages(t *testing.T) {
	source := mapSource{candles: map[string][]types.Candle{
		"BTCUSDT": {
			bar(0, 100, 101, 99, 100),
			bar(1, 100, 101, 99.5, 100),
			bar(2, 100, 102.5, 99.5, 102), // 2% fallback TP at 102
		},
	}}
	engine := NewEngine(source, nil)
	pairs := []PairConfig{{Symbol: "BTCUSDT"}} // no symbol-specific exits

	result, err := engine.Run(context.Background(), testConfig(), pairs,
		buyOnClose{targets: map[float64]bool{100: true}}, nil, 2.0)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.InDelta(t, 102.0, result.Trades[0].ExitPrice, 1e-9)
}

func TestRun_DateRangeFiltersCandles(t *testing.T) {
	inRange := []types.Candle{
		bar(0, 100, 101, 99, 100),
		bar(1, 100, 101, 99.5, 100),
		bar(2, 100, 104, 99.5, 103),
	}
	outOfRange := bar(0, 50, 200, 10, 50)
	outOfRange.OpenTime = testStart.AddDate(0, 0, -10)
	outOfRange.CloseTime = outOfRange.OpenTime.Add(time.Minute)

	source := mapSource{candles: map[string][]types.Candle{
		"BTCUSDT": append([]types.Candle{outOfRange}, inRange...),
	}}
	engine := NewEngine(source, nil)
	pairs := []PairConfig{{Symbol: "BTCUSDT", TakeProfitPct: 3.0, StopLossPct: 1.0}}

	result, err := engine.Run(context.Background(), testConfig(), pairs,
		buyOnClose{targets: map[float64]bool{100: true}}, nil, 2.0)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	// Entry lands on the first in-range bar after the walk start, not on
	// the wild out-of-range candle.
	assert.Equal(t, 100.0, result.Trades[0].EntryPrice)
}

func TestRun_Deterministic(t *testing.T) {
	source := mapSource{candles: map[string][]types.Candle{
		"BTCUSDT": {
			bar(0, 100, 101, 99, 100),
			bar(1, 100, 101, 99, 100),
			bar(2, 100, 104, 98, 101),
			bar(3, 101, 102, 97, 98),
		},
	}}
	engine := NewEngine(source, nil)
	pairs := []PairConfig{{Symbol: "BTCUSDT", TakeProfitPct: 3.0, StopLossPct: 1.0}}

	first, err := engine.Run(context.Background(), testConfig(), pairs, alwaysBuy{}, nil, 2.0)
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), testConfig(), pairs, alwaysBuy{}, nil, 2.0)
	require.NoError(t, err)
	assert.Equal(t, first.Trades, second.Trades)
}

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.EndDate = cfg.StartDate.AddDate(0, 0, -1)
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.CandleLimit = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.CommissionPct = -0.1
	assert.Error(t, bad.Validate())
}

func TestResult_Aggregates(t *testing.T) {
	result := &Result{Trades: []Trade{
		{Symbol: "BTCUSDT", Pnl: 0.02},
		{Symbol: "BTCUSDT", Pnl: -0.01},
		{Symbol: "ETHUSDT", Pnl: -0.03},
		{Symbol: "SOLUSDT", Pnl: 0.05},
	}}

	assert.InDelta(t, 0.03, result.TotalPnl(), 1e-9)
	assert.InDelta(t, 0.5, result.WinRate(), 1e-9)

	bySymbol := result.PnlBySymbol()
	assert.InDelta(t, 0.01, bySymbol["BTCUSDT"], 1e-9)
	assert.Equal(t, []string{"ETHUSDT"}, result.LosingSymbols())

	sorted := result.SortedByPnl()
	assert.Equal(t, "SOLUSDT", sorted[0].Symbol)
	assert.InDelta(t, -0.03, sorted[len(sorted)-1].Pnl, 1e-9)
}

func TestResult_WinRateEmpty(t *testing.T) {
	assert.Zero(t, (&Result{}).WinRate())
}
