package reporting

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"trader-engine/internal/backtest"
	"trader-engine/internal/optimizer"
)

func sampleResult() *backtest.Result {
	entry := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return &backtest.Result{
		Trades: []backtest.Trade{
			{Symbol: "BTCUSDT", EntryTime: entry, ExitTime: entry.Add(time.Hour), EntryPrice: 100, ExitPrice: 102, Pnl: 0.016, Reason: backtest.ExitTakeProfit},
			{Symbol: "ETHUSDT", EntryTime: entry, ExitTime: entry.Add(2 * time.Hour), EntryPrice: 50, ExitPrice: 49, Pnl: -0.024, Reason: backtest.ExitStopLoss},
		},
	}
}

func sampleConfig() backtest.Config {
	cfg := backtest.DefaultConfig()
	cfg.StartDate = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	cfg.EndDate = time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	return cfg
}

func TestPrintBacktestSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintBacktestSummary(&buf, sampleResult(), sampleConfig())

	out := buf.String()
	assert.Contains(t, out, "BACKTEST RESULTS")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "ETHUSDT")
}

func TestPrintTrades(t *testing.T) {
	var buf bytes.Buffer
	PrintTrades(&buf, sampleResult().Trades)
	assert.Contains(t, buf.String(), "TAKE_PROFIT")
	assert.Contains(t, buf.String(), "STOP_LOSS")

	buf.Reset()
	PrintTrades(&buf, nil)
	assert.Contains(t, buf.String(), "No trades")
}

func TestPrintOptimizerWinner(t *testing.T) {
	var buf bytes.Buffer
	best := optimizer.Candidate{Config: sampleConfig(), Fitness: 0.42, Evaluated: true}
	PrintOptimizerWinner(&buf, best, 45)
	assert.Contains(t, buf.String(), "0.4200")
	assert.Contains(t, buf.String(), "45")
}

func TestPrintStartupInfo(t *testing.T) {
	var buf bytes.Buffer
	PrintStartupInfo(&buf, "binance", []int64{1, 2}, "1m", true)
	assert.Contains(t, buf.String(), "TESTNET")
	assert.Contains(t, buf.String(), "binance")
}

func TestSummaryRows(t *testing.T) {
	rows := summaryRows(sampleResult(), sampleConfig())

	labels := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		labels = append(labels, r[0])
	}
	assert.Contains(t, labels, "Total PnL")
	assert.Contains(t, labels, "Losing Symbol")

	for _, r := range rows {
		if r[0] == "Winning Trades" {
			assert.Equal(t, 1, r[1])
		}
		if r[0] == "Losing Symbol" {
			assert.Equal(t, "ETHUSDT", r[1])
		}
	}
}

func TestWriteTradesXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "trades.xlsx")
	require.NoError(t, WriteTradesXLSX(sampleResult(), sampleConfig(), path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	symbol, err := fx.GetCellValue(tradesSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", symbol)

	rows, err := fx.GetRows(summarySheet)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(rows), 10)
}
