// Package reporting renders backtest and optimizer output for the
// console and for Excel workbooks.
package reporting

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"trader-engine/internal/backtest"
	"trader-engine/internal/optimizer"
)

// PrintBacktestSummary renders the aggregate result of one backtest run.
func PrintBacktestSummary(w io.Writer, res *backtest.Result, cfg backtest.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("BACKTEST RESULTS")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"⏰ Timeframe", cfg.Timeframe},
		{"📅 Window", fmt.Sprintf("%s → %s", cfg.StartDate.Format("2006-01-02"), cfg.EndDate.Format("2006-01-02"))},
		{"💸 Commission", fmt.Sprintf("%.2f%%", cfg.CommissionPct)},
		{"💸 Slippage", fmt.Sprintf("%.2f%%", cfg.SlippagePct)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"🔄 Total Trades", len(res.Trades)},
		{"📈 Total PnL", fmt.Sprintf("%.4f", res.TotalPnl())},
		{"✅ Win Rate", fmt.Sprintf("%.1f%%", res.WinRate()*100)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, Align: text.AlignLeft},
	})
	t.Render()

	printSymbolBreakdown(w, res)
}

func printSymbolBreakdown(w io.Writer, res *backtest.Result) {
	bySymbol := res.PnlBySymbol()
	if len(bySymbol) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("PER-SYMBOL PNL")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "PnL", "Trades"})

	counts := make(map[string]int)
	for _, tr := range res.Trades {
		counts[tr.Symbol]++
	}
	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool {
		if bySymbol[symbols[i]] != bySymbol[symbols[j]] {
			return bySymbol[symbols[i]] > bySymbol[symbols[j]]
		}
		return symbols[i] < symbols[j]
	})
	for _, sym := range symbols {
		t.AppendRow(table.Row{sym, fmt.Sprintf("%.4f", bySymbol[sym]), counts[sym]})
	}
	t.Render()
}

// PrintTrades renders the individual simulated round trips.
func PrintTrades(w io.Writer, trades []backtest.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "No trades in the selected window.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("TRADES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Symbol", "Entry", "Exit", "Entry Price", "Exit Price", "PnL", "Reason"})

	for i, tr := range trades {
		t.AppendRow(tradeRow(i+1, tr))
	}
	t.Render()
}

// PrintOptimizerWinner renders the best candidate of an optimizer run.
func PrintOptimizerWinner(w io.Writer, best optimizer.Candidate, evaluated int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("OPTIMIZER WINNER")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"🏆 Fitness (PnL)", fmt.Sprintf("%.4f", best.Fitness)},
		{"💸 Commission", fmt.Sprintf("%.2f%%", best.Config.CommissionPct)},
		{"📏 Candle Limit", best.Config.CandleLimit},
		{"⏰ Timeframe", best.Config.Timeframe},
		{"🔬 Candidates", evaluated},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 16, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, Align: text.AlignLeft},
	})
	t.Render()
}

// PrintStartupInfo renders the live engine configuration at boot.
func PrintStartupInfo(w io.Writer, venue string, users []int64, timeframe string, testnet bool) {
	env := "🔴 LIVE"
	if testnet {
		env = "🟡 TESTNET"
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("ENGINE INITIALIZATION")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"🏪 Exchange", venue},
		{"👥 Users", fmt.Sprintf("%d", len(users))},
		{"⏰ Timeframe", timeframe},
		{"🔧 Environment", env},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, WidthMax: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Fprintln(w)
}

func tradeRow(index int, tr backtest.Trade) table.Row {
	return table.Row{
		index,
		tr.Symbol,
		tr.EntryTime.Format("2006-01-02 15:04"),
		tr.ExitTime.Format("2006-01-02 15:04"),
		fmt.Sprintf("%.8f", tr.EntryPrice),
		fmt.Sprintf("%.8f", tr.ExitPrice),
		fmt.Sprintf("%.4f", tr.Pnl),
		string(tr.Reason),
	}
}
