package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"trader-engine/internal/backtest"
)

const (
	tradesSheet  = "Trades"
	summarySheet = "Summary"
)

// excelStyles holds the workbook cell styles.
type excelStyles struct {
	header  int
	price   int
	pnlWin  int
	pnlLoss int
}

// WriteTradesXLSX writes the backtest result to a two-sheet workbook.
func WriteTradesXLSX(res *backtest.Result, cfg backtest.Config, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	styles, err := createStyles(fx)
	if err != nil {
		return err
	}
	if err := writeTradesSheet(fx, res, styles); err != nil {
		return err
	}
	if err := writeSummarySheet(fx, res, cfg, styles); err != nil {
		return err
	}
	return fx.SaveAs(path)
}

func createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F5496"}, Pattern: 1},
	})
	if err != nil {
		return styles, err
	}
	styles.price, err = fx.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return styles, err
	}
	styles.pnlWin, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Color: "006100"},
		NumFmt: 4,
	})
	if err != nil {
		return styles, err
	}
	styles.pnlLoss, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Color: "9C0006"},
		NumFmt: 4,
	})
	return styles, err
}

func writeTradesSheet(fx *excelize.File, res *backtest.Result, styles excelStyles) error {
	headers := []string{"#", "Symbol", "Entry Time", "Exit Time", "Entry Price", "Exit Price", "PnL", "Reason"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := fx.SetCellValue(tradesSheet, cell, h); err != nil {
			return err
		}
		fx.SetCellStyle(tradesSheet, cell, cell, styles.header)
	}

	for i, tr := range res.Trades {
		row := i + 2
		values := []interface{}{
			i + 1,
			tr.Symbol,
			tr.EntryTime.Format("2006-01-02 15:04:05"),
			tr.ExitTime.Format("2006-01-02 15:04:05"),
			tr.EntryPrice,
			tr.ExitPrice,
			tr.Pnl,
			string(tr.Reason),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := fx.SetCellValue(tradesSheet, cell, v); err != nil {
				return err
			}
		}
		pnlCell, _ := excelize.CoordinatesToCellName(7, row)
		if tr.Win() {
			fx.SetCellStyle(tradesSheet, pnlCell, pnlCell, styles.pnlWin)
		} else {
			fx.SetCellStyle(tradesSheet, pnlCell, pnlCell, styles.pnlLoss)
		}
	}

	return fx.SetColWidth(tradesSheet, "B", "D", 20)
}

func writeSummarySheet(fx *excelize.File, res *backtest.Result, cfg backtest.Config, styles excelStyles) error {
	rows := summaryRows(res, cfg)
	for i, pair := range rows {
		labelCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valueCell, _ := excelize.CoordinatesToCellName(2, i+1)
		if err := fx.SetCellValue(summarySheet, labelCell, pair[0]); err != nil {
			return err
		}
		if err := fx.SetCellValue(summarySheet, valueCell, pair[1]); err != nil {
			return err
		}
		fx.SetCellStyle(summarySheet, labelCell, labelCell, styles.header)
	}
	return fx.SetColWidth(summarySheet, "A", "A", 22)
}

// summaryRows flattens the aggregate result into label/value pairs.
func summaryRows(res *backtest.Result, cfg backtest.Config) [][2]interface{} {
	wins := 0
	for _, tr := range res.Trades {
		if tr.Win() {
			wins++
		}
	}
	rows := [][2]interface{}{
		{"Timeframe", cfg.Timeframe},
		{"Window Start", cfg.StartDate.Format("2006-01-02")},
		{"Window End", cfg.EndDate.Format("2006-01-02")},
		{"Commission %", cfg.CommissionPct},
		{"Slippage %", cfg.SlippagePct},
		{"Total Trades", len(res.Trades)},
		{"Winning Trades", wins},
		{"Losing Trades", len(res.Trades) - wins},
		{"Win Rate", res.WinRate()},
		{"Total PnL", res.TotalPnl()},
	}
	for _, sym := range res.LosingSymbols() {
		rows = append(rows, [2]interface{}{"Losing Symbol", sym})
	}
	return rows
}
