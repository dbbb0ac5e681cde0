package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"nifty-etl/internal/dq"
)

const summarySheet = "Summary"

var workbookHeader = []any{
	"Ticker", "Rows", "Start", "End", "DQ Pass",
	"Duplicate Index", "Non-positive Prices", "Non-positive Volume",
	"Duplicate Rows", "Extreme Returns", "Large Gaps", "Notes",
}

// WriteWorkbook writes one summary row per ticker to an XLSX file.
func WriteWorkbook(reports map[string]dq.Report, path string) error {
	tickers := make([]string, 0, len(reports))
	for ticker := range reports {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return fmt.Errorf("name summary sheet: %w", err)
	}
	if err := f.SetSheetRow(summarySheet, "A1", &workbookHeader); err != nil {
		return fmt.Errorf("write workbook header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(workbookHeader))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("style workbook header: %w", err)
	}

	for i, ticker := range tickers {
		rep := reports[ticker]
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			ticker,
			rep.Rows,
			deref(rep.StartDate),
			deref(rep.EndDate),
			passLabel(rep.Pass),
			rep.DuplicateIndexCount,
			rep.NonPositivePriceTotal(),
			rep.NonPositiveVolume,
			rep.DuplicateRows,
			extremeCell(rep.ExtremeReturnCount),
			rep.LargeGapsCount,
			strings.Join(rep.Reasons, ", "),
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write workbook row for %s: %w", ticker, err)
		}
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workbook dir: %w", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func extremeCell(n *int) any {
	if n == nil {
		return ""
	}
	return *n
}
