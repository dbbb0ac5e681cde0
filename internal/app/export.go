package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/guregu/null/v6"
	chart "github.com/wcharczuk/go-chart/v2"

	"nifty-etl/internal/ohlcv"
	"nifty-etl/internal/storage"
)

// Export writes one stored ticker's history as CSV and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Ticker == "" {
		return errors.New("--ticker is required")
	}

	paths, err := storage.EnsureDirs(a.Config.Pipeline.OutBase)
	if err != nil {
		return err
	}
	duck, err := storage.OpenDuckDB(ctx, paths.DBPath)
	if err != nil {
		return err
	}
	defer duck.Close()

	name := ohlcv.TableName(a.Config.Pipeline.TablePrefix, opts.Ticker)
	table, err := duck.ReadTable(ctx, name)
	if err != nil {
		return err
	}

	bars := windowBars(table.Bars, opts)
	if len(bars) == 0 {
		a.Logger.Info().Str("table", name).Msg("no rows found for export window")
		return nil
	}

	sampled := downsampleBars(bars, opts.MaxPoints)
	a.Logger.Info().Str("table", name).Int("total", len(bars)).Int("exported", len(sampled)).Msg("exporting bars")

	if opts.CSVPath != "" {
		if err := writeBarsCSV(opts.CSVPath, sampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeBarsPNG(opts.PNGPath, opts.Ticker, sampled); err != nil {
			return err
		}
	}

	return nil
}

func windowBars(bars []ohlcv.Bar, opts ExportOptions) []ohlcv.Bar {
	out := make([]ohlcv.Bar, 0, len(bars))
	for _, b := range bars {
		if opts.From != nil && b.Date.Before(ohlcv.DateOnly(*opts.From)) {
			continue
		}
		if opts.To != nil && b.Date.After(ohlcv.DateOnly(*opts.To)) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func downsampleBars(bars []ohlcv.Bar, max int) []ohlcv.Bar {
	if max <= 1 || len(bars) <= max {
		return bars
	}

	result := make([]ohlcv.Bar, 0, max)
	step := float64(len(bars)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(bars) {
			idx = len(bars) - 1
		}
		result = append(result, bars[idx])
	}
	return result
}

func writeBarsCSV(path string, bars []ohlcv.Bar) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"Date"}
	for _, c := range ohlcv.Columns {
		header = append(header, string(c))
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, b := range bars {
		record := []string{ohlcv.FormatDate(b.Date)}
		for _, c := range ohlcv.Columns {
			record = append(record, formatCell(c, b.Get(c)))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatCell(c ohlcv.Column, v null.Float) string {
	if !v.Valid {
		return ""
	}
	if c == ohlcv.Volume {
		return strconv.FormatInt(int64(v.Float64), 10)
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

func writeBarsPNG(path, ticker string, bars []ohlcv.Bar) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		closeX, volX []time.Time
		closes, vols []float64
	)
	for _, b := range bars {
		if v := b.Get(ohlcv.Close); v.Valid {
			closeX = append(closeX, b.Date)
			closes = append(closes, v.Float64)
		}
		if v := b.Get(ohlcv.Volume); v.Valid {
			volX = append(volX, b.Date)
			vols = append(vols, v.Float64)
		}
	}
	if len(closes) < 2 {
		return fmt.Errorf("not enough close prices to chart %s", ticker)
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    ticker + " Close",
			XValues: closeX,
			YValues: closes,
		},
	}
	if len(vols) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "Volume",
			XValues: volX,
			YValues: vols,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Close",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Volume",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
