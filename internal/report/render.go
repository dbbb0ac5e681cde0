// Package report renders run results as a static HTML page and an optional
// XLSX summary.
package report

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	chart "github.com/wcharczuk/go-chart/v2"

	"nifty-etl/internal/dq"
	"nifty-etl/internal/ohlcv"
)

const (
	// DefaultTitle heads the page when no title is configured.
	DefaultTitle = "Nifty ETL Report"
	// SampleRows is the number of leading rows previewed per ticker.
	SampleRows = 10

	chartWidth  = 640
	chartHeight = 280
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))

// Renderer writes the HTML report.
type Renderer struct {
	title  string
	charts bool
	logger zerolog.Logger
	now    func() time.Time
}

// Options tune the renderer.
type Options struct {
	Title  string
	Charts bool
}

// NewRenderer constructs a renderer.
func NewRenderer(opts Options, logger zerolog.Logger) *Renderer {
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	return &Renderer{
		title:  title,
		charts: opts.Charts,
		logger: logger.With().Str("component", "report").Logger(),
		now:    time.Now,
	}
}

type page struct {
	Title       string
	GeneratedAt string
	Columns     []ohlcv.Column
	Tickers     []tickerView
}

type tickerView struct {
	Ticker     string
	Rows       int
	Start      string
	End        string
	Pass       bool
	Notes      string
	ReportJSON string
	Sample     []rowView
	Chart      template.URL
}

type rowView struct {
	Date  string
	Cells []string
}

// Render writes one self-contained HTML document for reports to outputPath.
// Tickers are listed by name; tables supply the row preview and chart.
func (r *Renderer) Render(reports map[string]dq.Report, tables map[string]*ohlcv.Table, outputPath string) error {
	tickers := make([]string, 0, len(reports))
	for ticker := range reports {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	p := page{
		Title:       r.title,
		GeneratedAt: r.now().UTC().Format(time.RFC3339),
		Columns:     ohlcv.Columns,
		Tickers:     make([]tickerView, 0, len(tickers)),
	}
	for _, ticker := range tickers {
		view, err := r.view(ticker, reports[ticker], tables[ticker])
		if err != nil {
			return err
		}
		p.Tickers = append(p.Tickers, view)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", outputPath, err)
	}
	r.logger.Info().Str("path", outputPath).Int("tickers", len(tickers)).Msg("report written")
	return nil
}

func (r *Renderer) view(ticker string, rep dq.Report, t *ohlcv.Table) (tickerView, error) {
	raw, err := rep.Value().Indent("  ")
	if err != nil {
		return tickerView{}, fmt.Errorf("encode dq report for %s: %w", ticker, err)
	}
	v := tickerView{
		Ticker:     ticker,
		Rows:       rep.Rows,
		Pass:       rep.Pass,
		Notes:      strings.Join(rep.Reasons, ", "),
		ReportJSON: raw,
		Sample:     sampleRows(t),
	}
	if rep.StartDate != nil {
		v.Start = *rep.StartDate
	}
	if rep.EndDate != nil {
		v.End = *rep.EndDate
	}
	if r.charts {
		uri, err := closeChart(ticker, t)
		if err != nil {
			r.logger.Warn().Err(err).Str("ticker", ticker).Msg("close chart skipped")
		}
		v.Chart = uri
	}
	return v, nil
}

func sampleRows(t *ohlcv.Table) []rowView {
	if t.IsEmpty() {
		return nil
	}
	head := t.Head(SampleRows)
	rows := make([]rowView, 0, head.Len())
	for _, b := range head.Bars {
		row := rowView{Date: ohlcv.FormatDate(b.Date), Cells: make([]string, len(ohlcv.Columns))}
		for i, col := range ohlcv.Columns {
			if !head.Has(col) {
				continue
			}
			if v := b.Get(col); v.Valid {
				row.Cells[i] = strconv.FormatFloat(v.Float64, 'f', -1, 64)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// closeChart renders the valid closes of t as a PNG data URI. Tables with
// fewer than two closes have no chart.
func closeChart(ticker string, t *ohlcv.Table) (template.URL, error) {
	if t == nil || !t.Has(ohlcv.Close) {
		return "", nil
	}
	var (
		xs []time.Time
		ys []float64
	)
	for _, b := range t.Bars {
		if b.Close.Valid {
			xs = append(xs, b.Date)
			ys = append(ys, b.Close.Float64)
		}
	}
	if len(xs) < 2 {
		return "", nil
	}

	graph := chart.Chart{
		Width:  chartWidth,
		Height: chartHeight,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Close",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    ticker,
				XValues: xs,
				YValues: ys,
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return "", fmt.Errorf("render chart: %w", err)
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}
