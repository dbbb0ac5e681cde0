package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-etl/internal/alerting"
	"nifty-etl/internal/fetcher"
	"nifty-etl/internal/ohlcv"
	"nifty-etl/internal/report"
	"nifty-etl/internal/storage"
)

type stubProvider struct {
	calls int
	data  fetcher.BatchResult
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) FetchBatch(_ context.Context, req fetcher.Request) (fetcher.BatchResult, error) {
	p.calls++
	out := fetcher.BatchResult{}
	for _, ticker := range req.Tickers {
		if s, ok := p.data[ticker]; ok {
			out[ticker] = s
		}
	}
	return out, nil
}

func series(days int) fetcher.Series {
	base := time.Date(2024, 2, 5, 3, 45, 0, 0, time.UTC)
	s := fetcher.Series{Columns: map[ohlcv.Column][]null.Float{}}
	for i := 0; i < days; i++ {
		s.Timestamps = append(s.Timestamps, base.AddDate(0, 0, i))
		price := null.FloatFrom(2900 + float64(i))
		for _, c := range []ohlcv.Column{ohlcv.Open, ohlcv.High, ohlcv.Low, ohlcv.Close, ohlcv.AdjClose} {
			s.Columns[c] = append(s.Columns[c], price)
		}
		s.Columns[ohlcv.Volume] = append(s.Columns[ohlcv.Volume], null.FloatFrom(125000))
	}
	return s
}

type recordingMirror struct {
	bars []string
	runs []storage.DQRun
}

func (m *recordingMirror) UpsertBars(_ context.Context, _ string, ticker string, t *ohlcv.Table) (int, error) {
	m.bars = append(m.bars, ticker)
	return t.Len(), nil
}

func (m *recordingMirror) CountBars(context.Context, string) (int64, error) { return 0, nil }

func (m *recordingMirror) InsertDQRun(_ context.Context, run storage.DQRun) (storage.DQRun, error) {
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *recordingMirror) ListRecentRuns(context.Context, int) ([]storage.DQRun, error) {
	return m.runs, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

type stubLocker struct {
	acquired bool
	released int
}

func (l *stubLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

func newTestPipeline(t *testing.T, provider fetcher.Provider, opts Options, deps Deps) *Pipeline {
	t.Helper()
	logger := zerolog.Nop()
	deps.Fetcher = fetcher.New(provider, fetcher.Options{Period: "1mo", Retry: 0}, logger)
	if deps.Metrics != nil {
		deps.Fetcher.WithObserver(deps.Metrics)
	}
	deps.Renderer = report.NewRenderer(report.Options{Charts: true}, logger)
	if opts.OutBase == "" {
		opts.OutBase = filepath.Join(t.TempDir(), "out")
	}
	p := New(opts, deps, logger)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	p.newID = func() string { return "run-test" }
	return p
}

func TestRunEndToEnd(t *testing.T) {
	provider := &stubProvider{data: fetcher.BatchResult{"RELIANCE.NS": series(6)}}
	mirror := &recordingMirror{}
	notifier := &recordingNotifier{}
	metrics := NewMetrics()

	p := newTestPipeline(t, provider, Options{
		Tickers:  []string{"RELIANCE.NS", "TCS.NS"},
		Workbook: true,
	}, Deps{
		Bars:    mirror,
		Runs:    mirror,
		Alerts:  alerting.NewGate(notifier, 1, 0),
		Metrics: metrics,
	})

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-test", res.RunID)
	assert.True(t, filepath.IsAbs(res.DuckDBPath))
	assert.Equal(t, map[string]string{
		"RELIANCE.NS": "nifty_RELIANCE_NS",
		"TCS.NS":      "nifty_TCS_NS",
	}, res.TableMap)
	assert.Equal(t, map[string]fetcher.Outcome{
		"RELIANCE.NS": fetcher.OutcomeFetched,
		"TCS.NS":      fetcher.OutcomeEmpty,
	}, res.FetchOutcomes)
	assert.Equal(t, TickerSummary{Rows: 6, Pass: true}, res.DQResultsSummary["RELIANCE.NS"])
	assert.Equal(t, TickerSummary{Rows: 0, Pass: false}, res.DQResultsSummary["TCS.NS"])

	assert.Equal(t, "nifty_report_20240301T093000Z.html", filepath.Base(res.HTMLReport))
	assert.FileExists(t, res.HTMLReport)
	assert.FileExists(t, res.Workbook)
	assert.FileExists(t, filepath.Join(res.ParquetDir, "RELIANCE_NS.parquet"))

	duck, err := storage.OpenDuckDB(context.Background(), res.DuckDBPath)
	require.NoError(t, err)
	defer duck.Close()
	n, err := duck.CountRows(context.Background(), "nifty_RELIANCE_NS")
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	assert.Equal(t, []string{"RELIANCE.NS"}, mirror.bars)
	require.Len(t, mirror.runs, 2)
	assert.Equal(t, "RELIANCE.NS", mirror.runs[0].Ticker)
	assert.Equal(t, "empty", mirror.runs[1].Outcome)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(mirror.runs[1].Report, &payload))
	assert.Equal(t, []any{"No rows returned"}, payload["dq_reasons"])

	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Equal(t, 2, note.Total)
	require.Len(t, note.Failures, 1)
	assert.Equal(t, "TCS.NS", note.Failures[0].Ticker)
	assert.Equal(t, res.HTMLReport, note.ReportPath)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dqVerdicts.WithLabelValues("pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dqVerdicts.WithLabelValues("fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.fetchAttempts.WithLabelValues("stub", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.tickerOutcome.WithLabelValues("empty")))
}

func TestRunWithoutOptionalDeps(t *testing.T) {
	provider := &stubProvider{data: fetcher.BatchResult{"INFY.NS": series(3)}}
	p := newTestPipeline(t, provider, Options{Tickers: []string{"INFY.NS"}}, Deps{})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Workbook)
	assert.Equal(t, TickerSummary{Rows: 3, Pass: true}, res.DQResultsSummary["INFY.NS"])
}

func TestRunFailsWhenOutputBaseIsAFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o644))

	provider := &stubProvider{}
	p := newTestPipeline(t, provider, Options{Tickers: []string{"INFY.NS"}, OutBase: base}, Deps{})

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, provider.calls)
}

func TestRunKeepsExistingParquetWithoutOverwrite(t *testing.T) {
	base := filepath.Join(t.TempDir(), "out")
	provider := &stubProvider{data: fetcher.BatchResult{"TCS.NS": series(4)}}
	p := newTestPipeline(t, provider, Options{Tickers: []string{"TCS.NS"}, OutBase: base}, Deps{})

	first, err := p.Run(context.Background())
	require.NoError(t, err)

	provider.data["TCS.NS"] = series(9)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	kept, err := storage.ReadParquet(filepath.Join(first.ParquetDir, "TCS_NS.parquet"))
	require.NoError(t, err)
	assert.Equal(t, 4, kept.Len())
}

func TestProcessBucketSkipsWhenLockHeld(t *testing.T) {
	provider := &stubProvider{}
	locker := &stubLocker{}
	p := newTestPipeline(t, provider, Options{Tickers: []string{"TCS.NS"}, LockKey: 42}, Deps{Locker: locker})

	require.NoError(t, p.ProcessBucket(context.Background(), time.Now()))
	assert.Zero(t, provider.calls)

	locker.acquired = true
	require.NoError(t, p.ProcessBucket(context.Background(), time.Now()))
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 1, locker.released)
}

func TestResultJSONFieldNames(t *testing.T) {
	raw, err := json.Marshal(Result{RunID: "r", TableMap: map[string]string{}})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"run_id", "parquet_dir", "duckdb_path", "html_report", "table_map", "dq_results_summary", "fetch_outcomes"} {
		assert.Contains(t, decoded, key)
	}
	assert.NotContains(t, decoded, "workbook")
}
