// Package service runs the fetch, check, persist and report pipeline.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nifty-etl/internal/alerting"
	"nifty-etl/internal/dq"
	"nifty-etl/internal/fetcher"
	"nifty-etl/internal/ohlcv"
	"nifty-etl/internal/report"
	"nifty-etl/internal/scheduler"
	"nifty-etl/internal/storage"
)

const reportStampLayout = "20060102T150405Z"

// Options describe what one run fetches and where it writes.
type Options struct {
	Tickers   []string
	OutBase   string
	Prefix    string
	Overwrite bool
	Workbook  bool
	LockKey   int64
}

// Deps are the collaborators of a Pipeline. Fetcher and Renderer are
// required; the rest are optional.
type Deps struct {
	Fetcher  *fetcher.Fetcher
	Renderer *report.Renderer
	Bars     storage.BarStore
	Runs     storage.DQRunStore
	Locker   storage.AdvisoryLocker
	Alerts   *alerting.Gate
	Metrics  *Metrics
}

// TickerSummary is the per-ticker entry of Result.DQResultsSummary.
type TickerSummary struct {
	Rows int  `json:"rows"`
	Pass bool `json:"dq_pass"`
}

// Result summarises one run.
type Result struct {
	RunID            string                     `json:"run_id"`
	ParquetDir       string                     `json:"parquet_dir"`
	DuckDBPath       string                     `json:"duckdb_path"`
	HTMLReport       string                     `json:"html_report"`
	Workbook         string                     `json:"workbook,omitempty"`
	TableMap         map[string]string          `json:"table_map"`
	DQResultsSummary map[string]TickerSummary   `json:"dq_results_summary"`
	FetchOutcomes    map[string]fetcher.Outcome `json:"fetch_outcomes"`
}

// Pipeline orchestrates fetching, checking, persistence and reporting.
type Pipeline struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// New constructs a pipeline.
func New(opts Options, deps Deps, logger zerolog.Logger) *Pipeline {
	if opts.Prefix == "" {
		opts.Prefix = storage.DefaultPrefix
	}
	return &Pipeline{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "pipeline").Logger(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Schedule runs the pipeline on every scheduler tick until ctx is cancelled.
func (p *Pipeline) Schedule(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, p.ProcessBucket)
}

// ProcessBucket runs the pipeline once for a scheduled bucket, skipping it
// when another instance holds the advisory lock.
func (p *Pipeline) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := p.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		p.logger.Info().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = p.Run(ctx)
	return err
}

// Run executes one full pipeline pass. Only output directory creation,
// opening DuckDB and writing the HTML report are fatal; everything else is
// logged and reflected in the result.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	started := p.now()
	runID := p.newID()
	log := p.logger.With().Str("run_id", runID).Logger()

	paths, err := storage.EnsureDirs(p.opts.OutBase)
	if err != nil {
		return nil, err
	}

	log.Info().Strs("tickers", p.opts.Tickers).Msg("fetching history")
	fetched := p.deps.Fetcher.Fetch(ctx, p.opts.Tickers)

	tables := make(map[string]*ohlcv.Table, len(fetched))
	reports := make(map[string]dq.Report, len(fetched))
	result := &Result{
		RunID:            runID,
		ParquetDir:       paths.ParquetDir,
		DuckDBPath:       paths.DBPath,
		DQResultsSummary: make(map[string]TickerSummary, len(fetched)),
		FetchOutcomes:    make(map[string]fetcher.Outcome, len(fetched)),
	}
	for ticker, res := range fetched {
		rep := dq.Check(res.Table)
		tables[ticker] = res.Table
		reports[ticker] = rep
		result.FetchOutcomes[ticker] = res.Outcome
		result.DQResultsSummary[ticker] = TickerSummary{Rows: rep.Rows, Pass: rep.Pass}
		p.deps.Metrics.verdict(rep.Pass)
	}

	duck, err := storage.OpenDuckDB(ctx, paths.DBPath)
	if err != nil {
		return nil, err
	}
	defer duck.Close()

	writer := storage.NewWriter(duck, paths, p.opts.Prefix, p.logger)
	result.TableMap = writer.Persist(ctx, tables, p.opts.Overwrite)

	p.mirror(ctx, runID, fetched, reports)

	name := fmt.Sprintf("%s_report_%s.html", p.opts.Prefix, started.UTC().Format(reportStampLayout))
	result.HTMLReport = filepath.Join(paths.HTMLDir, name)
	if err := p.deps.Renderer.Render(reports, tables, result.HTMLReport); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	if p.opts.Workbook {
		path := strings.TrimSuffix(result.HTMLReport, ".html") + ".xlsx"
		if err := report.WriteWorkbook(reports, path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to write workbook")
		} else {
			result.Workbook = path
		}
	}

	p.alert(ctx, runID, started, fetched, reports, result.HTMLReport)

	p.deps.Metrics.finished(started, p.now())
	log.Info().
		Int("tickers", len(fetched)).
		Int("failed_dq", countFailed(reports)).
		Str("report", result.HTMLReport).
		Dur("elapsed", p.now().Sub(started)).
		Msg("run complete")
	return result, nil
}

func (p *Pipeline) mirror(ctx context.Context, runID string, fetched map[string]fetcher.Result, reports map[string]dq.Report) {
	if p.deps.Bars == nil && p.deps.Runs == nil {
		return
	}
	for _, ticker := range sortedTickers(reports) {
		res := fetched[ticker]
		rep := reports[ticker]
		log := p.logger.With().Str("run_id", runID).Str("ticker", ticker).Logger()

		if p.deps.Bars != nil && !res.Table.IsEmpty() {
			if _, err := p.deps.Bars.UpsertBars(ctx, runID, ticker, res.Table); err != nil {
				log.Error().Err(err).Msg("failed to mirror bars")
			}
		}
		if p.deps.Runs == nil {
			continue
		}
		payload, err := json.Marshal(rep)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode dq report")
			continue
		}
		run := storage.DQRun{
			RunID:   runID,
			Ticker:  ticker,
			Outcome: string(res.Outcome),
			Rows:    rep.Rows,
			Pass:    rep.Pass,
			Reasons: rep.Reasons,
			Report:  payload,
		}
		if _, err := p.deps.Runs.InsertDQRun(ctx, run); err != nil {
			log.Error().Err(err).Msg("failed to record dq run")
		}
	}
}

func (p *Pipeline) alert(ctx context.Context, runID string, at time.Time, fetched map[string]fetcher.Result, reports map[string]dq.Report, reportPath string) {
	if p.deps.Alerts == nil {
		return
	}
	note := alerting.Notification{
		RunID:       runID,
		GeneratedAt: at,
		Total:       len(reports),
		ReportPath:  reportPath,
	}
	for _, ticker := range sortedTickers(reports) {
		rep := reports[ticker]
		if rep.Pass {
			continue
		}
		note.Failures = append(note.Failures, alerting.Failure{
			Ticker:  ticker,
			Outcome: string(fetched[ticker].Outcome),
			Rows:    rep.Rows,
			Reasons: rep.Reasons,
		})
	}
	if _, err := p.deps.Alerts.Notify(ctx, note); err != nil {
		p.logger.Error().Err(err).Str("run_id", runID).Msg("failed to dispatch dq alert")
	}
}

func (p *Pipeline) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.opts.LockKey == 0 || p.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.deps.Locker.TryAdvisoryLock(ctx, p.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func sortedTickers(reports map[string]dq.Report) []string {
	out := make([]string, 0, len(reports))
	for ticker := range reports {
		out = append(out, ticker)
	}
	sort.Strings(out)
	return out
}

func countFailed(reports map[string]dq.Report) int {
	n := 0
	for _, rep := range reports {
		if !rep.Pass {
			n++
		}
	}
	return n
}
