// Package fetcher downloads daily price history in batches and normalizes it
// into ohlcv tables.
package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"nifty-etl/internal/ohlcv"
)

// Defaults applied by New when the corresponding option is unset.
const (
	DefaultBatchSize = 5
	DefaultRetry     = 2
	DefaultBackoff   = time.Second
)

// Options control batching, retries and the requested window.
type Options struct {
	Start             *time.Time
	End               *time.Time
	Period            string
	BatchSize         int
	Retry             int
	Backoff           time.Duration
	RequestsPerSecond float64
	Threads           bool
}

// Observer receives fetch events, typically to update metrics.
type Observer interface {
	Attempt(provider string, ok bool)
	Outcome(outcome Outcome)
}

// Fetcher drives a Provider batch by batch.
type Fetcher struct {
	provider Provider
	opts     Options
	logger   zerolog.Logger
	limiter  *rate.Limiter
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs a Fetcher.
func New(provider Provider, opts Options, logger zerolog.Logger) *Fetcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Retry < 0 {
		opts.Retry = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Fetcher{
		provider: provider,
		opts:     opts,
		logger:   logger.With().Str("component", "fetcher").Str("provider", provider.Name()).Logger(),
		limiter:  limiter,
		sleep:    sleepContext,
	}
}

// WithObserver attaches an event observer and returns f.
func (f *Fetcher) WithObserver(o Observer) *Fetcher {
	f.observer = o
	return f
}

// Fetch downloads every ticker. It never fails: each ticker gets an outcome
// and a table, empty when nothing usable came back.
func (f *Fetcher) Fetch(ctx context.Context, tickers []string) map[string]Result {
	results := make(map[string]Result, len(tickers))
	for i := 0; i < len(tickers); i += f.opts.BatchSize {
		batch := tickers[i:min(i+f.opts.BatchSize, len(tickers))]

		if ctx.Err() != nil {
			f.markFailed(results, batch)
			continue
		}

		data, err := f.fetchBatch(ctx, batch)
		if err != nil {
			f.logger.Error().Err(err).Strs("tickers", batch).Msg("batch failed after retries")
			f.markFailed(results, batch)
			continue
		}
		for _, ticker := range batch {
			f.record(results, ticker, f.split(ticker, data))
		}
	}
	return results
}

func (f *Fetcher) fetchBatch(ctx context.Context, batch []string) (BatchResult, error) {
	req := Request{
		Tickers:  batch,
		Start:    f.opts.Start,
		End:      f.opts.End,
		Period:   f.opts.Period,
		Interval: "1d",
		Threads:  f.opts.Threads,
	}

	var lastErr error
	for attempt := 0; attempt <= f.opts.Retry; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		data, err := f.provider.FetchBatch(ctx, req)
		f.attempt(err == nil)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, errors.Join(err, ctx.Err())
		}
		if attempt == f.opts.Retry {
			break
		}
		// the n-th failed attempt (counting from 1) waits (1+n) backoffs
		n := attempt + 1
		wait := time.Duration(1+n) * f.opts.Backoff
		f.logger.Warn().Err(err).Int("attempt", n).Dur("backoff", wait).Msg("batch request failed")
		if err := f.sleep(ctx, wait); err != nil {
			return nil, errors.Join(lastErr, err)
		}
	}
	return nil, lastErr
}

func (f *Fetcher) split(ticker string, data BatchResult) Result {
	series, ok := data[ticker]
	if !ok {
		return Result{Outcome: OutcomeEmpty, Table: ohlcv.Empty()}
	}
	table, err := series.table()
	switch {
	case errors.Is(err, ErrNoData):
		return Result{Outcome: OutcomeEmpty, Table: ohlcv.Empty()}
	case err != nil:
		f.logger.Warn().Err(err).Str("ticker", ticker).Msg("malformed sub-result")
		return Result{Outcome: OutcomeMalformed, Table: ohlcv.Empty()}
	}
	return Result{Outcome: OutcomeFetched, Table: table}
}

func (f *Fetcher) markFailed(results map[string]Result, batch []string) {
	for _, ticker := range batch {
		f.record(results, ticker, Result{Outcome: OutcomeBatchFailed, Table: ohlcv.Empty()})
	}
}

func (f *Fetcher) record(results map[string]Result, ticker string, r Result) {
	results[ticker] = r
	if f.observer != nil {
		f.observer.Outcome(r.Outcome)
	}
	f.logger.Debug().Str("ticker", ticker).Str("outcome", string(r.Outcome)).Int("rows", r.Table.Len()).Msg("ticker fetched")
}

func (f *Fetcher) attempt(ok bool) {
	if f.observer != nil {
		f.observer.Attempt(f.provider.Name(), ok)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
