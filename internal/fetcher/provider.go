package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"

	"nifty-etl/internal/ohlcv"
)

// ErrNoData is returned by providers when a ticker has no rows in range.
var ErrNoData = errors.New("no data")

// Request describes one batched history download.
type Request struct {
	Tickers    []string
	Start      *time.Time
	End        *time.Time
	Period     string
	Interval   string
	Threads    bool
	AutoAdjust bool
}

// Series is one ticker's raw sub-result: a timestamp index and equally long
// column vectors.
type Series struct {
	Timestamps []time.Time
	Columns    map[ohlcv.Column][]null.Float
}

// BatchResult maps tickers to their sub-results. Tickers the provider had no
// data for are absent.
type BatchResult map[string]Series

// Provider downloads daily history for a batch of tickers.
type Provider interface {
	Name() string
	FetchBatch(ctx context.Context, req Request) (BatchResult, error)
}

// Outcome classifies what happened to one ticker during a fetch.
type Outcome string

const (
	OutcomeFetched     Outcome = "fetched"
	OutcomeEmpty       Outcome = "empty"
	OutcomeBatchFailed Outcome = "batch_failed"
	OutcomeMalformed   Outcome = "malformed"
)

// Result is the per-ticker fetch result. Table is always non-nil and carries
// the six canonical columns.
type Result struct {
	Outcome Outcome
	Table   *ohlcv.Table
}

// table converts s into a normalized table, or reports why it cannot.
func (s Series) table() (*ohlcv.Table, error) {
	n := len(s.Timestamps)
	if n == 0 {
		return nil, ErrNoData
	}
	cols := make([]ohlcv.Column, 0, len(s.Columns))
	for col, values := range s.Columns {
		if len(values) != n {
			return nil, fmt.Errorf("column %s has %d values for %d dates", col, len(values), n)
		}
		cols = append(cols, col)
	}
	bars := make([]ohlcv.Bar, n)
	for i, ts := range s.Timestamps {
		if ts.IsZero() {
			return nil, errors.New("undated row")
		}
		bars[i].Date = ts
		for _, col := range cols {
			bars[i].Set(col, s.Columns[col][i])
		}
	}
	return ohlcv.NewTable(bars, cols...).Normalize(), nil
}
