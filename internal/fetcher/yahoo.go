package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guregu/null/v6"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nifty-etl/internal/ohlcv"
)

const (
	yahooChartPath  = "/v8/finance/chart/"
	defaultYahooURL = "https://query1.finance.yahoo.com"
	maxParallel     = 8
)

// YahooOptions parameterise the Yahoo chart provider.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Yahoo downloads daily bars from the Yahoo Finance chart API, one request
// per ticker.
type Yahoo struct {
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	ua      string
	now     func() time.Time
}

// NewYahoo constructs a Yahoo provider.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultYahooURL
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "nifty-etl/1.0"
	}

	return &Yahoo{
		logger:  logger.With().Str("component", "yahoo_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		ua:      ua,
		now:     time.Now,
	}
}

// Name implements Provider.
func (y *Yahoo) Name() string { return "yahoo" }

// FetchBatch implements Provider. The batch fails only when no ticker could be
// requested successfully.
func (y *Yahoo) FetchBatch(ctx context.Context, req Request) (BatchResult, error) {
	if len(req.Tickers) == 0 {
		return BatchResult{}, nil
	}
	query, err := y.query(req)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		out  = make(BatchResult, len(req.Tickers))
		errs = make([]error, len(req.Tickers))
	)
	g, gctx := errgroup.WithContext(ctx)
	if req.Threads {
		g.SetLimit(maxParallel)
	} else {
		g.SetLimit(1)
	}

	for i, ticker := range req.Tickers {
		g.Go(func() error {
			series, err := y.fetchOne(gctx, ticker, query)
			switch {
			case errors.Is(err, ErrNoData):
				return nil
			case err != nil:
				errs[i] = err
				y.logger.Warn().Err(err).Str("ticker", ticker).Msg("chart request failed")
				return nil
			}
			mu.Lock()
			out[ticker] = series
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, e := range errs {
		if e == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("yahoo batch of %d tickers: %w", len(req.Tickers), errors.Join(errs...))
}

func (y *Yahoo) query(req Request) (url.Values, error) {
	q := url.Values{}
	interval := req.Interval
	if interval == "" {
		interval = "1d"
	}
	q.Set("interval", interval)
	q.Set("includeAdjustedClose", "true")
	q.Set("events", "div,splits")

	if req.Start == nil && req.End == nil {
		period := req.Period
		if period == "" {
			period = "1y"
		}
		if _, err := periodStart(period, y.now()); err != nil {
			return nil, err
		}
		q.Set("range", period)
		return q, nil
	}

	start, end, err := req.window(y.now())
	if err != nil {
		return nil, err
	}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	return q, nil
}

func (y *Yahoo) fetchOne(ctx context.Context, ticker string, query url.Values) (Series, error) {
	endpoint := y.baseURL + yahooChartPath + url.PathEscape(ticker) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Series{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", y.ua)

	resp, err := y.client.Do(req)
	if err != nil {
		return Series{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Series{}, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return Series{}, ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		return Series{}, parseChartError(resp.StatusCode, payload)
	}

	var chart chartResponse
	if err := json.Unmarshal(payload, &chart); err != nil {
		return Series{}, fmt.Errorf("decode chart for %s: %w", ticker, err)
	}
	if chart.Chart.Error != nil {
		return Series{}, ErrNoData
	}
	if len(chart.Chart.Result) == 0 {
		return Series{}, ErrNoData
	}
	return chart.Chart.Result[0].series(), nil
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol    string `json:"symbol"`
		GMTOffset int64  `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// series converts the chart payload into columns. Timestamps are shifted into
// the exchange's local day before the index is truncated.
func (r chartResult) series() Series {
	s := Series{
		Timestamps: make([]time.Time, len(r.Timestamp)),
		Columns:    map[ohlcv.Column][]null.Float{},
	}
	for i, ts := range r.Timestamp {
		s.Timestamps[i] = time.Unix(ts+r.Meta.GMTOffset, 0).UTC()
	}
	if len(r.Indicators.Quote) > 0 {
		q := r.Indicators.Quote[0]
		s.Columns[ohlcv.Open] = floats(q.Open)
		s.Columns[ohlcv.High] = floats(q.High)
		s.Columns[ohlcv.Low] = floats(q.Low)
		s.Columns[ohlcv.Close] = floats(q.Close)
		s.Columns[ohlcv.Volume] = floats(q.Volume)
	}
	if len(r.Indicators.AdjClose) > 0 {
		s.Columns[ohlcv.AdjClose] = floats(r.Indicators.AdjClose[0].AdjClose)
	}
	return s
}

func floats(in []*float64) []null.Float {
	out := make([]null.Float, len(in))
	for i, v := range in {
		out[i] = null.FloatFromPtr(v)
	}
	return out
}

func parseChartError(status int, payload []byte) error {
	var body chartResponse
	if err := json.Unmarshal(payload, &body); err == nil && body.Chart.Error != nil {
		if body.Chart.Error.Description != "" {
			return fmt.Errorf("yahoo chart error (%d): %s", status, body.Chart.Error.Description)
		}
		if body.Chart.Error.Code != "" {
			return fmt.Errorf("yahoo chart error (%d): %s", status, body.Chart.Error.Code)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("yahoo chart error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("yahoo chart error (%d)", status)
}

var _ Provider = (*Yahoo)(nil)
