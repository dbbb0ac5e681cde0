package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/guregu/null/v6"
	"github.com/rs/zerolog"

	"nifty-etl/internal/ohlcv"
)

// AlpacaOptions parameterise the Alpaca market-data provider.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
}

type barsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// Alpaca downloads daily bars through the Alpaca market-data API. Alpaca bars
// are unadjusted, so Adj Close mirrors Close.
type Alpaca struct {
	logger zerolog.Logger
	client barsClient
	feed   marketdata.Feed
	now    func() time.Time
}

// NewAlpaca constructs an Alpaca provider.
func NewAlpaca(opts AlpacaOptions, logger zerolog.Logger) (*Alpaca, error) {
	if opts.APIKey == "" || opts.APISecret == "" {
		return nil, errors.New("alpaca api key and secret required")
	}
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
		BaseURL:   opts.BaseURL,
	})
	return newAlpaca(client, opts.Feed, logger), nil
}

func newAlpaca(client barsClient, feed string, logger zerolog.Logger) *Alpaca {
	return &Alpaca{
		logger: logger.With().Str("component", "alpaca_provider").Logger(),
		client: client,
		feed:   marketdata.Feed(feed),
		now:    time.Now,
	}
}

// Name implements Provider.
func (a *Alpaca) Name() string { return "alpaca" }

// FetchBatch implements Provider.
func (a *Alpaca) FetchBatch(ctx context.Context, req Request) (BatchResult, error) {
	if len(req.Tickers) == 0 {
		return BatchResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, end, err := req.window(a.now())
	if err != nil {
		return nil, err
	}

	bars, err := a.client.GetMultiBars(req.Tickers, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      start,
		End:        end,
		Adjustment: marketdata.Raw,
		Feed:       a.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca multi bars: %w", err)
	}

	out := make(BatchResult, len(bars))
	for ticker, list := range bars {
		if len(list) == 0 {
			continue
		}
		out[ticker] = alpacaSeries(list)
	}
	a.logger.Debug().Int("requested", len(req.Tickers)).Int("returned", len(out)).Msg("alpaca batch fetched")
	return out, nil
}

func alpacaSeries(bars []marketdata.Bar) Series {
	s := Series{
		Timestamps: make([]time.Time, len(bars)),
		Columns: map[ohlcv.Column][]null.Float{
			ohlcv.Open:     make([]null.Float, len(bars)),
			ohlcv.High:     make([]null.Float, len(bars)),
			ohlcv.Low:      make([]null.Float, len(bars)),
			ohlcv.Close:    make([]null.Float, len(bars)),
			ohlcv.AdjClose: make([]null.Float, len(bars)),
			ohlcv.Volume:   make([]null.Float, len(bars)),
		},
	}
	for i, b := range bars {
		s.Timestamps[i] = b.Timestamp
		s.Columns[ohlcv.Open][i] = null.FloatFrom(b.Open)
		s.Columns[ohlcv.High][i] = null.FloatFrom(b.High)
		s.Columns[ohlcv.Low][i] = null.FloatFrom(b.Low)
		s.Columns[ohlcv.Close][i] = null.FloatFrom(b.Close)
		s.Columns[ohlcv.AdjClose][i] = null.FloatFrom(b.Close)
		s.Columns[ohlcv.Volume][i] = null.FloatFrom(float64(b.Volume))
	}
	return s
}

var _ Provider = (*Alpaca)(nil)
