package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBars struct {
	got  marketdata.GetBarsRequest
	syms []string
	bars map[string][]marketdata.Bar
	err  error
}

func (f *fakeBars) GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.syms, f.got = symbols, req
	return f.bars, f.err
}

func TestAlpacaFetchBatch(t *testing.T) {
	ts := time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC)
	client := &fakeBars{bars: map[string][]marketdata.Bar{
		"AAPL": {
			{Timestamp: ts, Open: 170, High: 172, Low: 169, Close: 171.5, Volume: 5_000_000},
			{Timestamp: ts.AddDate(0, 0, 1), Open: 171, High: 174, Low: 170, Close: 173, Volume: 4_000_000},
		},
		"EMPTY": {},
	}}
	a := newAlpaca(client, "iex", noopLogger())
	a.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	res, err := a.FetchBatch(context.Background(), Request{Tickers: []string{"AAPL", "EMPTY", "MSFT"}, Period: "1mo"})
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "EMPTY", "MSFT"}, client.syms)
	assert.Equal(t, marketdata.OneDay, client.got.TimeFrame)
	assert.Equal(t, marketdata.Raw, client.got.Adjustment)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), client.got.Start)

	require.Contains(t, res, "AAPL")
	assert.NotContains(t, res, "EMPTY")

	tbl, err := res["AAPL"].table()
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, 171.5, tbl.Bars[0].AdjClose.Float64, "adj close mirrors close")
	assert.Equal(t, 5_000_000.0, tbl.Bars[0].Volume.Float64)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), tbl.Bars[0].Date)
}

func TestAlpacaError(t *testing.T) {
	a := newAlpaca(&fakeBars{err: errors.New("forbidden")}, "", noopLogger())
	_, err := a.FetchBatch(context.Background(), Request{Tickers: []string{"AAPL"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestNewAlpacaRequiresCredentials(t *testing.T) {
	_, err := NewAlpaca(AlpacaOptions{}, noopLogger())
	assert.Error(t, err)
}
