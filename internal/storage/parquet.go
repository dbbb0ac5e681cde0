package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/guregu/null/v6"
	"github.com/parquet-go/parquet-go"

	"nifty-etl/internal/ohlcv"
)

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// parquetBar is the on-disk row: the date index as a column followed by the
// six canonical columns.
type parquetBar struct {
	Date     int32    `parquet:"Date,date"`
	Open     *float64 `parquet:"Open,optional"`
	High     *float64 `parquet:"High,optional"`
	Low      *float64 `parquet:"Low,optional"`
	Close    *float64 `parquet:"Close,optional"`
	AdjClose *float64 `parquet:"Adj Close,optional"`
	Volume   *int64   `parquet:"Volume,optional"`
}

// WriteParquet writes t to path, replacing any existing file.
func WriteParquet(path string, t *ohlcv.Table) error {
	t = t.Normalize()
	rows := make([]parquetBar, t.Len())
	for i, b := range t.Bars {
		rows[i] = parquetBar{
			Date:     int32(b.Date.Sub(epoch).Hours() / 24),
			Open:     b.Open.Ptr(),
			High:     b.High.Ptr(),
			Low:      b.Low.Ptr(),
			Close:    b.Close.Ptr(),
			AdjClose: b.AdjClose.Ptr(),
			Volume:   volumePtr(b.Volume),
		}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	return nil
}

// ReadParquet loads a file written by WriteParquet.
func ReadParquet(path string) (*ohlcv.Table, error) {
	rows, err := parquet.ReadFile[parquetBar](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	bars := make([]ohlcv.Bar, len(rows))
	for i, r := range rows {
		bars[i] = ohlcv.Bar{
			Date:     epoch.AddDate(0, 0, int(r.Date)),
			Open:     null.FloatFromPtr(r.Open),
			High:     null.FloatFromPtr(r.High),
			Low:      null.FloatFromPtr(r.Low),
			Close:    null.FloatFromPtr(r.Close),
			AdjClose: null.FloatFromPtr(r.AdjClose),
		}
		if r.Volume != nil {
			bars[i].Volume = null.FloatFrom(float64(*r.Volume))
		}
	}
	return ohlcv.NewTable(bars, ohlcv.Columns...), nil
}

func volumePtr(v null.Float) *int64 {
	if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
		return nil
	}
	n := int64(math.Round(v.Float64))
	return &n
}
