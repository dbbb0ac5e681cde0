package dq

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-etl/internal/ohlcv"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(offset int, price, volume float64) ohlcv.Bar {
	p := null.FloatFrom(price)
	return ohlcv.Bar{
		Date:     day0.AddDate(0, 0, offset),
		Open:     p,
		High:     p,
		Low:      p,
		Close:    p,
		AdjClose: p,
		Volume:   null.FloatFrom(volume),
	}
}

// dailyTable builds n consecutive days with slowly rising prices.
func dailyTable(n int) *ohlcv.Table {
	bars := make([]ohlcv.Bar, n)
	for i := range bars {
		bars[i] = bar(i, 100+float64(i), 1000+float64(i))
	}
	return ohlcv.NewTable(bars, ohlcv.Columns...)
}

func TestCheckEmpty(t *testing.T) {
	for name, tbl := range map[string]*ohlcv.Table{
		"nil":   nil,
		"empty": ohlcv.Empty(),
	} {
		t.Run(name, func(t *testing.T) {
			r := Check(tbl)
			assert.Equal(t, 0, r.Rows)
			assert.False(t, r.Pass)
			assert.Equal(t, []string{ReasonNoRows}, r.Reasons)
			assert.Nil(t, r.StartDate)
			assert.Nil(t, r.ExtremeReturnCount)
			assert.Empty(t, r.ExtremeDates)
			assert.Empty(t, r.MissingCounts)
			assert.Zero(t, r.DuplicateIndexCount)
			assert.Zero(t, r.DuplicateRows)
			assert.Zero(t, r.LargeGapsCount)
			assert.Empty(t, r.LargeGapsSample)

			raw, err := json.Marshal(r)
			require.NoError(t, err)
			assert.JSONEq(t, `{
				"rows": 0, "start_date": null, "end_date": null,
				"missing_counts": {}, "missing_percent": {},
				"duplicate_index_count": 0, "index_monotonic_increasing": true,
				"non_positive_price_counts": {}, "non_positive_volume_count": 0,
				"duplicate_rows": 0, "extreme_return_count": null, "extreme_dates": [],
				"large_calendar_gaps_count": 0, "large_gaps_sample": {},
				"dq_pass": false, "dq_reasons": ["No rows returned"]
			}`, string(raw))
		})
	}
}

func TestCheckCleanTable(t *testing.T) {
	tbl := dailyTable(10)
	r := Check(tbl)

	assert.True(t, r.Pass)
	assert.Empty(t, r.Reasons)
	assert.Equal(t, 10, r.Rows)
	require.NotNil(t, r.StartDate)
	assert.Equal(t, "2024-01-01", *r.StartDate)
	assert.Equal(t, "2024-01-10", *r.EndDate)
	assert.True(t, r.IndexMonotonic)
	require.NotNil(t, r.ExtremeReturnCount)
	assert.Equal(t, 0, *r.ExtremeReturnCount)
	assert.Len(t, r.MissingCounts, 6)
	assert.Len(t, r.NonPositivePrices, 5)
}

func TestCheckDoesNotMutateInput(t *testing.T) {
	tbl := ohlcv.NewTable([]ohlcv.Bar{bar(2, 10, 1), bar(0, 11, 1), bar(1, 12, 1)}, ohlcv.Columns...)
	before := tbl.Clone()
	Check(tbl)
	assert.Equal(t, before, tbl)
}

func TestCheckDuplicateIndex(t *testing.T) {
	bars := []ohlcv.Bar{bar(0, 10, 1), bar(1, 11, 1), bar(1, 12, 1), bar(1, 13, 1), bar(2, 14, 1)}
	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))

	assert.Equal(t, 2, r.DuplicateIndexCount, "first occurrence is not counted")
	assert.True(t, r.IndexMonotonic, "equal neighbours are still monotonic")
	assert.False(t, r.Pass)
	assert.Contains(t, r.Reasons, ReasonDuplicateIndex)
}

func TestCheckNonMonotonic(t *testing.T) {
	bars := []ohlcv.Bar{bar(0, 10, 1), bar(2, 11, 1), bar(1, 12, 1)}
	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))
	assert.False(t, r.IndexMonotonic)
	assert.True(t, r.Pass, "ordering alone does not fail the check")
}

func TestCheckNonPositivePrice(t *testing.T) {
	bars := []ohlcv.Bar{bar(0, 10, 1), bar(1, 11, 1), bar(2, 12, 1)}
	bars[1].Low = null.FloatFrom(0)
	bars[2].Low = null.FloatFrom(-1)
	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))

	assert.Equal(t, 2, r.NonPositivePrice(ohlcv.Low))
	assert.Equal(t, 0, r.NonPositivePrice(ohlcv.Close))
	assert.False(t, r.Pass)
	assert.Equal(t, []string{ReasonNonPositivePrice}, r.Reasons)
}

func TestCheckNonPositiveVolumeIsWarning(t *testing.T) {
	bars := []ohlcv.Bar{bar(0, 10, 1), bar(1, 11, 0), bar(2, 12, 5)}
	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))

	assert.Equal(t, 1, r.NonPositiveVolume)
	assert.True(t, r.Pass)
	assert.Equal(t, []string{ReasonNonPositiveVolume}, r.Reasons)
}

func TestCheckReasonsOrder(t *testing.T) {
	bars := []ohlcv.Bar{bar(0, 10, 0), bar(0, -1, 1)}
	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))
	assert.Equal(t, []string{ReasonDuplicateIndex, ReasonNonPositivePrice, ReasonNonPositiveVolume}, r.Reasons)
}

func TestCheckAbsentColumnsReportZero(t *testing.T) {
	bars := []ohlcv.Bar{
		{Date: day0, Close: null.FloatFrom(-5)},
		{Date: day0.AddDate(0, 0, 1), Close: null.FloatFrom(5)},
	}
	r := Check(ohlcv.NewTable(bars, ohlcv.Close))

	require.Len(t, r.NonPositivePrices, 5)
	assert.Equal(t, 1, r.NonPositivePrice(ohlcv.Close))
	assert.Equal(t, 0, r.NonPositivePrice(ohlcv.Open))
	assert.Equal(t, 0, r.NonPositiveVolume)
	assert.Equal(t, []ColumnCount{{Column: ohlcv.Close}}, r.MissingCounts)
}

func TestCheckMissingValues(t *testing.T) {
	tbl := dailyTable(3)
	tbl.Bars[1].Volume = null.Float{}
	r := Check(tbl)

	for _, c := range r.MissingCounts {
		if c.Column == ohlcv.Volume {
			assert.Equal(t, 1, c.Count)
		} else {
			assert.Equal(t, 0, c.Count)
		}
	}
	for _, c := range r.MissingPercent {
		if c.Column == ohlcv.Volume {
			assert.Equal(t, 0.333333, c.Ratio)
		}
	}
}

func TestCheckDuplicateRows(t *testing.T) {
	bars := []ohlcv.Bar{bar(0, 10, 1), bar(1, 10, 1), bar(2, 10, 1), bar(3, 11, 1)}
	bars[2].Volume = null.Float{}
	bars = append(bars, bars[2])
	bars[4].Date = day0.AddDate(0, 0, 4)

	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))
	assert.Equal(t, 2, r.DuplicateRows, "the index is ignored and missing cells match each other")
}

func TestCheckReturnsNotEvaluated(t *testing.T) {
	t.Run("fewer than five rows", func(t *testing.T) {
		r := Check(dailyTable(4))
		assert.Nil(t, r.ExtremeReturnCount)
		assert.Empty(t, r.ExtremeDates)
	})
	t.Run("no close column", func(t *testing.T) {
		tbl := dailyTable(30)
		r := Check(ohlcv.NewTable(tbl.Bars, ohlcv.Open, ohlcv.High, ohlcv.Low, ohlcv.AdjClose, ohlcv.Volume))
		assert.Nil(t, r.ExtremeReturnCount)
		assert.Empty(t, r.ExtremeDates)
	})
}

func TestCheckConstantCloseHasNoExtremes(t *testing.T) {
	bars := make([]ohlcv.Bar, 8)
	for i := range bars {
		bars[i] = bar(i, 50, 10)
	}
	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))
	require.NotNil(t, r.ExtremeReturnCount)
	assert.Equal(t, 0, *r.ExtremeReturnCount)
	assert.Empty(t, r.ExtremeDates)
}

func TestCheckExtremeReturn(t *testing.T) {
	// one jump among 39 returns scores sqrt(38) ~ 6.2 standard deviations
	bars := make([]ohlcv.Bar, 40)
	for i := range bars {
		price := 100.0
		if i >= 20 {
			price = 150
		}
		bars[i] = bar(i, price, 10)
	}
	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))

	require.NotNil(t, r.ExtremeReturnCount)
	assert.Equal(t, 1, *r.ExtremeReturnCount)
	assert.Equal(t, []string{"2024-01-21"}, r.ExtremeDates)
	assert.True(t, r.Pass, "outliers are informational")
}

func TestCheckLargeGap(t *testing.T) {
	bars := make([]ohlcv.Bar, 0, 7)
	for i := 0; i < 3; i++ {
		bars = append(bars, bar(i, 10, 1))
	}
	for i := 0; i < 4; i++ {
		bars = append(bars, bar(12+i, 10, 1))
	}
	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))

	assert.Equal(t, 1, r.LargeGapsCount)
	assert.Equal(t, []Gap{{Date: "2024-01-13", Days: 10}}, r.LargeGapsSample)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, map[string]any{"2024-01-13": float64(10)}, decoded["large_gaps_sample"])
}

func TestCheckWeekendIsNotAGap(t *testing.T) {
	// Friday to Monday is three calendar days
	bars := []ohlcv.Bar{bar(4, 10, 1), bar(7, 10, 1)}
	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))
	assert.Zero(t, r.LargeGapsCount)
}

func TestCheckGapSampleIsCapped(t *testing.T) {
	bars := make([]ohlcv.Bar, 8)
	for i := range bars {
		bars[i] = bar(i*5, 10, 1)
	}
	r := Check(ohlcv.NewTable(bars, ohlcv.Columns...))
	assert.Equal(t, 7, r.LargeGapsCount)
	require.Len(t, r.LargeGapsSample, GapSampleSize)
	assert.Equal(t, "2024-01-06", r.LargeGapsSample[0].Date)
}

func TestCheckSingleRowHasNoGaps(t *testing.T) {
	r := Check(dailyTable(1))
	assert.Zero(t, r.LargeGapsCount)
	assert.Empty(t, r.LargeGapsSample)
	assert.True(t, r.Pass)
}

func TestReportJSONFieldOrder(t *testing.T) {
	raw, err := json.Marshal(Check(dailyTable(2)))
	require.NoError(t, err)
	s := string(raw)
	assert.Less(t, strings.Index(s, `"rows"`), strings.Index(s, `"missing_counts"`))
	assert.Less(t, strings.Index(s, `"large_gaps_sample"`), strings.Index(s, `"dq_pass"`))
	assert.Less(t, strings.Index(s, `"dq_pass"`), strings.Index(s, `"dq_reasons"`))
}
