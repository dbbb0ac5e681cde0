package ohlcv

import (
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, _ := time.Parse(DateLayout, s)
	return t
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "RELIANCE_NS", SafeTicker("RELIANCE.NS"))
	assert.Equal(t, "nifty_RELIANCE_NS", TableName("nifty", "RELIANCE.NS"))
	assert.Equal(t, "nifty_BAJAJ_AUTO_NS", TableName("nifty", "bajaj-auto.ns"))
}

func TestNormalizeSortsAndReindexes(t *testing.T) {
	tbl := NewTable([]Bar{
		{Date: time.Date(2024, 1, 3, 15, 30, 0, 0, time.UTC), Close: null.FloatFrom(11)},
		{Date: time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC), Close: null.FloatFrom(10), Open: null.FloatFrom(99)},
	}, Close)

	out := tbl.Normalize()

	require.Equal(t, 2, out.Len())
	assert.Equal(t, Columns, out.Columns())
	assert.Equal(t, day("2024-01-02"), out.Bars[0].Date)
	assert.Equal(t, day("2024-01-03"), out.Bars[1].Date)
	assert.False(t, out.Bars[0].Open.Valid, "absent column must be reindexed as missing")
	assert.Equal(t, 10.0, out.Bars[0].Close.Float64)

	// the input stays untouched
	assert.Equal(t, 15, tbl.Bars[0].Date.Hour())
	assert.Equal(t, []Column{Close}, tbl.Columns())
}

func TestSeriesOfAbsentColumn(t *testing.T) {
	tbl := NewTable([]Bar{{Date: day("2024-01-02"), Volume: null.FloatFrom(5)}}, Close)
	s := tbl.Series(Volume)
	require.Len(t, s, 1)
	assert.False(t, s[0].Valid)
}

func TestNilTable(t *testing.T) {
	var tbl *Table
	assert.True(t, tbl.IsEmpty())
	assert.Equal(t, 0, tbl.Len())
	assert.False(t, tbl.Has(Close))
	assert.Equal(t, Columns, tbl.Normalize().Columns())
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2024-01-03", " 2024-01-03T10:00:00Z", "2024/01/03", "2024-01-03 09:15:00"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, day("2024-01-03"), got, in)
	}

	_, err := ParseDate("yesterday")
	assert.ErrorContains(t, err, "unrecognised format")
}
