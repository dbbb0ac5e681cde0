package dq

import (
	"nifty-etl/internal/jsonsafe"
	"nifty-etl/internal/ohlcv"
)

// Reasons appended to Report.Reasons, in evaluation order.
const (
	ReasonNoRows            = "No rows returned"
	ReasonDuplicateIndex    = "Duplicate date index entries"
	ReasonNonPositivePrice  = "Non-positive price values present"
	ReasonNonPositiveVolume = "Non-positive volume days present"
)

// ColumnCount is a per-column integer metric.
type ColumnCount struct {
	Column ohlcv.Column
	Count  int
}

// ColumnRatio is a per-column fractional metric.
type ColumnRatio struct {
	Column ohlcv.Column
	Ratio  float64
}

// Gap is a jump in the index larger than MaxGapDays, keyed by the date that ends it.
type Gap struct {
	Date string
	Days int
}

// Report is the data-quality diagnosis of one ticker's table. It is built once
// by Check and never modified afterwards.
type Report struct {
	Rows                int
	StartDate           *string
	EndDate             *string
	MissingCounts       []ColumnCount
	MissingPercent      []ColumnRatio
	DuplicateIndexCount int
	IndexMonotonic      bool
	NonPositivePrices   []ColumnCount
	NonPositiveVolume   int
	DuplicateRows       int
	ExtremeReturnCount  *int // nil when returns were not evaluated
	ExtremeDates        []string
	LargeGapsCount      int
	LargeGapsSample     []Gap
	Pass                bool
	Reasons             []string
}

// NonPositivePriceTotal sums the non-positive counts over all price columns.
func (r Report) NonPositivePriceTotal() int {
	total := 0
	for _, c := range r.NonPositivePrices {
		total += c.Count
	}
	return total
}

// NonPositivePrice returns the non-positive count for one price column.
func (r Report) NonPositivePrice(col ohlcv.Column) int {
	for _, c := range r.NonPositivePrices {
		if c.Column == col {
			return c.Count
		}
	}
	return 0
}

// JSONSafe implements jsonsafe.Valuer.
func (r Report) JSONSafe() jsonsafe.Value {
	return r.Value()
}

// Value renders the report with its wire field names, in a fixed order.
func (r Report) Value() jsonsafe.Value {
	obj := jsonsafe.NewObject()
	obj.Set("rows", jsonsafe.Int(int64(r.Rows)))
	obj.Set("start_date", jsonsafe.Sanitize(r.StartDate))
	obj.Set("end_date", jsonsafe.Sanitize(r.EndDate))
	obj.Set("missing_counts", countsObject(r.MissingCounts))

	pct := jsonsafe.NewObject()
	for _, c := range r.MissingPercent {
		pct.Set(string(c.Column), jsonsafe.Float(c.Ratio))
	}
	obj.Set("missing_percent", jsonsafe.ObjectValue(pct))

	obj.Set("duplicate_index_count", jsonsafe.Int(int64(r.DuplicateIndexCount)))
	obj.Set("index_monotonic_increasing", jsonsafe.Bool(r.IndexMonotonic))
	obj.Set("non_positive_price_counts", countsObject(r.NonPositivePrices))
	obj.Set("non_positive_volume_count", jsonsafe.Int(int64(r.NonPositiveVolume)))
	obj.Set("duplicate_rows", jsonsafe.Int(int64(r.DuplicateRows)))
	obj.Set("extreme_return_count", jsonsafe.Sanitize(r.ExtremeReturnCount))
	obj.Set("extreme_dates", jsonsafe.Sanitize(nonNil(r.ExtremeDates)))
	obj.Set("large_calendar_gaps_count", jsonsafe.Int(int64(r.LargeGapsCount)))

	gaps := jsonsafe.NewObject()
	for _, g := range r.LargeGapsSample {
		gaps.Set(g.Date, jsonsafe.Int(int64(g.Days)))
	}
	obj.Set("large_gaps_sample", jsonsafe.ObjectValue(gaps))

	obj.Set("dq_pass", jsonsafe.Bool(r.Pass))
	obj.Set("dq_reasons", jsonsafe.Sanitize(nonNil(r.Reasons)))
	return jsonsafe.ObjectValue(obj)
}

// MarshalJSON implements json.Marshaler.
func (r Report) MarshalJSON() ([]byte, error) {
	return r.Value().MarshalJSON()
}

func countsObject(counts []ColumnCount) jsonsafe.Value {
	obj := jsonsafe.NewObject()
	for _, c := range counts {
		obj.Set(string(c.Column), jsonsafe.Int(int64(c.Count)))
	}
	return jsonsafe.ObjectValue(obj)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
