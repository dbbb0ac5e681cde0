// Package dq runs the fixed battery of data-quality checks over one ticker's
// daily price table.
package dq

import (
	"math"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"nifty-etl/internal/ohlcv"
)

const (
	// MinReturnRows is the row count below which returns are not evaluated.
	MinReturnRows = 5
	// ExtremeZScore is the |z| above which a daily return is extreme.
	ExtremeZScore = 5.0
	// MaxGapDays is the largest calendar gap between rows that is not reported.
	MaxGapDays = 3
	// GapSampleSize caps Report.LargeGapsSample.
	GapSampleSize = 5

	percentPlaces = 6
)

// Check diagnoses t. It does not modify t and has no side effects.
func Check(t *ohlcv.Table) Report {
	if t.IsEmpty() {
		return emptyReport()
	}

	rows := t.Len()
	dates := t.Dates()

	r := Report{Rows: rows}
	start, end := dateRange(dates)
	r.StartDate, r.EndDate = &start, &end

	for _, col := range t.Columns() {
		missing := countMissing(t.Series(col))
		r.MissingCounts = append(r.MissingCounts, ColumnCount{Column: col, Count: missing})
		r.MissingPercent = append(r.MissingPercent, ColumnRatio{Column: col, Ratio: roundRatio(missing, rows)})
	}

	r.DuplicateIndexCount = duplicateDates(dates)
	r.IndexMonotonic = monotonic(dates)

	for _, col := range ohlcv.PriceColumns {
		n := 0
		if t.Has(col) {
			n = countNonPositive(t.Series(col))
		}
		r.NonPositivePrices = append(r.NonPositivePrices, ColumnCount{Column: col, Count: n})
	}
	if t.Has(ohlcv.Volume) {
		r.NonPositiveVolume = countNonPositive(t.Series(ohlcv.Volume))
	}

	r.DuplicateRows = duplicateRows(t)

	r.ExtremeDates = []string{}
	if t.Has(ohlcv.Close) && rows >= MinReturnRows {
		extreme := extremeReturns(dates, t.Series(ohlcv.Close))
		n := len(extreme)
		r.ExtremeReturnCount = &n
		r.ExtremeDates = extreme
	}

	r.LargeGapsSample = []Gap{}
	if rows >= 2 {
		r.LargeGapsCount, r.LargeGapsSample = largeGaps(dates)
	}

	r.Pass, r.Reasons = verdict(r)
	return r
}

func emptyReport() Report {
	return Report{
		MissingCounts:     []ColumnCount{},
		MissingPercent:    []ColumnRatio{},
		IndexMonotonic:    true,
		NonPositivePrices: []ColumnCount{},
		ExtremeDates:      []string{},
		LargeGapsSample:   []Gap{},
		Pass:              false,
		Reasons:           []string{ReasonNoRows},
	}
}

func verdict(r Report) (bool, []string) {
	pass := true
	reasons := []string{}
	if r.Rows == 0 {
		pass = false
		reasons = append(reasons, ReasonNoRows)
	}
	if r.DuplicateIndexCount > 0 {
		pass = false
		reasons = append(reasons, ReasonDuplicateIndex)
	}
	if r.NonPositivePriceTotal() > 0 {
		pass = false
		reasons = append(reasons, ReasonNonPositivePrice)
	}
	// zero-volume days are flagged but do not fail the check
	if r.NonPositiveVolume > 0 {
		reasons = append(reasons, ReasonNonPositiveVolume)
	}
	return pass, reasons
}

func dateRange(dates []time.Time) (string, string) {
	lo, hi := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(lo) {
			lo = d
		}
		if d.After(hi) {
			hi = d
		}
	}
	return ohlcv.FormatDate(lo), ohlcv.FormatDate(hi)
}

func countMissing(s []null.Float) int {
	n := 0
	for _, v := range s {
		if !v.Valid || math.IsNaN(v.Float64) {
			n++
		}
	}
	return n
}

func roundRatio(n, total int) float64 {
	return decimal.NewFromInt(int64(n)).
		DivRound(decimal.NewFromInt(int64(total)), percentPlaces+4).
		RoundBank(percentPlaces).
		InexactFloat64()
}

func countNonPositive(s []null.Float) int {
	n := 0
	for _, v := range s {
		if v.Valid && v.Float64 <= 0 {
			n++
		}
	}
	return n
}

func duplicateDates(dates []time.Time) int {
	seen := make(map[time.Time]struct{}, len(dates))
	dups := 0
	for _, d := range dates {
		key := d.UTC()
		if _, ok := seen[key]; ok {
			dups++
			continue
		}
		seen[key] = struct{}{}
	}
	return dups
}

func monotonic(dates []time.Time) bool {
	for i := 1; i < len(dates); i++ {
		if dates[i].Before(dates[i-1]) {
			return false
		}
	}
	return true
}

type cell struct {
	ok bool
	v  float64
}

func duplicateRows(t *ohlcv.Table) int {
	cols := t.Columns()
	seen := make(map[[6]cell]struct{}, t.Len())
	dups := 0
	for _, b := range t.Bars {
		var key [6]cell
		for i, col := range cols {
			v := b.Get(col)
			if v.Valid && !math.IsNaN(v.Float64) {
				key[i] = cell{ok: true, v: v.Float64}
			}
		}
		if _, ok := seen[key]; ok {
			dups++
			continue
		}
		seen[key] = struct{}{}
	}
	return dups
}

// extremeReturns z-scores the simple daily returns of close and returns the
// dates of those beyond ExtremeZScore. Missing closes carry the last value
// forward; returns without a defined predecessor are dropped.
func extremeReturns(dates []time.Time, closes []null.Float) []string {
	var (
		returns []float64
		when    []time.Time
		prev    = math.NaN()
	)
	for i, c := range closes {
		cur := prev
		if c.Valid && !math.IsNaN(c.Float64) {
			cur = c.Float64
		}
		if i > 0 && !math.IsNaN(prev) && !math.IsNaN(cur) {
			r := cur/prev - 1
			if !math.IsNaN(r) {
				returns = append(returns, r)
				when = append(when, dates[i])
			}
		}
		prev = cur
	}

	out := []string{}
	if len(returns) == 0 {
		return out
	}

	mean, std := stat.PopMeanStdDev(returns, nil)
	if !(std > 0) || math.IsInf(std, 0) || math.IsNaN(mean) || math.IsInf(mean, 0) {
		return out
	}
	for i, r := range returns {
		if math.Abs((r-mean)/std) > ExtremeZScore {
			out = append(out, ohlcv.FormatDate(when[i]))
		}
	}
	return out
}

func largeGaps(dates []time.Time) (int, []Gap) {
	count := 0
	sample := []Gap{}
	seen := map[string]int{}
	for i := 1; i < len(dates); i++ {
		days := int(math.Floor(dates[i].Sub(dates[i-1]).Hours() / 24))
		if days <= MaxGapDays {
			continue
		}
		count++
		if count > GapSampleSize {
			continue
		}
		key := ohlcv.FormatDate(dates[i])
		if j, ok := seen[key]; ok {
			sample[j].Days = days
			continue
		}
		seen[key] = len(sample)
		sample = append(sample, Gap{Date: key, Days: days})
	}
	return count, sample
}
