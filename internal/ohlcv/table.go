package ohlcv

import (
	"sort"
	"time"

	"github.com/guregu/null/v6"
)

// Column names a data column of a daily price table.
type Column string

// Canonical columns in their fixed order.
const (
	Open     Column = "Open"
	High     Column = "High"
	Low      Column = "Low"
	Close    Column = "Close"
	AdjClose Column = "Adj Close"
	Volume   Column = "Volume"
)

// Columns lists every canonical column in table order.
var Columns = []Column{Open, High, Low, Close, AdjClose, Volume}

// PriceColumns lists the canonical price columns.
var PriceColumns = []Column{Open, High, Low, Close, AdjClose}

// Bar is one trading day. Cells that the provider did not supply are invalid.
type Bar struct {
	Date     time.Time
	Open     null.Float
	High     null.Float
	Low      null.Float
	Close    null.Float
	AdjClose null.Float
	Volume   null.Float
}

// Get returns the cell of the given column.
func (b Bar) Get(c Column) null.Float {
	switch c {
	case Open:
		return b.Open
	case High:
		return b.High
	case Low:
		return b.Low
	case Close:
		return b.Close
	case AdjClose:
		return b.AdjClose
	case Volume:
		return b.Volume
	default:
		return null.Float{}
	}
}

// Set stores v in the given column.
func (b *Bar) Set(c Column, v null.Float) {
	switch c {
	case Open:
		b.Open = v
	case High:
		b.High = v
	case Low:
		b.Low = v
	case Close:
		b.Close = v
	case AdjClose:
		b.AdjClose = v
	case Volume:
		b.Volume = v
	}
}

// Table is a date-indexed daily price table. Treat it as immutable once built:
// callers that need to reshape it work on Clone.
type Table struct {
	Bars []Bar
	cols []Column
}

// NewTable builds a table over bars holding the given columns. Unknown and
// repeated column names are dropped; order follows the canonical order.
func NewTable(bars []Bar, cols ...Column) *Table {
	return &Table{Bars: bars, cols: canonicalOrder(cols)}
}

// Empty returns a row-less table with all canonical columns.
func Empty() *Table {
	return NewTable(nil, Columns...)
}

// Len returns the number of rows; nil tables have none.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Bars)
}

// IsEmpty reports whether the table is nil or has no rows.
func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

// Columns returns the present columns in canonical order.
func (t *Table) Columns() []Column {
	if t == nil {
		return nil
	}
	out := make([]Column, len(t.cols))
	copy(out, t.cols)
	return out
}

// Has reports whether column c is present.
func (t *Table) Has(c Column) bool {
	if t == nil {
		return false
	}
	for _, col := range t.cols {
		if col == c {
			return true
		}
	}
	return false
}

// Dates returns the index.
func (t *Table) Dates() []time.Time {
	out := make([]time.Time, t.Len())
	for i := range out {
		out[i] = t.Bars[i].Date
	}
	return out
}

// Series returns the cells of column c, all invalid when c is absent.
func (t *Table) Series(c Column) []null.Float {
	out := make([]null.Float, t.Len())
	if !t.Has(c) {
		return out
	}
	for i, b := range t.Bars {
		out[i] = b.Get(c)
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	bars := make([]Bar, len(t.Bars))
	copy(bars, t.Bars)
	return &Table{Bars: bars, cols: t.Columns()}
}

// Head returns a copy of the first n rows.
func (t *Table) Head(n int) *Table {
	c := t.Clone()
	if c == nil {
		return nil
	}
	if n < len(c.Bars) {
		c.Bars = c.Bars[:n]
	}
	return c
}

// Normalize returns a copy sorted by date (stable), reindexed to all canonical
// columns, with every date truncated to UTC midnight. Cells of columns that were
// absent stay invalid.
func (t *Table) Normalize() *Table {
	if t == nil {
		return Empty()
	}
	c := t.Clone()
	for i := range c.Bars {
		for _, col := range Columns {
			if !t.Has(col) {
				c.Bars[i].Set(col, null.Float{})
			}
		}
		c.Bars[i].Date = DateOnly(c.Bars[i].Date)
	}
	sort.SliceStable(c.Bars, func(i, j int) bool {
		return c.Bars[i].Date.Before(c.Bars[j].Date)
	})
	c.cols = append([]Column(nil), Columns...)
	return c
}

func canonicalOrder(cols []Column) []Column {
	seen := make(map[Column]bool, len(cols))
	for _, c := range cols {
		seen[c] = true
	}
	out := make([]Column, 0, len(cols))
	for _, c := range Columns {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}
