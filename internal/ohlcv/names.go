package ohlcv

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO calendar-date layout used for index values.
const DateLayout = "2006-01-02"

var tickerReplacer = strings.NewReplacer(".", "_", "-", "_")

// SafeTicker uppercases a ticker and replaces '.' and '-' with '_'.
func SafeTicker(ticker string) string {
	return tickerReplacer.Replace(strings.ToUpper(ticker))
}

// TableName derives the store table name for a ticker.
func TableName(prefix, ticker string) string {
	return prefix + "_" + SafeTicker(ticker)
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders the calendar date of t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
}

// ParseDate parses a textual index value into a calendar date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse index date %q: unrecognised format", s)
}
