package fetcher

import (
	"fmt"
	"strings"
	"time"
)

// periodStart resolves a relative period ("5d", "1mo", "1y", "ytd", "max")
// against now.
func periodStart(period string, now time.Time) (time.Time, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	switch p {
	case "", "max":
		return time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), nil
	case "ytd":
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC), nil
	}

	var (
		n    int
		unit string
	)
	if _, err := fmt.Sscanf(p, "%d%s", &n, &unit); err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("invalid period %q", period)
	}
	switch unit {
	case "d":
		return now.AddDate(0, 0, -n), nil
	case "wk":
		return now.AddDate(0, 0, -7*n), nil
	case "mo":
		return now.AddDate(0, -n, 0), nil
	case "y":
		return now.AddDate(-n, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("invalid period %q", period)
}

// window returns the request's [start, end) range. Explicit dates win over
// Period.
func (r Request) window(now time.Time) (time.Time, time.Time, error) {
	end := now
	if r.End != nil {
		end = *r.End
	}
	if r.Start != nil {
		return *r.Start, end, nil
	}
	start, err := periodStart(r.Period, end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
