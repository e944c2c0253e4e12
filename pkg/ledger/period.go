package ledger

import (
	"fmt"
	"time"
)

// Period is a named lookback window.
type Period string

const (
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period90d Period = "90d"
	PeriodAll Period = "all"

	DefaultPeriod = Period30d
)

// PeriodError reports an unrecognised period token.
type PeriodError struct {
	Value string
}

func (e *PeriodError) Error() string {
	return fmt.Sprintf("invalid period %q: want 7d, 30d, 90d or all", e.Value)
}

// ParsePeriod validates a period token. Empty input yields DefaultPeriod.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return DefaultPeriod, nil
	case Period7d, Period30d, Period90d, PeriodAll:
		return p, nil
	default:
		return "", &PeriodError{Value: s}
	}
}

// Days returns the period length in days, or 0 for PeriodAll.
func (p Period) Days() int {
	switch p {
	case Period7d:
		return 7
	case Period30d:
		return 30
	case Period90d:
		return 90
	default:
		return 0
	}
}

// Window is a half-open time range [Start, End). A zero Start is unbounded.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Window returns the window the period covers, ending at now.
func (p Period) Window(now time.Time) Window {
	now = now.UTC()
	if d := p.Days(); d > 0 {
		return Window{Start: now.AddDate(0, 0, -d), End: now}
	}
	return Window{End: now}
}

// WindowSince returns the window from an explicit start instant to now.
func WindowSince(start, now time.Time) Window {
	return Window{Start: start.UTC(), End: now.UTC()}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	return t.Before(w.End)
}

// Bounded reports whether the window has a start.
func (w Window) Bounded() bool { return !w.Start.IsZero() }

// MonthToDate is the UTC calendar month containing now.
func MonthToDate(now time.Time) Window {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// Today is the UTC calendar day containing now.
func Today(now time.Time) Window {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}
