package shared

import (
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// ErrInvalidPeriod indicates an unparsable, empty or inverted period window.
var ErrInvalidPeriod = errors.New("period: invalid period")

// Period is an inclusive date window used for costing runs and reports.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod normalises both bounds to UTC dates and validates ordering.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: truncateDate(start), End: truncateDate(end)}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// MonthPeriod returns the calendar month window.
func MonthPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, -1)}
}

// ParsePeriod reads YYYY-MM-DD bounds.
func ParsePeriod(start, end string) (Period, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return Period{}, fmt.Errorf("%w: start: %v", ErrInvalidPeriod, err)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return Period{}, fmt.Errorf("%w: end: %v", ErrInvalidPeriod, err)
	}
	return NewPeriod(s, e)
}

// ParseMonth reads a YYYY-MM value into a calendar month period.
func ParseMonth(raw string) (Period, error) {
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return Period{}, fmt.Errorf("%w: month: %v", ErrInvalidPeriod, err)
	}
	return MonthPeriod(t.Year(), t.Month()), nil
}

// ResolvePeriod accepts either a YYYY-MM month or an explicit start/end pair.
func ResolvePeriod(month, start, end string) (Period, error) {
	if month != "" {
		return ParseMonth(month)
	}
	if start == "" || end == "" {
		return Period{}, fmt.Errorf("%w: month or start and end required", ErrInvalidPeriod)
	}
	return ParsePeriod(start, end)
}

// Validate checks the period bounds.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return ErrInvalidPeriod
	}
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Key renders a stable identifier for scheduled idempotency keys.
func (p Period) Key() string {
	return p.Start.Format("20060102") + "-" + p.End.Format("20060102")
}

// Contains reports whether the date falls inside the window.
func (p Period) Contains(t time.Time) bool {
	d := truncateDate(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Overlaps reports whether [from, to] intersects the period. A nil to is open ended.
func (p Period) Overlaps(from time.Time, to *time.Time) bool {
	if truncateDate(from).After(p.End) {
		return false
	}
	if to != nil && truncateDate(*to).Before(p.Start) {
		return false
	}
	return true
}

// String renders the period for logs and memos.
func (p Period) String() string {
	return p.Start.Format(dateLayout) + ".." + p.End.Format(dateLayout)
}

func truncateDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
