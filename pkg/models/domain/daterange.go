package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout       = "2006-01-02"
	DefaultRangeDays = 30
)

// DateRange is an inclusive range of UTC calendar days.
type DateRange struct {
	From time.Time
	To   time.Time
}

func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: Day(from), To: Day(to)}
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// BillingPeriod formats the range the way the billing API expects it: the
// end date is exclusive.
func (r DateRange) BillingPeriod() (string, string) {
	return r.From.Format(DateLayout), r.To.AddDate(0, 0, 1).Format(DateLayout)
}

// MetricsWindow returns the inclusive instants covering every day in the range.
func (r DateRange) MetricsWindow() (time.Time, time.Time) {
	return r.From, r.To.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := r.From; !d.After(r.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (r DateRange) Len() int {
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.From) && !d.After(r.To)
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.From.Format(DateLayout), r.To.Format(DateLayout))
}

// ParseDateRange builds a range from the from/to query parameters.
// Empty "to" means today, empty "from" means 30 days before "to". A "to" in
// the future is clamped to today since the billing API rejects it.
func ParseDateRange(from, to string, now time.Time, maxDays int) (DateRange, error) {
	today := Day(now)

	end := today
	if to != "" {
		parsed, err := parseDay(to)
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: to: %v", ErrInvalidDateRange, err)
		}
		end = parsed
	}
	if end.After(today) {
		end = today
	}

	start := end.AddDate(0, 0, -DefaultRangeDays)
	if from != "" {
		parsed, err := parseDay(from)
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: from: %v", ErrInvalidDateRange, err)
		}
		start = parsed
	}

	if start.After(end) {
		return DateRange{}, fmt.Errorf("%w: from %s is after to %s",
			ErrInvalidDateRange, start.Format(DateLayout), end.Format(DateLayout))
	}

	r := DateRange{From: start, To: end}
	if maxDays > 0 && r.Len() > maxDays {
		return DateRange{}, fmt.Errorf("%w: %d days requested, at most %d allowed",
			ErrInvalidDateRange, r.Len(), maxDays)
	}
	return r, nil
}

func parseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date", s)
}
