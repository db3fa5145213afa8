package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar date without time-of-day significance
// =============================================================================

// Date is a calendar date. It is carried at 12:00 UTC so that converting to
// another zone never moves it to a neighbouring day.
type Date struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

// NewDate builds a date. Out-of-range days are normalized by time.Date
// (use NewDateClamped to clamp instead).
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 12, 0, 0, 0, time.UTC)}
}

// NewDateClamped builds a date, clamping day into [1, DaysIn(year, month)].
// February 31 becomes February 28 (or 29).
func NewDateClamped(year int, month time.Month, day int) Date {
	last := DaysIn(year, month)
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return NewDate(year, month, day)
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date { return DateOf(time.Now()) }

// Comparison
func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }
func (d Date) IsZero() bool      { return d.Time.IsZero() }

func (d Date) String() string { return d.Time.Format(dateLayout) }

// InvoiceMonth returns the calendar month the date falls in.
func (d Date) InvoiceMonth() InvoiceMonth {
	return InvoiceMonth{Year: d.Year(), Month: d.Month()}
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 12, 0, 0, 0, time.UTC).Day()
}
