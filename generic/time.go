package generic

import (
	"time"
)

// =============================================================================
// CALENDAR HELPERS
// =============================================================================

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonthsClamped adds n calendar months, clamping the day to the last day
// of the target month. time.AddDate would normalize Jan 31 + 1 month to Mar 2.
func AddMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	// Month arithmetic on the first of the month never overflows.
	first := time.Date(year, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, n, 0)
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// AddYearsClamped adds n years with the same clamping (Feb 29 -> Feb 28).
func AddYearsClamped(t time.Time, n int) time.Time {
	return AddMonthsClamped(t, 12*n)
}

// ParseDate accepts either a calendar date (2006-01-02) or an RFC3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
