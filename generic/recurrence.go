package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// FREQUENCY - How often a recurring obligation falls due
// =============================================================================

type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// Frequencies lists every supported frequency.
var Frequencies = []Frequency{FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// =============================================================================
// NEXT DUE DATE
// =============================================================================

// NextDueDate advances current by one period of f.
//
// Month-based frequencies clamp to the last day of the target month:
//
//	2024-01-31 monthly   -> 2024-02-29
//	2024-11-30 quarterly -> 2025-02-28
//	2024-02-29 yearly    -> 2025-02-28
//
// Clamping is not sticky: 2024-02-29 monthly -> 2024-03-29. The result is
// always strictly after current.
func NextDueDate(current time.Time, f Frequency) (time.Time, error) {
	switch f {
	case FrequencyWeekly:
		return current.AddDate(0, 0, 7), nil
	case FrequencyMonthly:
		return AddMonthsClamped(current, 1), nil
	case FrequencyQuarterly:
		return AddMonthsClamped(current, 3), nil
	case FrequencyYearly:
		return AddYearsClamped(current, 1), nil
	default:
		return current, fmt.Errorf("%w: unknown frequency %q", ErrInvalidInput, f)
	}
}

// DueDates returns the first n due dates strictly after start.
func DueDates(start time.Time, f Frequency, n int) ([]time.Time, error) {
	dates := make([]time.Time, 0, n)
	current := start
	for i := 0; i < n; i++ {
		next, err := NextDueDate(current, f)
		if err != nil {
			return nil, err
		}
		dates = append(dates, next)
		current = next
	}
	return dates, nil
}
