package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Reporting window
// =============================================================================

// Period is a half-open time window [Start, End). A zero Start means unbounded.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	if !p.Start.IsZero() && t.Before(p.Start) {
		return false
	}
	return t.Before(p.End)
}

// Unbounded reports whether the period has no lower bound.
func (p Period) Unbounded() bool { return p.Start.IsZero() }

func (p Period) String() string {
	if p.Unbounded() {
		return "[-inf, " + p.End.Format(time.RFC3339) + ")"
	}
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + ")"
}

// PeriodType names a trailing reporting window.
type PeriodType string

const (
	PeriodWeek    PeriodType = "week"
	PeriodMonth   PeriodType = "month"
	PeriodQuarter PeriodType = "quarter"
	PeriodYear    PeriodType = "year"
	PeriodAll     PeriodType = "all"
)

// PeriodEnding returns the trailing window of type pt that ends at now.
// "month" covers the last calendar month up to now (e.g. Mar 15 -> Feb 15).
func PeriodEnding(pt PeriodType, now time.Time) (Period, error) {
	switch pt {
	case PeriodWeek:
		return Period{Start: now.AddDate(0, 0, -7), End: now}, nil
	case PeriodMonth, "":
		return Period{Start: AddMonthsClamped(now, -1), End: now}, nil
	case PeriodQuarter:
		return Period{Start: AddMonthsClamped(now, -3), End: now}, nil
	case PeriodYear:
		return Period{Start: AddYearsClamped(now, -1), End: now}, nil
	case PeriodAll:
		return Period{End: now}, nil
	default:
		return Period{}, &ValidationError{Field: "period", Reason: fmt.Sprintf("unknown period %q", pt)}
	}
}
