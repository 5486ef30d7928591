package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-engine/generic"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// NEXT DUE DATE
// =============================================================================

func TestNextDueDate_Frequencies(t *testing.T) {
	start := date(2024, time.March, 15)

	tests := []struct {
		freq generic.Frequency
		want time.Time
	}{
		{generic.FrequencyWeekly, date(2024, time.March, 22)},
		{generic.FrequencyMonthly, date(2024, time.April, 15)},
		{generic.FrequencyQuarterly, date(2024, time.June, 15)},
		{generic.FrequencyYearly, date(2025, time.March, 15)},
	}
	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			got, err := generic.NextDueDate(start, tt.freq)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextDueDate_MonthEnd_ClampsToLastDay(t *testing.T) {
	// GIVEN: A monthly schedule starting on January 31st of a leap year
	// WHEN: Computing the next due date
	// THEN: It lands on February 29th instead of overflowing into March

	got, err := generic.NextDueDate(date(2024, time.January, 31), generic.FrequencyMonthly)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 29), got)

	got, err = generic.NextDueDate(date(2023, time.January, 31), generic.FrequencyMonthly)
	require.NoError(t, err)
	assert.Equal(t, date(2023, time.February, 28), got)
}

func TestNextDueDate_ClampIsNotSticky(t *testing.T) {
	// GIVEN: A due date that was clamped to Feb 29
	// WHEN: Advancing another month
	// THEN: The 29th is kept (the original 31st is not remembered)

	got, err := generic.NextDueDate(date(2024, time.February, 29), generic.FrequencyMonthly)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 29), got)
}

func TestNextDueDate_QuarterlyAndYearlyClamp(t *testing.T) {
	got, err := generic.NextDueDate(date(2024, time.November, 30), generic.FrequencyQuarterly)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 28), got)

	got, err = generic.NextDueDate(date(2024, time.February, 29), generic.FrequencyYearly)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 28), got)
}

func TestNextDueDate_KeepsTimeOfDay(t *testing.T) {
	start := time.Date(2024, time.January, 31, 9, 30, 0, 0, time.UTC)

	got, err := generic.NextDueDate(start, generic.FrequencyMonthly)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.February, 29, 9, 30, 0, 0, time.UTC), got)
}

func TestNextDueDate_UnknownFrequency(t *testing.T) {
	_, err := generic.NextDueDate(date(2024, time.January, 1), "fortnightly")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestNextDueDate_AlwaysStrictlyAdvances(t *testing.T) {
	// GIVEN: Every day of a leap year and every frequency
	// WHEN: Advancing once
	// THEN: The result is strictly later

	for d := date(2024, time.January, 1); d.Year() == 2024; d = d.AddDate(0, 0, 1) {
		for _, f := range generic.Frequencies {
			next, err := generic.NextDueDate(d, f)
			require.NoError(t, err)
			require.Truef(t, next.After(d), "%s %s -> %s", f, d.Format(generic.DateLayout), next.Format(generic.DateLayout))
		}
	}
}

func TestDueDates_Sequence(t *testing.T) {
	got, err := generic.DueDates(date(2024, time.January, 31), generic.FrequencyMonthly, 3)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2024, time.February, 29),
		date(2024, time.March, 29),
		date(2024, time.April, 29),
	}, got)
}

// =============================================================================
// CALENDAR HELPERS
// =============================================================================

func TestParseDate_AcceptsDateAndTimestamp(t *testing.T) {
	got, err := generic.ParseDate("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.May, 1), got)

	got, err = generic.ParseDate("2024-05-01T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC), got)

	_, err = generic.ParseDate("05/01/2024")
	assert.Error(t, err)
}

func TestStartOfDay(t *testing.T) {
	got := generic.StartOfDay(time.Date(2024, time.May, 1, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, date(2024, time.May, 1), got)
}
