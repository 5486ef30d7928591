package recurring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rental"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSchedule_Due(t *testing.T) {
	now := day(2024, time.March, 1)
	base := Schedule{Status: StatusActive, AutoProcess: true, NextDueDate: now}

	tests := []struct {
		name   string
		mutate func(*Schedule)
		want   bool
	}{
		{"due today", func(*Schedule) {}, true},
		{"overdue", func(s *Schedule) { s.NextDueDate = day(2024, time.January, 1) }, true},
		{"not yet due", func(s *Schedule) { s.NextDueDate = day(2024, time.March, 2) }, false},
		{"paused", func(s *Schedule) { s.Status = StatusPaused }, false},
		{"completed", func(s *Schedule) { s.Status = StatusCompleted }, false},
		{"cancelled", func(s *Schedule) { s.Status = StatusCancelled }, false},
		{"manual", func(s *Schedule) { s.AutoProcess = false }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			assert.Equal(t, tt.want, s.Due(now))
		})
	}
}

func TestAdvance_RollsForwardAndLogs(t *testing.T) {
	// GIVEN: A monthly schedule due on January 31st
	// WHEN: Advancing after a payment
	// THEN: Next due is Feb 29, one log entry, still active

	s := Schedule{
		Status:      StatusActive,
		Frequency:   generic.FrequencyMonthly,
		NextDueDate: day(2024, time.January, 31),
	}
	now := day(2024, time.January, 31)
	payment := rental.Payment{ID: "pay-1", Amount: generic.NewMoney(1200)}

	entry, err := s.Advance(payment, now)
	require.NoError(t, err)

	assert.Equal(t, day(2024, time.February, 29), s.NextDueDate)
	assert.Equal(t, StatusActive, s.Status)
	require.Len(t, s.ProcessedPayments, 1)
	assert.Equal(t, entry, s.ProcessedPayments[0])
	assert.Equal(t, "pay-1", entry.PaymentID)
	assert.Equal(t, ProcessedSuccess, entry.Status)
	assert.Equal(t, "1200", entry.Amount.String())
	assert.Equal(t, now, s.UpdatedAt)
}

func TestAdvance_InstallmentsCompleteAfterExactlyN(t *testing.T) {
	s := Schedule{
		Status:      StatusActive,
		Frequency:   generic.FrequencyQuarterly,
		NextDueDate: day(2024, time.January, 1),
		InstallmentPlan: &InstallmentPlan{
			TotalAmount:        generic.NewMoney(1000),
			Installments:       4,
			CurrentInstallment: 1,
			InstallmentAmount:  generic.NewMoney(250),
		},
	}

	for i := 1; i <= 4; i++ {
		require.Equal(t, StatusActive, s.Status, "before run %d", i)
		_, err := s.Advance(rental.Payment{ID: "p"}, s.NextDueDate)
		require.NoError(t, err)
	}

	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, 5, s.InstallmentPlan.CurrentInstallment)
	assert.Len(t, s.ProcessedPayments, 4)
}

func TestAdvance_EndDateCompletes(t *testing.T) {
	end := day(2024, time.March, 15)
	s := Schedule{
		Status:      StatusActive,
		Frequency:   generic.FrequencyMonthly,
		NextDueDate: day(2024, time.March, 1),
		EndDate:     &end,
	}

	_, err := s.Advance(rental.Payment{ID: "p"}, day(2024, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, day(2024, time.April, 1), s.NextDueDate)
}

func TestAdvance_DoesNotAliasEarlierCopies(t *testing.T) {
	s := Schedule{
		Status:            StatusActive,
		Frequency:         generic.FrequencyWeekly,
		NextDueDate:       day(2024, time.January, 1),
		ProcessedPayments: make([]ProcessedPayment, 0, 4),
		InstallmentPlan:   &InstallmentPlan{Installments: 3, CurrentInstallment: 1},
	}
	before := s

	_, err := s.Advance(rental.Payment{ID: "p"}, day(2024, time.January, 1))
	require.NoError(t, err)

	assert.Empty(t, before.ProcessedPayments)
	assert.Equal(t, 1, before.InstallmentPlan.CurrentInstallment)
	assert.Equal(t, day(2024, time.January, 1), before.NextDueDate)
}

func TestAdvance_UnknownFrequencyLeavesScheduleUntouched(t *testing.T) {
	s := Schedule{Status: StatusActive, Frequency: "hourly", NextDueDate: day(2024, time.January, 1)}

	_, err := s.Advance(rental.Payment{ID: "p"}, day(2024, time.January, 1))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	assert.Empty(t, s.ProcessedPayments)
	assert.Equal(t, day(2024, time.January, 1), s.NextDueDate)
}

func TestSchedule_UpcomingDueDates(t *testing.T) {
	end := day(2024, time.April, 10)
	base := Schedule{Status: StatusActive, Frequency: generic.FrequencyMonthly, NextDueDate: day(2024, time.January, 15)}

	tests := []struct {
		name   string
		mutate func(*Schedule)
		want   []time.Time
	}{
		{"open ended", func(*Schedule) {}, []time.Time{day(2024, time.January, 15), day(2024, time.February, 15), day(2024, time.March, 15)}},
		{"weekly", func(s *Schedule) { s.Frequency = generic.FrequencyWeekly }, []time.Time{day(2024, time.January, 15), day(2024, time.January, 22), day(2024, time.January, 29)}},
		{"last installment", func(s *Schedule) {
			s.InstallmentPlan = &InstallmentPlan{Installments: 4, CurrentInstallment: 4}
		}, []time.Time{day(2024, time.January, 15)}},
		{"end date", func(s *Schedule) {
			s.NextDueDate = day(2024, time.March, 15)
			s.EndDate = &end
		}, []time.Time{day(2024, time.March, 15)}},
		{"unknown frequency", func(s *Schedule) { s.Frequency = "fortnightly" }, []time.Time{day(2024, time.January, 15)}},
		{"paused", func(s *Schedule) { s.Status = StatusPaused }, nil},
		{"completed", func(s *Schedule) { s.Status = StatusCompleted }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			assert.Equal(t, tt.want, s.UpcomingDueDates(3))
		})
	}
}

func TestSchedule_UpcomingDueDatesMatchAdvance(t *testing.T) {
	// GIVEN: A month-end schedule, where clamping makes the chain drift
	// WHEN: Previewing, then advancing the schedule through the preview
	// THEN: Each advance lands on the next previewed date

	s := Schedule{Status: StatusActive, Frequency: generic.FrequencyMonthly, NextDueDate: day(2024, time.January, 31)}
	preview := s.UpcomingDueDates(4)
	require.Len(t, preview, 4)

	for i, want := range preview {
		assert.Equal(t, want, s.NextDueDate, "date %d", i)
		_, err := s.Advance(rental.Payment{ID: "p"}, want)
		require.NoError(t, err)
	}
}
