/*
Package recurring runs payment schedules that repeat on a calendar.

PURPOSE:
  A Schedule is one tenant's recurring obligation (rent every month, a
  deposit in four quarterly installments). A periodic run finds the
  schedules that have fallen due, creates one payment for each and rolls
  the schedule forward to its next due date.

LIFECYCLE:
  active --(last installment / past end date)--> completed
  active <--> paused, * --> cancelled   (external operations)

  Only active, auto-processed schedules are ever picked up by a run.
  completed and cancelled are never selected again, whatever nextDueDate
  says.

INVARIANTS:
  - nextDueDate only moves forward (generic.NextDueDate is strictly increasing)
  - ProcessedPayments is append-only
  - With an installment plan, the schedule completes after exactly
    Installments successful runs

SEE ALSO:
  - generic/recurrence.go: Calendar math
  - processor.go: The periodic run
  - service.go: Creation and queries
*/
package recurring

import (
	"time"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rental"
)

// =============================================================================
// ENUMS
// =============================================================================

type ScheduleType string

const (
	TypeRecurring   ScheduleType = "recurring"
	TypeInstallment ScheduleType = "installment"
	TypeCustom      ScheduleType = "custom"
)

// Valid reports whether t is a known schedule type.
func (t ScheduleType) Valid() bool {
	switch t {
	case TypeRecurring, TypeInstallment, TypeCustom:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// =============================================================================
// SCHEDULE
// =============================================================================

// Reminders is stored configuration; nothing in the engine sends them.
type Reminders struct {
	Enabled    bool     `json:"enabled"`
	DaysBefore []int    `json:"daysBefore"`
	Methods    []string `json:"methods"`
}

type InstallmentPlan struct {
	TotalAmount        generic.Money `json:"totalAmount"`
	Installments       int           `json:"installments"`
	CurrentInstallment int           `json:"currentInstallment"`
	InstallmentAmount  generic.Money `json:"installmentAmount"`
}

// Exhausted reports whether every installment has been paid.
func (p InstallmentPlan) Exhausted() bool {
	return p.CurrentInstallment > p.Installments
}

const ProcessedSuccess = "success"

// ProcessedPayment is one entry of a schedule's payment log.
type ProcessedPayment struct {
	PaymentID     string
	ProcessedDate time.Time
	Amount        generic.Money
	Status        string
}

type Schedule struct {
	ID             string
	OrganizationID generic.OrganizationID
	TenantID       string
	PropertyID     string
	UnitID         string

	Type        ScheduleType
	Frequency   generic.Frequency
	Amount      generic.Money
	Method      rental.PaymentMethod
	StartDate   time.Time
	EndDate     *time.Time
	NextDueDate time.Time
	Status      Status
	AutoProcess bool

	Reminders         Reminders
	InstallmentPlan   *InstallmentPlan
	ProcessedPayments []ProcessedPayment

	CreatedBy generic.UserID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the periodic run should pick the schedule up at now.
func (s Schedule) Due(now time.Time) bool {
	return s.Status == StatusActive && s.AutoProcess && !s.NextDueDate.After(now)
}

// UpcomingDueDates previews up to n due dates starting with NextDueDate,
// rolled forward the way Advance does. Only active schedules have any; the
// preview stops at the last installment and at EndDate. An unknown
// frequency yields NextDueDate alone.
func (s Schedule) UpcomingDueDates(n int) []time.Time {
	if s.Status != StatusActive {
		return nil
	}
	if p := s.InstallmentPlan; p != nil {
		n = min(n, p.Installments-p.CurrentInstallment+1)
	}
	if n <= 0 {
		return nil
	}

	dates := []time.Time{s.NextDueDate}
	if rest, err := generic.DueDates(s.NextDueDate, s.Frequency, n-1); err == nil {
		dates = append(dates, rest...)
	}
	if s.EndDate != nil {
		for i, d := range dates {
			if d.After(*s.EndDate) {
				return dates[:i]
			}
		}
	}
	return dates
}

// Advance records a successful payment and rolls the schedule to its next
// period. It returns the log entry that was appended. Slices and the plan are
// copied, so copies of s taken before the call are unaffected.
func (s *Schedule) Advance(payment rental.Payment, now time.Time) (ProcessedPayment, error) {
	next, err := generic.NextDueDate(s.NextDueDate, s.Frequency)
	if err != nil {
		return ProcessedPayment{}, err
	}

	entry := ProcessedPayment{
		PaymentID:     payment.ID,
		ProcessedDate: now,
		Amount:        payment.Amount,
		Status:        ProcessedSuccess,
	}
	n := len(s.ProcessedPayments)
	s.ProcessedPayments = append(s.ProcessedPayments[:n:n], entry)
	s.NextDueDate = next

	if s.InstallmentPlan != nil {
		plan := *s.InstallmentPlan
		plan.CurrentInstallment++
		s.InstallmentPlan = &plan
		if plan.Exhausted() {
			s.Status = StatusCompleted
		}
	}
	if s.EndDate != nil && s.NextDueDate.After(*s.EndDate) {
		s.Status = StatusCompleted
	}
	s.UpdatedAt = now
	return entry, nil
}

// =============================================================================
// RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the audit record of one periodic run for one organization.
type Run struct {
	ID             string
	OrganizationID generic.OrganizationID
	Status         RunStatus
	Processed      int
	Failed         int
	Error          string
	StartedAt      time.Time
	CompletedAt    *time.Time
}
