package recurring

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rental"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// CreateScheduleInput describes a new schedule.
type CreateScheduleInput struct {
	TenantID    string
	PropertyID  string // defaults to the tenant's property
	UnitID      string
	Type        ScheduleType
	Frequency   generic.Frequency
	Amount      decimal.NullDecimal // defaults to the installment amount
	Method      rental.PaymentMethod
	StartDate   time.Time
	EndDate     *time.Time
	AutoProcess bool
	Reminders   Reminders
	Installment *InstallmentInput
}

// InstallmentInput is the caller's part of an installment plan.
type InstallmentInput struct {
	TotalAmount        generic.Money
	Installments       int
	CurrentInstallment int // 0 = 1
}

// Options tune schedule creation.
type Options struct {
	// FirstDueOnStart makes the first due date the start date itself instead
	// of one period after it.
	FirstDueOnStart bool
}

// Service creates and queries schedules.
type Service struct {
	tenants  rental.TenantStore
	payments rental.PaymentStore
	store    Store
	opts     Options
	now      func() time.Time
	newID    func() string
	log      *logrus.Entry
}

// NewService creates a schedule service.
func NewService(tenants rental.TenantStore, payments rental.PaymentStore, store Store, opts Options, logger *logrus.Logger) *Service {
	return &Service{
		tenants:  tenants,
		payments: payments,
		store:    store,
		opts:     opts,
		now:      time.Now,
		newID:    generic.NewID,
		log:      logger.WithField("component", "recurring.service"),
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateSchedule validates the input and stores a new active schedule.
func (s *Service) CreateSchedule(ctx context.Context, id generic.Identity, in CreateScheduleInput) (*Schedule, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	tenant, err := s.tenants.GetTenant(ctx, id.OrganizationID, in.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant == nil {
		return nil, fmt.Errorf("tenant %s %w", in.TenantID, generic.ErrNotFound)
	}

	propertyID := in.PropertyID
	if propertyID == "" {
		propertyID = tenant.PropertyID
	}
	method := in.Method
	if method == "" {
		method = rental.MethodBankTransfer
	}

	nextDue := in.StartDate
	if !s.opts.FirstDueOnStart {
		if nextDue, err = generic.NextDueDate(in.StartDate, in.Frequency); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	sched := Schedule{
		ID:             s.newID(),
		OrganizationID: id.OrganizationID,
		TenantID:       in.TenantID,
		PropertyID:     propertyID,
		UnitID:         in.UnitID,
		Type:           in.Type,
		Frequency:      in.Frequency,
		Method:         method,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		NextDueDate:    nextDue,
		Status:         StatusActive,
		AutoProcess:    in.AutoProcess,
		Reminders:      in.Reminders,
		CreatedBy:      id.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if in.Installment != nil {
		plan := &InstallmentPlan{
			TotalAmount:        in.Installment.TotalAmount,
			Installments:       in.Installment.Installments,
			CurrentInstallment: in.Installment.CurrentInstallment,
			InstallmentAmount:  generic.Average(in.Installment.TotalAmount, in.Installment.Installments),
		}
		if plan.CurrentInstallment == 0 {
			plan.CurrentInstallment = 1
		}
		sched.InstallmentPlan = plan
		sched.Amount = plan.InstallmentAmount
	}
	if in.Amount.Valid {
		sched.Amount = in.Amount.Decimal
	}
	if !sched.Amount.IsPositive() {
		return nil, &generic.ValidationError{Field: "amount", Reason: "is required and must be positive"}
	}

	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"org":       id.OrganizationID,
		"schedule":  sched.ID,
		"tenant":    sched.TenantID,
		"frequency": sched.Frequency,
		"next_due":  sched.NextDueDate.Format(generic.DateLayout),
	}).Info("Schedule created")
	return &sched, nil
}

func validateInput(in CreateScheduleInput) error {
	switch {
	case in.TenantID == "":
		return &generic.ValidationError{Field: "tenantId", Reason: "is required"}
	case !in.Type.Valid():
		return &generic.ValidationError{Field: "scheduleType", Reason: fmt.Sprintf("unknown type %q", in.Type)}
	case !in.Frequency.Valid():
		return &generic.ValidationError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", in.Frequency)}
	case in.Method != "" && !in.Method.Valid():
		return &generic.ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("unknown method %q", in.Method)}
	case in.StartDate.IsZero():
		return &generic.ValidationError{Field: "startDate", Reason: "is required"}
	case in.EndDate != nil && in.EndDate.Before(in.StartDate):
		return &generic.ValidationError{Field: "endDate", Reason: "is before startDate"}
	}

	if p := in.Installment; p != nil {
		switch {
		case p.Installments < 1:
			return &generic.ValidationError{Field: "installments", Reason: "must be at least 1"}
		case !p.TotalAmount.IsPositive():
			return &generic.ValidationError{Field: "totalAmount", Reason: "must be positive"}
		case p.CurrentInstallment < 0 || p.CurrentInstallment > p.Installments:
			return &generic.ValidationError{Field: "currentInstallment", Reason: "out of range"}
		}
	}
	return nil
}

// GetSchedule returns one schedule with its payment log.
func (s *Service) GetSchedule(ctx context.Context, orgID generic.OrganizationID, scheduleID string) (*Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, orgID, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	if sched == nil {
		return nil, ErrScheduleNotFound
	}
	return sched, nil
}

// Payments returns the payments the schedule created, oldest first.
func (s *Service) Payments(ctx context.Context, orgID generic.OrganizationID, scheduleID string) ([]rental.Payment, error) {
	if _, err := s.GetSchedule(ctx, orgID, scheduleID); err != nil {
		return nil, err
	}
	payments, err := s.payments.PaymentsBySource(ctx, orgID, rental.SourceSchedule, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule payments: %w", err)
	}
	return payments, nil
}

// ListSchedules returns schedules soonest due first.
func (s *Service) ListSchedules(ctx context.Context, orgID generic.OrganizationID, q ListQuery) ([]Schedule, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, &generic.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", q.Status)}
	}
	q.Limit = clampLimit(q.Limit)
	schedules, err := s.store.ListSchedules(ctx, orgID, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

// ListRuns returns the most recent run records first.
func (s *Service) ListRuns(ctx context.Context, orgID generic.OrganizationID, limit int) ([]Run, error) {
	runs, err := s.store.ListRuns(ctx, orgID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
