/*
Package factory builds Payment records for the engine.

PURPOSE:
  Both payment sources (bulk batches and recurring schedules) create
  payments owned by the payments subsystem. The factory is the single
  place that decides what such a payment looks like: which fields are
  copied from where, which status it starts in, what its description
  says, and what makes it invalid before it ever reaches storage.

VALIDATION:
  A payment is rejected (ValidationError) when:
  - tenant or property reference is empty
  - amount is zero or negative
  - payment method is unknown (empty defaults to bank_transfer)
  Referential checks (does the tenant exist?) are left to the store.

USAGE:
  f := factory.NewPaymentFactory()
  p, err := f.FromBatchItem(orgID, tmpl, factory.Line{TenantID: "t-1", PropertyID: "p-1", Amount: amt})

SEE ALSO:
  - bulkpay/executor.go: Batch items -> payments
  - recurring/processor.go: Due schedules -> payments
*/
package factory

import (
	"fmt"
	"time"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rental"
)

// =============================================================================
// INPUT TYPES
// =============================================================================

// Template is shared by every payment of one batch.
type Template struct {
	BatchID     string
	Description string
	Method      rental.PaymentMethod
	DueDate     time.Time
	AutoProcess bool
	CreatedBy   generic.UserID
}

// Line is the per-tenant part of a batch payment.
type Line struct {
	TenantID   string
	PropertyID string
	UnitID     string
	Amount     generic.Money
}

// Recurrence describes the schedule a payment is generated from.
type Recurrence struct {
	ScheduleID string
	TenantID   string
	PropertyID string
	UnitID     string
	Amount     generic.Money
	Method     rental.PaymentMethod
	Frequency  generic.Frequency
	CreatedBy  generic.UserID
}

// =============================================================================
// PAYMENT FACTORY
// =============================================================================

// PaymentFactory creates validated payments.
type PaymentFactory struct {
	now   func() time.Time
	newID func() string
}

// NewPaymentFactory creates a factory using the wall clock and uuid IDs.
func NewPaymentFactory() *PaymentFactory {
	return &PaymentFactory{now: time.Now, newID: generic.NewID}
}

// WithClock returns a copy of the factory using now for CreatedAt.
func (f *PaymentFactory) WithClock(now func() time.Time) *PaymentFactory {
	c := *f
	c.now = now
	return &c
}

// FromBatchItem builds the payment for one batch item. Auto-processed batches
// create completed payments; otherwise the payment waits as pending.
func (f *PaymentFactory) FromBatchItem(orgID generic.OrganizationID, tmpl Template, line Line) (rental.Payment, error) {
	status := rental.PaymentPending
	if tmpl.AutoProcess {
		status = rental.PaymentCompleted
	}

	p := rental.Payment{
		ID:             f.newID(),
		OrganizationID: orgID,
		TenantID:       line.TenantID,
		PropertyID:     line.PropertyID,
		UnitID:         line.UnitID,
		Amount:         line.Amount,
		Status:         status,
		PaymentDate:    tmpl.DueDate,
		Description:    tmpl.Description,
		Method:         tmpl.Method,
		CreatedBy:      tmpl.CreatedBy,
		SourceType:     rental.SourceBatch,
		SourceID:       tmpl.BatchID,
		CreatedAt:      f.now().UTC(),
	}
	return p, f.validate(&p)
}

// FromSchedule builds the completed payment for one due schedule, dated now.
func (f *PaymentFactory) FromSchedule(orgID generic.OrganizationID, r Recurrence, now time.Time) (rental.Payment, error) {
	p := rental.Payment{
		ID:             f.newID(),
		OrganizationID: orgID,
		TenantID:       r.TenantID,
		PropertyID:     r.PropertyID,
		UnitID:         r.UnitID,
		Amount:         r.Amount,
		Status:         rental.PaymentCompleted,
		PaymentDate:    now.UTC(),
		Description:    ScheduledDescription(r.Frequency),
		Method:         r.Method,
		CreatedBy:      r.CreatedBy,
		SourceType:     rental.SourceSchedule,
		SourceID:       r.ScheduleID,
		CreatedAt:      f.now().UTC(),
	}
	return p, f.validate(&p)
}

// ScheduledDescription is the description stamped on automated payments.
func ScheduledDescription(freq generic.Frequency) string {
	return fmt.Sprintf("Automated payment - %s", freq)
}

func (f *PaymentFactory) validate(p *rental.Payment) error {
	if p.Method == "" {
		p.Method = rental.MethodBankTransfer
	}

	switch {
	case p.TenantID == "":
		return &generic.ValidationError{Field: "tenant", Reason: "reference is required"}
	case p.PropertyID == "":
		return &generic.ValidationError{Field: "property", Reason: "reference is required"}
	case !p.Amount.IsPositive():
		return &generic.ValidationError{Field: "amount", Reason: fmt.Sprintf("must be positive, got %s", p.Amount)}
	case !p.Method.Valid():
		return &generic.ValidationError{Field: "payment method", Reason: fmt.Sprintf("unknown method %q", p.Method)}
	}
	return nil
}
