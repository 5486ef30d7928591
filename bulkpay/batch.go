/*
Package bulkpay creates and executes bulk payment batches.

PURPOSE:
  A Batch is one bulk-payment operation across many tenants: a filter
  chooses the tenants once, a template says what each payment looks like,
  and each tenant becomes one Item. Executing the batch turns every item
  into a real payment, recording success or failure per item without
  letting one failure stop the others.

LIFECYCLE:
  draft --(StartProcessing)--> processing --(Executor)--> completed | partial | failed

  - draft:      created by CreateBatch, items pending, nothing paid yet
  - processing: claimed by StartProcessing, a queued job is running it
  - completed:  every item succeeded
  - partial:    some succeeded, some failed
  - failed:     nothing succeeded, or the run itself broke down

  Transitions only move forward. The store enforces this with conditional
  updates, so a batch is processed at most once and a terminal status is
  written exactly once.

AMOUNTS:
  TotalAmount is the sum of item amounts when the batch is created and is
  never recomputed, whatever the success/failure mix turns out to be.

SEE ALSO:
  - filter.go: Tenant selection
  - service.go: Create/start/list operations
  - executor.go: Item processing
  - queue.go: Background job handoff
*/
package bulkpay

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rental"
)

// =============================================================================
// ENUMS
// =============================================================================

type BatchType string

const (
	TypeRentCollection BatchType = "rent_collection"
	TypeLateFees       BatchType = "late_fees"
	TypeDeposits       BatchType = "deposits"
	TypeCustom         BatchType = "custom"
)

// Valid reports whether t is a known batch type.
func (t BatchType) Valid() bool {
	switch t {
	case TypeRentCollection, TypeLateFees, TypeDeposits, TypeCustom:
		return true
	}
	return false
}

type Status string

const (
	StatusDraft      Status = "draft"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial"
)

// Valid reports whether s is a known batch status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusProcessing, StatusCompleted, StatusFailed, StatusPartial:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemSuccess    ItemStatus = "success"
	ItemFailed     ItemStatus = "failed"
)

// Done reports whether the item has been attempted.
func (s ItemStatus) Done() bool { return s == ItemSuccess || s == ItemFailed }

// =============================================================================
// BATCH
// =============================================================================

// DateRange bounds a filter. Zero values mean open-ended.
type DateRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Filters select target tenants at creation time. PaymentStatuses and
// DateRange are kept for display; selection uses property and tenant IDs.
type Filters struct {
	PropertyIDs     []string   `json:"property_ids,omitempty"`
	TenantIDs       []string   `json:"tenant_ids,omitempty"`
	PaymentStatuses []string   `json:"payment_statuses,omitempty"`
	DateRange       *DateRange `json:"date_range,omitempty"`
}

// PaymentDetails is the template applied to every item.
type PaymentDetails struct {
	Amount      decimal.NullDecimal  `json:"amount"` // overrides tenant rent when valid
	Description string               `json:"description"`
	Method      rental.PaymentMethod `json:"payment_method"`
	DueDate     time.Time            `json:"due_date"`
	AutoProcess bool                 `json:"auto_process"`
}

// Item is one tenant's payment attempt.
type Item struct {
	Index        int
	TenantID     string
	PropertyID   string
	UnitID       string
	Amount       generic.Money
	Status       ItemStatus
	PaymentID    string
	ErrorMessage string
	ProcessedAt  *time.Time
}

type Summary struct {
	TotalTenants     int
	TotalProperties  int
	AvgPaymentAmount generic.Money
	SuccessRate      decimal.Decimal // percent, 2 decimals
}

type Batch struct {
	ID             string
	OrganizationID generic.OrganizationID
	Name           string
	Type           BatchType
	Status         Status
	Filters        Filters
	Details        PaymentDetails
	Items          []Item

	TotalAmount        generic.Money
	TotalPayments      int
	ProcessedPayments  int
	SuccessfulPayments int
	FailedPayments     int
	Summary            Summary

	CreatedBy           generic.UserID
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ProcessingStarted   *time.Time
	ProcessingCompleted *time.Time
}

// =============================================================================
// MATERIALIZATION
// =============================================================================

// Target is one expanded tenant with its resolved primary unit (may be nil).
type Target struct {
	Tenant rental.Tenant
	Unit   *rental.Unit
}

// Materialize builds the draft batch for the given targets. Item amount is the
// template override when set, otherwise the tenant's rent.
func Materialize(b Batch, targets []Target) Batch {
	b.Status = StatusDraft
	b.Items = make([]Item, 0, len(targets))

	amounts := make([]generic.Money, 0, len(targets))
	properties := make(map[string]struct{})

	for i, t := range targets {
		amount := t.Tenant.RentAmount
		if b.Details.Amount.Valid {
			amount = b.Details.Amount.Decimal
		}

		item := Item{
			Index:      i,
			TenantID:   t.Tenant.ID,
			PropertyID: t.Tenant.PropertyID,
			Amount:     amount,
			Status:     ItemPending,
		}
		if t.Unit != nil {
			item.UnitID = t.Unit.ID
		}

		b.Items = append(b.Items, item)
		amounts = append(amounts, amount)
		properties[item.PropertyID] = struct{}{}
	}

	b.TotalAmount = generic.Sum(amounts)
	b.TotalPayments = len(b.Items)
	b.Summary = Summary{
		TotalTenants:     len(b.Items),
		TotalProperties:  len(properties),
		AvgPaymentAmount: generic.Average(b.TotalAmount, len(b.Items)),
		SuccessRate:      decimal.Zero,
	}
	return b
}

// =============================================================================
// COMPLETION
// =============================================================================

// FinalStatus maps outcome counts to a terminal status.
func FinalStatus(t generic.Tally) Status {
	switch {
	case t.Failed == 0:
		return StatusCompleted
	case t.Succeeded == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Outcomes returns one Result per item; failed and unattempted items carry an error.
func (b *Batch) Outcomes() []generic.Result[Item] {
	results := make([]generic.Result[Item], len(b.Items))
	for i, item := range b.Items {
		results[i] = generic.Result[Item]{Index: i, Value: item}
		if item.Status != ItemSuccess {
			results[i].Err = itemFailure(item)
		}
	}
	return results
}

// Finish writes the aggregate counters and terminal status.
func (b *Batch) Finish(now time.Time) {
	tally := generic.Fold(b.Outcomes(), generic.Tally{}, generic.Count[Item])

	b.ProcessedPayments = len(b.Items)
	b.SuccessfulPayments = tally.Succeeded
	b.FailedPayments = tally.Failed
	b.Summary.SuccessRate = generic.Percentage(tally.Succeeded, b.ProcessedPayments)
	b.Status = FinalStatus(tally)
	b.ProcessingCompleted = &now
	b.UpdatedAt = now
}

// PendingItems returns the items that have not been attempted yet, in order.
func (b *Batch) PendingItems() []Item {
	var pending []Item
	for _, item := range b.Items {
		if !item.Status.Done() {
			pending = append(pending, item)
		}
	}
	return pending
}
