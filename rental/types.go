/*
Package rental holds the records the payment engine reads and writes but does not own.

PURPOSE:
  Tenants, properties and units are managed elsewhere in the product; the
  engine only queries them. Payments are owned by the payments subsystem;
  the engine only creates them. This package defines those shapes and the
  store interfaces through which the engine reaches them.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - store/memory: In-memory store for tests

SEE ALSO:
  - factory/payment.go: Builds Payment records
  - bulkpay/filter.go: Queries tenants
*/
package rental

import (
	"strings"
	"time"

	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// TENANTS, PROPERTIES, UNITS
// =============================================================================

type TenantStatus string

const (
	TenantActive   TenantStatus = "active"
	TenantInactive TenantStatus = "inactive"
)

type Tenant struct {
	ID             string
	OrganizationID generic.OrganizationID
	PropertyID     string
	Name           string
	Email          string
	RentAmount     generic.Money
	Status         TenantStatus
	CreatedAt      time.Time
}

type Property struct {
	ID             string
	OrganizationID generic.OrganizationID
	Name           string
	Address        string
	CreatedAt      time.Time
}

type Unit struct {
	ID             string
	OrganizationID generic.OrganizationID
	PropertyID     string
	TenantID       string // empty = vacant
	UnitNumber     string
	CreatedAt      time.Time
}

// UnitNumberLess orders unit numbers: all-digit numbers by value ("9" before
// "10"), then everything else lexically. Equal values fall back to the raw
// string, so "007" sorts before "7".
func UnitNumberLess(a, b string) bool {
	an, bn := isDigits(a), isDigits(b)
	switch {
	case an && !bn:
		return true
	case !an && bn:
		return false
	case an && bn:
		at, bt := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(at) != len(bt) {
			return len(at) < len(bt)
		}
		if at != bt {
			return at < bt
		}
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// TenantFilter narrows a tenant query. Empty slices do not restrict.
type TenantFilter struct {
	PropertyIDs []string
	TenantIDs   []string
	Status      TenantStatus
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
	MethodCheck        PaymentMethod = "check"
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodACH          PaymentMethod = "ach"
	MethodOnline       PaymentMethod = "online"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBankTransfer, MethodCash, MethodCheck, MethodCreditCard, MethodACH, MethodOnline:
		return true
	}
	return false
}

// SourceType says which engine component created a payment.
type SourceType string

const (
	SourceBatch    SourceType = "batch"
	SourceSchedule SourceType = "schedule"
)

type Payment struct {
	ID             string
	OrganizationID generic.OrganizationID
	TenantID       string
	PropertyID     string
	UnitID         string
	Amount         generic.Money
	Status         PaymentStatus
	PaymentDate    time.Time
	Description    string
	Method         PaymentMethod
	CreatedBy      generic.UserID
	SourceType     SourceType
	SourceID       string
	CreatedAt      time.Time
}

// PaymentTotals is the rollup of payments in a window.
type PaymentTotals struct {
	Count     int // all payments
	Completed int
	Revenue   generic.Money // completed payments only
}
