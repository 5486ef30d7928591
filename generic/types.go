/*
Package generic provides the domain-agnostic building blocks of the payment engine.

PURPOSE:
  Types and algorithms that the bulk-payment and recurring-payment packages
  share but that know nothing about tenants, batches or schedules: money
  arithmetic, identifiers, calendar-aware recurrence, and per-item result
  collection.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount (never float64 inside the engine)
  - Identifiers: Type-safe organization/user/record IDs
  - NewID: uuid-based identifier generation

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing org/user IDs
  3. Rounding happens once, at the edge (summary figures), never mid-sum

USAGE:
  total := generic.Sum([]generic.Money{generic.NewMoney(500), generic.NewMoney(750)})
  avg := generic.Average(total, 2) // 625.00

SEE ALSO:
  - recurrence.go: Frequency and NextDueDate
  - result.go: Collect/Fold for failure-isolated processing
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount
// =============================================================================

// Money is an amount in the organization's currency.
type Money = decimal.Decimal

// Zero is the zero amount.
var Zero = decimal.Zero

var hundred = decimal.NewFromInt(100)

// NewMoney converts a float (typically from a JSON request) to Money.
func NewMoney(value float64) Money {
	return decimal.NewFromFloat(value)
}

// MustParseMoney parses a decimal string, returning zero on malformed input.
// Used when reading values the engine itself wrote.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Sum adds all amounts.
func Sum(amounts []Money) Money {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Average divides total by n, rounded to cents. Returns zero when n is zero.
func Average(total Money, n int) Money {
	if n == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(n))).Round(2)
}

// Percentage returns part/whole*100 rounded to two decimals, zero when whole is zero.
func Percentage(part, whole int) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Mul(hundred).Div(decimal.NewFromInt(int64(whole))).Round(2)
}

// ToFloat converts an amount for JSON responses.
func ToFloat(m Money) float64 {
	f, _ := m.Float64()
	return f
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrganizationID string
type UserID string

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// Identity is the caller context supplied by the upstream authentication layer.
type Identity struct {
	OrganizationID OrganizationID
	UserID         UserID
}
