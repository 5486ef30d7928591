package rental

import (
	"context"

	"github.com/warp/rent-engine/generic"
)

// TenantStore queries tenants. Results are ordered by tenant ID.
type TenantStore interface {
	ListTenants(ctx context.Context, orgID generic.OrganizationID, filter TenantFilter) ([]Tenant, error)

	// GetTenant returns nil, nil when the tenant does not exist in the organization.
	GetTenant(ctx context.Context, orgID generic.OrganizationID, id string) (*Tenant, error)
}

// UnitStore looks up units.
type UnitStore interface {
	// PrimaryUnitForTenant returns the tenant's unit with the lowest unit number
	// (see UnitNumberLess), or nil, nil if the tenant occupies none.
	PrimaryUnitForTenant(ctx context.Context, orgID generic.OrganizationID, tenantID string) (*Unit, error)
}

// PaymentStore persists payments. CreatePayment fails with ErrNotFound when
// the tenant or property does not exist in the payment's organization.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p Payment) error
	PaymentTotals(ctx context.Context, orgID generic.OrganizationID, period generic.Period) (PaymentTotals, error)
	RecentPayments(ctx context.Context, orgID generic.OrganizationID, limit int) ([]Payment, error)

	// PaymentsBySource returns the payments one batch or schedule created, oldest first.
	PaymentsBySource(ctx context.Context, orgID generic.OrganizationID, source SourceType, sourceID string) ([]Payment, error)
}
