package bulkpay

import (
	"context"
	"fmt"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rental"
)

// ExpandFilters resolves a batch filter to its target tenants: active tenants
// of the organization, narrowed by property IDs and tenant IDs when given.
// Targets come back ordered by tenant ID. An empty result is not an error.
func ExpandFilters(ctx context.Context, tenants rental.TenantStore, units rental.UnitStore, orgID generic.OrganizationID, f Filters) ([]Target, error) {
	matched, err := tenants.ListTenants(ctx, orgID, rental.TenantFilter{
		PropertyIDs: f.PropertyIDs,
		TenantIDs:   f.TenantIDs,
		Status:      rental.TenantActive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	targets := make([]Target, 0, len(matched))
	for _, t := range matched {
		unit, err := units.PrimaryUnitForTenant(ctx, orgID, t.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve unit for tenant %s: %w", t.ID, err)
		}
		targets = append(targets, Target{Tenant: t, Unit: unit})
	}
	return targets, nil
}
