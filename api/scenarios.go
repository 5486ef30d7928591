/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	rental data for demos. Each scenario creates properties, tenants and
	units in the caller's organization; some also create payment schedules.

AVAILABLE SCENARIOS:

	single-property:  One building, three tenants (500 / 750 / 1000)
	invalid-property: Three tenants, the second pointing at a missing property
	multi-property:   Three buildings, inactive and unit-less tenants
	scheduled-rent:   Monthly and installment schedules already due

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create properties
 3. Create tenants and their units
 4. Optionally create schedules through the schedule service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "invalid-property"}

	then create a batch with no filters and process it: the second
	tenant's payment fails and the batch ends partial.

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Batch and schedule endpoints
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/recurring"
	"github.com/warp/rent-engine/rental"
)

// ScenarioStore is what scenario loading needs from the store.
type ScenarioStore interface {
	Reset(ctx context.Context) error
	SaveProperty(ctx context.Context, p rental.Property) error
	SaveTenant(ctx context.Context, t rental.Tenant) error
	SaveUnit(ctx context.Context, u rental.Unit) error
}

var scenarios = []ScenarioDTO{
	{
		ID:          "single-property",
		Name:        "Single Property",
		Description: "Sunset Apartments with three active tenants paying 500, 750 and 1000. A rent batch over everyone totals 2250.",
	},
	{
		ID:          "invalid-property",
		Name:        "Broken Property Reference",
		Description: "Three tenants where the second references a property that no longer exists. Processing a batch ends partial at 66.67%.",
	},
	{
		ID:          "multi-property",
		Name:        "Multiple Properties",
		Description: "Three buildings, seven tenants. One tenant is inactive and one has no unit on file.",
	},
	{
		ID:          "scheduled-rent",
		Name:        "Scheduled Rent",
		Description: "Monthly auto-processed rent schedules already due, a three-part deposit installment plan, and one manual schedule.",
	},
}

// ListScenarios returns all available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, scenarios, "")
}

// LoadScenario resets the database and loads a demo scenario into the
// caller's organization.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Seed == nil {
		writeError(w, http.StatusNotFound, "Scenarios are disabled", "not_found", nil)
		return
	}

	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context, generic.Identity) error
	switch req.ScenarioID {
	case "single-property":
		load = h.loadSinglePropertyScenario
	case "invalid-property":
		load = h.loadInvalidPropertyScenario
	case "multi-property":
		load = h.loadMultiPropertyScenario
	case "scheduled-rent":
		load = h.loadScheduledRentScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", "invalid_request", nil)
		return
	}

	ctx := r.Context()
	if err := h.Seed.Reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	if err := load(ctx, identityFrom(ctx)); err != nil {
		h.fail(w, r, "Failed to load scenario", fmt.Errorf("scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.log.WithField("scenario", req.ScenarioID).Info("Scenario loaded")
	writeSuccess(w, http.StatusOK, map[string]string{"scenarioId": req.ScenarioID}, "Scenario loaded")
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedTenant describes one tenant and the unit they occupy ("" = none).
type seedTenant struct {
	ID         string
	PropertyID string
	Name       string
	Rent       int64
	Unit       string
	Inactive   bool
}

func (h *Handler) seed(ctx context.Context, org generic.OrganizationID, properties []rental.Property, tenants []seedTenant) error {
	now := h.now().UTC()

	for _, p := range properties {
		p.OrganizationID = org
		p.CreatedAt = now
		if err := h.Seed.SaveProperty(ctx, p); err != nil {
			return err
		}
	}

	for _, t := range tenants {
		status := rental.TenantActive
		if t.Inactive {
			status = rental.TenantInactive
		}
		err := h.Seed.SaveTenant(ctx, rental.Tenant{
			ID:             t.ID,
			OrganizationID: org,
			PropertyID:     t.PropertyID,
			Name:           t.Name,
			Email:          t.ID + "@example.com",
			RentAmount:     decimal.NewFromInt(t.Rent),
			Status:         status,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}

		if t.Unit == "" {
			continue
		}
		err = h.Seed.SaveUnit(ctx, rental.Unit{
			ID:             "unit-" + t.ID,
			OrganizationID: org,
			PropertyID:     t.PropertyID,
			TenantID:       t.ID,
			UnitNumber:     t.Unit,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

var sunset = rental.Property{ID: "prop-sunset", Name: "Sunset Apartments", Address: "12 Sunset Blvd"}

func (h *Handler) loadSinglePropertyScenario(ctx context.Context, id generic.Identity) error {
	return h.seed(ctx, id.OrganizationID, []rental.Property{sunset}, []seedTenant{
		{ID: "tenant-alice", PropertyID: sunset.ID, Name: "Alice Moreau", Rent: 500, Unit: "101"},
		{ID: "tenant-bruno", PropertyID: sunset.ID, Name: "Bruno Diaz", Rent: 750, Unit: "102"},
		{ID: "tenant-chen", PropertyID: sunset.ID, Name: "Chen Wei", Rent: 1000, Unit: "201"},
	})
}

func (h *Handler) loadInvalidPropertyScenario(ctx context.Context, id generic.Identity) error {
	return h.seed(ctx, id.OrganizationID, []rental.Property{sunset}, []seedTenant{
		{ID: "tenant-alice", PropertyID: sunset.ID, Name: "Alice Moreau", Rent: 500, Unit: "101"},
		{ID: "tenant-bruno", PropertyID: "prop-demolished", Name: "Bruno Diaz", Rent: 750},
		{ID: "tenant-chen", PropertyID: sunset.ID, Name: "Chen Wei", Rent: 1000, Unit: "201"},
	})
}

func (h *Handler) loadMultiPropertyScenario(ctx context.Context, id generic.Identity) error {
	harbor := rental.Property{ID: "prop-harbor", Name: "Harbor View", Address: "3 Quay Street"}
	elm := rental.Property{ID: "prop-elm", Name: "Elm Court", Address: "88 Elm Road"}

	return h.seed(ctx, id.OrganizationID, []rental.Property{sunset, harbor, elm}, []seedTenant{
		{ID: "tenant-alice", PropertyID: sunset.ID, Name: "Alice Moreau", Rent: 500, Unit: "101"},
		{ID: "tenant-bruno", PropertyID: sunset.ID, Name: "Bruno Diaz", Rent: 750, Unit: "102"},
		{ID: "tenant-dana", PropertyID: harbor.ID, Name: "Dana Okafor", Rent: 1200, Unit: "A1"},
		{ID: "tenant-emil", PropertyID: harbor.ID, Name: "Emil Larsen", Rent: 1150, Unit: "A2"},
		{ID: "tenant-fatima", PropertyID: harbor.ID, Name: "Fatima Noor", Rent: 1100, Unit: "B1", Inactive: true},
		{ID: "tenant-gus", PropertyID: elm.ID, Name: "Gus Petrov", Rent: 900},
		{ID: "tenant-hana", PropertyID: elm.ID, Name: "Hana Sato", Rent: 950, Unit: "2"},
	})
}

func (h *Handler) loadScheduledRentScenario(ctx context.Context, id generic.Identity) error {
	if err := h.loadSinglePropertyScenario(ctx, id); err != nil {
		return err
	}

	// Start two months back so the first due date has already passed
	// whether or not it lands on the start date.
	start := generic.StartOfDay(generic.AddMonthsClamped(h.now().UTC(), -2))
	depositTotal := generic.NewMoney(1500)

	inputs := []recurring.CreateScheduleInput{
		{TenantID: "tenant-alice", Type: recurring.TypeRecurring, Frequency: generic.FrequencyMonthly, StartDate: start, AutoProcess: true,
			Amount: decimal.NewNullDecimal(generic.NewMoney(500))},
		{TenantID: "tenant-bruno", Type: recurring.TypeRecurring, Frequency: generic.FrequencyMonthly, StartDate: start, AutoProcess: true,
			Amount: decimal.NewNullDecimal(generic.NewMoney(750)),
			Reminders: recurring.Reminders{Enabled: true, DaysBefore: []int{3, 1}, Methods: []string{"email"}}},
		{TenantID: "tenant-chen", Type: recurring.TypeInstallment, Frequency: generic.FrequencyMonthly, StartDate: start, AutoProcess: true,
			Installment: &recurring.InstallmentInput{TotalAmount: depositTotal, Installments: 3}},
		{TenantID: "tenant-chen", Type: recurring.TypeRecurring, Frequency: generic.FrequencyMonthly, StartDate: start,
			Amount: decimal.NewNullDecimal(generic.NewMoney(1000))},
	}
	for _, in := range inputs {
		if _, err := h.Schedules.CreateSchedule(ctx, id, in); err != nil {
			return err
		}
	}
	return nil
}
