/*
scenarios_test.go - Tests for demo scenario loading

Tests for:
- Listing and loading every scenario
- Unknown scenarios and disabled scenario loading
- Scenario data driving batches and scheduled runs end to end
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_List(t *testing.T) {
	s := setupTestServer(t)

	code, env := s.do(http.MethodGet, "/api/scenarios/", nil)
	require.Equal(t, http.StatusOK, code)

	list := decodeData[[]ScenarioDTO](t, env)
	require.Len(t, list, 4)
	ids := make([]string, len(list))
	for i, sc := range list {
		ids[i] = sc.ID
		assert.NotEmpty(t, sc.Name)
		assert.NotEmpty(t, sc.Description)
	}
	assert.Equal(t, []string{"single-property", "invalid-property", "multi-property", "scheduled-rent"}, ids)
}

func TestScenarios_LoadEach(t *testing.T) {
	tests := []struct {
		id      string
		tenants int
	}{
		{"single-property", 3},
		{"invalid-property", 3},
		{"multi-property", 6},
		{"scheduled-rent", 3},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			s := setupTestServer(t)

			code, env := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: tt.id})
			require.Equal(t, http.StatusOK, code, env.Error)
			assert.Equal(t, "Scenario loaded", env.Message)

			// Inactive tenants are never batch targets.
			batch := s.createBatch(rentBatch(BatchFiltersDTO{}))
			assert.Len(t, batch.Items, tt.tenants)
		})
	}
}

func TestScenarios_LoadResetsPreviousData(t *testing.T) {
	s := setupTestServer(t)
	s.loadScenario("multi-property")
	s.createBatch(rentBatch(BatchFiltersDTO{}))

	s.loadScenario("single-property")

	_, env := s.do(http.MethodGet, "/api/bulk-payment/batches", nil)
	assert.Empty(t, decodeData[[]BatchDTO](t, env))

	batch := s.createBatch(rentBatch(BatchFiltersDTO{}))
	assert.Equal(t, 2250.0, batch.TotalAmount)
}

func TestScenarios_MultiPropertyFilters(t *testing.T) {
	// GIVEN: Three buildings; Gus at Elm Court has no unit
	// WHEN: Filtering a batch to Elm Court
	// THEN: Both Elm tenants are targeted, Gus without a unit

	s := setupTestServer(t)
	s.loadScenario("multi-property")

	batch := s.createBatch(rentBatch(BatchFiltersDTO{PropertyIDs: []string{"prop-elm"}}))
	require.Len(t, batch.Items, 2)
	assert.Equal(t, "tenant-gus", batch.Items[0].TenantID)
	assert.Empty(t, batch.Items[0].UnitID)
	assert.Equal(t, "unit-tenant-hana", batch.Items[1].UnitID)
	assert.Equal(t, 1850.0, batch.TotalAmount)
	assert.Equal(t, 1, batch.Summary.TotalProperties)
}

func TestScenarios_ScheduledRentIsDue(t *testing.T) {
	// GIVEN: The scheduled-rent scenario (three auto schedules due, one manual)
	// WHEN: Running due schedules
	// THEN: Three payments, the manual schedule is left alone

	s := setupTestServer(t)
	s.loadScenario("scheduled-rent")

	_, env := s.do(http.MethodGet, "/api/bulk-payment/schedules", nil)
	require.Len(t, decodeData[[]ScheduleDTO](t, env), 4)

	code, env := s.do(http.MethodPost, "/api/bulk-payment/process-scheduled", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	result := decodeData[ProcessScheduledDTO](t, env)
	assert.Equal(t, 3, result.Count)

	var total float64
	for _, p := range result.ProcessedPayments {
		total += p.Amount
	}
	assert.Equal(t, 1750.0, total, "500 + 750 + first deposit installment of 500")

	_, env = s.do(http.MethodGet, "/api/bulk-payment/analytics?period=all", nil)
	assert.Equal(t, 4, decodeData[AnalyticsDTO](t, env).ActiveSchedules, "installment plan still has two parts to go")

	// The manual schedule stays untouched.
	_, env = s.do(http.MethodGet, "/api/bulk-payment/schedules?tenantId=tenant-chen", nil)
	for _, sched := range decodeData[[]ScheduleDTO](t, env) {
		if !sched.AutoProcess {
			assert.Empty(t, sched.ProcessedPayments)
		}
	}
}

func TestScenarios_Errors(t *testing.T) {
	s := setupTestServer(t)

	code, env := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nonexistent"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", env.Code)

	code, env = s.do(http.MethodPost, "/api/scenarios/load", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
	require.Len(t, env.Details, 1)
	assert.Equal(t, "scenarioId", env.Details[0].Field)
}

func TestScenarios_DisabledWithoutSeedStore(t *testing.T) {
	s := setupTestServer(t)
	s.handler.Seed = nil

	code, env := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "single-property"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Code)

	code, _ = s.do(http.MethodGet, "/api/scenarios/", nil)
	assert.Equal(t, http.StatusOK, code, "listing stays available")
}
