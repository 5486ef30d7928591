// Package memory provides an in-memory implementation of every store
// interface, with failure injection for tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/rent-engine/bulkpay"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/recurring"
	"github.com/warp/rent-engine/rental"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory mirrors store/sqlite: conditional status transitions, payments
// rejected for unknown tenants or properties, records copied in and out.
type Memory struct {
	mu         sync.RWMutex
	properties map[string]rental.Property
	tenants    map[string]rental.Tenant
	units      map[string]rental.Unit
	payments   []rental.Payment
	batches    map[string]*bulkpay.Batch
	batchOrder []string
	schedules  map[string]*recurring.Schedule
	runs       []recurring.Run

	faults faults
}

type faults struct {
	payments      map[string]error // by tenant ID
	itemUpdates   error
	itemUpdatesAt int // fail from this many successful updates on; 0 = immediately
	itemCount     int
	advances      map[string]error // by schedule ID
	due           error
}

func New() *Memory {
	return &Memory{
		properties: make(map[string]rental.Property),
		tenants:    make(map[string]rental.Tenant),
		units:      make(map[string]rental.Unit),
		batches:    make(map[string]*bulkpay.Batch),
		schedules:  make(map[string]*recurring.Schedule),
		faults: faults{
			payments: make(map[string]error),
			advances: make(map[string]error),
		},
	}
}

// Reset clears all records. Injected faults are kept.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.properties)
	clear(m.tenants)
	clear(m.units)
	clear(m.batches)
	clear(m.schedules)
	m.payments = nil
	m.batchOrder = nil
	m.runs = nil
	return nil
}

// =============================================================================
// FAILURE INJECTION
// =============================================================================

// FailPaymentsFor makes CreatePayment fail with err for the given tenant.
func (m *Memory) FailPaymentsFor(tenantID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults.payments[tenantID] = err
}

// FailItemUpdates makes the UpdateItem call that follows `after` successful
// ones fail with err, once.
func (m *Memory) FailItemUpdates(after int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults.itemUpdates = err
	m.faults.itemUpdatesAt = after
	m.faults.itemCount = 0
}

// FailAdvance makes SaveAdvance fail with err for the given schedule.
func (m *Memory) FailAdvance(scheduleID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults.advances[scheduleID] = err
}

// FailDueSchedules makes DueSchedules fail with err.
func (m *Memory) FailDueSchedules(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults.due = err
}

// =============================================================================
// RENTAL RECORDS
// =============================================================================

func (m *Memory) SaveProperty(_ context.Context, p rental.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[p.ID] = p
	return nil
}

func (m *Memory) SaveTenant(_ context.Context, t rental.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status == "" {
		t.Status = rental.TenantActive
	}
	m.tenants[t.ID] = t
	return nil
}

func (m *Memory) SaveUnit(_ context.Context, u rental.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[u.ID] = u
	return nil
}

func (m *Memory) ListTenants(_ context.Context, orgID generic.OrganizationID, f rental.TenantFilter) ([]rental.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []rental.Tenant
	for _, t := range m.tenants {
		switch {
		case t.OrganizationID != orgID:
		case f.Status != "" && t.Status != f.Status:
		case len(f.PropertyIDs) > 0 && !slices.Contains(f.PropertyIDs, t.PropertyID):
		case len(f.TenantIDs) > 0 && !slices.Contains(f.TenantIDs, t.ID):
		default:
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetTenant(_ context.Context, orgID generic.OrganizationID, id string) (*rental.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok || t.OrganizationID != orgID {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) PrimaryUnitForTenant(_ context.Context, orgID generic.OrganizationID, tenantID string) (*rental.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *rental.Unit
	for _, u := range m.units {
		if u.OrganizationID != orgID || u.TenantID != tenantID {
			continue
		}
		if best == nil || rental.UnitNumberLess(u.UnitNumber, best.UnitNumber) ||
			(u.UnitNumber == best.UnitNumber && u.ID < best.ID) {
			u := u
			best = &u
		}
	}
	return best, nil
}

func (m *Memory) CreatePayment(_ context.Context, p rental.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.faults.payments[p.TenantID]; err != nil {
		return err
	}
	t, ok := m.tenants[p.TenantID]
	if !ok || t.OrganizationID != p.OrganizationID {
		return fmt.Errorf("tenant %s or property %s %w", p.TenantID, p.PropertyID, generic.ErrNotFound)
	}
	if prop, ok := m.properties[p.PropertyID]; !ok || prop.OrganizationID != p.OrganizationID {
		return fmt.Errorf("tenant %s or property %s %w", p.TenantID, p.PropertyID, generic.ErrNotFound)
	}
	m.payments = append(m.payments, p)
	return nil
}

func (m *Memory) PaymentTotals(_ context.Context, orgID generic.OrganizationID, period generic.Period) (rental.PaymentTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := rental.PaymentTotals{Revenue: generic.Zero}
	for _, p := range m.payments {
		if p.OrganizationID != orgID || !period.Contains(p.PaymentDate) {
			continue
		}
		totals.Count++
		if p.Status == rental.PaymentCompleted {
			totals.Completed++
			totals.Revenue = totals.Revenue.Add(p.Amount)
		}
	}
	return totals, nil
}

func (m *Memory) RecentPayments(_ context.Context, orgID generic.OrganizationID, limit int) ([]rental.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []rental.Payment
	for i := len(m.payments) - 1; i >= 0 && len(out) < limit; i-- {
		if m.payments[i].OrganizationID == orgID {
			out = append(out, m.payments[i])
		}
	}
	return out, nil
}

func (m *Memory) PaymentsBySource(_ context.Context, orgID generic.OrganizationID, source rental.SourceType, sourceID string) ([]rental.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []rental.Payment
	for _, p := range m.payments {
		if p.OrganizationID == orgID && p.SourceType == source && p.SourceID == sourceID {
			out = append(out, p)
		}
	}
	return out, nil
}

// Payments returns every stored payment in creation order.
func (m *Memory) Payments() []rental.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.payments)
}

// =============================================================================
// BATCHES (bulkpay.Store)
// =============================================================================

func (m *Memory) CreateBatch(_ context.Context, b bulkpay.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.batches[b.ID]; exists {
		return fmt.Errorf("batch %s already exists: %w", b.ID, generic.ErrConflict)
	}
	c := copyBatch(b)
	m.batches[b.ID] = &c
	m.batchOrder = append(m.batchOrder, b.ID)
	return nil
}

func (m *Memory) GetBatch(_ context.Context, orgID generic.OrganizationID, id string) (*bulkpay.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok || b.OrganizationID != orgID {
		return nil, nil
	}
	c := copyBatch(*b)
	return &c, nil
}

func (m *Memory) ListBatches(_ context.Context, orgID generic.OrganizationID, q bulkpay.ListQuery) ([]bulkpay.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []bulkpay.Batch{}
	for i := len(m.batchOrder) - 1; i >= 0 && len(out) < q.Limit; i-- {
		b := m.batches[m.batchOrder[i]]
		if b.OrganizationID != orgID || (q.Status != "" && b.Status != q.Status) {
			continue
		}
		c := copyBatch(*b)
		c.Items = nil
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) StartBatch(_ context.Context, orgID generic.OrganizationID, id string, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.OrganizationID != orgID || b.Status != bulkpay.StatusDraft {
		return false, nil
	}
	b.Status = bulkpay.StatusProcessing
	b.ProcessingStarted = &startedAt
	b.UpdatedAt = startedAt
	return true, nil
}

func (m *Memory) UpdateItem(_ context.Context, batchID string, item bulkpay.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.faults.itemUpdates != nil {
		if m.faults.itemCount >= m.faults.itemUpdatesAt {
			err := m.faults.itemUpdates
			m.faults.itemUpdates = nil
			return err
		}
		m.faults.itemCount++
	}

	b, ok := m.batches[batchID]
	if !ok || item.Index < 0 || item.Index >= len(b.Items) {
		return fmt.Errorf("item %d of batch %s %w", item.Index, batchID, generic.ErrNotFound)
	}
	b.Items[item.Index] = item
	return nil
}

func (m *Memory) CompleteBatch(_ context.Context, b bulkpay.Batch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.batches[b.ID]
	if !ok || stored.OrganizationID != b.OrganizationID || stored.Status != bulkpay.StatusProcessing {
		return false, nil
	}
	stored.Status = b.Status
	stored.ProcessedPayments = b.ProcessedPayments
	stored.SuccessfulPayments = b.SuccessfulPayments
	stored.FailedPayments = b.FailedPayments
	stored.Summary.SuccessRate = b.Summary.SuccessRate
	stored.ProcessingCompleted = b.ProcessingCompleted
	stored.UpdatedAt = b.UpdatedAt
	return true, nil
}

func (m *Memory) FailBatch(_ context.Context, orgID generic.OrganizationID, id string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.OrganizationID != orgID || b.Status != bulkpay.StatusProcessing {
		return nil
	}
	var succeeded, failed int
	for _, item := range b.Items {
		switch item.Status {
		case bulkpay.ItemSuccess:
			succeeded++
		case bulkpay.ItemFailed:
			failed++
		}
	}
	b.Status = bulkpay.StatusFailed
	b.SuccessfulPayments = succeeded
	b.FailedPayments = failed
	b.ProcessedPayments = succeeded + failed
	b.ProcessingCompleted = &completedAt
	b.UpdatedAt = completedAt
	return nil
}

func (m *Memory) ProcessingBatches(_ context.Context) ([]bulkpay.Ref, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var refs []bulkpay.Ref
	for _, id := range m.batchOrder {
		if b := m.batches[id]; b.Status == bulkpay.StatusProcessing {
			refs = append(refs, bulkpay.Ref{OrganizationID: b.OrganizationID, BatchID: b.ID})
		}
	}
	return refs, nil
}

func copyBatch(b bulkpay.Batch) bulkpay.Batch {
	b.Items = slices.Clone(b.Items)
	return b
}

// =============================================================================
// SCHEDULES (recurring.Store)
// =============================================================================

func (m *Memory) CreateSchedule(_ context.Context, s recurring.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.schedules[s.ID]; exists {
		return fmt.Errorf("schedule %s already exists: %w", s.ID, generic.ErrConflict)
	}
	c := copySchedule(s)
	m.schedules[s.ID] = &c
	return nil
}

func (m *Memory) GetSchedule(_ context.Context, orgID generic.OrganizationID, id string) (*recurring.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok || s.OrganizationID != orgID {
		return nil, nil
	}
	c := copySchedule(*s)
	return &c, nil
}

func (m *Memory) ListSchedules(_ context.Context, orgID generic.OrganizationID, q recurring.ListQuery) ([]recurring.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.selectSchedules(func(s *recurring.Schedule) bool {
		return s.OrganizationID == orgID &&
			(q.TenantID == "" || s.TenantID == q.TenantID) &&
			(q.Status == "" || s.Status == q.Status)
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) DueSchedules(_ context.Context, orgID generic.OrganizationID, now time.Time) ([]recurring.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.faults.due != nil {
		return nil, m.faults.due
	}
	return m.selectSchedules(func(s *recurring.Schedule) bool {
		return s.OrganizationID == orgID && s.Due(now)
	}), nil
}

func (m *Memory) OrganizationsWithDueSchedules(_ context.Context, now time.Time) ([]generic.OrganizationID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[generic.OrganizationID]bool)
	var orgs []generic.OrganizationID
	for _, s := range m.schedules {
		if s.Due(now) && !seen[s.OrganizationID] {
			seen[s.OrganizationID] = true
			orgs = append(orgs, s.OrganizationID)
		}
	}
	slices.Sort(orgs)
	return orgs, nil
}

func (m *Memory) SaveAdvance(_ context.Context, s recurring.Schedule, entry recurring.ProcessedPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faults.advances[s.ID]; err != nil {
		return err
	}
	stored, ok := m.schedules[s.ID]
	if !ok || stored.OrganizationID != s.OrganizationID {
		return recurring.ErrScheduleNotFound
	}
	stored.NextDueDate = s.NextDueDate
	if s.Status == recurring.StatusCompleted {
		stored.Status = recurring.StatusCompleted
	}
	if s.InstallmentPlan != nil {
		plan := *s.InstallmentPlan
		stored.InstallmentPlan = &plan
	}
	stored.ProcessedPayments = append(stored.ProcessedPayments, entry)
	stored.UpdatedAt = s.UpdatedAt
	return nil
}

func (m *Memory) CountActiveSchedules(_ context.Context, orgID generic.OrganizationID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.schedules {
		if s.OrganizationID == orgID && s.Status == recurring.StatusActive {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveRun(_ context.Context, r recurring.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == r.ID {
			m.runs[i] = r
			return nil
		}
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, orgID generic.OrganizationID, limit int) ([]recurring.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []recurring.Run{}
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.runs[i].OrganizationID == orgID {
			out = append(out, m.runs[i])
		}
	}
	return out, nil
}

// selectSchedules returns copies of matching schedules, soonest due first.
func (m *Memory) selectSchedules(match func(*recurring.Schedule) bool) []recurring.Schedule {
	out := []recurring.Schedule{}
	for _, s := range m.schedules {
		if match(s) {
			out = append(out, copySchedule(*s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextDueDate.Equal(out[j].NextDueDate) {
			return out[i].NextDueDate.Before(out[j].NextDueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func copySchedule(s recurring.Schedule) recurring.Schedule {
	s.ProcessedPayments = slices.Clone(s.ProcessedPayments)
	if s.InstallmentPlan != nil {
		plan := *s.InstallmentPlan
		s.InstallmentPlan = &plan
	}
	return s
}
