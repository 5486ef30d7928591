package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/rental"
)

// =============================================================================
// PROPERTIES
// =============================================================================

// SaveProperty inserts or updates a property.
func (s *Store) SaveProperty(ctx context.Context, p rental.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO properties (id, organization_id, name, address, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.OrganizationID, p.Name, p.Address, formatTime(createdOrNow(p.CreatedAt)),
	)
	return err
}

// =============================================================================
// TENANTS (rental.TenantStore)
// =============================================================================

// SaveTenant inserts or updates a tenant.
func (s *Store) SaveTenant(ctx context.Context, t rental.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := t.Status
	if status == "" {
		status = rental.TenantActive
	}

	query := `
		INSERT INTO tenants (id, organization_id, property_id, name, email, rent_amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			property_id = excluded.property_id,
			name = excluded.name,
			email = excluded.email,
			rent_amount = excluded.rent_amount,
			status = excluded.status
	`

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.OrganizationID, t.PropertyID, t.Name, t.Email,
		t.RentAmount.String(), status, formatTime(createdOrNow(t.CreatedAt)),
	)
	return err
}

// ListTenants returns tenants matching the filter, ordered by ID.
func (s *Store) ListTenants(ctx context.Context, orgID generic.OrganizationID, f rental.TenantFilter) ([]rental.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"organization_id = ?"}
	args := []any{orgID}

	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if len(f.PropertyIDs) > 0 {
		clause, in := inClause("property_id", f.PropertyIDs)
		where = append(where, clause)
		args = append(args, in...)
	}
	if len(f.TenantIDs) > 0 {
		clause, in := inClause("id", f.TenantIDs)
		where = append(where, clause)
		args = append(args, in...)
	}

	query := `
		SELECT id, organization_id, property_id, name, email, rent_amount, status, created_at
		FROM tenants
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []rental.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// GetTenant retrieves a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, orgID generic.OrganizationID, id string) (*rental.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, property_id, name, email, rent_amount, status, created_at
		FROM tenants
		WHERE organization_id = ? AND id = ?
	`, orgID, id)

	t, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (rental.Tenant, error) {
	var (
		t          rental.Tenant
		email      sql.NullString
		rentAmount string
		createdAt  string
	)
	if err := row.Scan(&t.ID, &t.OrganizationID, &t.PropertyID, &t.Name, &email, &rentAmount, &t.Status, &createdAt); err != nil {
		return t, err
	}
	t.Email = email.String
	t.RentAmount = parseMoney(rentAmount)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// =============================================================================
// UNITS (rental.UnitStore)
// =============================================================================

// SaveUnit inserts or updates a unit.
func (s *Store) SaveUnit(ctx context.Context, u rental.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO units (id, organization_id, property_id, tenant_id, unit_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			property_id = excluded.property_id,
			tenant_id = excluded.tenant_id,
			unit_number = excluded.unit_number
	`

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.OrganizationID, u.PropertyID, nullString(u.TenantID), u.UnitNumber,
		formatTime(createdOrNow(u.CreatedAt)),
	)
	return err
}

// PrimaryUnitForTenant returns the tenant's unit with the lowest unit number.
// All-digit unit numbers sort by value ahead of the others, matching
// rental.UnitNumberLess.
func (s *Store) PrimaryUnitForTenant(ctx context.Context, orgID generic.OrganizationID, tenantID string) (*rental.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		u         rental.Unit
		tenant    sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, property_id, tenant_id, unit_number, created_at
		FROM units
		WHERE organization_id = ? AND tenant_id = ?
		ORDER BY (unit_number = '' OR unit_number GLOB '*[^0-9]*'),
			CASE WHEN unit_number <> '' AND unit_number NOT GLOB '*[^0-9]*'
				THEN CAST(unit_number AS INTEGER) END,
			unit_number, id
		LIMIT 1
	`, orgID, tenantID).Scan(&u.ID, &u.OrganizationID, &u.PropertyID, &tenant, &u.UnitNumber, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.TenantID = tenant.String
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// =============================================================================
// PAYMENTS (rental.PaymentStore)
// =============================================================================

// CreatePayment inserts a payment. The tenant and property must both belong
// to the payment's organization; anything else is ErrNotFound. The foreign
// keys back this up for references that do not exist at all.
func (s *Store) CreatePayment(ctx context.Context, p rental.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owned int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM tenants WHERE id = ? AND organization_id = ?) +
			(SELECT COUNT(*) FROM properties WHERE id = ? AND organization_id = ?)
	`, p.TenantID, p.OrganizationID, p.PropertyID, p.OrganizationID).Scan(&owned)
	if err != nil {
		return fmt.Errorf("failed to check payment references: %w", err)
	}
	if owned != 2 {
		return fmt.Errorf("tenant %s or property %s %w", p.TenantID, p.PropertyID, generic.ErrNotFound)
	}

	query := `
		INSERT INTO payments (id, organization_id, tenant_id, property_id, unit_id, amount, status,
			payment_date, description, payment_method, created_by, source_type, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.OrganizationID, p.TenantID, p.PropertyID, nullString(p.UnitID),
		p.Amount.String(), p.Status, formatTime(p.PaymentDate), p.Description, p.Method,
		p.CreatedBy, p.SourceType, p.SourceID, formatTime(createdOrNow(p.CreatedAt)),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("tenant %s or property %s %w", p.TenantID, p.PropertyID, generic.ErrNotFound)
	}
	if isUniqueConstraintError(err) {
		return fmt.Errorf("payment %s already exists: %w", p.ID, generic.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// PaymentTotals sums payments dated within the period. Amounts are added as
// decimals in Go; SQLite would sum the TEXT column as floating point.
func (s *Store) PaymentTotals(ctx context.Context, orgID generic.OrganizationID, period generic.Period) (rental.PaymentTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT status, amount FROM payments WHERE organization_id = ? AND payment_date < ?"
	args := []any{orgID, formatTime(period.End)}
	if !period.Unbounded() {
		query += " AND payment_date >= ?"
		args = append(args, formatTime(period.Start))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return rental.PaymentTotals{}, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	totals := rental.PaymentTotals{Revenue: generic.Zero}
	for rows.Next() {
		var status, amount string
		if err := rows.Scan(&status, &amount); err != nil {
			return rental.PaymentTotals{}, err
		}
		totals.Count++
		if rental.PaymentStatus(status) == rental.PaymentCompleted {
			totals.Completed++
			totals.Revenue = totals.Revenue.Add(parseMoney(amount))
		}
	}
	return totals, rows.Err()
}

// RecentPayments returns the most recently created payments first.
func (s *Store) RecentPayments(ctx context.Context, orgID generic.OrganizationID, limit int) ([]rental.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE organization_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	return scanPayments(rows)
}

// PaymentsBySource returns the payments created by one batch or schedule, oldest first.
func (s *Store) PaymentsBySource(ctx context.Context, orgID generic.OrganizationID, source rental.SourceType, sourceID string) ([]rental.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE organization_id = ? AND source_type = ? AND source_id = ?
		ORDER BY created_at, rowid
	`, orgID, source, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	return scanPayments(rows)
}

const paymentColumns = `id, organization_id, tenant_id, property_id, unit_id, amount, status,
			payment_date, description, payment_method, created_by, source_type, source_id, created_at`

func scanPayments(rows *sql.Rows) ([]rental.Payment, error) {
	var payments []rental.Payment
	for rows.Next() {
		var (
			p                              rental.Payment
			unitID, description, createdBy sql.NullString
			amount, paymentDate, createdAt string
		)
		if err := rows.Scan(
			&p.ID, &p.OrganizationID, &p.TenantID, &p.PropertyID, &unitID, &amount, &p.Status,
			&paymentDate, &description, &p.Method, &createdBy, &p.SourceType, &p.SourceID, &createdAt,
		); err != nil {
			return nil, err
		}
		p.UnitID = unitID.String
		p.Amount = parseMoney(amount)
		p.PaymentDate = parseTime(paymentDate)
		p.Description = description.String
		p.CreatedBy = generic.UserID(createdBy.String)
		p.CreatedAt = parseTime(createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func createdOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
