/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  rental.TenantStore:  Tenant lookups and filter expansion
  rental.UnitStore:    Primary unit resolution
  rental.PaymentStore: Payment creation and rollups
  bulkpay.Store:       Batches and their items
  recurring.Store:     Schedules, payment logs and run records

STATUS TRANSITIONS:
  Every status write is a conditional UPDATE (... WHERE status = 'draft',
  ... WHERE status = 'processing'). A transition that lost the race affects
  zero rows and is reported to the caller instead of overwriting.

REFERENTIAL INTEGRITY:
  Foreign keys are on. A payment whose tenant or property does not exist
  is rejected by the database, which is how invalid batch items fail.

KEY TABLES:
  tenants, properties, units: Records owned by the rest of the product
  payments:                   Created by batches and schedules
  batches, batch_items:       Bulk payment operations
  schedules:                  Recurring obligations
  schedule_payments:          Append-only payment log per schedule
  schedule_runs:              Audit of periodic runs

DATES:
  Stored as RFC3339 TEXT in UTC, so lexical comparison is chronological.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, which also
  keeps ":memory:" databases shared. Never query while rows are open.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better crash recovery.

USAGE:
  store, err := sqlite.New("./data/rent.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/rent-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Records owned by the rest of the product
	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		address TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		rent_amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL
	);

	-- Filter expansion (hot path for batch creation)
	CREATE INDEX IF NOT EXISTS idx_tenants_org_status
		ON tenants(organization_id, status, property_id);

	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		tenant_id TEXT,
		unit_number TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_units_tenant
		ON units(organization_id, tenant_id, unit_number);

	-- Payments (created by batches and schedules)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		property_id TEXT NOT NULL REFERENCES properties(id),
		unit_id TEXT,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		description TEXT,
		payment_method TEXT NOT NULL,
		created_by TEXT,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_org_date
		ON payments(organization_id, payment_date);
	CREATE INDEX IF NOT EXISTS idx_payments_org_created
		ON payments(organization_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_payments_source
		ON payments(source_type, source_id);

	-- Batches
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		batch_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		filters_json TEXT NOT NULL,
		details_json TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		total_payments INTEGER NOT NULL DEFAULT 0,
		processed_payments INTEGER NOT NULL DEFAULT 0,
		successful_payments INTEGER NOT NULL DEFAULT 0,
		failed_payments INTEGER NOT NULL DEFAULT 0,
		total_tenants INTEGER NOT NULL DEFAULT 0,
		total_properties INTEGER NOT NULL DEFAULT 0,
		avg_payment_amount TEXT NOT NULL DEFAULT '0',
		success_rate TEXT NOT NULL DEFAULT '0',
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		processing_started TEXT,
		processing_completed TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_batches_org_created
		ON batches(organization_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_batches_status
		ON batches(status);

	CREATE TABLE IF NOT EXISTS batch_items (
		batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		tenant_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		unit_id TEXT,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_id TEXT,
		error_message TEXT,
		processed_at TEXT,
		PRIMARY KEY (batch_id, idx)
	);

	-- Schedules
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		unit_id TEXT,
		schedule_type TEXT NOT NULL,
		frequency TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		next_due_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		auto_process BOOLEAN NOT NULL DEFAULT FALSE,
		reminders_json TEXT,
		installment_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Due selection (hot path for the periodic run)
	CREATE INDEX IF NOT EXISTS idx_schedules_due
		ON schedules(organization_id, status, auto_process, next_due_date);
	CREATE INDEX IF NOT EXISTS idx_schedules_tenant
		ON schedules(organization_id, tenant_id);

	CREATE TABLE IF NOT EXISTS schedule_payments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		schedule_id TEXT NOT NULL REFERENCES schedules(id) ON DELETE CASCADE,
		payment_id TEXT NOT NULL,
		processed_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_schedule_payments_schedule
		ON schedule_payments(schedule_id, seq);

	-- Periodic run audit
	CREATE TABLE IF NOT EXISTS schedule_runs (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		processed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_schedule_runs_org
		ON schedule_runs(organization_id, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"schedule_runs", "schedule_payments", "schedules",
		"batch_items", "batches", "payments",
		"units", "tenants", "properties",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a database transaction. Callers hold the write lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseMoney(s string) generic.Money {
	return generic.MustParseMoney(s)
}

// inClause returns "col IN (?, ?, ...)" and its arguments.
func inClause(col string, values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return col + " IN (" + strings.Join(marks, ", ") + ")", args
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
