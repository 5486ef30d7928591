package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/rent-engine/bulkpay"
	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// BATCH STORE (bulkpay.Store)
// =============================================================================

// CreateBatch inserts the batch and all its items in one transaction.
func (s *Store) CreateBatch(ctx context.Context, b bulkpay.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtersJSON, err := json.Marshal(b.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}
	detailsJSON, err := json.Marshal(b.Details)
	if err != nil {
		return fmt.Errorf("failed to encode payment details: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batches (id, organization_id, name, batch_type, status, filters_json, details_json,
				total_amount, total_payments, processed_payments, successful_payments, failed_payments,
				total_tenants, total_properties, avg_payment_amount, success_rate,
				created_by, created_at, updated_at, processing_started, processing_completed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			b.ID, b.OrganizationID, b.Name, b.Type, b.Status, string(filtersJSON), string(detailsJSON),
			b.TotalAmount.String(), b.TotalPayments, b.ProcessedPayments, b.SuccessfulPayments, b.FailedPayments,
			b.Summary.TotalTenants, b.Summary.TotalProperties, b.Summary.AvgPaymentAmount.String(), b.Summary.SuccessRate.String(),
			b.CreatedBy, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
			formatTimePtr(b.ProcessingStarted), formatTimePtr(b.ProcessingCompleted),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("batch %s already exists: %w", b.ID, generic.ErrConflict)
			}
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO batch_items (batch_id, idx, tenant_id, property_id, unit_id, amount, status,
				payment_id, error_message, processed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare item insert: %w", err)
		}
		defer stmt.Close()

		for _, item := range b.Items {
			if _, err := stmt.ExecContext(ctx,
				b.ID, item.Index, item.TenantID, item.PropertyID, nullString(item.UnitID),
				item.Amount.String(), item.Status, nullString(item.PaymentID), nullString(item.ErrorMessage),
				formatTimePtr(item.ProcessedAt),
			); err != nil {
				return fmt.Errorf("failed to insert item %d: %w", item.Index, err)
			}
		}
		return nil
	})
}

const batchColumns = `
	id, organization_id, name, batch_type, status, filters_json, details_json,
	total_amount, total_payments, processed_payments, successful_payments, failed_payments,
	total_tenants, total_properties, avg_payment_amount, success_rate,
	created_by, created_at, updated_at, processing_started, processing_completed
`

// GetBatch retrieves a batch with its items, ordered by index.
func (s *Store) GetBatch(ctx context.Context, orgID generic.OrganizationID, id string) (*bulkpay.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+batchColumns+" FROM batches WHERE organization_id = ? AND id = ?",
		orgID, id,
	)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := s.loadItems(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Items = items
	return &b, nil
}

func (s *Store) loadItems(ctx context.Context, batchID string) ([]bulkpay.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, tenant_id, property_id, unit_id, amount, status, payment_id, error_message, processed_at
		FROM batch_items
		WHERE batch_id = ?
		ORDER BY idx
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []bulkpay.Item{}
	for rows.Next() {
		var (
			item                            bulkpay.Item
			unitID, paymentID, errorMessage sql.NullString
			processedAt                     sql.NullString
			amount                          string
		)
		if err := rows.Scan(
			&item.Index, &item.TenantID, &item.PropertyID, &unitID, &amount, &item.Status,
			&paymentID, &errorMessage, &processedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.UnitID = unitID.String
		item.Amount = parseMoney(amount)
		item.PaymentID = paymentID.String
		item.ErrorMessage = errorMessage.String
		item.ProcessedAt = parseTimePtr(processedAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListBatches returns batches without items, most recent first.
func (s *Store) ListBatches(ctx context.Context, orgID generic.OrganizationID, q bulkpay.ListQuery) ([]bulkpay.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + batchColumns + " FROM batches WHERE organization_id = ?"
	args := []any{orgID}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, q.Status)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	batches := []bulkpay.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanBatch(row scanner) (bulkpay.Batch, error) {
	var (
		b                                   bulkpay.Batch
		filtersJSON, detailsJSON            string
		totalAmount, avgAmount, successRate string
		createdBy                           sql.NullString
		createdAt, updatedAt                string
		started, completed                  sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.OrganizationID, &b.Name, &b.Type, &b.Status, &filtersJSON, &detailsJSON,
		&totalAmount, &b.TotalPayments, &b.ProcessedPayments, &b.SuccessfulPayments, &b.FailedPayments,
		&b.Summary.TotalTenants, &b.Summary.TotalProperties, &avgAmount, &successRate,
		&createdBy, &createdAt, &updatedAt, &started, &completed,
	)
	if err != nil {
		return b, err
	}

	if err := json.Unmarshal([]byte(filtersJSON), &b.Filters); err != nil {
		return b, fmt.Errorf("failed to decode filters of batch %s: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(detailsJSON), &b.Details); err != nil {
		return b, fmt.Errorf("failed to decode payment details of batch %s: %w", b.ID, err)
	}
	b.TotalAmount = parseMoney(totalAmount)
	b.Summary.AvgPaymentAmount = parseMoney(avgAmount)
	b.Summary.SuccessRate = parseMoney(successRate)
	b.CreatedBy = generic.UserID(createdBy.String)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	b.ProcessingStarted = parseTimePtr(started)
	b.ProcessingCompleted = parseTimePtr(completed)
	return b, nil
}

// StartBatch moves a draft batch to processing.
func (s *Store) StartBatch(ctx context.Context, orgID generic.OrganizationID, id string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET status = 'processing', processing_started = ?, updated_at = ?
		WHERE organization_id = ? AND id = ? AND status = 'draft'
	`, formatTime(startedAt), formatTime(startedAt), orgID, id)
	if err != nil {
		return false, fmt.Errorf("failed to start batch: %w", err)
	}
	return affected(res)
}

// UpdateItem writes one item's outcome.
func (s *Store) UpdateItem(ctx context.Context, batchID string, item bulkpay.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_items
		SET status = ?, payment_id = ?, error_message = ?, processed_at = ?
		WHERE batch_id = ? AND idx = ?
	`, item.Status, nullString(item.PaymentID), nullString(item.ErrorMessage), formatTimePtr(item.ProcessedAt),
		batchID, item.Index)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("item %d of batch %s %w", item.Index, batchID, generic.ErrNotFound)
	}
	return nil
}

// CompleteBatch writes the aggregates and terminal status of a processing batch.
func (s *Store) CompleteBatch(ctx context.Context, b bulkpay.Batch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET status = ?, processed_payments = ?, successful_payments = ?, failed_payments = ?,
			success_rate = ?, processing_completed = ?, updated_at = ?
		WHERE organization_id = ? AND id = ? AND status = 'processing'
	`, b.Status, b.ProcessedPayments, b.SuccessfulPayments, b.FailedPayments,
		b.Summary.SuccessRate.String(), formatTimePtr(b.ProcessingCompleted), formatTime(b.UpdatedAt),
		b.OrganizationID, b.ID)
	if err != nil {
		return false, fmt.Errorf("failed to complete batch: %w", err)
	}
	return affected(res)
}

// FailBatch marks a processing batch failed. Counters reflect the items that
// reached an outcome before the failure; other items are left as they are.
func (s *Store) FailBatch(ctx context.Context, orgID generic.OrganizationID, id string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET status = 'failed',
			successful_payments = (SELECT COUNT(*) FROM batch_items WHERE batch_id = batches.id AND status = 'success'),
			failed_payments = (SELECT COUNT(*) FROM batch_items WHERE batch_id = batches.id AND status = 'failed'),
			processed_payments = (SELECT COUNT(*) FROM batch_items WHERE batch_id = batches.id AND status IN ('success', 'failed')),
			processing_completed = ?, updated_at = ?
		WHERE organization_id = ? AND id = ? AND status = 'processing'
	`, formatTime(completedAt), formatTime(completedAt), orgID, id)
	if err != nil {
		return fmt.Errorf("failed to mark batch failed: %w", err)
	}
	return nil
}

// ProcessingBatches lists every batch in processing, oldest start first.
func (s *Store) ProcessingBatches(ctx context.Context) ([]bulkpay.Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT organization_id, id FROM batches
		WHERE status = 'processing'
		ORDER BY processing_started, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query processing batches: %w", err)
	}
	defer rows.Close()

	var refs []bulkpay.Ref
	for rows.Next() {
		var ref bulkpay.Ref
		if err := rows.Scan(&ref.OrganizationID, &ref.BatchID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
