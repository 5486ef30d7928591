package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/recurring"
)

// =============================================================================
// SCHEDULE STORE (recurring.Store)
// =============================================================================

// CreateSchedule inserts a schedule and any payment log it already carries.
func (s *Store) CreateSchedule(ctx context.Context, sched recurring.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remindersJSON, err := json.Marshal(sched.Reminders)
	if err != nil {
		return fmt.Errorf("failed to encode reminders: %w", err)
	}
	var installmentJSON sql.NullString
	if sched.InstallmentPlan != nil {
		data, err := json.Marshal(sched.InstallmentPlan)
		if err != nil {
			return fmt.Errorf("failed to encode installment plan: %w", err)
		}
		installmentJSON = sql.NullString{String: string(data), Valid: true}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO schedules (id, organization_id, tenant_id, property_id, unit_id, schedule_type, frequency,
				amount, payment_method, start_date, end_date, next_due_date, status, auto_process,
				reminders_json, installment_json, created_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			sched.ID, sched.OrganizationID, sched.TenantID, sched.PropertyID, nullString(sched.UnitID),
			sched.Type, sched.Frequency, sched.Amount.String(), sched.Method,
			formatTime(sched.StartDate), formatTimePtr(sched.EndDate), formatTime(sched.NextDueDate),
			sched.Status, sched.AutoProcess, string(remindersJSON), installmentJSON,
			sched.CreatedBy, formatTime(sched.CreatedAt), formatTime(sched.UpdatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("schedule %s already exists: %w", sched.ID, generic.ErrConflict)
			}
			return fmt.Errorf("failed to insert schedule: %w", err)
		}
		for _, entry := range sched.ProcessedPayments {
			if err := insertLogEntry(ctx, tx, sched.ID, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

const scheduleColumns = `
	id, organization_id, tenant_id, property_id, unit_id, schedule_type, frequency,
	amount, payment_method, start_date, end_date, next_due_date, status, auto_process,
	reminders_json, installment_json, created_by, created_at, updated_at
`

// GetSchedule retrieves a schedule with its payment log.
func (s *Store) GetSchedule(ctx context.Context, orgID generic.OrganizationID, id string) (*recurring.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE organization_id = ? AND id = ?",
		orgID, id,
	)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	list := []recurring.Schedule{sched}
	if err := s.attachLogs(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// ListSchedules returns schedules soonest due first.
func (s *Store) ListSchedules(ctx context.Context, orgID generic.OrganizationID, q recurring.ListQuery) ([]recurring.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + scheduleColumns + " FROM schedules WHERE organization_id = ?"
	args := []any{orgID}
	if q.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, q.TenantID)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, q.Status)
	}
	query += " ORDER BY next_due_date, id LIMIT ?"
	args = append(args, q.Limit)

	return s.querySchedules(ctx, query, args...)
}

// DueSchedules returns active auto-processed schedules due at now.
func (s *Store) DueSchedules(ctx context.Context, orgID generic.OrganizationID, now time.Time) ([]recurring.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + scheduleColumns + ` FROM schedules
		WHERE organization_id = ? AND status = 'active' AND auto_process = 1 AND next_due_date <= ?
		ORDER BY next_due_date, id`

	return s.querySchedules(ctx, query, orgID, formatTime(now))
}

// OrganizationsWithDueSchedules lists organizations with at least one due schedule.
func (s *Store) OrganizationsWithDueSchedules(ctx context.Context, now time.Time) ([]generic.OrganizationID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT organization_id FROM schedules
		WHERE status = 'active' AND auto_process = 1 AND next_due_date <= ?
		ORDER BY organization_id
	`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	var orgs []generic.OrganizationID
	for rows.Next() {
		var org generic.OrganizationID
		if err := rows.Scan(&org); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// SaveAdvance writes the advanced schedule and its new log entry atomically.
// Only completion is taken from the given status, so a schedule paused in
// the meantime stays paused.
func (s *Store) SaveAdvance(ctx context.Context, sched recurring.Schedule, entry recurring.ProcessedPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var installmentJSON sql.NullString
	if sched.InstallmentPlan != nil {
		data, err := json.Marshal(sched.InstallmentPlan)
		if err != nil {
			return fmt.Errorf("failed to encode installment plan: %w", err)
		}
		installmentJSON = sql.NullString{String: string(data), Valid: true}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE schedules
			SET next_due_date = ?,
				status = CASE WHEN ? = 'completed' THEN 'completed' ELSE status END,
				installment_json = ?,
				updated_at = ?
			WHERE organization_id = ? AND id = ?
		`, formatTime(sched.NextDueDate), sched.Status, installmentJSON, formatTime(sched.UpdatedAt),
			sched.OrganizationID, sched.ID)
		if err != nil {
			return fmt.Errorf("failed to update schedule: %w", err)
		}
		ok, err := affected(res)
		if err != nil {
			return err
		}
		if !ok {
			return recurring.ErrScheduleNotFound
		}
		return insertLogEntry(ctx, tx, sched.ID, entry)
	})
}

// CountActiveSchedules counts the organization's active schedules.
func (s *Store) CountActiveSchedules(ctx context.Context, orgID generic.OrganizationID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schedules WHERE organization_id = ? AND status = 'active'",
		orgID,
	).Scan(&count)
	return count, err
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]recurring.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}

	schedules := []recurring.Schedule{}
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// Logs are loaded after the rows are closed: the store has one connection.
	if err := s.attachLogs(ctx, schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

func scanSchedule(row scanner) (recurring.Schedule, error) {
	var (
		sched                          recurring.Schedule
		unitID, endDate, createdBy     sql.NullString
		remindersJSON, installmentJSON sql.NullString
		amount, startDate, nextDue     string
		createdAt, updatedAt           string
	)
	err := row.Scan(
		&sched.ID, &sched.OrganizationID, &sched.TenantID, &sched.PropertyID, &unitID,
		&sched.Type, &sched.Frequency, &amount, &sched.Method, &startDate, &endDate, &nextDue,
		&sched.Status, &sched.AutoProcess, &remindersJSON, &installmentJSON,
		&createdBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return sched, err
	}

	sched.UnitID = unitID.String
	sched.Amount = parseMoney(amount)
	sched.StartDate = parseTime(startDate)
	sched.EndDate = parseTimePtr(endDate)
	sched.NextDueDate = parseTime(nextDue)
	sched.CreatedBy = generic.UserID(createdBy.String)
	sched.CreatedAt = parseTime(createdAt)
	sched.UpdatedAt = parseTime(updatedAt)

	if remindersJSON.Valid && remindersJSON.String != "" {
		if err := json.Unmarshal([]byte(remindersJSON.String), &sched.Reminders); err != nil {
			return sched, fmt.Errorf("failed to decode reminders of schedule %s: %w", sched.ID, err)
		}
	}
	if installmentJSON.Valid && installmentJSON.String != "" {
		var plan recurring.InstallmentPlan
		if err := json.Unmarshal([]byte(installmentJSON.String), &plan); err != nil {
			return sched, fmt.Errorf("failed to decode installment plan of schedule %s: %w", sched.ID, err)
		}
		sched.InstallmentPlan = &plan
	}
	return sched, nil
}

// attachLogs loads the payment logs of the given schedules in one query.
func (s *Store) attachLogs(ctx context.Context, schedules []recurring.Schedule) error {
	if len(schedules) == 0 {
		return nil
	}

	ids := make([]string, len(schedules))
	index := make(map[string]int, len(schedules))
	for i, sched := range schedules {
		ids[i] = sched.ID
		index[sched.ID] = i
		schedules[i].ProcessedPayments = []recurring.ProcessedPayment{}
	}

	clause, args := inClause("schedule_id", ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule_id, payment_id, processed_date, amount, status
		FROM schedule_payments
		WHERE `+clause+`
		ORDER BY seq
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to query schedule payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scheduleID, processedDate, amount string
			entry                             recurring.ProcessedPayment
		)
		if err := rows.Scan(&scheduleID, &entry.PaymentID, &processedDate, &amount, &entry.Status); err != nil {
			return err
		}
		entry.ProcessedDate = parseTime(processedDate)
		entry.Amount = parseMoney(amount)
		i := index[scheduleID]
		schedules[i].ProcessedPayments = append(schedules[i].ProcessedPayments, entry)
	}
	return rows.Err()
}

func insertLogEntry(ctx context.Context, q querier, scheduleID string, entry recurring.ProcessedPayment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO schedule_payments (schedule_id, payment_id, processed_date, amount, status)
		VALUES (?, ?, ?, ?, ?)
	`, scheduleID, entry.PaymentID, formatTime(entry.ProcessedDate), entry.Amount.String(), entry.Status)
	if err != nil {
		return fmt.Errorf("failed to append schedule payment: %w", err)
	}
	return nil
}

// =============================================================================
// RUN RECORDS
// =============================================================================

// SaveRun inserts or updates a run record.
func (s *Store) SaveRun(ctx context.Context, r recurring.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO schedule_runs (id, organization_id, status, processed, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.OrganizationID, r.Status, r.Processed, r.Failed, nullString(r.Error),
		formatTime(r.StartedAt), formatTimePtr(r.CompletedAt),
	)
	return err
}

// ListRuns returns the organization's runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, orgID generic.OrganizationID, limit int) ([]recurring.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, status, processed, failed, error, started_at, completed_at
		FROM schedule_runs
		WHERE organization_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []recurring.Run{}
	for rows.Next() {
		var (
			r                   recurring.Run
			runErr, completedAt sql.NullString
			startedAt           string
		)
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.Status, &r.Processed, &r.Failed, &runErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseTimePtr(completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
