package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/generic"
)

// =============================================================================
// BILL STORE (billing.BillStore interface)
// =============================================================================

const billColumns = `id, student_id, school_year_id, tuition_type_id, period_start, period_end,
	currency, effective_tuition_amount, scholarship_amount, discount_adjustments_json,
	extra_charges_json, late_fee_amount, final_amount, paid_amount, due_date, is_paid,
	paid_at, bill_status, payment_status, tuition_type_snapshot_json, notes,
	created_at, updated_at`

// SaveBill inserts a new bill.
func (s *Store) SaveBill(ctx context.Context, rec billing.BillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args, err := billArgs(rec)
	if err != nil {
		return err
	}
	query := `INSERT INTO bills (` + billColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("bill for student %s in %s: %w", rec.StudentID, rec.Period.Label(), generic.ErrConflict)
		}
		return fmt.Errorf("failed to save bill: %w", err)
	}
	return nil
}

// GetBill retrieves a bill by ID.
func (s *Store) GetBill(ctx context.Context, id string) (*billing.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getBill(ctx, s.db, id)
}

func getBill(ctx context.Context, db querier, id string) (*billing.BillingRecord, error) {
	bills, err := queryBills(ctx, db, `SELECT `+billColumns+` FROM bills WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(bills) == 0 {
		return nil, generic.NewNotFound("bill", id)
	}
	return &bills[0], nil
}

// ListBills returns bills matching the filter, newest billing month first.
func (s *Store) ListBills(ctx context.Context, filter billing.BillFilter) ([]billing.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.SchoolYearID != "" {
		where = append(where, "school_year_id = ?")
		args = append(args, filter.SchoolYearID)
	}
	if filter.PaymentStatus != "" {
		where = append(where, "payment_status = ?")
		args = append(args, filter.PaymentStatus)
	}
	if filter.OnlyUnpaid {
		where = append(where, "is_paid = FALSE")
	}

	query := `SELECT ` + billColumns + ` FROM bills`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY period_start DESC, student_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	return queryBills(ctx, s.db, query, args...)
}

// MutateBill loads the bill and its ledger history inside one SQL
// transaction, applies fn, then writes the bill and fn's transactions.
func (s *Store) MutateBill(ctx context.Context, id string, fn billing.MutateFunc) (*billing.BillingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	rec, err := getBill(ctx, sqlTx, id)
	if err != nil {
		return nil, err
	}
	history, err := loadTransactions(ctx, sqlTx, rec.EntityID(), rec.AccountID())
	if err != nil {
		return nil, err
	}

	txs, err := fn(rec, history)
	if err != nil {
		return nil, err
	}
	rec.ID = id

	if err := checkBatchKeys(txs); err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if err := appendTx(ctx, sqlTx, tx); err != nil {
			return nil, err
		}
	}
	if err := updateBill(ctx, sqlTx, *rec); err != nil {
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bill %s: %w", id, err)
	}
	return rec, nil
}

func updateBill(ctx context.Context, db execer, rec billing.BillingRecord) error {
	args, err := billArgs(rec)
	if err != nil {
		return err
	}
	query := `
		UPDATE bills SET
			student_id = ?, school_year_id = ?, tuition_type_id = ?, period_start = ?, period_end = ?,
			currency = ?, effective_tuition_amount = ?, scholarship_amount = ?, discount_adjustments_json = ?,
			extra_charges_json = ?, late_fee_amount = ?, final_amount = ?, paid_amount = ?, due_date = ?,
			is_paid = ?, paid_at = ?, bill_status = ?, payment_status = ?, tuition_type_snapshot_json = ?,
			notes = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`
	// billArgs starts with the id; UPDATE takes it last
	args = append(args[1:], args[0])
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update bill %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NewNotFound("bill", rec.ID)
	}
	return nil
}

// DeleteBill removes a bill that has no ledger history.
func (s *Store) DeleteBill(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE account_id = ?", id,
	).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("bill %s has %d ledger transactions: %w", id, count, generic.ErrConflict)
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM bills WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NewNotFound("bill", id)
	}
	return nil
}

func billArgs(rec billing.BillingRecord) ([]any, error) {
	adjustments, err := json.Marshal(nonNil(rec.DiscountAdjustments))
	if err != nil {
		return nil, fmt.Errorf("failed to encode adjustments: %w", err)
	}
	extras, err := json.Marshal(nonNil(rec.ExtraCharges))
	if err != nil {
		return nil, fmt.Errorf("failed to encode extra charges: %w", err)
	}
	snapshot, err := json.Marshal(rec.TuitionTypeSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tuition type snapshot: %w", err)
	}

	var paidAmount, paidAt sql.NullString
	if rec.PaidAmount != nil {
		paidAmount = sql.NullString{String: rec.PaidAmount.String(), Valid: true}
	}
	if rec.PaidAt != nil {
		paidAt = sql.NullString{String: formatTime(*rec.PaidAt), Valid: true}
	}

	return []any{
		rec.ID,
		rec.StudentID,
		nullString(rec.SchoolYearID),
		nullString(rec.TuitionTypeID),
		rec.Period.Start.String(),
		rec.Period.End.String(),
		rec.Currency,
		rec.EffectiveTuitionAmount.String(),
		rec.ScholarshipAmount.String(),
		string(adjustments),
		string(extras),
		rec.LateFeeAmount.String(),
		rec.FinalAmount.String(),
		paidAmount,
		rec.DueDate.String(),
		rec.IsPaid,
		paidAt,
		rec.BillStatus,
		rec.PaymentStatus,
		string(snapshot),
		nullString(rec.Notes),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	}, nil
}

func queryBills(ctx context.Context, db querier, query string, args ...any) ([]billing.BillingRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []billing.BillingRecord
	for rows.Next() {
		rec, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, rec)
	}
	return bills, rows.Err()
}

func scanBill(rows *sql.Rows) (billing.BillingRecord, error) {
	var (
		rec                         billing.BillingRecord
		schoolYearID, tuitionTypeID sql.NullString
		periodStart, periodEnd      string
		currency                    string
		tuition, scholarship        string
		adjustmentsJSON, extrasJSON string
		lateFee, finalAmount        string
		paidAmount, paidAt, notes   sql.NullString
		dueDate, snapshotJSON       string
		createdAt, updatedAt        string
		billStatus, paymentStatus   string
	)

	if err := rows.Scan(
		&rec.ID, &rec.StudentID, &schoolYearID, &tuitionTypeID, &periodStart, &periodEnd,
		&currency, &tuition, &scholarship, &adjustmentsJSON,
		&extrasJSON, &lateFee, &finalAmount, &paidAmount, &dueDate, &rec.IsPaid,
		&paidAt, &billStatus, &paymentStatus, &snapshotJSON, &notes,
		&createdAt, &updatedAt,
	); err != nil {
		return rec, fmt.Errorf("failed to scan bill: %w", err)
	}

	rec.SchoolYearID = schoolYearID.String
	rec.TuitionTypeID = tuitionTypeID.String
	rec.Period = generic.Period{Start: parseDate(periodStart), End: parseDate(periodEnd)}
	rec.Currency = generic.Currency(currency)
	rec.EffectiveTuitionAmount = generic.MustParseDecimal(tuition)
	rec.ScholarshipAmount = generic.MustParseDecimal(scholarship)
	rec.LateFeeAmount = generic.MustParseDecimal(lateFee)
	rec.FinalAmount = generic.MustParseDecimal(finalAmount)
	rec.DueDate = parseDate(dueDate)
	rec.BillStatus = billing.BillStatus(billStatus)
	rec.PaymentStatus = billing.PaymentStatus(paymentStatus)
	rec.Notes = notes.String
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)

	if paidAmount.Valid {
		d, err := decimal.NewFromString(paidAmount.String)
		if err != nil {
			return rec, fmt.Errorf("bill %s: bad paid amount %q: %w", rec.ID, paidAmount.String, err)
		}
		rec.PaidAmount = &d
	}
	if paidAt.Valid {
		t := parseTime(paidAt.String)
		rec.PaidAt = &t
	}

	if err := decodeJSON(adjustmentsJSON, &rec.DiscountAdjustments); err != nil {
		return rec, fmt.Errorf("bill %s: adjustments: %w", rec.ID, err)
	}
	if err := decodeJSON(extrasJSON, &rec.ExtraCharges); err != nil {
		return rec, fmt.Errorf("bill %s: extra charges: %w", rec.ID, err)
	}
	if err := decodeJSON(snapshotJSON, &rec.TuitionTypeSnapshot); err != nil {
		return rec, fmt.Errorf("bill %s: tuition type snapshot: %w", rec.ID, err)
	}
	return rec, nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
