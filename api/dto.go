/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Monetary inputs accept JSON numbers or numeric strings ("120.50").
  Monetary outputs are strings with two decimals so clients never see
  floating point rounding.

SCHOLARSHIPS:
  The scholarship endpoints keep the camelCase keys of the scholarship form
  (tuitionTypeId, scholarshipType, scholarshipValue). Removal is sent and
  returned as explicit nulls.

VALIDATION:
  Request structs carry validator tags for structural rules (required
  fields, enum values, date formats). Amount rules live in the billing
  package so the API and the cashier cannot disagree.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Validator setup
  - factory/tuition.go: TuitionTypeJSON type
*/
package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/factory"
	"github.com/warp/tuition-engine/generic"
	"github.com/warp/tuition-engine/store/sqlite"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyInput is a raw amount entered by a user, either a JSON number or a
// string. It is parsed by the billing package, which owns the rules.
type MoneyInput string

func (m *MoneyInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = MoneyInput(s)
		return nil
	}
	*m = MoneyInput(data)
	return nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(generic.CentsPlaces)
}

func moneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// =============================================================================
// SCHOOL YEARS AND STUDENTS
// =============================================================================

// SchoolYearDTO represents a school year in API responses.
type SchoolYearDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateSchoolYearRequest is the request to create a school year.
type CreateSchoolYearRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name" validate:"notblank"`
	StartDate string `json:"start_date" validate:"required,date"`
	EndDate   string `json:"end_date" validate:"required,date"`
	Active    *bool  `json:"active"`
}

func toSchoolYearDTO(y sqlite.SchoolYear) SchoolYearDTO {
	dto := SchoolYearDTO{
		ID:        y.ID,
		Name:      y.Name,
		StartDate: y.StartDate.String(),
		EndDate:   y.EndDate.String(),
		Active:    y.Active,
	}
	if !y.CreatedAt.IsZero() {
		dto.CreatedAt = y.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// StudentDTO represents a student in API responses.
type StudentDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SchoolYearID  string `json:"school_year_id"`
	TuitionTypeID string `json:"tuition_type_id"`
	Active        bool   `json:"active"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// CreateStudentRequest is the request to create a student.
type CreateStudentRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name" validate:"notblank"`
	SchoolYearID  string `json:"school_year_id" validate:"required"`
	TuitionTypeID string `json:"tuition_type_id" validate:"required"`
	Active        *bool  `json:"active"`
}

func toStudentDTO(st sqlite.Student) StudentDTO {
	dto := StudentDTO{
		ID:            st.ID,
		Name:          st.Name,
		SchoolYearID:  st.SchoolYearID,
		TuitionTypeID: st.TuitionTypeID,
		Active:        st.Active,
	}
	if !st.CreatedAt.IsZero() {
		dto.CreatedAt = st.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// SCHOLARSHIPS AND RECURRING CHARGES
// =============================================================================

// ScholarshipDTO is a student's scholarship. Type and value are null when
// the student has none.
type ScholarshipDTO struct {
	StudentID        string                   `json:"studentId"`
	TuitionTypeID    string                   `json:"tuitionTypeId"`
	ScholarshipType  *billing.ScholarshipType `json:"scholarshipType"`
	ScholarshipValue *json.Number             `json:"scholarshipValue"`
	Active           bool                     `json:"active"`
	UpdatedAt        string                   `json:"updatedAt,omitempty"`
}

func toScholarshipDTO(s *billing.Scholarship) ScholarshipDTO {
	dto := ScholarshipDTO{
		StudentID:       s.StudentID,
		TuitionTypeID:   s.TuitionTypeID,
		ScholarshipType: s.Type,
		Active:          s.Active(),
	}
	if s.Value != nil {
		n := json.Number(s.Value.String())
		dto.ScholarshipValue = &n
	}
	if !s.UpdatedAt.IsZero() {
		dto.UpdatedAt = s.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

// RecurringChargeDTO represents a recurring charge in API responses.
type RecurringChargeDTO struct {
	ID          string  `json:"id"`
	StudentID   string  `json:"student_id"`
	Description string  `json:"description"`
	Amount      string  `json:"amount"`
	StartsOn    string  `json:"starts_on"`
	EndsOn      *string `json:"ends_on"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

// CreateRecurringChargeRequest is the request to add a recurring charge.
type CreateRecurringChargeRequest struct {
	ID          string          `json:"id"`
	Description string          `json:"description" validate:"notblank"`
	Amount      decimal.Decimal `json:"amount"`
	StartsOn    string          `json:"starts_on" validate:"required,date"`
	EndsOn      string          `json:"ends_on" validate:"date"`
}

func toRecurringChargeDTO(c billing.RecurringCharge) RecurringChargeDTO {
	dto := RecurringChargeDTO{
		ID:          c.ID,
		StudentID:   c.StudentID,
		Description: c.Description,
		Amount:      money(c.Amount),
		StartsOn:    c.StartsOn.String(),
	}
	if c.EndsOn != nil {
		s := c.EndsOn.String()
		dto.EndsOn = &s
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// TUITION TYPES
// =============================================================================

// TuitionTypeDTO represents a tuition type in API responses.
type TuitionTypeDTO struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Config    factory.TuitionTypeJSON `json:"config"`
	Version   int                     `json:"version"`
	CreatedAt string                  `json:"created_at,omitempty"`
	UpdatedAt string                  `json:"updated_at,omitempty"`
}

func toTuitionTypeDTO(rec sqlite.TuitionTypeRecord) (TuitionTypeDTO, error) {
	var cfg factory.TuitionTypeJSON
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &cfg); err != nil {
		return TuitionTypeDTO{}, err
	}
	return TuitionTypeDTO{
		ID:        rec.ID,
		Name:      rec.Name,
		Config:    cfg,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt: rec.UpdatedAt.Format(time.RFC3339),
	}, nil
}

// =============================================================================
// BILLS
// =============================================================================

// AdjustmentDTO is a discount adjustment on a bill.
type AdjustmentDTO struct {
	Index       int    `json:"index"`
	Type        string `json:"type"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// ExtraChargeDTO is an extra charge on a bill.
type ExtraChargeDTO struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	RecurringID string `json:"recurring_id,omitempty"`
}

// LateFeeTermsDTO are the late-fee terms frozen on a bill.
type LateFeeTermsDTO struct {
	LateFeeType  string `json:"late_fee_type"`
	LateFeeValue string `json:"late_fee_value"`
}

// BreakdownDTO shows how the amount owed is derived as of one day.
type BreakdownDTO struct {
	AsOf                 string `json:"as_of"`
	DiscountAmount       string `json:"discount_amount"`
	ExtraAmount          string `json:"extra_amount"`
	AmountAfterDiscounts string `json:"amount_after_discounts"`
	AppliedLateFee       string `json:"applied_late_fee"`
	PendingLateFee       string `json:"pending_late_fee"`
	IsOverdue            bool   `json:"is_overdue"`
	HasPendingLateFee    bool   `json:"has_pending_late_fee"`
	FinalAmount          string `json:"final_amount"`
	PaidAmount           string `json:"paid_amount"`
	RemainingAmount      string `json:"remaining_amount"`
}

// BillDTO represents a billing record with its current breakdown.
type BillDTO struct {
	ID                     string           `json:"id"`
	StudentID              string           `json:"student_id"`
	SchoolYearID           string           `json:"school_year_id,omitempty"`
	TuitionTypeID          string           `json:"tuition_type_id"`
	PeriodStart            string           `json:"period_start"`
	PeriodEnd              string           `json:"period_end"`
	Currency               string           `json:"currency"`
	EffectiveTuitionAmount string           `json:"effective_tuition_amount"`
	ScholarshipAmount      string           `json:"scholarship_amount"`
	DiscountAdjustments    []AdjustmentDTO  `json:"discount_adjustments"`
	ExtraCharges           []ExtraChargeDTO `json:"extra_charges"`
	LateFeeAmount          string           `json:"late_fee_amount"`
	FinalAmount            string           `json:"final_amount"`
	PaidAmount             *string          `json:"paid_amount"`
	DueDate                string           `json:"due_date"`
	IsPaid                 bool             `json:"is_paid"`
	PaidAt                 *string          `json:"paid_at"`
	BillStatus             string           `json:"bill_status"`
	PaymentStatus          string           `json:"payment_status"`
	TuitionTypeSnapshot    LateFeeTermsDTO  `json:"tuition_type_snapshot"`
	Notes                  string           `json:"notes,omitempty"`
	CreatedAt              string           `json:"created_at"`
	UpdatedAt              string           `json:"updated_at"`
	Breakdown              BreakdownDTO     `json:"breakdown"`
}

func toBillDTO(rec *billing.BillingRecord, b billing.Breakdown) BillDTO {
	adjustments := make([]AdjustmentDTO, len(rec.DiscountAdjustments))
	for i, a := range rec.DiscountAdjustments {
		adjustments[i] = AdjustmentDTO{Index: i, Type: string(a.Type), Value: a.Value.String(), Description: a.Description}
	}
	extras := make([]ExtraChargeDTO, len(rec.ExtraCharges))
	for i, c := range rec.ExtraCharges {
		extras[i] = ExtraChargeDTO{Amount: money(c.Amount), Description: c.Description, RecurringID: c.RecurringID}
	}

	return BillDTO{
		ID:                     rec.ID,
		StudentID:              rec.StudentID,
		SchoolYearID:           rec.SchoolYearID,
		TuitionTypeID:          rec.TuitionTypeID,
		PeriodStart:            rec.Period.Start.String(),
		PeriodEnd:              rec.Period.End.String(),
		Currency:               string(rec.Currency),
		EffectiveTuitionAmount: money(rec.EffectiveTuitionAmount),
		ScholarshipAmount:      money(rec.ScholarshipAmount),
		DiscountAdjustments:    adjustments,
		ExtraCharges:           extras,
		LateFeeAmount:          money(rec.LateFeeAmount),
		FinalAmount:            money(rec.FinalAmount),
		PaidAmount:             moneyPtr(rec.PaidAmount),
		DueDate:                rec.DueDate.String(),
		IsPaid:                 rec.IsPaid,
		PaidAt:                 timePtr(rec.PaidAt),
		BillStatus:             string(rec.BillStatus),
		PaymentStatus:          string(rec.PaymentStatus),
		TuitionTypeSnapshot: LateFeeTermsDTO{
			LateFeeType:  string(rec.TuitionTypeSnapshot.LateFeeType),
			LateFeeValue: rec.TuitionTypeSnapshot.LateFeeValue.String(),
		},
		Notes:     rec.Notes,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt: rec.UpdatedAt.Format(time.RFC3339),
		Breakdown: toBreakdownDTO(b),
	}
}

func toBreakdownDTO(b billing.Breakdown) BreakdownDTO {
	return BreakdownDTO{
		AsOf:                 b.AsOf.String(),
		DiscountAmount:       money(b.DiscountAmount),
		ExtraAmount:          money(b.ExtraAmount),
		AmountAfterDiscounts: money(b.AmountAfterDiscounts),
		AppliedLateFee:       money(b.AppliedLateFee),
		PendingLateFee:       money(b.PendingLateFee),
		IsOverdue:            b.IsOverdue,
		HasPendingLateFee:    b.HasPendingLateFee,
		FinalAmount:          money(b.FinalAmount),
		PaidAmount:           money(b.PaidAmount),
		RemainingAmount:      money(b.RemainingAmount),
	}
}

// GenerateBillsRequest asks for one month of bills for a school year.
type GenerateBillsRequest struct {
	SchoolYearID string `json:"school_year_id" validate:"required"`
	Month        string `json:"month" validate:"required,datetime=2006-01"`
}

// GenerateBillsResponse lists what a generation run did.
type GenerateBillsResponse struct {
	SchoolYearID string            `json:"school_year_id"`
	Period       string            `json:"period"`
	Created      []BillDTO         `json:"created"`
	Skipped      []string          `json:"skipped"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// AdjustmentRequest adds a discount adjustment.
type AdjustmentRequest struct {
	Type        string          `json:"type" validate:"required,oneof=percentage fixed"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description"`
}

// ExtraChargeRequest adds an extra charge.
type ExtraChargeRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// BillStatusRequest changes the bill status.
type BillStatusRequest struct {
	BillStatus string `json:"bill_status" validate:"required"`
}

// =============================================================================
// PAYMENTS AND TRANSACTIONS
// =============================================================================

// PartialPaymentRequest records part of a bill.
type PartialPaymentRequest struct {
	Amount         MoneyInput `json:"amount"`
	IdempotencyKey string     `json:"idempotency_key"`
	Actor          string     `json:"actor"`
}

// PaymentRequest settles the remaining balance of a bill.
type PaymentRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Actor          string `json:"actor"`
}

// TransactionDTO represents a ledger transaction in API responses.
type TransactionDTO struct {
	ID             string            `json:"id"`
	BillID         string            `json:"bill_id"`
	StudentID      string            `json:"student_id"`
	Type           string            `json:"type"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	EffectiveAt    string            `json:"effective_at"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Reversed       bool              `json:"reversed"`
	CreatedBy      string            `json:"created_by,omitempty"`
	CreatedAt      string            `json:"created_at"`
}

func toTransactionDTO(tx generic.Transaction, history []generic.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             string(tx.ID),
		BillID:         string(tx.AccountID),
		StudentID:      string(tx.EntityID),
		Type:           string(tx.Type),
		Amount:         money(tx.Delta.Value),
		Currency:       string(tx.Delta.Currency),
		EffectiveAt:    tx.EffectiveAt.String(),
		ReferenceID:    tx.ReferenceID,
		Reason:         tx.Reason,
		IdempotencyKey: tx.IdempotencyKey,
		Metadata:       tx.Metadata,
		Reversed:       tx.Type == generic.TxPayment && generic.IsReversed(history, tx.ID),
		CreatedBy:      tx.CreatedBy,
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
	}
}

// ReceiptDTO is the outcome of a payment or reversal.
type ReceiptDTO struct {
	Bill        BillDTO         `json:"bill"`
	Transaction *TransactionDTO `json:"transaction"`
}

// BillLedgerDTO compares the bill's cached paid amount with its ledger.
type BillLedgerDTO struct {
	BillID       string `json:"bill_id"`
	Currency     string `json:"currency"`
	RecordedPaid string `json:"recorded_paid"`
	LedgerPaid   string `json:"ledger_paid"`
	LateFees     string `json:"late_fees"`
	InSync       bool   `json:"in_sync"`
}

// =============================================================================
// LATE FEES
// =============================================================================

// ApplyLateFeesRequest optionally pins the sweep date.
type ApplyLateFeesRequest struct {
	AsOf string `json:"as_of" validate:"date"`
}

// LateFeeRunDTO summarizes one late-fee sweep.
type LateFeeRunDTO struct {
	ID          string      `json:"id"`
	AsOf        string      `json:"as_of"`
	Status      string      `json:"status"`
	Examined    int         `json:"examined"`
	Applied     int         `json:"applied"`
	Total       string      `json:"total"`
	Currency    string      `json:"currency,omitempty"`
	Totals      []AmountDTO `json:"totals,omitempty"`
	Errors      []string    `json:"errors,omitempty"`
	StartedAt   string      `json:"started_at"`
	CompletedAt *string     `json:"completed_at"`
}

// AmountDTO is a money value with its currency.
type AmountDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toLateFeeRunDTO(run billing.LateFeeRun) LateFeeRunDTO {
	totals := make([]AmountDTO, len(run.Totals))
	for i, a := range run.Totals {
		totals[i] = AmountDTO{Amount: money(a.Value), Currency: string(a.Currency)}
	}
	return LateFeeRunDTO{
		ID:          run.ID,
		AsOf:        run.AsOf.String(),
		Status:      run.Status,
		Examined:    run.Examined,
		Applied:     run.Applied,
		Total:       money(run.Total.Value),
		Currency:    string(run.Total.Currency),
		Totals:      totals,
		Errors:      run.Errors,
		StartedAt:   run.StartedAt.Format(time.RFC3339),
		CompletedAt: timePtr(run.CompletedAt),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}
