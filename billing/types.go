// Package billing implements tuition billing on top of the generic engine:
// the billing record model, the final-amount calculator, partial payments,
// scholarships, late fees and monthly bill generation.
package billing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/generic"
)

// =============================================================================
// ENUMS
// =============================================================================

// BillStatus tracks whether a bill has to be (or has been) sent to the family.
type BillStatus string

const (
	BillNotRequired BillStatus = "not_required"
	BillRequired    BillStatus = "required"
	BillSent        BillStatus = "sent"
)

func (s BillStatus) Valid() bool {
	switch s {
	case BillNotRequired, BillRequired, BillSent:
		return true
	}
	return false
}

// PaymentStatus is derived from the amounts and dates of a bill.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentDelayed PaymentStatus = "delayed"
	PaymentPartial PaymentStatus = "partial_payment"
	PaymentPaid    PaymentStatus = "paid"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentDelayed, PaymentPartial, PaymentPaid:
		return true
	}
	return false
}

// AdjustmentType says how a discount adjustment or late fee value is read.
type AdjustmentType string

const (
	AdjustmentPercentage AdjustmentType = "percentage"
	AdjustmentFixed      AdjustmentType = "fixed"
)

func (t AdjustmentType) Valid() bool {
	return t == AdjustmentPercentage || t == AdjustmentFixed
}

// LateFeeType reuses the percentage/fixed vocabulary.
type LateFeeType = AdjustmentType

const (
	LateFeeFixed      = AdjustmentFixed
	LateFeePercentage = AdjustmentPercentage
)

// =============================================================================
// BILL COMPONENTS
// =============================================================================

// DiscountAdjustment is an ad-hoc discount on a single bill.
type DiscountAdjustment struct {
	Type        AdjustmentType  `json:"type"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description,omitempty"`
}

// ExtraCharge is an amount added on top of tuition (materials, trips).
type ExtraCharge struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	RecurringID string          `json:"recurring_id,omitempty"`
}

// TuitionTypeSnapshot freezes the late-fee terms at bill creation, so later
// edits to the tuition type do not change bills already issued.
type TuitionTypeSnapshot struct {
	LateFeeType  LateFeeType     `json:"late_fee_type"`
	LateFeeValue decimal.Decimal `json:"late_fee_value"`
}

// =============================================================================
// BILLING RECORD
// =============================================================================

// BillingRecord is one monthly tuition bill for one student.
type BillingRecord struct {
	ID            string
	StudentID     string
	SchoolYearID  string
	TuitionTypeID string
	Period        generic.Period
	Currency      generic.Currency

	EffectiveTuitionAmount decimal.Decimal
	ScholarshipAmount      decimal.Decimal
	DiscountAdjustments    []DiscountAdjustment
	ExtraCharges           []ExtraCharge

	// LateFeeAmount is the late fee already applied; zero until applied.
	LateFeeAmount decimal.Decimal

	// FinalAmount caches the calculator output as of the last mutation.
	FinalAmount decimal.Decimal

	// PaidAmount is nil until the first payment is recorded.
	PaidAmount *decimal.Decimal

	DueDate             generic.TimePoint
	IsPaid              bool
	PaidAt              *time.Time
	BillStatus          BillStatus
	PaymentStatus       PaymentStatus
	TuitionTypeSnapshot TuitionTypeSnapshot
	Notes               string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Paid returns the paid amount, treating nil as zero.
func (r *BillingRecord) Paid() decimal.Decimal {
	if r.PaidAmount == nil {
		return decimal.Zero
	}
	return *r.PaidAmount
}

// EntityID and AccountID key the record in the payment ledger.
func (r *BillingRecord) EntityID() generic.EntityID   { return generic.EntityID(r.StudentID) }
func (r *BillingRecord) AccountID() generic.AccountID { return generic.AccountID(r.ID) }

// =============================================================================
// CONFIGURATION ENTITIES
// =============================================================================

// TuitionType determines a student's base monthly charge and late-fee terms.
type TuitionType struct {
	ID           string
	Name         string
	BaseAmount   decimal.Decimal
	Currency     generic.Currency
	DueDay       int
	LateFeeType  LateFeeType
	LateFeeValue decimal.Decimal
}

// Snapshot returns the late-fee terms to freeze on a new bill.
func (t TuitionType) Snapshot() TuitionTypeSnapshot {
	return TuitionTypeSnapshot{LateFeeType: t.LateFeeType, LateFeeValue: t.LateFeeValue}
}

// RecurringCharge is added as an extra charge to every bill generated for
// the student while it is active.
type RecurringCharge struct {
	ID          string
	StudentID   string
	Description string
	Amount      decimal.Decimal
	StartsOn    generic.TimePoint
	EndsOn      *generic.TimePoint
	CreatedAt   time.Time
}

// ActiveIn reports whether the charge overlaps the billing month.
func (c RecurringCharge) ActiveIn(month generic.Period) bool {
	if c.StartsOn.After(month.End) {
		return false
	}
	if c.EndsOn != nil && c.EndsOn.Before(month.Start) {
		return false
	}
	return true
}
