package billing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/generic"
)

// checkBounds runs before any other check on a decimal field.
func checkBounds(field string, d decimal.Decimal) error {
	if err := generic.CheckMagnitude(d); err != nil {
		return &generic.ValidationError{Field: field, Message: "is out of range"}
	}
	return nil
}

// Validate checks a discount adjustment before it is put on a bill.
func (a DiscountAdjustment) Validate() error {
	if !a.Type.Valid() {
		return &generic.ValidationError{Field: "type", Message: "must be percentage or fixed"}
	}
	if err := checkBounds("value", a.Value); err != nil {
		return err
	}
	if !a.Value.IsPositive() {
		return &generic.ValidationError{Field: "value", Message: "must be greater than 0"}
	}
	if a.Type == AdjustmentPercentage && a.Value.GreaterThan(maxPercentage) {
		return &generic.ValidationError{Field: "value", Message: "percentage must be between 0 and 100"}
	}
	return nil
}

// Validate checks an extra charge before it is put on a bill.
func (c ExtraCharge) Validate() error {
	if err := checkBounds("amount", c.Amount); err != nil {
		return err
	}
	if !c.Amount.IsPositive() {
		return &generic.ValidationError{Field: "amount", Message: "must be greater than 0"}
	}
	if err := checkCents(c.Amount); err != nil {
		return &generic.ValidationError{Field: "amount", Message: "must have at most two decimal places"}
	}
	return nil
}

// Validate checks the late-fee terms of a tuition type.
func (t TuitionTypeSnapshot) Validate() error {
	if !t.LateFeeType.Valid() {
		return &generic.ValidationError{Field: "late_fee.type", Message: "must be percentage or fixed"}
	}
	if err := checkBounds("late_fee.value", t.LateFeeValue); err != nil {
		return err
	}
	if t.LateFeeValue.IsNegative() {
		return &generic.ValidationError{Field: "late_fee.value", Message: "must be greater than or equal to 0"}
	}
	if t.LateFeeType == LateFeePercentage && t.LateFeeValue.GreaterThan(maxPercentage) {
		return &generic.ValidationError{Field: "late_fee.value", Message: "percentage must be between 0 and 100"}
	}
	return nil
}

// Validate checks a tuition type definition.
func (t TuitionType) Validate() error {
	if t.ID == "" {
		return &generic.ValidationError{Field: "id", Message: "is required"}
	}
	if t.Name == "" {
		return &generic.ValidationError{Field: "name", Message: "is required"}
	}
	if err := checkBounds("base_amount", t.BaseAmount); err != nil {
		return err
	}
	if t.BaseAmount.IsNegative() {
		return &generic.ValidationError{Field: "base_amount", Message: "must be greater than or equal to 0"}
	}
	if t.DueDay < 1 || t.DueDay > 28 {
		return &generic.ValidationError{Field: "due_day", Message: "must be between 1 and 28"}
	}
	return t.Snapshot().Validate()
}

// Validate checks a recurring charge.
func (c RecurringCharge) Validate() error {
	if c.StudentID == "" {
		return &generic.ValidationError{Field: "student_id", Message: "is required"}
	}
	if err := checkBounds("amount", c.Amount); err != nil {
		return err
	}
	if !c.Amount.IsPositive() {
		return &generic.ValidationError{Field: "amount", Message: "must be greater than 0"}
	}
	if c.EndsOn != nil && c.EndsOn.Before(c.StartsOn) {
		return generic.ErrInvalidPeriod
	}
	return nil
}
