/*
Package factory provides JSON to Go tuition type conversion.

PURPOSE:
  Converts JSON tuition type definitions into billing.TuitionType values.
  Tuition types are stored as JSON config, so the school office can add or
  change one without a code change; new bills pick up the terms, bills
  already issued keep their frozen late-fee snapshot.

JSON SCHEMA:
  {
    "id": "monthly-standard",
    "name": "Standard Monthly",
    "base_amount": "500.00",
    "currency": "USD",
    "due_day": 10,
    "late_fee": {"type": "fixed", "value": 25}
  }

DEFAULTS:
  currency  USD
  due_day   10
  late_fee  fixed 0

USAGE:
  f := NewTuitionTypeFactory()
  tt, err := f.ParseTuitionType(MonthlyTuitionJSON("monthly", "Monthly", "500", 10))

SEE ALSO:
  - billing/types.go: TuitionType definition
  - billing/adjustments.go: Validation rules
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/generic"
)

const (
	DefaultCurrency = generic.CurrencyUSD
	DefaultDueDay   = 10
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TuitionTypeJSON is the JSON representation of a tuition type.
// Amounts accept JSON numbers or numeric strings.
type TuitionTypeJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	Currency   string          `json:"currency,omitempty"`
	DueDay     int             `json:"due_day,omitempty"`
	LateFee    *LateFeeJSON    `json:"late_fee,omitempty"`
}

// LateFeeJSON represents the late-fee terms.
type LateFeeJSON struct {
	Type  string          `json:"type"` // fixed, percentage
	Value decimal.Decimal `json:"value"`
}

// =============================================================================
// TUITION TYPE FACTORY
// =============================================================================

// TuitionTypeFactory converts JSON tuition types to Go structs.
type TuitionTypeFactory struct{}

// NewTuitionTypeFactory creates a new tuition type factory.
func NewTuitionTypeFactory() *TuitionTypeFactory {
	return &TuitionTypeFactory{}
}

// ParseTuitionType parses a JSON string into a TuitionType.
func (f *TuitionTypeFactory) ParseTuitionType(jsonStr string) (*billing.TuitionType, error) {
	var tj TuitionTypeJSON
	if err := json.Unmarshal([]byte(jsonStr), &tj); err != nil {
		return nil, fmt.Errorf("failed to parse tuition type JSON: %w", err)
	}

	return f.FromJSON(tj)
}

// FromJSON converts TuitionTypeJSON to billing.TuitionType, filling defaults
// and validating the result.
func (f *TuitionTypeFactory) FromJSON(tj TuitionTypeJSON) (*billing.TuitionType, error) {
	tt := &billing.TuitionType{
		ID:           strings.TrimSpace(tj.ID),
		Name:         strings.TrimSpace(tj.Name),
		BaseAmount:   tj.BaseAmount,
		Currency:     parseCurrency(tj.Currency),
		DueDay:       tj.DueDay,
		LateFeeType:  billing.LateFeeFixed,
		LateFeeValue: decimal.Zero,
	}
	if tt.DueDay == 0 {
		tt.DueDay = DefaultDueDay
	}
	if tj.LateFee != nil {
		if tj.LateFee.Type != "" {
			tt.LateFeeType = billing.LateFeeType(strings.ToLower(tj.LateFee.Type))
		}
		tt.LateFeeValue = tj.LateFee.Value
	}

	if err := tt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuition type %q: %w", tj.ID, err)
	}
	return tt, nil
}

// ToJSON converts a TuitionType back to its stored JSON form.
func (f *TuitionTypeFactory) ToJSON(tt billing.TuitionType) (string, error) {
	tj := TuitionTypeJSON{
		ID:         tt.ID,
		Name:       tt.Name,
		BaseAmount: tt.BaseAmount,
		Currency:   string(tt.Currency),
		DueDay:     tt.DueDay,
		LateFee: &LateFeeJSON{
			Type:  string(tt.LateFeeType),
			Value: tt.LateFeeValue,
		},
	}
	b, err := json.Marshal(tj)
	if err != nil {
		return "", fmt.Errorf("failed to encode tuition type %q: %w", tt.ID, err)
	}
	return string(b), nil
}

func parseCurrency(s string) generic.Currency {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultCurrency
	}
	return generic.Currency(s)
}

// =============================================================================
// PRESET TUITION TYPES
// =============================================================================

// MonthlyTuitionJSON returns a tuition type without a late fee.
func MonthlyTuitionJSON(id, name, amount string, dueDay int) string {
	return fmt.Sprintf(`{
		"id": %q,
		"name": %q,
		"base_amount": %q,
		"currency": "USD",
		"due_day": %d
	}`, id, name, amount, dueDay)
}

// FixedLateFeeTuitionJSON returns a tuition type with a flat late fee.
func FixedLateFeeTuitionJSON(id, name, amount string, dueDay int, fee string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"name": %q,
		"base_amount": %q,
		"currency": "USD",
		"due_day": %d,
		"late_fee": {"type": "fixed", "value": %q}
	}`, id, name, amount, dueDay, fee)
}

// PercentageLateFeeTuitionJSON returns a tuition type whose late fee is a
// percentage of the amount after discounts.
func PercentageLateFeeTuitionJSON(id, name, amount string, dueDay int, percent string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"name": %q,
		"base_amount": %q,
		"currency": "USD",
		"due_day": %d,
		"late_fee": {"type": "percentage", "value": %q}
	}`, id, name, amount, dueDay, percent)
}
