package billing

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/generic"
)

// ScholarshipType is how a scholarship value is read.
type ScholarshipType = AdjustmentType

const (
	ScholarshipPercentage = AdjustmentPercentage
	ScholarshipFixed      = AdjustmentFixed
)

var maxPercentage = decimal.NewFromInt(100)

// Scholarship is the single scholarship configured for a student.
// Type and Value are nil when the student has none.
type Scholarship struct {
	StudentID     string
	TuitionTypeID string
	Type          *ScholarshipType
	Value         *decimal.Decimal
	UpdatedAt     time.Time
}

// Active reports whether the scholarship reduces tuition at all.
func (s *Scholarship) Active() bool {
	return s != nil && s.Type != nil && s.Value != nil
}

// AmountFor returns the amount taken off tuition. Fixed scholarships are
// capped at the tuition itself.
func (s *Scholarship) AmountFor(tuition decimal.Decimal) decimal.Decimal {
	if !s.Active() {
		return decimal.Zero
	}
	switch *s.Type {
	case ScholarshipPercentage:
		return generic.RoundCents(generic.Percentage(tuition, *s.Value))
	default:
		return decimal.Min(*s.Value, tuition)
	}
}

// AppliesTo reports whether the scholarship was granted for tuitionTypeID.
// A scholarship without a tuition type applies to any.
func (s *Scholarship) AppliesTo(tuitionTypeID string) bool {
	return s.Active() && (s.TuitionTypeID == "" || s.TuitionTypeID == tuitionTypeID)
}

// =============================================================================
// INPUT - what the scholarship form submits
// =============================================================================

// ScholarshipInput is the raw form submission for one student.
type ScholarshipInput struct {
	TuitionTypeID    string           `json:"tuitionTypeId"`
	ScholarshipType  *ScholarshipType `json:"scholarshipType"`
	ScholarshipValue *decimal.Decimal `json:"scholarshipValue"`
}

// Validate checks the value against the selected type.
func (in ScholarshipInput) Validate() error {
	if in.ScholarshipType == nil || *in.ScholarshipType == "" {
		return nil
	}
	if !in.ScholarshipType.Valid() {
		return &generic.ValidationError{Field: "scholarshipType", Message: "must be percentage or fixed"}
	}
	if in.ScholarshipValue == nil {
		return &generic.ValidationError{Field: "scholarshipValue", Message: "is required when a scholarship type is set"}
	}
	v := *in.ScholarshipValue
	if err := checkBounds("scholarshipValue", v); err != nil {
		return err
	}
	if v.IsNegative() {
		return &generic.ValidationError{Field: "scholarshipValue", Message: "must be greater than or equal to 0"}
	}
	if *in.ScholarshipType == ScholarshipPercentage && v.GreaterThan(maxPercentage) {
		return &generic.ValidationError{Field: "scholarshipValue", Message: "percentage must be between 0 and 100"}
	}
	return nil
}

// Normalize turns the form input into the update sent to storage. Without a
// scholarship type both type and value are cleared, even if a stale value
// was submitted.
func (in ScholarshipInput) Normalize() ScholarshipUpdate {
	if in.ScholarshipType == nil || *in.ScholarshipType == "" {
		return ScholarshipUpdate{TuitionTypeID: in.TuitionTypeID}
	}
	t := *in.ScholarshipType
	v := *in.ScholarshipValue
	return ScholarshipUpdate{TuitionTypeID: in.TuitionTypeID, ScholarshipType: &t, ScholarshipValue: &v}
}

// ScholarshipUpdate is a normalized scholarship write. A nil type means
// "remove scholarship".
type ScholarshipUpdate struct {
	TuitionTypeID    string
	ScholarshipType  *ScholarshipType
	ScholarshipValue *decimal.Decimal
}

// Clears reports whether the update removes the scholarship.
func (u ScholarshipUpdate) Clears() bool {
	return u.ScholarshipType == nil
}

// MarshalJSON always emits both scholarship keys. A removal is sent as
// explicit nulls, never as missing keys.
func (u ScholarshipUpdate) MarshalJSON() ([]byte, error) {
	var value *string
	if u.ScholarshipValue != nil {
		s := u.ScholarshipValue.String()
		value = &s
	}
	return json.Marshal(struct {
		TuitionTypeID    string           `json:"tuitionTypeId"`
		ScholarshipType  *ScholarshipType `json:"scholarshipType"`
		ScholarshipValue *json.Number     `json:"scholarshipValue"`
	}{
		TuitionTypeID:    u.TuitionTypeID,
		ScholarshipType:  u.ScholarshipType,
		ScholarshipValue: (*json.Number)(value),
	})
}

// Apply writes the update onto a scholarship record.
func (u ScholarshipUpdate) Apply(studentID string, now time.Time) Scholarship {
	return Scholarship{
		StudentID:     studentID,
		TuitionTypeID: u.TuitionTypeID,
		Type:          u.ScholarshipType,
		Value:         u.ScholarshipValue,
		UpdatedAt:     now,
	}
}
