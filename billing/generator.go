package billing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/generic"
)

// BillInput is everything needed to issue one student's bill for a month.
type BillInput struct {
	ID               string
	StudentID        string
	SchoolYearID     string
	TuitionType      TuitionType
	Scholarship      *Scholarship
	RecurringCharges []RecurringCharge
	Month            generic.Period
	Now              time.Time
}

// GenerateBill builds a fresh billing record. Nothing is paid, no late fee is
// applied, and the late-fee terms of the tuition type are frozen on the bill.
func GenerateBill(in BillInput) (BillingRecord, error) {
	if in.StudentID == "" {
		return BillingRecord{}, &generic.ValidationError{Field: "student_id", Message: "is required"}
	}
	if err := in.TuitionType.Validate(); err != nil {
		return BillingRecord{}, err
	}
	if in.Month.End.Before(in.Month.Start) || in.Month.Start.IsZero() {
		return BillingRecord{}, generic.ErrInvalidPeriod
	}

	tuition := in.TuitionType.BaseAmount
	scholarship := decimal.Zero
	if in.Scholarship.AppliesTo(in.TuitionType.ID) {
		scholarship = in.Scholarship.AmountFor(tuition)
	}

	var extras []ExtraCharge
	for _, rc := range in.RecurringCharges {
		if rc.StudentID != in.StudentID || !rc.ActiveIn(in.Month) {
			continue
		}
		extras = append(extras, ExtraCharge{
			Amount:      rc.Amount,
			Description: rc.Description,
			RecurringID: rc.ID,
		})
	}

	start := in.Month.Start
	due := generic.DayInMonth(start.Year(), start.Month(), in.TuitionType.DueDay)
	if due.Before(start) {
		// first month of a school year starting after the due day
		due = start
	}
	rec := BillingRecord{
		ID:                     in.ID,
		StudentID:              in.StudentID,
		SchoolYearID:           in.SchoolYearID,
		TuitionTypeID:          in.TuitionType.ID,
		Period:                 in.Month,
		Currency:               in.TuitionType.Currency,
		EffectiveTuitionAmount: tuition,
		ScholarshipAmount:      scholarship,
		ExtraCharges:           extras,
		LateFeeAmount:          decimal.Zero,
		DueDate:                due,
		BillStatus:             BillRequired,
		PaymentStatus:          PaymentPending,
		TuitionTypeSnapshot:    in.TuitionType.Snapshot(),
		CreatedAt:              in.Now,
		UpdatedAt:              in.Now,
	}
	rec.FinalAmount = Calculate(&rec, start).FinalAmount
	return rec, nil
}
