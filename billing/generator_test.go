package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/generic"
)

func monthly() TuitionType {
	return TuitionType{
		ID:           "monthly",
		Name:         "Monthly",
		BaseAmount:   d("500"),
		Currency:     generic.CurrencyUSD,
		DueDay:       10,
		LateFeeType:  LateFeeFixed,
		LateFeeValue: d("25"),
	}
}

func TestGenerateBill(t *testing.T) {
	// GIVEN: A student with a fixed scholarship and one active recurring charge
	now := time.Date(2026, time.February, 25, 8, 0, 0, 0, time.UTC)
	ends := day(2026, time.February, 28)
	in := BillInput{
		ID:           "bill-mar",
		StudentID:    "st-1",
		SchoolYearID: "sy-2025",
		TuitionType:  monthly(),
		Scholarship:  &Scholarship{StudentID: "st-1", TuitionTypeID: "monthly", Type: typ(ScholarshipFixed), Value: val("50")},
		RecurringCharges: []RecurringCharge{
			{ID: "rc-bus", StudentID: "st-1", Description: "Bus", Amount: d("30"), StartsOn: day(2025, time.August, 1)},
			{ID: "rc-old", StudentID: "st-1", Description: "Old club", Amount: d("15"), StartsOn: day(2025, time.August, 1), EndsOn: &ends},
			{ID: "rc-other", StudentID: "st-2", Description: "Not mine", Amount: d("99"), StartsOn: day(2025, time.August, 1)},
		},
		Month: generic.MonthOf(day(2026, time.March, 1)),
		Now:   now,
	}

	// WHEN: The bill is generated
	rec, err := GenerateBill(in)

	// THEN: Amounts, due date and late-fee snapshot come from the inputs
	require.NoError(t, err)
	assert.True(t, rec.EffectiveTuitionAmount.Equal(d("500")))
	assert.True(t, rec.ScholarshipAmount.Equal(d("50")))
	require.Len(t, rec.ExtraCharges, 1)
	assert.Equal(t, "rc-bus", rec.ExtraCharges[0].RecurringID)
	assert.True(t, rec.FinalAmount.Equal(d("480")), "got %s", rec.FinalAmount)
	assert.Equal(t, "2026-03-10", rec.DueDate.String())
	assert.Equal(t, BillRequired, rec.BillStatus)
	assert.Equal(t, PaymentPending, rec.PaymentStatus)
	assert.Nil(t, rec.PaidAmount)
	assert.True(t, rec.LateFeeAmount.IsZero())
	assert.Equal(t, LateFeeFixed, rec.TuitionTypeSnapshot.LateFeeType)
	assert.True(t, rec.TuitionTypeSnapshot.LateFeeValue.Equal(d("25")))
	assert.Equal(t, now, rec.CreatedAt)
}

func TestGenerateBill_ScholarshipForOtherTuitionType(t *testing.T) {
	rec, err := GenerateBill(BillInput{
		ID:          "bill-1",
		StudentID:   "st-1",
		TuitionType: monthly(),
		Scholarship: &Scholarship{TuitionTypeID: "annual", Type: typ(ScholarshipPercentage), Value: val("50")},
		Month:       generic.MonthOf(day(2026, time.March, 1)),
	})

	require.NoError(t, err)
	assert.True(t, rec.ScholarshipAmount.IsZero())
	assert.True(t, rec.FinalAmount.Equal(d("500")))
}

func TestGenerateBill_ClippedFirstMonth(t *testing.T) {
	// GIVEN: A school year starting on the 18th, after the due day
	month := generic.Period{Start: day(2025, time.August, 18), End: day(2025, time.August, 31)}

	rec, err := GenerateBill(BillInput{ID: "bill-aug", StudentID: "st-1", TuitionType: monthly(), Month: month})

	// THEN: The bill is due on the first day of the period
	require.NoError(t, err)
	assert.Equal(t, "2025-08-18", rec.DueDate.String())
}

func TestGenerateBill_Rejects(t *testing.T) {
	month := generic.MonthOf(day(2026, time.March, 1))

	_, err := GenerateBill(BillInput{TuitionType: monthly(), Month: month})
	assert.ErrorIs(t, err, generic.ErrValidation)

	bad := monthly()
	bad.DueDay = 30
	_, err = GenerateBill(BillInput{StudentID: "st-1", TuitionType: bad, Month: month})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = GenerateBill(BillInput{StudentID: "st-1", TuitionType: monthly()})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}
