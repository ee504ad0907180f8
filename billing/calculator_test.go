package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/tuition-engine/generic"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, dd int) generic.TimePoint { return generic.NewTimePoint(y, m, dd) }

// bill returns a required March 2026 bill due on the 10th.
func bill(tuition, scholarship string) *BillingRecord {
	return &BillingRecord{
		ID:                     "bill-1",
		StudentID:              "st-1",
		Period:                 generic.MonthOf(day(2026, time.March, 1)),
		Currency:               generic.CurrencyUSD,
		EffectiveTuitionAmount: d(tuition),
		ScholarshipAmount:      d(scholarship),
		LateFeeAmount:          decimal.Zero,
		DueDate:                day(2026, time.March, 10),
		BillStatus:             BillRequired,
		PaymentStatus:          PaymentPending,
		TuitionTypeSnapshot:    TuitionTypeSnapshot{LateFeeType: LateFeeFixed, LateFeeValue: d("25")},
	}
}

func TestCalculate_NoAdjustments(t *testing.T) {
	// GIVEN: A bill with no adjustments, charges or fees
	rec := bill("500", "50")

	// WHEN: Calculated before the due date
	b := Calculate(rec, day(2026, time.March, 1))

	// THEN: Final is tuition minus scholarship
	assert.True(t, b.FinalAmount.Equal(d("450")), "got %s", b.FinalAmount)
	assert.True(t, b.RemainingAmount.Equal(d("450")))
	assert.False(t, b.IsOverdue)
	assert.False(t, b.HasPendingLateFee)
}

func TestCalculate_DiscountAdjustments(t *testing.T) {
	tests := []struct {
		name     string
		adj      DiscountAdjustment
		tuition  string
		discount string
	}{
		{"ten percent of 100", DiscountAdjustment{Type: AdjustmentPercentage, Value: d("10")}, "100", "10"},
		{"fixed 10 on 100", DiscountAdjustment{Type: AdjustmentFixed, Value: d("10")}, "100", "10"},
		{"fixed 10 on 900", DiscountAdjustment{Type: AdjustmentFixed, Value: d("10")}, "900", "10"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := bill(tc.tuition, "0")
			rec.DiscountAdjustments = []DiscountAdjustment{tc.adj}

			b := Calculate(rec, day(2026, time.March, 1))

			assert.True(t, b.DiscountAmount.Equal(d(tc.discount)), "got %s", b.DiscountAmount)
		})
	}
}

func TestCalculate_PercentageUsesPostScholarshipBase(t *testing.T) {
	// GIVEN: 500 tuition, 50 scholarship, 10% adjustment, 20 extra
	rec := bill("500", "50")
	rec.DiscountAdjustments = []DiscountAdjustment{{Type: AdjustmentPercentage, Value: d("10")}}
	rec.ExtraCharges = []ExtraCharge{{Amount: d("20"), Description: "materials"}}

	// WHEN: Calculated before the due date
	b := Calculate(rec, day(2026, time.March, 5))

	// THEN: Discount is 10% of 450 and final is 425
	assert.True(t, b.DiscountAmount.Equal(d("45")), "got %s", b.DiscountAmount)
	assert.True(t, b.AmountAfterDiscounts.Equal(d("405")))
	assert.True(t, b.ExtraAmount.Equal(d("20")))
	assert.True(t, b.FinalAmount.Equal(d("425")), "got %s", b.FinalAmount)
}

func TestCalculate_DueDateIsNotOverdue(t *testing.T) {
	rec := bill("500", "0")

	onDue := Calculate(rec, day(2026, time.March, 10))
	after := Calculate(rec, day(2026, time.March, 11))

	assert.False(t, onDue.IsOverdue)
	assert.True(t, onDue.PendingLateFee.IsZero())
	assert.True(t, after.IsOverdue)
	assert.True(t, after.PendingLateFee.Equal(d("25")))
	assert.True(t, after.FinalAmount.Equal(d("525")))
}

func TestCalculate_OverdueComparesCalendarDays(t *testing.T) {
	// GIVEN: "today" late in the evening of the due date, in a zone behind UTC
	loc := time.FixedZone("school", -6*60*60)
	rec := bill("500", "0")
	asOf := generic.DateOf(time.Date(2026, time.March, 10, 23, 30, 0, 0, loc))

	// THEN: Still not overdue
	assert.False(t, Calculate(rec, asOf).IsOverdue)
}

func TestCalculate_PercentageLateFee(t *testing.T) {
	// GIVEN: A 5% late fee on a bill with a 10% adjustment
	rec := bill("500", "50")
	rec.DiscountAdjustments = []DiscountAdjustment{{Type: AdjustmentPercentage, Value: d("10")}}
	rec.TuitionTypeSnapshot = TuitionTypeSnapshot{LateFeeType: LateFeePercentage, LateFeeValue: d("5")}

	// WHEN: Overdue
	b := Calculate(rec, day(2026, time.March, 20))

	// THEN: Fee is 5% of the amount after discounts (405)
	assert.True(t, b.PendingLateFee.Equal(d("20.25")), "got %s", b.PendingLateFee)
	assert.True(t, b.FinalAmount.Equal(d("425.25")))
}

func TestCalculate_AppliedLateFeeIsNotChargedTwice(t *testing.T) {
	rec := bill("500", "0")
	rec.LateFeeAmount = d("25")

	b := Calculate(rec, day(2026, time.April, 1))

	assert.True(t, b.IsOverdue)
	assert.False(t, b.HasPendingLateFee)
	assert.True(t, b.PendingLateFee.IsZero())
	assert.True(t, b.AppliedLateFee.Equal(d("25")))
	assert.True(t, b.FinalAmount.Equal(d("525")))
}

func TestCalculate_NoLateFeeWhenNotRequiredOrPaid(t *testing.T) {
	notRequired := bill("500", "0")
	notRequired.BillStatus = BillNotRequired

	paid := bill("500", "0")
	paid.IsPaid = true

	for _, rec := range []*BillingRecord{notRequired, paid} {
		b := Calculate(rec, day(2026, time.April, 1))
		assert.False(t, b.HasPendingLateFee)
		assert.True(t, b.FinalAmount.Equal(d("500")))
	}
}

func TestCalculate_RoundsFinalToCents(t *testing.T) {
	// GIVEN: A percentage that leaves a fraction of a cent
	rec := bill("100", "0")
	rec.DiscountAdjustments = []DiscountAdjustment{{Type: AdjustmentPercentage, Value: d("33.335")}}

	b := Calculate(rec, day(2026, time.March, 1))

	// THEN: Intermediates stay exact, final is rounded half away from zero
	assert.True(t, b.DiscountAmount.Equal(d("33.335")))
	assert.True(t, b.FinalAmount.Equal(d("66.67")), "got %s", b.FinalAmount)
}

func TestCalculate_RemainingSubtractsPaid(t *testing.T) {
	rec := bill("500", "0")
	paid := d("120.50")
	rec.PaidAmount = &paid

	b := Calculate(rec, day(2026, time.March, 1))

	assert.True(t, b.RemainingAmount.Equal(d("379.50")))
	assert.Equal(t, "379.50 USD", b.Remaining().String())
}

func TestDerivePaymentStatus(t *testing.T) {
	before := day(2026, time.March, 1)
	late := day(2026, time.March, 15)

	withPaid := func(s string) *BillingRecord {
		rec := bill("500", "0")
		v := d(s)
		rec.PaidAmount = &v
		return rec
	}
	notRequired := bill("500", "0")
	notRequired.BillStatus = BillNotRequired
	flagged := bill("500", "0")
	flagged.IsPaid = true

	tests := []struct {
		name string
		rec  *BillingRecord
		asOf generic.TimePoint
		want PaymentStatus
	}{
		{"nothing paid before due", bill("500", "0"), before, PaymentPending},
		{"nothing paid after due", bill("500", "0"), late, PaymentDelayed},
		{"not required after due", notRequired, late, PaymentPending},
		{"part paid", withPaid("100"), before, PaymentPartial},
		{"part paid after due", withPaid("100"), late, PaymentPartial},
		{"fully paid", withPaid("500"), before, PaymentPaid},
		{"flagged paid", flagged, late, PaymentPaid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := Calculate(tc.rec, tc.asOf)
			assert.Equal(t, tc.want, DerivePaymentStatus(tc.rec, b))
		})
	}
}

func TestRefresh_StoresFinalAndStatus(t *testing.T) {
	rec := bill("500", "0")

	Refresh(rec, day(2026, time.March, 11))

	assert.True(t, rec.FinalAmount.Equal(d("525")))
	assert.Equal(t, PaymentDelayed, rec.PaymentStatus)
	assert.True(t, rec.LateFeeAmount.IsZero(), "refresh must not apply the fee")
}
