package billing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/generic"
	"github.com/warp/tuition-engine/store/sqlite"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	ctx     context.Context
	store   *sqlite.Store
	cashier *billing.Cashier
	now     time.Time
}

// newFixture opens an in-memory store and a cashier whose clock reads
// the given day at noon UTC.
func newFixture(t *testing.T, today generic.TimePoint) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		ctx:   context.Background(),
		store: store,
		now:   today.Time.Add(12 * time.Hour),
	}
	seq := 0
	f.cashier = billing.NewCashier(store, time.UTC)
	f.cashier.Now = func() time.Time { return f.now }
	f.cashier.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	return f
}

func (f *fixture) setToday(tp generic.TimePoint) {
	f.now = tp.Time.Add(12 * time.Hour)
}

// addBill stores a March 2026 bill of 500 due on the 10th with a fixed
// late fee of 25.
func (f *fixture) addBill(t *testing.T, id, studentID string) billing.BillingRecord {
	t.Helper()
	rec, err := billing.GenerateBill(billing.BillInput{
		ID:        id,
		StudentID: studentID,
		TuitionType: billing.TuitionType{
			ID: "monthly", Name: "Monthly", BaseAmount: dec("500"), Currency: generic.CurrencyUSD,
			DueDay: 10, LateFeeType: billing.LateFeeFixed, LateFeeValue: dec("25"),
		},
		Month: generic.MonthOf(generic.NewTimePoint(2026, time.March, 1)),
		Now:   f.now,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.SaveBill(f.ctx, rec))
	return rec
}

var (
	march5  = generic.NewTimePoint(2026, time.March, 5)
	march12 = generic.NewTimePoint(2026, time.March, 12)
)

func TestRecordPartialPayment_RemainingNeverIncreases(t *testing.T) {
	// GIVEN: A 500 bill before its due date
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")

	// WHEN: Three partial payments are taken
	previous := dec("500")
	for i, amount := range []string{"100", "150.50", "49.50"} {
		r, err := f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec(amount), fmt.Sprintf("pay-%d", i), "cashier")
		require.NoError(t, err)

		// THEN: Each one lowers the remaining balance by exactly its amount
		assert.True(t, r.Breakdown.RemainingAmount.Equal(previous.Sub(dec(amount))),
			"payment %d: remaining %s", i, r.Breakdown.RemainingAmount)
		assert.Equal(t, billing.PaymentPartial, r.Bill.PaymentStatus)
		previous = r.Breakdown.RemainingAmount
	}

	bill, err := f.store.GetBill(f.ctx, "bill-1")
	require.NoError(t, err)
	assert.True(t, bill.Paid().Equal(dec("300")))
	assert.False(t, bill.IsPaid)
}

func TestRecordPartialPayment_RejectsOverRemaining(t *testing.T) {
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")

	_, err := f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("500.01"), "", "cashier")
	require.ErrorIs(t, err, generic.ErrPaymentOutOfRange)
	assert.Contains(t, err.Error(), "remaining balance of 500.00")

	_, err = f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("0"), "", "cashier")
	assert.ErrorIs(t, err, generic.ErrPaymentOutOfRange)

	// THEN: Nothing was written
	txs, err := f.store.Load(f.ctx, "st-1", "bill-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRecordPartialPayment_SettlesBill(t *testing.T) {
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")

	_, err := f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("200"), "", "cashier")
	require.NoError(t, err)
	r, err := f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("300"), "", "cashier")
	require.NoError(t, err)

	assert.True(t, r.Bill.IsPaid)
	require.NotNil(t, r.Bill.PaidAt)
	assert.Equal(t, billing.PaymentPaid, r.Bill.PaymentStatus)
	assert.True(t, r.Breakdown.RemainingAmount.IsZero())

	_, err = f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("1"), "", "cashier")
	assert.ErrorIs(t, err, generic.ErrAlreadyPaid)
}

func TestRecordPartialPayment_LocksInPendingLateFee(t *testing.T) {
	// GIVEN: A bill two days overdue, 25 late fee pending
	f := newFixture(t, march12)
	f.addBill(t, "bill-1", "st-1")

	// WHEN: A partial payment is taken
	r, err := f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("200"), "pay-1", "cashier")
	require.NoError(t, err)

	// THEN: The fee is applied first and the remaining balance includes it
	assert.True(t, r.Bill.LateFeeAmount.Equal(dec("25")))
	assert.True(t, r.Breakdown.FinalAmount.Equal(dec("525")))
	assert.True(t, r.Breakdown.RemainingAmount.Equal(dec("325")))
	assert.False(t, r.Breakdown.HasPendingLateFee)

	txs, err := f.store.Load(f.ctx, "st-1", "bill-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, generic.TxLateFee, txs[0].Type)
	assert.Equal(t, "late-fee:bill-1", txs[0].IdempotencyKey)
	assert.Equal(t, generic.TxPayment, txs[1].Type)

	// AND: A later payment finds no second fee to lock in
	r, err = f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("100"), "pay-2", "cashier")
	require.NoError(t, err)
	assert.True(t, r.Breakdown.RemainingAmount.Equal(dec("225")))
}

func TestRecordPayment_PaysRemaining(t *testing.T) {
	f := newFixture(t, march12)
	f.addBill(t, "bill-1", "st-1")

	r, err := f.cashier.RecordPayment(f.ctx, "bill-1", "full-1", "cashier")
	require.NoError(t, err)

	require.NotNil(t, r.Transaction)
	assert.True(t, r.Transaction.Delta.Value.Equal(dec("525")))
	assert.True(t, r.Bill.IsPaid)
	assert.True(t, r.Bill.Paid().Equal(dec("525")))
}

func TestRecordPayment_DuplicateIdempotencyKey(t *testing.T) {
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")
	f.addBill(t, "bill-2", "st-2")

	_, err := f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("10"), "same-key", "cashier")
	require.NoError(t, err)

	_, err = f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("10"), "same-key", "cashier")
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	// Keys are unique across bills too
	_, err = f.cashier.RecordPartialPayment(f.ctx, "bill-2", dec("10"), "same-key", "cashier")
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	bill, err := f.store.GetBill(f.ctx, "bill-2")
	require.NoError(t, err)
	assert.Nil(t, bill.PaidAmount, "failed payment must not touch the bill")
}

func TestReversePayment_ReopensBill(t *testing.T) {
	// GIVEN: A fully paid bill
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")
	paid, err := f.cashier.RecordPayment(f.ctx, "bill-1", "", "cashier")
	require.NoError(t, err)
	require.True(t, paid.Bill.IsPaid)

	// WHEN: The payment is reversed
	r, err := f.cashier.ReversePayment(f.ctx, "bill-1", paid.Transaction.ID, "cheque bounced", "admin")
	require.NoError(t, err)

	// THEN: The bill is open again and the ledger keeps both entries
	assert.False(t, r.Bill.IsPaid)
	assert.Nil(t, r.Bill.PaidAt)
	assert.True(t, r.Bill.Paid().IsZero())
	assert.Equal(t, billing.PaymentPending, r.Bill.PaymentStatus)
	assert.True(t, r.Breakdown.RemainingAmount.Equal(dec("500")))

	ledger := generic.NewLedger(f.store)
	balance, err := ledger.Balance(f.ctx, "st-1", "bill-1", generic.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	txs, err := ledger.Transactions(f.ctx, "st-1", "bill-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, string(paid.Transaction.ID), txs[1].ReferenceID)
	assert.Equal(t, "cheque bounced", txs[1].Reason)
}

func TestReversePayment_Errors(t *testing.T) {
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")
	p, err := f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("100"), "", "cashier")
	require.NoError(t, err)

	_, err = f.cashier.ReversePayment(f.ctx, "bill-1", "no-such-tx", "", "admin")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = f.cashier.ReversePayment(f.ctx, "bill-1", p.Transaction.ID, "", "admin")
	require.NoError(t, err)

	_, err = f.cashier.ReversePayment(f.ctx, "bill-1", p.Transaction.ID, "", "admin")
	assert.ErrorIs(t, err, generic.ErrAlreadyReversed)

	_, err = f.cashier.ReversePayment(f.ctx, "missing-bill", p.Transaction.ID, "", "admin")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestApplyLateFees_Sweep(t *testing.T) {
	// GIVEN: One overdue bill, one not-required bill and one paid bill
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")
	f.addBill(t, "bill-2", "st-2")
	f.addBill(t, "bill-3", "st-3")
	_, err := f.cashier.SetBillStatus(f.ctx, "bill-2", billing.BillNotRequired)
	require.NoError(t, err)
	_, err = f.cashier.RecordPayment(f.ctx, "bill-3", "", "cashier")
	require.NoError(t, err)

	// WHEN: The sweep runs after the due date
	f.setToday(march12)
	run, err := f.cashier.ApplyLateFees(f.ctx, f.cashier.Today())
	require.NoError(t, err)

	// THEN: Only the required unpaid bill gets a fee
	assert.Equal(t, billing.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Examined)
	assert.Equal(t, 1, run.Applied)
	assert.True(t, run.Total.Value.Equal(dec("25")))
	assert.Empty(t, run.Errors)

	b1, err := f.store.GetBill(f.ctx, "bill-1")
	require.NoError(t, err)
	assert.True(t, b1.LateFeeAmount.Equal(dec("25")))
	assert.True(t, b1.FinalAmount.Equal(dec("525")))
	assert.Equal(t, billing.PaymentDelayed, b1.PaymentStatus)

	// AND: A second sweep applies nothing
	run, err = f.cashier.ApplyLateFees(f.ctx, f.cashier.Today())
	require.NoError(t, err)
	assert.Equal(t, 0, run.Applied)
}

func TestApplyLateFees_TotalsPerCurrency(t *testing.T) {
	// GIVEN: Overdue bills in two currencies
	f := newFixture(t, march5)
	f.addBill(t, "bill-usd", "st-1")
	eur, err := billing.GenerateBill(billing.BillInput{
		ID:        "bill-eur",
		StudentID: "st-2",
		TuitionType: billing.TuitionType{
			ID: "exchange", Name: "Exchange", BaseAmount: dec("400"), Currency: generic.Currency("EUR"),
			DueDay: 10, LateFeeType: billing.LateFeeFixed, LateFeeValue: dec("30"),
		},
		Month: generic.MonthOf(generic.NewTimePoint(2026, time.March, 1)),
		Now:   f.now,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.SaveBill(f.ctx, eur))

	// WHEN: The sweep runs
	f.setToday(march12)
	run, err := f.cashier.ApplyLateFees(f.ctx, f.cashier.Today())
	require.NoError(t, err)

	// THEN: Fees are never summed across currencies
	assert.Equal(t, 2, run.Applied)
	totals := make([]string, len(run.Totals))
	for i, a := range run.Totals {
		totals[i] = a.String()
	}
	assert.ElementsMatch(t, []string{"25.00 USD", "30.00 EUR"}, totals)
	assert.Contains(t, totals, run.Total.String())
}

func TestApplyLateFee_NotYetDue(t *testing.T) {
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")

	rec, applied, err := f.cashier.ApplyLateFee(f.ctx, "bill-1", march5)

	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, rec.LateFeeAmount.IsZero())
}

func TestBillEdits(t *testing.T) {
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")

	// Percentage adjustment on a 500 base
	rec, err := f.cashier.AddDiscountAdjustment(f.ctx, "bill-1", billing.DiscountAdjustment{
		Type: billing.AdjustmentPercentage, Value: dec("10"), Description: "sibling",
	})
	require.NoError(t, err)
	assert.True(t, rec.FinalAmount.Equal(dec("450")))

	rec, err = f.cashier.AddExtraCharge(f.ctx, "bill-1", billing.ExtraCharge{Amount: dec("20"), Description: "trip"})
	require.NoError(t, err)
	assert.True(t, rec.FinalAmount.Equal(dec("470")))

	rec, err = f.cashier.RemoveDiscountAdjustment(f.ctx, "bill-1", 0)
	require.NoError(t, err)
	assert.Empty(t, rec.DiscountAdjustments)
	assert.True(t, rec.FinalAmount.Equal(dec("520")))

	_, err = f.cashier.RemoveDiscountAdjustment(f.ctx, "bill-1", 3)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = f.cashier.AddDiscountAdjustment(f.ctx, "bill-1", billing.DiscountAdjustment{Type: billing.AdjustmentPercentage, Value: dec("120")})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.cashier.AddExtraCharge(f.ctx, "bill-1", billing.ExtraCharge{Amount: dec("0")})
	assert.ErrorIs(t, err, generic.ErrValidation)

	// Values too large to round are rejected before the bill is touched
	_, err = f.cashier.AddDiscountAdjustment(f.ctx, "bill-1", billing.DiscountAdjustment{Type: billing.AdjustmentFixed, Value: dec("1e300000000")})
	assert.ErrorIs(t, err, generic.ErrValidation)
	_, err = f.cashier.AddExtraCharge(f.ctx, "bill-1", billing.ExtraCharge{Amount: dec("1e300000000")})
	assert.ErrorIs(t, err, generic.ErrValidation)
	_, err = f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("1e300000000"), "huge", "office")
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = f.cashier.SetBillStatus(f.ctx, "bill-1", "archived")
	assert.ErrorIs(t, err, generic.ErrValidation)

	stored, err := f.store.GetBill(f.ctx, "bill-1")
	require.NoError(t, err)
	require.Len(t, stored.ExtraCharges, 1)
	assert.Equal(t, "trip", stored.ExtraCharges[0].Description)
}

func TestBillEdits_RejectedOnPaidBill(t *testing.T) {
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")
	_, err := f.cashier.RecordPayment(f.ctx, "bill-1", "", "cashier")
	require.NoError(t, err)

	_, err = f.cashier.AddExtraCharge(f.ctx, "bill-1", billing.ExtraCharge{Amount: dec("10")})
	assert.ErrorIs(t, err, generic.ErrAlreadyPaid)

	_, err = f.cashier.SetBillStatus(f.ctx, "bill-1", billing.BillSent)
	assert.ErrorIs(t, err, generic.ErrAlreadyPaid)
}

func TestBillEdits_CannotDropBelowPaid(t *testing.T) {
	f := newFixture(t, march5)
	f.addBill(t, "bill-1", "st-1")
	_, err := f.cashier.RecordPartialPayment(f.ctx, "bill-1", dec("400"), "", "cashier")
	require.NoError(t, err)

	_, err = f.cashier.AddDiscountAdjustment(f.ctx, "bill-1", billing.DiscountAdjustment{Type: billing.AdjustmentFixed, Value: dec("150")})
	assert.ErrorIs(t, err, generic.ErrValidation)

	// Exactly settling the balance marks the bill paid
	rec, err := f.cashier.AddDiscountAdjustment(f.ctx, "bill-1", billing.DiscountAdjustment{Type: billing.AdjustmentFixed, Value: dec("100")})
	require.NoError(t, err)
	assert.True(t, rec.IsPaid)
	assert.Equal(t, billing.PaymentPaid, rec.PaymentStatus)
}
