/*
calculator.go - Final amount owed for a billing record

PURPOSE:
  Derives the amount currently owed on a bill and the balance remaining
  after partial payments. Everything shown to a family or accepted from a
  cashier goes through Calculate, so the order of operations below is the
  contract.

ALGORITHM:
  1. discount = sum of adjustments
       percentage -> (tuition - scholarship) * value / 100
       fixed      -> value
  2. extra = sum of extra charges
  3. overdue = today > due date (both as calendar days)
  4. pending late fee only if overdue, not paid, bill status is not
     "not_required", and no late fee has been applied yet
  5. pending fee = fixed value, or (tuition - scholarship - discount) * value / 100
  6. final = tuition - scholarship - discount + extra + applied fee + pending fee
  7. remaining = final - paid

  Intermediate sums are exact decimals. The pending fee and the final
  amount are rounded to cents.

EXAMPLE:
  tuition 500, scholarship 50, one 10% adjustment, extra 20, not overdue
  discount = (500 - 50) * 0.10 = 45
  final    = 500 - 50 - 45 + 20 + 0 + 0 = 425

SEE ALSO:
  - payment.go: Range validation against RemainingAmount
  - cashier.go: Mutations that recompute and store the result
*/
package billing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/generic"
)

// Breakdown is the full derivation of a bill's amounts as of one day.
type Breakdown struct {
	AsOf     generic.TimePoint
	Currency generic.Currency

	EffectiveTuitionAmount decimal.Decimal
	ScholarshipAmount      decimal.Decimal
	DiscountAmount         decimal.Decimal
	ExtraAmount            decimal.Decimal
	AmountAfterDiscounts   decimal.Decimal
	AppliedLateFee         decimal.Decimal
	PendingLateFee         decimal.Decimal

	IsOverdue         bool
	HasPendingLateFee bool

	FinalAmount     decimal.Decimal
	PaidAmount      decimal.Decimal
	RemainingAmount decimal.Decimal
}

// Remaining returns the remaining balance as an Amount.
func (b Breakdown) Remaining() generic.Amount {
	return generic.NewAmountFromDecimal(b.RemainingAmount, b.Currency)
}

// Calculate derives the amounts owed on rec as of asOf.
func Calculate(rec *BillingRecord, asOf generic.TimePoint) Breakdown {
	b := Breakdown{
		AsOf:                   asOf,
		Currency:               rec.Currency,
		EffectiveTuitionAmount: rec.EffectiveTuitionAmount,
		ScholarshipAmount:      rec.ScholarshipAmount,
		AppliedLateFee:         rec.LateFeeAmount,
		PaidAmount:             rec.Paid(),
	}

	base := rec.EffectiveTuitionAmount.Sub(rec.ScholarshipAmount)
	b.DiscountAmount = DiscountAmount(base, rec.DiscountAdjustments)
	b.ExtraAmount = ExtraAmount(rec.ExtraCharges)
	b.AmountAfterDiscounts = base.Sub(b.DiscountAmount)

	b.IsOverdue = IsOverdue(rec.DueDate, asOf)
	b.HasPendingLateFee = b.IsOverdue &&
		!rec.IsPaid &&
		rec.BillStatus != BillNotRequired &&
		rec.LateFeeAmount.IsZero()

	b.PendingLateFee = decimal.Zero
	if b.HasPendingLateFee {
		b.PendingLateFee = LateFee(rec.TuitionTypeSnapshot, b.AmountAfterDiscounts)
	}

	b.FinalAmount = generic.RoundCents(b.AmountAfterDiscounts.
		Add(b.ExtraAmount).
		Add(b.AppliedLateFee).
		Add(b.PendingLateFee))
	b.RemainingAmount = b.FinalAmount.Sub(b.PaidAmount)
	return b
}

// DiscountAmount sums adjustments against the post-scholarship base.
func DiscountAmount(base decimal.Decimal, adjustments []DiscountAdjustment) decimal.Decimal {
	total := decimal.Zero
	for _, adj := range adjustments {
		switch adj.Type {
		case AdjustmentPercentage:
			total = total.Add(generic.Percentage(base, adj.Value))
		default:
			total = total.Add(adj.Value)
		}
	}
	return total
}

// ExtraAmount sums extra charges.
func ExtraAmount(charges []ExtraCharge) decimal.Decimal {
	total := decimal.Zero
	for _, c := range charges {
		total = total.Add(c.Amount)
	}
	return total
}

// IsOverdue compares calendar days: a bill due today is not overdue.
func IsOverdue(dueDate, today generic.TimePoint) bool {
	if dueDate.IsZero() {
		return false
	}
	return today.After(dueDate)
}

// LateFee computes the fee for the snapshot terms on amountAfterDiscounts.
func LateFee(terms TuitionTypeSnapshot, amountAfterDiscounts decimal.Decimal) decimal.Decimal {
	switch terms.LateFeeType {
	case LateFeePercentage:
		return generic.RoundCents(generic.Percentage(amountAfterDiscounts, terms.LateFeeValue))
	default:
		return generic.RoundCents(terms.LateFeeValue)
	}
}

// DerivePaymentStatus maps the amounts of a bill onto its payment status.
func DerivePaymentStatus(rec *BillingRecord, b Breakdown) PaymentStatus {
	switch {
	case rec.IsPaid:
		return PaymentPaid
	case b.PaidAmount.IsPositive() && !b.RemainingAmount.IsPositive():
		return PaymentPaid
	case b.PaidAmount.IsPositive():
		return PaymentPartial
	case b.IsOverdue && rec.BillStatus != BillNotRequired:
		return PaymentDelayed
	default:
		return PaymentPending
	}
}

// Refresh stores the calculator output on the record.
func Refresh(rec *BillingRecord, asOf generic.TimePoint) Breakdown {
	b := Calculate(rec, asOf)
	rec.FinalAmount = b.FinalAmount
	rec.PaymentStatus = DerivePaymentStatus(rec, b)
	return b
}
