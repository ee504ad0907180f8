/*
cashier.go - Payments, reversals, late fees and bill edits

PURPOSE:
  Every write to a bill goes through the Cashier. Each operation runs as a
  single BillStore.MutateBill call: the bill is loaded, changed, recomputed
  by the calculator, and stored together with its ledger transactions.

LATE FEE LOCK-IN:
  A pending late fee is only a projection until it is applied. Before a
  payment is validated the pending fee is written into LateFeeAmount with a
  late_fee transaction, so the amount owed can never drop after a payment
  is taken:

    due 2026-03-10, today 2026-03-12, final 425 + 25 pending
    pay 200  -> late fee 25 applied, paid 200, remaining 250
    pay 250  -> paid 450, remaining 0, bill settled

SEE ALSO:
  - calculator.go: Amount derivation
  - store.go: BillStore.MutateBill contract
  - generic/ledger.go: Transaction semantics
*/
package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/generic"
)

// Cashier performs the state-changing operations on bills.
type Cashier struct {
	Bills BillStore

	// Location decides which calendar day "today" is.
	Location *time.Location

	Now   func() time.Time
	NewID func() string
}

// NewCashier creates a cashier using wall-clock time in loc.
func NewCashier(bills BillStore, loc *time.Location) *Cashier {
	if loc == nil {
		loc = time.UTC
	}
	return &Cashier{
		Bills:    bills,
		Location: loc,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// Today returns the current calendar day in the cashier's location.
func (c *Cashier) Today() generic.TimePoint {
	return generic.DateOf(c.Now().In(c.Location))
}

// Breakdown returns the amounts of rec as of today.
func (c *Cashier) Breakdown(rec *BillingRecord) Breakdown {
	return Calculate(rec, c.Today())
}

// Receipt is the outcome of a payment or reversal.
type Receipt struct {
	Bill      BillingRecord
	Breakdown Breakdown

	// Transaction is nil when a zero balance was settled without money
	// changing hands.
	Transaction *generic.Transaction
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPartialPayment takes amount against the bill. The amount must be
// positive and no greater than the remaining balance after any pending late
// fee is locked in.
func (c *Cashier) RecordPartialPayment(ctx context.Context, billID string, amount decimal.Decimal, idempotencyKey, actor string) (*Receipt, error) {
	if err := checkCents(amount); err != nil {
		return nil, err
	}
	return c.pay(ctx, billID, &amount, idempotencyKey, actor)
}

// RecordPayment settles the whole remaining balance.
func (c *Cashier) RecordPayment(ctx context.Context, billID, idempotencyKey, actor string) (*Receipt, error) {
	return c.pay(ctx, billID, nil, idempotencyKey, actor)
}

// pay records amount, or the full remaining balance when amount is nil.
func (c *Cashier) pay(ctx context.Context, billID string, amount *decimal.Decimal, idempotencyKey, actor string) (*Receipt, error) {
	now := c.Now()
	today := generic.DateOf(now.In(c.Location))
	receipt := &Receipt{}

	rec, err := c.Bills.MutateBill(ctx, billID, func(rec *BillingRecord, history []generic.Transaction) ([]generic.Transaction, error) {
		if rec.IsPaid {
			return nil, generic.ErrAlreadyPaid
		}
		if idempotencyKey != "" && hasIdempotencyKey(history, idempotencyKey) {
			return nil, generic.ErrDuplicateIdempotencyKey
		}

		var txs []generic.Transaction
		if fee, ok := c.lockLateFee(rec, today, now, actor); ok {
			txs = append(txs, fee)
		}
		b := Calculate(rec, today)

		value := b.RemainingAmount
		if amount != nil {
			if err := ValidatePartialPayment(*amount, b); err != nil {
				return nil, err
			}
			value = *amount
		}

		if value.IsPositive() {
			if idempotencyKey == "" {
				idempotencyKey = "payment:" + c.NewID()
			}
			tx := generic.Transaction{
				ID:             generic.TransactionID(c.NewID()),
				EntityID:       rec.EntityID(),
				AccountID:      rec.AccountID(),
				EffectiveAt:    today,
				Delta:          generic.NewAmountFromDecimal(value, rec.Currency),
				Type:           generic.TxPayment,
				IdempotencyKey: idempotencyKey,
				CreatedBy:      actor,
				CreatedAt:      now,
			}
			txs = append(txs, tx)
			receipt.Transaction = &tx

			paid := rec.Paid().Add(value)
			rec.PaidAmount = &paid
		}

		b = Refresh(rec, today)
		if !b.RemainingAmount.IsPositive() {
			markPaid(rec, now)
		}
		rec.UpdatedAt = now
		return txs, nil
	})
	if err != nil {
		return nil, err
	}
	receipt.Bill = *rec
	receipt.Breakdown = Calculate(rec, today)
	return receipt, nil
}

// ReversePayment undoes a payment on the bill. The original transaction
// stays in the ledger next to its reversal.
func (c *Cashier) ReversePayment(ctx context.Context, billID string, txID generic.TransactionID, reason, actor string) (*Receipt, error) {
	now := c.Now()
	today := generic.DateOf(now.In(c.Location))
	receipt := &Receipt{}

	rec, err := c.Bills.MutateBill(ctx, billID, func(rec *BillingRecord, history []generic.Transaction) ([]generic.Transaction, error) {
		original, ok := findTransaction(history, txID)
		if !ok || original.Type != generic.TxPayment {
			return nil, generic.NewNotFound("transaction", string(txID))
		}
		if generic.IsReversed(history, txID) {
			return nil, generic.ErrAlreadyReversed
		}

		tx := generic.Transaction{
			ID:             generic.TransactionID(c.NewID()),
			EntityID:       rec.EntityID(),
			AccountID:      rec.AccountID(),
			EffectiveAt:    today,
			Delta:          original.Delta.Neg(),
			Type:           generic.TxReversal,
			ReferenceID:    string(original.ID),
			Reason:         reason,
			IdempotencyKey: "reversal:" + string(original.ID),
			CreatedBy:      actor,
			CreatedAt:      now,
		}
		receipt.Transaction = &tx

		paid := rec.Paid().Sub(original.Delta.Value)
		rec.PaidAmount = &paid
		rec.IsPaid = false
		rec.PaidAt = nil
		Refresh(rec, today)
		rec.UpdatedAt = now
		return []generic.Transaction{tx}, nil
	})
	if err != nil {
		return nil, err
	}
	receipt.Bill = *rec
	receipt.Breakdown = Calculate(rec, today)
	return receipt, nil
}

// =============================================================================
// LATE FEES
// =============================================================================

// ApplyLateFee materializes the pending late fee of one bill as of asOf.
// It reports whether a fee was applied; a bill with nothing pending only has
// its payment status refreshed.
func (c *Cashier) ApplyLateFee(ctx context.Context, billID string, asOf generic.TimePoint) (*BillingRecord, bool, error) {
	now := c.Now()
	applied := false
	rec, err := c.Bills.MutateBill(ctx, billID, func(rec *BillingRecord, _ []generic.Transaction) ([]generic.Transaction, error) {
		var txs []generic.Transaction
		if fee, ok := c.lockLateFee(rec, asOf, now, "system"); ok {
			txs = append(txs, fee)
			applied = true
		}
		Refresh(rec, asOf)
		rec.UpdatedAt = now
		return txs, nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, applied, nil
}

// ApplyLateFees sweeps every unpaid bill and applies pending late fees.
// Per-bill failures are collected on the run and do not stop the sweep.
func (c *Cashier) ApplyLateFees(ctx context.Context, asOf generic.TimePoint) (LateFeeRun, error) {
	run := LateFeeRun{
		ID:        c.NewID(),
		AsOf:      asOf,
		Status:    RunRunning,
		StartedAt: c.Now(),
	}
	currency := generic.CurrencyUSD

	bills, err := c.Bills.ListBills(ctx, BillFilter{OnlyUnpaid: true})
	if err != nil {
		run.Status = RunFailed
		run.Errors = append(run.Errors, err.Error())
		return run, fmt.Errorf("list unpaid bills: %w", err)
	}
	if len(bills) > 0 {
		currency = bills[0].Currency
	}
	run.Total = generic.NewAmountFromDecimal(decimal.Zero, currency)

	for i := range bills {
		if err := ctx.Err(); err != nil {
			run.Status = RunFailed
			run.Errors = append(run.Errors, err.Error())
			return run, err
		}
		bill := &bills[i]
		run.Examined++

		b := Calculate(bill, asOf)
		if !b.HasPendingLateFee && DerivePaymentStatus(bill, b) == bill.PaymentStatus {
			continue
		}
		updated, applied, err := c.ApplyLateFee(ctx, bill.ID, asOf)
		if err != nil {
			run.Errors = append(run.Errors, fmt.Sprintf("bill %s: %v", bill.ID, err))
			continue
		}
		if applied {
			run.addFee(generic.NewAmountFromDecimal(updated.LateFeeAmount, updated.Currency))
		}
	}

	completed := c.Now()
	run.CompletedAt = &completed
	run.Status = RunCompleted
	return run, nil
}

// lockLateFee moves a positive pending late fee into LateFeeAmount and
// returns the matching ledger transaction.
func (c *Cashier) lockLateFee(rec *BillingRecord, asOf generic.TimePoint, now time.Time, actor string) (generic.Transaction, bool) {
	b := Calculate(rec, asOf)
	if !b.HasPendingLateFee || !b.PendingLateFee.IsPositive() {
		return generic.Transaction{}, false
	}
	rec.LateFeeAmount = b.PendingLateFee
	return generic.Transaction{
		ID:             generic.TransactionID(c.NewID()),
		EntityID:       rec.EntityID(),
		AccountID:      rec.AccountID(),
		EffectiveAt:    asOf,
		Delta:          generic.NewAmountFromDecimal(b.PendingLateFee, rec.Currency),
		Type:           generic.TxLateFee,
		IdempotencyKey: "late-fee:" + rec.ID,
		Metadata: map[string]string{
			"fee_type":  string(rec.TuitionTypeSnapshot.LateFeeType),
			"fee_value": rec.TuitionTypeSnapshot.LateFeeValue.String(),
			"due_date":  rec.DueDate.String(),
		},
		CreatedBy: actor,
		CreatedAt: now,
	}, true
}

// =============================================================================
// BILL EDITS
// =============================================================================

// AddDiscountAdjustment appends an ad-hoc discount to the bill.
func (c *Cashier) AddDiscountAdjustment(ctx context.Context, billID string, adj DiscountAdjustment) (*BillingRecord, error) {
	if err := adj.Validate(); err != nil {
		return nil, err
	}
	return c.edit(ctx, billID, func(rec *BillingRecord) error {
		rec.DiscountAdjustments = append(rec.DiscountAdjustments, adj)
		return nil
	})
}

// RemoveDiscountAdjustment drops the adjustment at index.
func (c *Cashier) RemoveDiscountAdjustment(ctx context.Context, billID string, index int) (*BillingRecord, error) {
	return c.edit(ctx, billID, func(rec *BillingRecord) error {
		if index < 0 || index >= len(rec.DiscountAdjustments) {
			return generic.NewNotFound("adjustment", strconv.Itoa(index))
		}
		adjs := make([]DiscountAdjustment, 0, len(rec.DiscountAdjustments)-1)
		adjs = append(adjs, rec.DiscountAdjustments[:index]...)
		rec.DiscountAdjustments = append(adjs, rec.DiscountAdjustments[index+1:]...)
		return nil
	})
}

// AddExtraCharge appends a one-off charge to the bill.
func (c *Cashier) AddExtraCharge(ctx context.Context, billID string, charge ExtraCharge) (*BillingRecord, error) {
	if err := charge.Validate(); err != nil {
		return nil, err
	}
	return c.edit(ctx, billID, func(rec *BillingRecord) error {
		rec.ExtraCharges = append(rec.ExtraCharges, charge)
		return nil
	})
}

// SetBillStatus changes whether the bill has to be sent.
func (c *Cashier) SetBillStatus(ctx context.Context, billID string, status BillStatus) (*BillingRecord, error) {
	if !status.Valid() {
		return nil, &generic.ValidationError{Field: "bill_status", Message: "must be not_required, required or sent"}
	}
	return c.edit(ctx, billID, func(rec *BillingRecord) error {
		rec.BillStatus = status
		return nil
	})
}

// edit applies change to an unpaid bill and recomputes it. An edit cannot
// push the total below what has already been paid.
func (c *Cashier) edit(ctx context.Context, billID string, change func(rec *BillingRecord) error) (*BillingRecord, error) {
	now := c.Now()
	today := generic.DateOf(now.In(c.Location))
	return c.Bills.MutateBill(ctx, billID, func(rec *BillingRecord, _ []generic.Transaction) ([]generic.Transaction, error) {
		if rec.IsPaid {
			return nil, generic.ErrAlreadyPaid
		}
		if err := change(rec); err != nil {
			return nil, err
		}
		b := Refresh(rec, today)
		if b.RemainingAmount.IsNegative() {
			return nil, &generic.ValidationError{
				Field:   "final_amount",
				Message: fmt.Sprintf("would be %s, below the %s already paid", b.FinalAmount.StringFixed(2), b.PaidAmount.StringFixed(2)),
			}
		}
		if b.PaidAmount.IsPositive() && b.RemainingAmount.IsZero() {
			markPaid(rec, now)
		}
		rec.UpdatedAt = now
		return nil, nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func markPaid(rec *BillingRecord, now time.Time) {
	rec.IsPaid = true
	rec.PaidAt = &now
	rec.PaymentStatus = PaymentPaid
}

func findTransaction(txs []generic.Transaction, id generic.TransactionID) (generic.Transaction, bool) {
	for _, tx := range txs {
		if tx.ID == id {
			return tx, true
		}
	}
	return generic.Transaction{}, false
}

func hasIdempotencyKey(txs []generic.Transaction, key string) bool {
	for _, tx := range txs {
		if tx.IdempotencyKey == key {
			return true
		}
	}
	return false
}
