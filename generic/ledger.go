/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the immutable source of truth for money received against
  an account. Every payment, reversal and locked-in late fee is recorded
  here. The paid total stored on a bill is a cached value; it can always
  be recomputed by replaying the payment-side transactions.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

CORRECTIONS:
  A payment recorded by mistake is not edited. Instead:
  1. Create a Reversal transaction (negative delta, ReferenceID = original)
  2. Both original and reversal remain in the ledger
  3. Net effect is correction, but history is preserved

EXAMPLE FLOW:
  1. Parent pays 200 of a 425 bill: TxPayment +200
  2. Parent pays 225:               TxPayment +225 (bill settled)
  3. Second payment bounced:        TxReversal -225 (bill reopened)

  Paid total: [+200, +225, -225] = 200

SEE ALSO:
  - store.go: Low-level persistence interface
  - billing/cashier.go: Domain operations writing to the ledger
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

// Ledger is the source of truth for all payment-side changes.
type Ledger interface {
	// Append adds a transaction. Fails if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch adds multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns all transactions for entity+account, chronologically.
	Transactions(ctx context.Context, entityID EntityID, accountID AccountID) ([]Transaction, error)

	// Balance sums the deltas of the given transaction types.
	// With no types it sums the payment side (payments and reversals).
	Balance(ctx context.Context, entityID EntityID, accountID AccountID, currency Currency, types ...TransactionType) (Amount, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, entityID EntityID, accountID AccountID) ([]Transaction, error) {
	return l.Store.Load(ctx, entityID, accountID)
}

func (l *DefaultLedger) Balance(ctx context.Context, entityID EntityID, accountID AccountID, currency Currency, types ...TransactionType) (Amount, error) {
	txs, err := l.Store.Load(ctx, entityID, accountID)
	if err != nil {
		return Amount{}, err
	}
	return SumTransactions(txs, currency, types...), nil
}

// SumTransactions adds up deltas of the selected types. With no types it
// sums the payment side.
func SumTransactions(txs []Transaction, currency Currency, types ...TransactionType) Amount {
	total := Amount{Value: decimal.Zero, Currency: currency}
	for _, tx := range txs {
		if !matchesType(tx, types) {
			continue
		}
		total = total.Add(tx.Delta)
	}
	return total
}

func matchesType(tx Transaction, types []TransactionType) bool {
	if len(types) == 0 {
		return tx.IsPaymentSide()
	}
	for _, t := range types {
		if tx.Type == t {
			return true
		}
	}
	return false
}

// IsReversed reports whether txID has a reversal in txs.
func IsReversed(txs []Transaction, txID TransactionID) bool {
	for _, tx := range txs {
		if tx.Type == TxReversal && tx.ReferenceID == string(txID) {
			return true
		}
	}
	return false
}
