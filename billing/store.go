package billing

import (
	"context"
	"time"

	"github.com/warp/tuition-engine/generic"
)

// MutateFunc changes a bill in place and returns the ledger transactions to
// append alongside the update. history holds the bill's transactions as of
// the start of the mutation. Returning an error discards everything.
type MutateFunc func(rec *BillingRecord, history []generic.Transaction) ([]generic.Transaction, error)

// BillStore persists billing records.
type BillStore interface {
	// GetBill returns the bill or a generic.NotFoundError.
	GetBill(ctx context.Context, id string) (*BillingRecord, error)

	// ListBills returns bills matching filter, newest billing month first.
	ListBills(ctx context.Context, filter BillFilter) ([]BillingRecord, error)

	// SaveBill inserts a new bill. A second bill for the same student and
	// billing month fails with generic.ErrConflict.
	SaveBill(ctx context.Context, rec BillingRecord) error

	// MutateBill loads the bill, calls fn, then writes the bill and the
	// returned transactions atomically.
	MutateBill(ctx context.Context, id string, fn MutateFunc) (*BillingRecord, error)
}

// BillFilter narrows ListBills. Zero values match everything.
type BillFilter struct {
	StudentID     string
	SchoolYearID  string
	PaymentStatus PaymentStatus
	OnlyUnpaid    bool
	Limit         int
	Offset        int
}

// LateFeeRun summarizes one late-fee sweep.
type LateFeeRun struct {
	ID       string
	AsOf     generic.TimePoint
	Status   string
	Examined int
	Applied  int
	Errors   []string

	// Total sums the fees in the run currency, the currency of the first
	// bill swept. Totals holds one entry per currency with applied fees.
	Total  generic.Amount
	Totals []generic.Amount

	StartedAt   time.Time
	CompletedAt *time.Time
}

// addFee records an applied fee under its currency.
func (r *LateFeeRun) addFee(fee generic.Amount) {
	r.Applied++
	if fee.Currency == r.Total.Currency {
		r.Total = r.Total.Add(fee)
	}
	for i := range r.Totals {
		if r.Totals[i].Currency == fee.Currency {
			r.Totals[i] = r.Totals[i].Add(fee)
			return
		}
	}
	r.Totals = append(r.Totals, fee)
}

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)
