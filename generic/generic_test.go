package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/generic"
	"github.com/warp/tuition-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func usd(v float64) generic.Amount {
	return generic.NewAmount(v, generic.CurrencyUSD)
}

func payment(id string, day int, amount float64) generic.Transaction {
	return generic.Transaction{
		ID:             generic.TransactionID(id),
		EntityID:       "stu-1",
		AccountID:      "bill-1",
		EffectiveAt:    generic.NewTimePoint(2025, time.September, day),
		Delta:          usd(amount),
		Type:           generic.TxPayment,
		IdempotencyKey: id,
	}
}

// =============================================================================
// AMOUNT TESTS
// =============================================================================

func TestParseAmount_RejectsNonNumericInput(t *testing.T) {
	for _, in := range []string{"", "  ", "abc", "12,50", "1e", "$10"} {
		_, err := generic.ParseAmount(in, generic.CurrencyUSD)
		assert.ErrorIs(t, err, generic.ErrInvalidAmount, "input %q", in)
	}

	a, err := generic.ParseAmount(" 120.50 ", generic.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, a.Value.Equal(decimal.RequireFromString("120.5")))
}

func TestParseAmount_RejectsOutOfBoundsInput(t *testing.T) {
	for _, in := range []string{"1e300000000", "-1e300000000", "1e-300000000", "0e999999999", "1e13", "1000000000000.01"} {
		_, err := generic.ParseAmount(in, generic.CurrencyUSD)
		assert.ErrorIs(t, err, generic.ErrInvalidAmount, "input %q", in)
	}

	a, err := generic.ParseAmount("1e12", generic.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, a.Value.Equal(generic.MaxAmount))
}

func TestCheckMagnitude(t *testing.T) {
	assert.ErrorIs(t, generic.CheckMagnitude(decimal.New(1, 300000000)), generic.ErrInvalidAmount)
	assert.ErrorIs(t, generic.CheckMagnitude(decimal.New(5, -300000000)), generic.ErrInvalidAmount)
	assert.ErrorIs(t, generic.CheckMagnitude(decimal.New(-2, 12)), generic.ErrInvalidAmount)
	assert.NoError(t, generic.CheckMagnitude(decimal.New(-1, 12)))
	assert.NoError(t, generic.CheckMagnitude(decimal.RequireFromString("0.000000000000000001")))
}

func TestAmount_PercentAndRound(t *testing.T) {
	base := usd(450)
	assert.True(t, base.Percent(decimal.NewFromInt(10)).Equal(usd(45)))

	third := usd(100).Percent(decimal.RequireFromString("33.333"))
	assert.Equal(t, "33.33", third.Round().Value.StringFixed(2))
	assert.Equal(t, "0.01", usd(0.005).Round().Value.StringFixed(2), "rounds half away from zero")
}

// =============================================================================
// TIME POINT TESTS
// =============================================================================

func TestTimePoint_ComparesCalendarDaysOnly(t *testing.T) {
	// GIVEN: Two instants on the same day, hours apart
	morning := generic.TimePoint{Time: time.Date(2025, 9, 10, 1, 0, 0, 0, time.UTC)}
	evening := generic.TimePoint{Time: time.Date(2025, 9, 10, 23, 59, 0, 0, time.UTC)}

	// THEN: They are equal as dates
	assert.True(t, morning.Equal(evening))
	assert.False(t, morning.Before(evening))
	assert.True(t, evening.After(generic.NewTimePoint(2025, 9, 9)))
}

func TestDateOf_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	tp := generic.DateOf(time.Date(2025, 9, 10, 22, 30, 0, 0, loc))
	assert.Equal(t, 0, tp.Time.Hour())
	assert.Equal(t, loc, tp.Time.Location())
	assert.Equal(t, "2025-09-10", tp.String())
}

func TestDayInMonth_ClampsToMonthEnd(t *testing.T) {
	assert.Equal(t, "2026-02-28", generic.DayInMonth(2026, time.February, 31).String())
	assert.Equal(t, "2025-09-10", generic.DayInMonth(2025, time.September, 10).String())
}

// =============================================================================
// PERIOD TESTS
// =============================================================================

func TestPeriod_MonthsClipsBounds(t *testing.T) {
	// GIVEN: A school year starting mid-August and ending mid-June
	year, err := generic.NewPeriod(
		generic.NewTimePoint(2025, time.August, 18),
		generic.NewTimePoint(2026, time.June, 15),
	)
	require.NoError(t, err)

	months := year.Months()

	require.Len(t, months, 11)
	assert.Equal(t, "2025-08-18", months[0].Start.String())
	assert.Equal(t, "2025-08-31", months[0].End.String())
	assert.Equal(t, "2025-09", months[1].Label())
	assert.Equal(t, "2026-06-15", months[10].End.String())
}

func TestNewPeriod_RejectsEndBeforeStart(t *testing.T) {
	_, err := generic.NewPeriod(generic.NewTimePoint(2026, 1, 2), generic.NewTimePoint(2026, 1, 1))
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestLedger_RejectsDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	ledger := generic.NewLedger(store.NewMemory())

	require.NoError(t, ledger.Append(ctx, payment("p-1", 1, 100)))
	err := ledger.Append(ctx, payment("p-1", 2, 100))

	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
}

func TestLedger_BatchDuplicateInsideBatch(t *testing.T) {
	ctx := context.Background()
	ledger := generic.NewLedger(store.NewMemory())

	err := ledger.AppendBatch(ctx, []generic.Transaction{payment("p-1", 1, 10), payment("p-1", 2, 10)})

	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	txs, _ := ledger.Transactions(ctx, "stu-1", "bill-1")
	assert.Empty(t, txs, "nothing written on a failed batch")
}

func TestLedger_BalanceNetsReversals(t *testing.T) {
	// GIVEN: Two payments and a reversal of the second
	ctx := context.Background()
	ledger := generic.NewLedger(store.NewMemory())
	reversal := generic.Transaction{
		ID:          "r-1",
		EntityID:    "stu-1",
		AccountID:   "bill-1",
		EffectiveAt: generic.NewTimePoint(2025, time.September, 20),
		Delta:       usd(-225),
		Type:        generic.TxReversal,
		ReferenceID: "p-2",
	}
	lateFee := generic.Transaction{
		ID:          "lf-1",
		EntityID:    "stu-1",
		AccountID:   "bill-1",
		EffectiveAt: generic.NewTimePoint(2025, time.September, 12),
		Delta:       usd(25),
		Type:        generic.TxLateFee,
	}
	require.NoError(t, ledger.AppendBatch(ctx, []generic.Transaction{
		payment("p-1", 5, 200), payment("p-2", 15, 225), reversal, lateFee,
	}))

	// WHEN: Summing the payment side
	paid, err := ledger.Balance(ctx, "stu-1", "bill-1", generic.CurrencyUSD)
	require.NoError(t, err)

	// THEN: Late fees are not payments, and the reversal cancels p-2
	assert.True(t, paid.Equal(usd(200)), "got %s", paid)
	fees, _ := ledger.Balance(ctx, "stu-1", "bill-1", generic.CurrencyUSD, generic.TxLateFee)
	assert.True(t, fees.Equal(usd(25)))

	txs, _ := ledger.Transactions(ctx, "stu-1", "bill-1")
	assert.True(t, generic.IsReversed(txs, "p-2"))
	assert.False(t, generic.IsReversed(txs, "p-1"))
	assert.Equal(t, generic.TransactionID("p-1"), txs[0].ID, "ordered by effective date")
}

func TestTxMemory_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(s generic.Store) error {
		if err := s.Append(ctx, payment("p-1", 1, 50)); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	exists, _ := mem.Exists(ctx, "p-1")
	assert.False(t, exists)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func TestErrorHelpers(t *testing.T) {
	rangeErr := &generic.PaymentRangeError{Requested: usd(500.01), Remaining: usd(500)}
	assert.True(t, generic.IsClientError(rangeErr))
	assert.Equal(t, "payment amount 500.01 exceeds the remaining balance of 500.00", rangeErr.Error())
	assert.Equal(t, "payment amount must be greater than zero",
		(&generic.PaymentRangeError{Requested: usd(0)}).Error())

	assert.True(t, generic.IsNotFound(generic.NewNotFound("bill", "b-1")))
	assert.True(t, generic.IsNotFound(generic.ErrPermissionDenied))
	assert.True(t, generic.IsConflict(generic.ErrAlreadyPaid))
	assert.False(t, generic.IsClientError(generic.ErrConflict))
}
