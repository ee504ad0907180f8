/*
Package generic provides the core money and ledger engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for tracking
  money owed and paid against an account. Whether the account is a monthly
  tuition bill, a recurring activity fee or a one-off charge, the same
  engine handles amount arithmetic, day-based dates and the append-only
  transaction log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A monetary quantity with a currency (e.g., 425.00 USD)
  - Transaction: An immutable ledger entry recording a payment-side change
  - Entity/Account IDs: Type-safe identifiers (who pays / what is paid)

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing entity/account IDs
  4. Auditability: Every transaction has reason, reference, and idempotency key

USAGE:
  amount := generic.NewAmount(120.50, generic.CurrencyUSD)
  tx := generic.Transaction{
      EntityID:  "stu-123",
      AccountID: "bill-2025-09",
      Delta:     amount,
      Type:      generic.TxPayment,
  }

SEE ALSO:
  - time.go: Day-normalized dates
  - ledger.go: Transaction persistence interface
  - billing/calculator.go: The domain arithmetic built on Amount
*/
package generic

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Monetary quantity with currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyMXN Currency = "MXN"
	CurrencyEUR Currency = "EUR"
)

// CentsPlaces is the number of decimal places money is rounded to.
const CentsPlaces = 2

var hundred = decimal.NewFromInt(100)

// Input bounds. Decimal arithmetic on a value like 1e300000000 allocates
// the full coefficient, so inputs outside these bounds are rejected before
// any rounding or comparison.
const (
	maxInputExponent = 12
	minInputExponent = -18
)

// MaxAmount is the largest magnitude accepted for any money or percentage input.
var MaxAmount = decimal.New(1, maxInputExponent)

func NewAmount(value float64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewAmountFromInt(value int, currency Currency) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

func NewAmountFromDecimal(value decimal.Decimal, currency Currency) Amount {
	return Amount{Value: value, Currency: currency}
}

// ParseAmount parses user input such as "120", "120.50" or " 99.9 ".
// Anything that is not a plain decimal number is rejected.
func ParseAmount(s string, currency Currency) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, ErrInvalidAmount
	}
	if err := CheckMagnitude(d); err != nil {
		return Amount{}, err
	}
	return Amount{Value: d, Currency: currency}, nil
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Percentage returns value * pct / 100 without rounding.
func Percentage(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(hundred)
}

// CheckMagnitude rejects values whose exponent or absolute value is out of
// bounds. The exponent is checked first; it costs nothing while comparing
// against MaxAmount rescales the coefficient.
func CheckMagnitude(d decimal.Decimal) error {
	exp := d.Exponent()
	if exp > maxInputExponent || exp < minInputExponent {
		return ErrInvalidAmount
	}
	if d.Abs().GreaterThan(MaxAmount) {
		return ErrInvalidAmount
	}
	return nil
}

// RoundCents rounds half away from zero to two decimal places.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(CentsPlaces)
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.Currency} }
func (a Amount) Percent(p decimal.Decimal) Amount {
	return Amount{Value: Percentage(a.Value, p), Currency: a.Currency}
}
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) Round() Amount             { return Amount{Value: RoundCents(a.Value), Currency: a.Currency} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) String() string            { return a.Value.StringFixed(CentsPlaces) + " " + string(a.Currency) }
func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// EntityID identifies who owes the money (a student, a family).
type EntityID string

// AccountID identifies what is being paid (a single bill).
type AccountID string

type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change on the paid side of an account
// =============================================================================

type TransactionType string

const (
	TxPayment  TransactionType = "payment"  // Money received against the account
	TxReversal TransactionType = "reversal" // Undo a previous payment
	TxLateFee  TransactionType = "late_fee" // Late fee locked into the amount owed
)

type Transaction struct {
	ID             TransactionID
	EntityID       EntityID
	AccountID      AccountID
	EffectiveAt    TimePoint
	Delta          Amount
	Type           TransactionType
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	// Audit fields
	CreatedBy string
	CreatedAt time.Time
}

// IsPaymentSide reports whether the transaction moves the paid total.
func (t Transaction) IsPaymentSide() bool {
	return t.Type == TxPayment || t.Type == TxReversal
}
