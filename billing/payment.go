package billing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/generic"
)

// ParsePaymentAmount parses a cashier-entered amount.
// Non-numeric input and sub-cent precision are rejected.
func ParsePaymentAmount(s string, currency generic.Currency) (generic.Amount, error) {
	a, err := generic.ParseAmount(s, currency)
	if err != nil {
		return generic.Amount{}, err
	}
	if err := checkCents(a.Value); err != nil {
		return generic.Amount{}, err
	}
	return a, nil
}

// ValidatePartialPayment enforces 0 < amount <= remaining.
func ValidatePartialPayment(amount decimal.Decimal, b Breakdown) error {
	if err := checkCents(amount); err != nil {
		return err
	}
	if !amount.IsPositive() || amount.GreaterThan(b.RemainingAmount) {
		return &generic.PaymentRangeError{
			Requested: generic.NewAmountFromDecimal(amount, b.Currency),
			Remaining: b.Remaining(),
		}
	}
	return nil
}

func checkCents(d decimal.Decimal) error {
	if err := generic.CheckMagnitude(d); err != nil {
		return err
	}
	if !d.Equal(generic.RoundCents(d)) {
		return generic.ErrInvalidAmount
	}
	return nil
}
