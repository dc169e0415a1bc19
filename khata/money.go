package khata

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept for every amount.
const MoneyPlaces = 2

// Bounds on the decimal representation accepted before any arithmetic runs.
// Exponents outside this window make Round and Cmp allocate huge big.Ints.
const (
	maxAmountExponent = 12
	minAmountExponent = -18
	maxAmountDigits   = 32
)

// MaxAmount is the largest single amount the ledger accepts.
var MaxAmount = decimal.New(1, 12)

// RoundMoney rounds d to MoneyPlaces, half away from zero.
// For the positive amounts the ledger divides this is round-half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ValidateAmount rounds amount and checks that it is strictly positive and
// no larger than MaxAmount. Error messages never echo the input.
func ValidateAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	exp := amount.Exponent()
	if exp > maxAmountExponent || exp < minAmountExponent || amount.NumDigits() > maxAmountDigits {
		return decimal.Zero, &ValidationError{
			Field:   "amount",
			Message: "must be between 0.01 and " + MaxAmount.String(),
		}
	}
	rounded := RoundMoney(amount)
	if !rounded.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "amount", Message: "must be greater than 0"}
	}
	if rounded.GreaterThan(MaxAmount) {
		return decimal.Zero, &ValidationError{
			Field:   "amount",
			Message: "must not exceed " + MaxAmount.String(),
		}
	}
	return rounded, nil
}

// ParseAmount parses a decimal string and validates it as a money amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Message: "must be a number"}
	}
	return ValidateAmount(d)
}
