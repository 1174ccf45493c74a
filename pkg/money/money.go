// Package money converts decimal prices into processor minor units.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

var ErrNonPositive = errors.New("amount must be positive")

// exponents lists currencies whose minor unit is not 1/100.
var exponents = map[enums.Currency]int32{
	enums.CurrencyJPY: 0,
	enums.CurrencyKRW: 0,
	enums.CurrencyKWD: 3,
}

// Exponent returns the number of decimal digits in the currency's minor unit.
func Exponent(c enums.Currency) int32 {
	if exp, ok := exponents[c]; ok {
		return exp
	}
	return 2
}

// ToMinor converts amount into integer minor units, rounding half away from
// zero. Non-positive results are rejected.
func ToMinor(amount decimal.Decimal, c enums.Currency) (int64, error) {
	if !c.IsValid() {
		return 0, fmt.Errorf("unsupported currency %q", c)
	}
	minor := amount.Shift(Exponent(c)).Round(0)
	if !minor.IsPositive() {
		return 0, ErrNonPositive
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s overflows minor units", amount)
	}
	return minor.IntPart(), nil
}

// FromMinor converts integer minor units back into a decimal amount.
func FromMinor(minor int64, c enums.Currency) decimal.Decimal {
	return decimal.New(minor, -Exponent(c))
}
