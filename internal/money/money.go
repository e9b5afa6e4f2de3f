// Package money converts decimal order amounts to integer minor units.
package money

import "github.com/shopspring/decimal"

// ToMinor converts a two-decimal amount to minor units, rounding half away
// from zero at the cent boundary.
func ToMinor(amount decimal.Decimal) int64 {
	return ToMinorDecimals(amount, 2)
}

// ToMinorDecimals converts amount to an integer in units of 10^-decimals.
func ToMinorDecimals(amount decimal.Decimal, decimals int) int64 {
	return amount.Shift(int32(decimals)).Round(0).IntPart()
}
