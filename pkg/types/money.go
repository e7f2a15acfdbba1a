package types

import "github.com/shopspring/decimal"

var centsFactor = decimal.NewFromInt(100)

// ToMinorUnits converts a decimal amount to integer cents for provider
// calls. Amounts are rounded half-up to the nearest cent first.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Mul(centsFactor).IntPart()
}

// FromMinorUnits converts integer cents back to a two-place decimal.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(centsFactor)
}
