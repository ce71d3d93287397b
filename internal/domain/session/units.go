package session

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the precision of the ytest.usd settlement asset.
const DefaultDecimals int32 = 6

// ToUnits converts a display amount into integer smallest units.
// Amounts finer than the asset precision or below zero are rejected.
func ToUnits(amount decimal.Decimal, decimals int32) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	}
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, amount, decimals)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s overflows", ErrInvalidAmount, amount)
	}
	return shifted.IntPart(), nil
}

// FromUnits converts integer smallest units into a display amount.
func FromUnits(units int64, decimals int32) decimal.Decimal {
	return decimal.New(units, -decimals)
}
