package treasury

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrTooPrecise means the amount has more fractional digits than the token.
var ErrTooPrecise = errors.New("amount has more decimal places than the token supports")

// ToUnits scales a human amount into the token's smallest integer unit.
func ToUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	scaled := amount.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, ErrTooPrecise
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders a smallest-unit amount as a decimal string.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
