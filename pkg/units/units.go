// Package units converts between human readable decimal amounts and the
// integer base units the ledger stores.
package units

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the precision of the native currency.
const EtherDecimals = 18

// BasisPoints is 100% expressed in basis points.
const BasisPoints = 10000

// ToBase converts amount to base units with the given precision. Amounts
// with more fractional digits than the precision are rejected.
func ToBase(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FromBase converts base units back to a decimal amount.
func FromBase(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, -decimals)
}

// Ether parses a decimal string such as "1.5" into wei.
func Ether(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return ToBase(d, EtherDecimals)
}

// MustEther is Ether for constants.
func MustEther(s string) *big.Int {
	v, err := Ether(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Bps returns amount * bps / 10000, rounded down.
func Bps(amount, bps *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, bps)
	return out.Quo(out, big.NewInt(BasisPoints))
}
