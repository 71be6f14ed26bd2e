// Package moneymath converts on-chain fixed-point integers into exact
// decimal values. Every derived figure (share price, utilisation, fee
// basis points) is computed here as a shopspring/decimal.Decimal — never
// as a float — so the exactness invariant holds across the pipeline.
package moneymath

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// FromUint256 interprets v as an integer with the given number of decimal
// places, returning the exact Decimal value v / 10^decimals.
func FromUint256(v *uint256.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	i := decimal.NewFromBigInt(v.ToBig(), 0)
	return i.Shift(-int32(decimals))
}

// OneUnit returns 10^decimals as a uint256, the integer representation of
// "1.0" at the given decimal precision. Used to build the calldata argument
// for calls expressed in whole units of a token whose decimals aren't 18
// (e.g. convertToAssets(1 share) against a 6-decimal share token).
func OneUnit(decimals uint8) *uint256.Int {
	v := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < decimals; i++ {
		v.Mul(v, ten)
	}
	return v
}

// SharePrice computes totalAssets/totalSupply to exact Decimal precision.
// Returns the zero Decimal and false when totalSupply is zero (share price
// is undefined for an empty vault).
func SharePrice(totalAssets, totalSupply decimal.Decimal) (decimal.Decimal, bool) {
	if totalSupply.IsZero() {
		return decimal.Zero, false
	}
	return totalAssets.Div(totalSupply), true
}

// Utilisation computes (totalAssets - idleAssets) / totalAssets, the
// fraction of vault assets currently deployed rather than held idle.
// Returns false when totalAssets is zero.
func Utilisation(totalAssets, idleAssets decimal.Decimal) (decimal.Decimal, bool) {
	if totalAssets.IsZero() {
		return decimal.Zero, false
	}
	deployed := totalAssets.Sub(idleAssets)
	return deployed.Div(totalAssets), true
}

// bpsDivisor is the divisor protocols commonly use to express a fee as an
// integer in basis points (1 bps = 1/10000).
const bpsDivisor = 10000

// FeeBps converts a raw on-chain fee integer (already expressed in basis
// points, e.g. IPOR's management/performance fee getters) into a Decimal
// fraction in [0, 1].
func FeeBps(raw *uint256.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw.ToBig(), 0).Div(decimal.NewFromInt(bpsDivisor))
}
