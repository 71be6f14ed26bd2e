package reader

import (
	"github.com/shopspring/decimal"

	"github.com/tradingstrategy-ai/vaultscan/abi"
	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/classify"
	"github.com/tradingstrategy-ai/vaultscan/moneymath"
	"github.com/tradingstrategy-ai/vaultscan/vault"
)

// Feature aliases for the three classify.Feature values the reader itself
// knows how to extend a bundle for; the classification registry may
// identify more features than the reader has dedicated extensions for, in
// which case the vault reads as baseline only (see ForFeatures).
const (
	FeatureGearboxLike = classify.GearboxLike
	FeatureEulerLike   = classify.EulerLike
	FeatureIPORLike    = classify.IPORLike
)

// gearboxExtension adds Gearbox's liquidity/borrow pair, used to derive
// utilisation for lending-style vaults.
type gearboxExtension struct{}

func (gearboxExtension) WarmupCalls(target chain.Address, state vault.ReaderState) []abi.EncodedCall {
	return []abi.EncodedCall{
		abi.Build(target, "availableLiquidity()", "availableLiquidity"),
		abi.Build(target, "totalBorrowed()", "totalBorrowed"),
	}
}

func (e gearboxExtension) BuildBundle(target chain.Address, state vault.ReaderState) []abi.EncodedCall {
	return filterReverting(e.WarmupCalls(target, state), state)
}

func (gearboxExtension) DecodeBundle(calls []abi.EncodedCall, results []CallResult, state vault.ReaderState, out *vault.HistoricalRead) {
	byLabel := indexByLabel(calls, results)
	decimals := state.AssetDecimalsOrDefault()
	if r, ok := byLabel["availableLiquidity"]; ok {
		decodeUintDecimal(r, "availableLiquidity", decimals, &out.AvailableLiquidity, out)
	}
	if r, ok := byLabel["totalBorrowed"]; ok {
		var borrowed *decimal.Decimal
		decodeUintDecimal(r, "totalBorrowed", decimals, &borrowed, out)
		applyUtilisationFromBorrowed(borrowed, out)
	}
}

// eulerExtension adds Euler's cash/borrows pair, analogous to Gearbox's.
type eulerExtension struct{}

func (eulerExtension) WarmupCalls(target chain.Address, state vault.ReaderState) []abi.EncodedCall {
	return []abi.EncodedCall{
		abi.Build(target, "cash()", "cash"),
		abi.Build(target, "totalBorrows()", "totalBorrows"),
	}
}

func (e eulerExtension) BuildBundle(target chain.Address, state vault.ReaderState) []abi.EncodedCall {
	return filterReverting(e.WarmupCalls(target, state), state)
}

func (eulerExtension) DecodeBundle(calls []abi.EncodedCall, results []CallResult, state vault.ReaderState, out *vault.HistoricalRead) {
	byLabel := indexByLabel(calls, results)
	decimals := state.AssetDecimalsOrDefault()
	if r, ok := byLabel["cash"]; ok {
		decodeUintDecimal(r, "cash", decimals, &out.AvailableLiquidity, out)
	}
	if r, ok := byLabel["totalBorrows"]; ok {
		var borrowed *decimal.Decimal
		decodeUintDecimal(r, "totalBorrows", decimals, &borrowed, out)
		applyUtilisationFromBorrowed(borrowed, out)
	}
}

// applyUtilisationFromBorrowed derives utilisation as
// (totalAssets - idle) / totalAssets where idle = totalAssets - borrowed,
// i.e. utilisation == borrowed / totalAssets; it is a no-op when either
// figure is unavailable this block.
func applyUtilisationFromBorrowed(borrowed *decimal.Decimal, out *vault.HistoricalRead) {
	if borrowed == nil || out.TotalAssets == nil {
		return
	}
	idle := out.TotalAssets.Sub(*borrowed)
	if util, ok := moneymath.Utilisation(*out.TotalAssets, idle); ok {
		out.Utilisation = &util
	}
}

// iporExtension adds IPOR's fee getters, decoded into basis points.
type iporExtension struct{}

func (iporExtension) WarmupCalls(target chain.Address, state vault.ReaderState) []abi.EncodedCall {
	return []abi.EncodedCall{
		abi.Build(target, "getPerformanceFeeData()", "getPerformanceFeeData"),
		abi.Build(target, "getManagementFeeData()", "getManagementFeeData"),
	}
}

func (e iporExtension) BuildBundle(target chain.Address, state vault.ReaderState) []abi.EncodedCall {
	return filterReverting(e.WarmupCalls(target, state), state)
}

func (iporExtension) DecodeBundle(calls []abi.EncodedCall, results []CallResult, state vault.ReaderState, out *vault.HistoricalRead) {
	byLabel := indexByLabel(calls, results)
	if r, ok := byLabel["getPerformanceFeeData"]; ok {
		decodeFeeBps(r, "getPerformanceFeeData", &out.PerformanceFeeBps, out)
	}
	if r, ok := byLabel["getManagementFeeData"]; ok {
		decodeFeeBps(r, "getManagementFeeData", &out.ManagementFeeBps, out)
	}
}

func decodeFeeBps(r CallResult, label string, dst **uint32, out *vault.HistoricalRead) {
	if !r.Success {
		out.AddError(label)
		return
	}
	v, err := abi.DecodeUint256(r.ReturnData, label)
	if err != nil {
		out.AddError(label)
		return
	}
	fraction := moneymath.FeeBps(v)
	bps := uint32(fraction.Mul(decimal.NewFromInt(10000)).IntPart())
	*dst = &bps
}
