// Package reader implements the Historical Reader (C6): dispatching a
// vault's FeatureSet to a ReaderStrategy, running warmup to prune reverting
// or gas-pathological calls, and producing HistoricalRead records across a
// range of block heights.
package reader

import (
	"github.com/shopspring/decimal"

	"github.com/tradingstrategy-ai/vaultscan/abi"
	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/moneymath"
	"github.com/tradingstrategy-ai/vaultscan/vault"
)

// Strategy is a pure function of a vault's address binding to a bundle of
// calls and a decoder. Strategies are composed by concatenation (baseline
// plus zero or more protocol extensions), never by inheritance. state
// carries the per-vault AssetDecimals/ShareDecimals the token cache
// resolved at discovery time, so every layer converts raw integers at the
// vault's actual denomination rather than assuming 18.
type Strategy interface {
	// WarmupCalls returns every call this strategy may ever issue, tested
	// individually before the bulk scan so pathological ones are pruned.
	WarmupCalls(target chain.Address, state vault.ReaderState) []abi.EncodedCall
	// BuildBundle returns the calls to issue for one block, given the
	// current warmup disposition (so reverting calls can be pre-omitted).
	BuildBundle(target chain.Address, state vault.ReaderState) []abi.EncodedCall
	// DecodeBundle demultiplexes a batch's results (in the same order the
	// calls were issued) into out, recording failures by function_label.
	DecodeBundle(calls []abi.EncodedCall, results []CallResult, state vault.ReaderState, out *vault.HistoricalRead)
}

// CallResult mirrors multicall.CallResult without importing it, so reader
// strategies don't depend on batching internals.
type CallResult struct {
	Success      bool
	ReturnData   []byte
	RevertReason string
}

func filterReverting(calls []abi.EncodedCall, state vault.ReaderState) []abi.EncodedCall {
	out := make([]abi.EncodedCall, 0, len(calls))
	for _, c := range calls {
		if state.Reverts(c.FunctionLabel) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func indexByLabel(calls []abi.EncodedCall, results []CallResult) map[string]CallResult {
	m := make(map[string]CallResult, len(calls))
	for i, c := range calls {
		if i < len(results) {
			m[c.FunctionLabel] = results[i]
		}
	}
	return m
}

// decodeUintDecimal decodes a uint256 return value at the given decimals
// into dst, or appends label to out.Errors on failure.
func decodeUintDecimal(r CallResult, label string, decimals uint8, dst **decimal.Decimal, out *vault.HistoricalRead) {
	if !r.Success {
		out.AddError(label)
		return
	}
	v, err := abi.DecodeUint256(r.ReturnData, label)
	if err != nil {
		out.AddError(label)
		return
	}
	d := moneymath.FromUint256(v, decimals)
	*dst = &d
}

// baselineStrategy emits the four calls every ERC-4626 vault must answer.
type baselineStrategy struct{}

func (baselineStrategy) WarmupCalls(target chain.Address, state vault.ReaderState) []abi.EncodedCall {
	oneShare := moneymath.OneUnit(state.ShareDecimalsOrDefault())
	return []abi.EncodedCall{
		abi.Build(target, "asset()", "asset"),
		abi.Build(target, "totalAssets()", "totalAssets"),
		abi.Build(target, "totalSupply()", "totalSupply"),
		abi.Build(target, "convertToAssets(uint256)", "convertToAssets_1e18", oneShare),
	}
}

func (s baselineStrategy) BuildBundle(target chain.Address, state vault.ReaderState) []abi.EncodedCall {
	return filterReverting(s.WarmupCalls(target, state), state)
}

func (baselineStrategy) DecodeBundle(calls []abi.EncodedCall, results []CallResult, state vault.ReaderState, out *vault.HistoricalRead) {
	byLabel := indexByLabel(calls, results)
	decimals := state.AssetDecimalsOrDefault()

	if r, ok := byLabel["totalAssets"]; ok {
		decodeUintDecimal(r, "totalAssets", decimals, &out.TotalAssets, out)
	}
	if r, ok := byLabel["totalSupply"]; ok {
		decodeUintDecimal(r, "totalSupply", state.ShareDecimalsOrDefault(), &out.TotalSupply, out)
	}

	if out.TotalAssets != nil && out.TotalSupply != nil {
		if price, ok := moneymath.SharePrice(*out.TotalAssets, *out.TotalSupply); ok {
			out.SharePrice = &price
		}
	}
}
