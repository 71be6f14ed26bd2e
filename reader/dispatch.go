package reader

import (
	"github.com/tradingstrategy-ai/vaultscan/abi"
	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/classify"
	"github.com/tradingstrategy-ai/vaultscan/vault"
)

// composite concatenates a baseline plus zero or more protocol
// extensions, per the layering rule: strategies compose by concatenation,
// not inheritance.
type composite struct {
	layers []Strategy
}

func (c composite) WarmupCalls(target chain.Address, state vault.ReaderState) []abi.EncodedCall {
	var out []abi.EncodedCall
	for _, l := range c.layers {
		out = append(out, l.WarmupCalls(target, state)...)
	}
	return out
}

func (c composite) BuildBundle(target chain.Address, state vault.ReaderState) []abi.EncodedCall {
	var out []abi.EncodedCall
	for _, l := range c.layers {
		out = append(out, l.BuildBundle(target, state)...)
	}
	return out
}

func (c composite) DecodeBundle(calls []abi.EncodedCall, results []CallResult, state vault.ReaderState, out *vault.HistoricalRead) {
	for _, l := range c.layers {
		l.DecodeBundle(calls, results, state, out)
	}
}

// extensionsByFeature maps a recognised protocol feature to the extension
// layer the reader appends on top of the ERC-4626 baseline. A feature with
// no registered extension still reads as baseline only — classification
// can identify more protocols than the reader has dedicated decoders for.
var extensionsByFeature = map[classify.Feature]Strategy{
	FeatureGearboxLike: gearboxExtension{},
	FeatureEulerLike:   eulerExtension{},
	FeatureIPORLike:    iporExtension{},
}

// ForFeatures builds the ReaderStrategy bound to a vault's FeatureSet: the
// ERC-4626 baseline, extended by any protocol-specific layer the registry
// recognises. Dispatch is a pure function of the FeatureSet, not a class
// hierarchy.
func ForFeatures(features []classify.Feature) Strategy {
	layers := []Strategy{baselineStrategy{}}
	for _, f := range features {
		if ext, ok := extensionsByFeature[f]; ok {
			layers = append(layers, ext)
		}
	}
	if len(layers) == 1 {
		return layers[0]
	}
	return composite{layers: layers}
}
