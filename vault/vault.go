// Package vault holds the durable record types shared by discovery,
// classification, the historical reader, and persistence: VaultSpec,
// VaultRecord, VaultReaderState, and HistoricalRead as defined in the
// system's data model.
package vault

import (
	"github.com/shopspring/decimal"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/classify"
	"github.com/tradingstrategy-ai/vaultscan/tokencache"
)

// Spec identifies a vault system-wide: the (chain_id, address) pair.
type Spec = chain.Key

// Flag is a secondary tag on a VaultRecord not itself a classification
// feature (e.g. provenance or a data-quality marker).
type Flag string

const (
	FlagSubvault            Flag = "subvault"
	FlagPerpDexTradingVault Flag = "perp_dex_trading_vault"
	FlagHardcodedProtocol   Flag = "hardcoded_protocol"
	FlagBadFlags            Flag = "bad_flags"
)

// Record is a successfully classified vault, persisted by the store (C7).
type Record struct {
	Key               Spec
	Features          []classify.Feature
	Name              string
	Symbol            string
	DenominationToken *tokencache.TokenRef
	ShareToken        *tokencache.TokenRef
	FirstSeenBlock    uint64
	DeploymentTx      [32]byte
	HasDeploymentTx   bool
	ProtocolName      string
	Flags             []Flag
	// ImplementationAddress is set at discovery time for a vault whose
	// matched classification row requested proxy-slot resolution
	// (classify.Row.ProxyResolve); nil for every other vault.
	ImplementationAddress *chain.Address
}

// HasFeature reports whether r carries the given feature.
func (r Record) HasFeature(f classify.Feature) bool {
	for _, got := range r.Features {
		if got == f {
			return true
		}
	}
	return false
}

// CallCheck is the warmup-derived disposition of one function_label: the
// block at which it was last checked and whether it reverts or exceeds the
// gas-pathology budget.
type CallCheck struct {
	CheckBlock uint64
	Reverts    bool
	// ConsecutiveGasFailures counts real (non-warmup) reads in a row that
	// failed with a gas-related error, used to promote Reverts from false
	// to true per the gas-pathology policy.
	ConsecutiveGasFailures int
}

// ReaderState is the durable per-vault scan bookkeeping the historical
// reader consults before issuing a bundle, and updates after every batch.
type ReaderState struct {
	Key              Spec
	LastScannedBlock uint64
	HasLastScanned   bool
	CallStatus       map[string]CallCheck
	Features         []classify.Feature
	// AssetDecimals and ShareDecimals are the denomination-token and
	// share-token decimal precisions resolved by the token cache at
	// discovery time. A vault whose tokens were never resolved reads with
	// the ERC-4626 convention of 18 for both, rather than failing closed.
	AssetDecimals uint8
	ShareDecimals uint8
}

// AssetDecimalsOrDefault returns AssetDecimals, defaulting to 18 (the
// ERC-4626 convention) for a vault whose denomination token was never
// resolved by the token cache.
func (s ReaderState) AssetDecimalsOrDefault() uint8 {
	if s.AssetDecimals == 0 {
		return 18
	}
	return s.AssetDecimals
}

// ShareDecimalsOrDefault returns ShareDecimals, defaulting to 18 for a
// vault whose share token was never resolved by the token cache.
func (s ReaderState) ShareDecimalsOrDefault() uint8 {
	if s.ShareDecimals == 0 {
		return 18
	}
	return s.ShareDecimals
}

// Reverts reports whether label is marked reverting, so the reader can
// omit it from a bundle.
func (s ReaderState) Reverts(label string) bool {
	if s.CallStatus == nil {
		return false
	}
	return s.CallStatus[label].Reverts
}

// Clone returns a deep-enough copy for safe mutation by a single worker;
// CallStatus is always copied since callers mutate it in place.
func (s ReaderState) Clone() ReaderState {
	cp := s
	cp.CallStatus = make(map[string]CallCheck, len(s.CallStatus))
	for k, v := range s.CallStatus {
		cp.CallStatus[k] = v
	}
	cp.Features = append([]classify.Feature(nil), s.Features...)
	return cp
}

// HistoricalRead is one block's worth of derived, decimal-exact figures
// for a vault. Optional fields use pointers so "absent" is distinguishable
// from "zero".
type HistoricalRead struct {
	Key       Spec
	Block     uint64
	Timestamp uint64
	HasTimestamp bool

	TotalAssets *decimal.Decimal
	TotalSupply *decimal.Decimal
	SharePrice  *decimal.Decimal

	ManagementFeeBps  *uint32
	PerformanceFeeBps *uint32

	AvailableLiquidity *decimal.Decimal
	Utilisation        *decimal.Decimal

	Errors []string
}

// AddError appends a failure label, used by strategies while decoding a
// bundle so a missing field is explained rather than silently zero.
func (h *HistoricalRead) AddError(label string) {
	h.Errors = append(h.Errors, label)
}
