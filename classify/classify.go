// Package classify implements the Vault Classification Registry (C4):
// reducing a probed CapabilitySet into a FeatureSet and protocol label
// using a static reduction table (it carries no version stamp) plus a hardcoded
// per-address registry for single-instance protocols.
package classify

import (
	"sort"
	"strings"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/vlog"
)

// Feature is one protocol or capability label a vault can carry.
type Feature string

const (
	ERC4626Baseline     Feature = "ERC4626_BASELINE"
	Subvault            Feature = "SUBVAULT"
	PerpDexTradingVault Feature = "PERP_DEX_TRADING_VAULT"

	// Non-additive, protocol-identifying features. Each corresponds to a
	// reduction-table row below; GearboxLike/EulerLike/IPORLike additionally
	// have a dedicated reader.Strategy extension layer (reader/protocols.go)
	// that the historical reader dispatches to once classification names
	// them. The rest read as ERC4626Baseline only until a reader extension
	// is written for them.
	GearboxLike   Feature = "GEARBOX_LIKE"
	EulerLike     Feature = "EULER_LIKE"
	IPORLike      Feature = "IPOR_LIKE"
	MorphoV1Like  Feature = "MORPHO_V1_LIKE"
	LagoonLike    Feature = "LAGOON_LIKE"
	ERC7540Like   Feature = "ERC_7540_LIKE"
	HypercorePerp Feature = "HYPERCORE_PERP"
)

// Row is one entry of the static reduction table: a Feature is assigned
// when every probe signature in Probes succeeded. Additive rows may
// coexist with a protocol feature found by another row; non-additive rows
// are mutually exclusive protocol labels.
type Row struct {
	Feature  Feature
	Probes   []string
	Additive bool
	// ProxyResolve marks a row whose protocol-specific calls (e.g. fee
	// getters reached past an EIP-1967 proxy) need the implementation
	// address. Discovery resolves it for a matched row and records it on
	// vault.Record.ImplementationAddress; the reader still issues every
	// call against the vault's own address.
	ProxyResolve bool
}

// CapabilitySet is the result of probing one candidate address: for every
// signature probed, whether the call succeeded (non-revert, well-formed
// return data).
type CapabilitySet map[string]bool

// Succeeded reports whether every one of sigs succeeded in the set.
func (c CapabilitySet) Succeeded(sigs ...string) bool {
	for _, s := range sigs {
		if !c[s] {
			return false
		}
	}
	return true
}

// erc4626BaselineProbes are the four calls that must all succeed for a
// vault to qualify as a bare ERC-4626 implementation.
var erc4626BaselineProbes = []string{"asset()", "totalAssets()", "convertToShares(uint256)", "convertToAssets(uint256)"}

// table is the static reduction table; it has no version stamp. Row order matters
// only for deterministic conflict reporting; reduction itself evaluates
// every row.
//
// The non-additive rows are ordered roughly by how commonly the pack of
// vaults a scan encounters in the wild carries each fingerprint, since
// that order decides which protocol "wins" first in a multi-match log
// line even though every row is still evaluated.
var table = []Row{
	// Non-additive (mutually exclusive) protocol fingerprints.
	{Feature: GearboxLike, Probes: []string{"availableLiquidity()", "totalBorrowed()"}},
	{Feature: EulerLike, Probes: []string{"cash()", "totalBorrows()"}},
	{Feature: IPORLike, Probes: []string{"getPerformanceFeeData()", "getManagementFeeData()"}},
	{Feature: MorphoV1Like, Probes: []string{"MORPHO()", "supplyQueueLength()"}},
	{Feature: LagoonLike, Probes: []string{"valuationManager()"}},
	{Feature: ERC7540Like, Probes: []string{"pendingDepositRequest(uint256,address)"}},
	{Feature: HypercorePerp, Probes: []string{"hypercoreBridge()"}},

	// Additive tags: may coexist with any protocol feature above.
	{Feature: Subvault, Probes: []string{"parentVault()"}, Additive: true},
	{Feature: PerpDexTradingVault, Probes: []string{"perpDexRouter()", "positionSizeOf(address)"}, Additive: true},
}

// Conflict describes two non-additive rows both matching a single
// CapabilitySet with mutually exclusive protocol labels.
type Conflict struct {
	First  Feature
	Second Feature
}

// Result is the outcome of classifying one CapabilitySet.
type Result struct {
	Features     []Feature
	Protocol     Feature // the zero value means "unclassified"
	Conflict     *Conflict
	Rejected     bool
	ProxyResolve bool // set if any matched row requires proxy resolution
}

// Registry holds the static table plus any hardcoded per-address overrides
// and an optional YAML overlay merged on top of the table at load time.
type Registry struct {
	hardcoded map[chain.Key]Feature
	table     []Row
	log       *vlog.Logger
}

// New builds a Registry from the built-in table and hardcoded map.
func New(log *vlog.Logger) *Registry {
	if log == nil {
		log = vlog.Nop()
	}
	return &Registry{hardcoded: cloneHardcoded(), table: table, log: log}
}

// cloneHardcoded returns the single-instance protocol registry: deployments
// where probing would be uneconomic (one-off proxies, governance-gated
// singletons) because there's exactly one instance per chain.
func cloneHardcoded() map[chain.Key]Feature {
	return map[chain.Key]Feature{}
}

// WithOverlay merges additional rows (e.g. rows parsed from a YAML overlay by LoadOverlay)
// into the registry's table, returning a new Registry. Overlay rows are
// appended after the built-in table, so built-in rows still win ties by
// evaluation order for conflict reporting.
func (r *Registry) WithOverlay(rows []Row, hardcoded map[chain.Key]Feature) *Registry {
	merged := make([]Row, 0, len(r.table)+len(rows))
	merged = append(merged, r.table...)
	merged = append(merged, rows...)
	mergedHardcoded := make(map[chain.Key]Feature, len(r.hardcoded)+len(hardcoded))
	for k, v := range r.hardcoded {
		mergedHardcoded[k] = v
	}
	for k, v := range hardcoded {
		mergedHardcoded[k] = v
	}
	return &Registry{hardcoded: mergedHardcoded, table: merged, log: r.log}
}

// Classify reduces caps for the vault at key following the fixed-order
// rules in spec §4.4: hardcoded registry first, then non-additive rows,
// then additive rows, then the ERC-4626 baseline fallback, else reject.
func (r *Registry) Classify(key chain.Key, caps CapabilitySet) Result {
	if feature, ok := r.hardcoded[key]; ok {
		return Result{Features: []Feature{feature}, Protocol: feature}
	}

	var protocol Feature
	var conflict *Conflict
	var features []Feature
	var proxyResolve bool

	for _, row := range r.table {
		if row.Additive {
			continue
		}
		if !caps.Succeeded(row.Probes...) {
			continue
		}
		if protocol == "" {
			protocol = row.Feature
			proxyResolve = row.ProxyResolve
			features = append(features, row.Feature)
			continue
		}
		if protocol != row.Feature {
			c := Conflict{First: protocol, Second: row.Feature}
			conflict = &c
			r.log.Warn("classification conflict", "vault", key.String(), "first", protocol, "second", row.Feature)
		}
	}

	if conflict != nil {
		return Result{Conflict: conflict, Rejected: true}
	}

	for _, row := range r.table {
		if !row.Additive {
			continue
		}
		if caps.Succeeded(row.Probes...) {
			features = append(features, row.Feature)
			proxyResolve = proxyResolve || row.ProxyResolve
		}
	}

	if protocol == "" {
		if caps.Succeeded(erc4626BaselineProbes...) {
			protocol = ERC4626Baseline
			features = append([]Feature{ERC4626Baseline}, features...)
		} else {
			return Result{Rejected: true}
		}
	}

	sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })
	return Result{Features: features, Protocol: protocol, ProxyResolve: proxyResolve}
}

// ProbeSignatures returns every distinct probe signature across the
// built-in baseline and the table, for the discovery scanner to fan out
// in a single multicall per lead.
func (r *Registry) ProbeSignatures() []string {
	seen := map[string]bool{}
	var out []string
	add := func(sigs []string) {
		for _, s := range sigs {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	add(erc4626BaselineProbes)
	for _, row := range r.table {
		add(row.Probes)
	}
	sort.Strings(out)
	return out
}

func (f Feature) String() string { return string(f) }

// ParseFeature normalizes free-form overlay input (e.g. from YAML) into a
// Feature value.
func ParseFeature(s string) Feature {
	return Feature(strings.ToUpper(strings.TrimSpace(s)))
}
