package classify

import (
	"testing"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/vlog"
)

func key(n byte) chain.Key {
	var a chain.Address
	a[19] = n
	return chain.Key{ChainID: 56, Address: a}
}

func baselineCaps() CapabilitySet {
	return CapabilitySet{
		"asset()":                  true,
		"totalAssets()":            true,
		"convertToShares(uint256)": true,
		"convertToAssets(uint256)": true,
	}
}

func TestClassifyBaseline(t *testing.T) {
	r := New(vlog.Nop())
	result := r.Classify(key(1), baselineCaps())
	if result.Rejected || result.Protocol != ERC4626Baseline {
		t.Fatalf("expected baseline classification, got %+v", result)
	}
}

func TestClassifyRejectsIncompleteBaseline(t *testing.T) {
	r := New(vlog.Nop())
	caps := baselineCaps()
	delete(caps, "convertToAssets(uint256)")
	result := r.Classify(key(2), caps)
	if !result.Rejected {
		t.Fatalf("expected rejection for incomplete baseline, got %+v", result)
	}
}

func TestClassifyAdditiveFeatureCoexists(t *testing.T) {
	r := New(vlog.Nop())
	caps := baselineCaps()
	caps["parentVault()"] = true
	result := r.Classify(key(3), caps)
	if result.Protocol != ERC4626Baseline {
		t.Fatalf("expected baseline protocol with additive feature, got %+v", result)
	}
	found := false
	for _, f := range result.Features {
		if f == Subvault {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SUBVAULT among features, got %v", result.Features)
	}
}

func TestClassifyHardcodedWins(t *testing.T) {
	r := New(vlog.Nop())
	k := key(4)
	r = r.WithOverlay(nil, map[chain.Key]Feature{k: "CUSTOM_SINGLETON"})
	result := r.Classify(k, CapabilitySet{})
	if result.Protocol != "CUSTOM_SINGLETON" {
		t.Fatalf("expected hardcoded feature to win with no probes, got %+v", result)
	}
}

func TestClassifyConflictDetected(t *testing.T) {
	r := New(vlog.Nop())
	r = r.WithOverlay([]Row{
		{Feature: "PROTOCOL_A", Probes: []string{"roleA()"}},
		{Feature: "PROTOCOL_B", Probes: []string{"roleB()"}},
	}, nil)
	caps := baselineCaps()
	caps["roleA()"] = true
	caps["roleB()"] = true
	result := r.Classify(key(5), caps)
	if result.Conflict == nil || !result.Rejected {
		t.Fatalf("expected conflict and rejection, got %+v", result)
	}
}

func TestLoadOverlayYAML(t *testing.T) {
	r := New(vlog.Nop())
	doc := []byte(`
rows:
  - feature: TEST_PROTOCOL
    probes: ["special()"]
hardcoded:
  - chain_id: 1
    address: "0x0000000000000000000000000000000000000099"
    feature: SPECIAL_SINGLETON
`)
	merged, err := r.LoadOverlay(doc)
	if err != nil {
		t.Fatalf("LoadOverlay failed: %v", err)
	}
	caps := baselineCaps()
	caps["special()"] = true
	result := merged.Classify(key(6), caps)
	found := false
	for _, f := range result.Features {
		if f == "TEST_PROTOCOL" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected TEST_PROTOCOL feature, got %+v", result)
	}
}

func TestClassifyIPORLike(t *testing.T) {
	r := New(vlog.Nop())
	caps := baselineCaps()
	caps["getPerformanceFeeData()"] = true
	caps["getManagementFeeData()"] = true
	result := r.Classify(key(10), caps)
	if result.Rejected || result.Protocol != IPORLike {
		t.Fatalf("expected IPOR_LIKE protocol, got %+v", result)
	}
	found := false
	for _, f := range result.Features {
		if f == IPORLike {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected IPOR_LIKE among features, got %v", result.Features)
	}
}

func TestClassifyGearboxAndEulerAreMutuallyExclusive(t *testing.T) {
	r := New(vlog.Nop())
	caps := baselineCaps()
	caps["availableLiquidity()"] = true
	caps["totalBorrowed()"] = true
	caps["cash()"] = true
	caps["totalBorrows()"] = true
	result := r.Classify(key(11), caps)
	if !result.Rejected || result.Conflict == nil {
		t.Fatalf("expected conflict between GEARBOX_LIKE and EULER_LIKE, got %+v", result)
	}
}

func TestProbeSignaturesIncludeBaseline(t *testing.T) {
	r := New(vlog.Nop())
	sigs := r.ProbeSignatures()
	seen := map[string]bool{}
	for _, s := range sigs {
		seen[s] = true
	}
	for _, want := range erc4626BaselineProbes {
		if !seen[want] {
			t.Fatalf("expected %s among probe signatures", want)
		}
	}
}
