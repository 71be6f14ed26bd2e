package reader

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradingstrategy-ai/vaultscan/abi"
	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/classify"
	"github.com/tradingstrategy-ai/vaultscan/multicall"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/vault"
	"github.com/tradingstrategy-ai/vaultscan/verr"
	"github.com/tradingstrategy-ai/vaultscan/vlog"
)

type scriptedClient struct {
	chainID chain.ID
	// byLabel maps a function_label to a canned response for Call.
	byLabel map[string]func() ([]byte, error)
}

func (s *scriptedClient) ChainID() chain.ID { return s.chainID }
func (s *scriptedClient) MulticallAvailable(ctx context.Context, block transport.Block) (bool, error) {
	return false, nil
}
func (s *scriptedClient) GetBlockTimestamp(ctx context.Context, block transport.Block) (uint64, error) {
	return 0, nil
}
func (s *scriptedClient) LatestBlock(ctx context.Context) (uint64, error) { return 0, nil }
func (s *scriptedClient) StorageAt(ctx context.Context, target chain.Address, slot [32]byte, block transport.Block) ([32]byte, error) {
	return [32]byte{}, nil
}

func (s *scriptedClient) Call(ctx context.Context, target chain.Address, data []byte, block transport.Block) ([]byte, error) {
	for label, fn := range s.byLabel {
		sel := abi.ComputeSelector(labelToSig[label])
		if string(data[:4]) == string(sel[:]) {
			return fn()
		}
	}
	return nil, verr.New(verr.Transport, "unscripted call")
}

var labelToSig = map[string]string{
	"asset":                "asset()",
	"totalAssets":          "totalAssets()",
	"totalSupply":          "totalSupply()",
	"convertToAssets_1e18": "convertToAssets(uint256)",
}

func uintReturn(v uint64) []byte {
	out := make([]byte, 32)
	for i := 0; i < 8; i++ {
		out[31-i] = byte(v >> (8 * i))
	}
	return out
}

func targetAddr() chain.Address {
	var a chain.Address
	a[19] = 0xAB
	return a
}

func TestWarmupIsIdempotent(t *testing.T) {
	calls := 0
	client := &scriptedClient{chainID: 56, byLabel: map[string]func() ([]byte, error){
		"asset":                func() ([]byte, error) { calls++; return uintReturn(0), nil },
		"totalAssets":          func() ([]byte, error) { calls++; return uintReturn(1000), nil },
		"totalSupply":          func() ([]byte, error) { calls++; return uintReturn(500), nil },
		"convertToAssets_1e18": func() ([]byte, error) { calls++; return uintReturn(2), nil },
	}}
	e := &Engine{Client: client}
	strategy := ForFeatures([]classify.Feature{classify.ERC4626Baseline})

	state := e.Warmup(context.Background(), targetAddr(), strategy, 100, vault.ReaderState{})
	if calls != 4 {
		t.Fatalf("expected 4 probe calls, got %d", calls)
	}
	state2 := e.Warmup(context.Background(), targetAddr(), strategy, 200, state)
	if calls != 4 {
		t.Fatalf("expected warmup to be idempotent, got %d total calls", calls)
	}
	for label, check := range state2.CallStatus {
		if check.CheckBlock != 100 {
			t.Fatalf("expected check %s to retain original check_block 100, got %d", label, check.CheckBlock)
		}
	}
}

func TestWarmupMarksRevertingCall(t *testing.T) {
	client := &scriptedClient{chainID: 56, byLabel: map[string]func() ([]byte, error){
		"asset":                func() ([]byte, error) { return uintReturn(0), nil },
		"totalAssets":          func() ([]byte, error) { return uintReturn(1000), nil },
		"totalSupply":          func() ([]byte, error) { return uintReturn(500), nil },
		"convertToAssets_1e18": func() ([]byte, error) { return nil, verr.New(verr.Revert, "execution reverted") },
	}}
	e := &Engine{Client: client}
	strategy := ForFeatures([]classify.Feature{classify.ERC4626Baseline})
	state := e.Warmup(context.Background(), targetAddr(), strategy, 100, vault.ReaderState{})
	if !state.Reverts("convertToAssets_1e18") {
		t.Fatal("expected convertToAssets_1e18 to be marked reverting")
	}
	if state.Reverts("totalAssets") {
		t.Fatal("totalAssets should not be marked reverting")
	}
}

func TestReadRangeOmitsRevertingCalls(t *testing.T) {
	client := &scriptedClient{chainID: 56, byLabel: map[string]func() ([]byte, error){
		"asset":                func() ([]byte, error) { return uintReturn(0), nil },
		"totalAssets":          func() ([]byte, error) { return uintReturn(1000), nil },
		"totalSupply":          func() ([]byte, error) { return uintReturn(500), nil },
		"convertToAssets_1e18": func() ([]byte, error) { return nil, verr.New(verr.Revert, "execution reverted") },
	}}
	b := multicall.New(client, multicall.BackendFallbackLoop, multicall.Config{BackoffBase: 1, BackoffCap: 1}, vlog.Nop())
	e := &Engine{Client: client, Batcher: b}
	strategy := ForFeatures([]classify.Feature{classify.ERC4626Baseline})

	state := e.Warmup(context.Background(), targetAddr(), strategy, 100, vault.ReaderState{})
	reads, _, err := e.ReadRange(context.Background(), targetAddr(), strategy, []uint64{100}, state)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if len(reads) != 1 {
		t.Fatalf("expected 1 read, got %d", len(reads))
	}
	read := reads[0]
	if read.TotalAssets == nil || read.TotalSupply == nil || read.SharePrice == nil {
		t.Fatalf("expected full baseline decode, got %+v", read)
	}
	for _, label := range read.Errors {
		if label == "convertToAssets_1e18" {
			t.Fatal("omitted call should not appear as an error, only as absent")
		}
	}
}

func TestReadRangeRespectsVaultDecimals(t *testing.T) {
	client := &scriptedClient{chainID: 56, byLabel: map[string]func() ([]byte, error){
		"asset":                func() ([]byte, error) { return uintReturn(0), nil },
		"totalAssets":          func() ([]byte, error) { return uintReturn(1_000_000), nil }, // 1.0 at 6 decimals
		"totalSupply":          func() ([]byte, error) { return uintReturn(500_000), nil },
		"convertToAssets_1e18": func() ([]byte, error) { return uintReturn(2_000_000), nil },
	}}
	b := multicall.New(client, multicall.BackendFallbackLoop, multicall.Config{BackoffBase: 1, BackoffCap: 1}, vlog.Nop())
	e := &Engine{Client: client, Batcher: b}
	strategy := ForFeatures([]classify.Feature{classify.ERC4626Baseline})

	state := vault.ReaderState{AssetDecimals: 6, ShareDecimals: 6}
	reads, _, err := e.ReadRange(context.Background(), targetAddr(), strategy, []uint64{1}, state)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if reads[0].TotalAssets == nil || !reads[0].TotalAssets.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("expected totalAssets 1 at 6 decimals, got %v", reads[0].TotalAssets)
	}
	if reads[0].TotalSupply == nil || !reads[0].TotalSupply.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected totalSupply 0.5 at 6 decimals, got %v", reads[0].TotalSupply)
	}
}

func TestReadRangeDefaultsTo18DecimalsWhenUnresolved(t *testing.T) {
	client := &scriptedClient{chainID: 56, byLabel: map[string]func() ([]byte, error){
		"asset":                func() ([]byte, error) { return uintReturn(0), nil },
		"totalAssets":          func() ([]byte, error) { return uintReturn(1_000_000_000_000_000000), nil },
		"totalSupply":          func() ([]byte, error) { return uintReturn(500_000_000_000_000000), nil },
		"convertToAssets_1e18": func() ([]byte, error) { return uintReturn(2_000_000_000_000_000000), nil },
	}}
	b := multicall.New(client, multicall.BackendFallbackLoop, multicall.Config{BackoffBase: 1, BackoffCap: 1}, vlog.Nop())
	e := &Engine{Client: client, Batcher: b}
	strategy := ForFeatures([]classify.Feature{classify.ERC4626Baseline})

	reads, _, err := e.ReadRange(context.Background(), targetAddr(), strategy, []uint64{1}, vault.ReaderState{})
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if reads[0].TotalAssets == nil || !reads[0].TotalAssets.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("expected totalAssets 1 under default 18-decimal convention, got %v", reads[0].TotalAssets)
	}
}

func TestReadRangeSharePriceExact(t *testing.T) {
	client := &scriptedClient{chainID: 56, byLabel: map[string]func() ([]byte, error){
		"asset":                func() ([]byte, error) { return uintReturn(0), nil },
		"totalAssets":          func() ([]byte, error) { return uintReturn(1_000_000_000_000_000000), nil },
		"totalSupply":          func() ([]byte, error) { return uintReturn(250_000_000_000_000000), nil },
		"convertToAssets_1e18": func() ([]byte, error) { return uintReturn(4_000_000_000_000_000000), nil },
	}}
	b := multicall.New(client, multicall.BackendFallbackLoop, multicall.Config{BackoffBase: 1, BackoffCap: 1}, vlog.Nop())
	e := &Engine{Client: client, Batcher: b}
	strategy := ForFeatures([]classify.Feature{classify.ERC4626Baseline})

	reads, _, err := e.ReadRange(context.Background(), targetAddr(), strategy, []uint64{1}, vault.ReaderState{})
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	price := reads[0].SharePrice
	if price == nil || !price.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("expected share price 4, got %v", price)
	}
}
