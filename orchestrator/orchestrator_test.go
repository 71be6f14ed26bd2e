package orchestrator

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/tradingstrategy-ai/vaultscan/abi"
	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/classify"
	"github.com/tradingstrategy-ai/vaultscan/discovery"
	"github.com/tradingstrategy-ai/vaultscan/multicall"
	"github.com/tradingstrategy-ai/vaultscan/reader"
	"github.com/tradingstrategy-ai/vaultscan/store"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/vault"
	"github.com/tradingstrategy-ai/vaultscan/verr"
	"github.com/tradingstrategy-ai/vaultscan/vlog"
)

type fakeEventSource struct {
	logs []transport.Log
}

func (f *fakeEventSource) GetLogs(ctx context.Context, filter transport.LogFilter, from, to uint64) ([]transport.Log, error) {
	var out []transport.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

// fakeVaultClient answers every probe and warmup call the baseline strategy
// and classification registry issue against a single good address with
// totalAssets=1000e18, totalSupply=500e18, convertToAssets=2e18, zero words
// for asset() and convertToShares(uint256), everything else reverting.
type fakeVaultClient struct {
	goodAddr chain.Address
	tip      uint64
}

func (f *fakeVaultClient) ChainID() chain.ID { return 56 }
func (f *fakeVaultClient) MulticallAvailable(ctx context.Context, block transport.Block) (bool, error) {
	return false, nil
}
func (f *fakeVaultClient) GetBlockTimestamp(ctx context.Context, block transport.Block) (uint64, error) {
	return 0, nil
}
func (f *fakeVaultClient) LatestBlock(ctx context.Context) (uint64, error) { return f.tip, nil }
func (f *fakeVaultClient) StorageAt(ctx context.Context, target chain.Address, slot [32]byte, block transport.Block) ([32]byte, error) {
	return [32]byte{}, nil
}

func (f *fakeVaultClient) Call(ctx context.Context, target chain.Address, data []byte, block transport.Block) ([]byte, error) {
	if target != f.goodAddr {
		return nil, verr.New(verr.Revert, "execution reverted")
	}
	var sel abi.Selector
	copy(sel[:], data[:4])
	switch sel {
	case abi.ComputeSelector("asset()"),
		abi.ComputeSelector("convertToShares(uint256)"):
		return make([]byte, 32), nil
	case abi.ComputeSelector("totalAssets()"):
		return scaledUint(1000), nil
	case abi.ComputeSelector("totalSupply()"):
		return scaledUint(500), nil
	case abi.ComputeSelector("convertToAssets(uint256)"):
		return scaledUint(2), nil
	}
	return nil, verr.New(verr.Revert, "execution reverted")
}

func scaledUint(whole uint64) []byte {
	v := new(big.Int).Mul(big.NewInt(int64(whole)), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	out := make([]byte, 32)
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

func goodAddr() chain.Address {
	var a chain.Address
	a[19] = 7
	return a
}

func TestOrchestratorDiscoversAndReadsVault(t *testing.T) {
	good := goodAddr()
	client := &fakeVaultClient{goodAddr: good, tip: 100}
	batcher := multicall.New(client, multicall.BackendFallbackLoop, multicall.Config{BackoffBase: 1, BackoffCap: 1}, vlog.Nop())
	events := &fakeEventSource{logs: []transport.Log{{Address: good, BlockNumber: 10}}}

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	scanner := &discovery.Scanner{
		ChainID:  56,
		Events:   events,
		Batcher:  batcher,
		Registry: classify.New(vlog.Nop()),
		Store:    st,
		Log:      vlog.Nop(),
	}
	engine := &reader.Engine{Client: client, Batcher: batcher}

	var sunk []vault.HistoricalRead
	o := &Orchestrator{
		Store:        st,
		LockDir:      dir,
		PollInterval: time.Hour, // irrelevant: test only exercises the immediate tick
		Log:          vlog.Nop(),
		Jobs: []ChainJob{
			{ChainID: 56, Scanner: scanner, Reader: engine, Client: client, BlockStep: 10},
		},
		Sink: func(r vault.HistoricalRead) { sunk = append(sunk, r) },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	progress := o.Dashboard.Chain(56)
	if progress.VaultsDiscovered != 1 {
		t.Fatalf("expected 1 discovered vault, got %+v", progress)
	}
	if progress.VaultsRead != 1 {
		t.Fatalf("expected 1 successful read, got %+v", progress)
	}
	if progress.Paused {
		t.Fatalf("expected chain not paused, got %+v", progress)
	}

	rec, ok, err := st.LoadRecord(chain.Key{ChainID: 56, Address: good})
	if err != nil || !ok {
		t.Fatalf("expected persisted vault record: ok=%v err=%v", ok, err)
	}
	if rec.ProtocolName != string(classify.ERC4626Baseline) {
		t.Fatalf("unexpected protocol: %s", rec.ProtocolName)
	}

	state, ok, err := st.LoadReaderState(chain.Key{ChainID: 56, Address: good})
	if err != nil || !ok {
		t.Fatalf("expected persisted reader state: ok=%v err=%v", ok, err)
	}
	if !state.HasLastScanned || state.LastScannedBlock != 100 {
		t.Fatalf("unexpected reader state: %+v", state)
	}

	if len(sunk) != 1 {
		t.Fatalf("expected 1 sunk historical read, got %d", len(sunk))
	}
	if sunk[0].SharePrice == nil || sunk[0].SharePrice.String() != "2" {
		t.Fatalf("unexpected share price: %+v", sunk[0].SharePrice)
	}
}

func TestOrchestratorPausesChainOnTransportFailure(t *testing.T) {
	client := &failingTipClient{}
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	o := &Orchestrator{
		Store:        st,
		LockDir:      dir,
		PollInterval: time.Hour,
		Log:          vlog.Nop(),
		Jobs: []ChainJob{
			{ChainID: 56, Client: client},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	progress := o.Dashboard.Chain(56)
	if !progress.Paused {
		t.Fatalf("expected chain to be paused after a tip-fetch failure, got %+v", progress)
	}
}

type failingTipClient struct{}

func (f *failingTipClient) ChainID() chain.ID { return 56 }
func (f *failingTipClient) MulticallAvailable(ctx context.Context, block transport.Block) (bool, error) {
	return false, nil
}
func (f *failingTipClient) GetBlockTimestamp(ctx context.Context, block transport.Block) (uint64, error) {
	return 0, nil
}
func (f *failingTipClient) LatestBlock(ctx context.Context) (uint64, error) {
	return 0, verr.New(verr.Transport, "connection refused")
}
func (f *failingTipClient) StorageAt(ctx context.Context, target chain.Address, slot [32]byte, block transport.Block) ([32]byte, error) {
	return [32]byte{}, verr.New(verr.Transport, "connection refused")
}
func (f *failingTipClient) Call(ctx context.Context, target chain.Address, data []byte, block transport.Block) ([]byte, error) {
	return nil, verr.New(verr.Transport, "connection refused")
}

func TestRunChainResetLeadsClearsPersistedCursorOnce(t *testing.T) {
	good := goodAddr()
	client := &fakeVaultClient{goodAddr: good, tip: 100}
	batcher := multicall.New(client, multicall.BackendFallbackLoop, multicall.Config{BackoffBase: 1, BackoffCap: 1}, vlog.Nop())
	events := &fakeEventSource{logs: []transport.Log{{Address: good, BlockNumber: 10}}}

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	// Seed a cursor as if a prior run had already scanned past the vault's
	// deployment block, so without RESET_LEADS the next run would never
	// see its deployment log again.
	if err := st.PutCursor(56, 50); err != nil {
		t.Fatalf("PutCursor failed: %v", err)
	}

	scanner := &discovery.Scanner{
		ChainID:  56,
		Events:   events,
		Batcher:  batcher,
		Registry: classify.New(vlog.Nop()),
		Store:    st,
		Log:      vlog.Nop(),
	}
	engine := &reader.Engine{Client: client, Batcher: batcher}

	o := &Orchestrator{
		Store:        st,
		LockDir:      dir,
		PollInterval: time.Hour,
		Log:          vlog.Nop(),
		Jobs: []ChainJob{
			{ChainID: 56, Scanner: scanner, Reader: engine, Client: client, BlockStep: 10, ResetLeads: true},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	progress := o.Dashboard.Chain(56)
	if progress.VaultsDiscovered != 1 {
		t.Fatalf("expected RESET_LEADS to rediscover the vault from block 1, got %+v", progress)
	}
}

func TestStepBlocksAscendingInclusive(t *testing.T) {
	blocks := stepBlocks(10, 30, 10)
	want := []uint64{10, 20, 30}
	if len(blocks) != len(want) {
		t.Fatalf("unexpected block count: %v", blocks)
	}
	for i, b := range blocks {
		if b != want[i] {
			t.Fatalf("unexpected block at %d: got %d want %d", i, b, want[i])
		}
	}
}

func TestStepBlocksEmptyWhenInverted(t *testing.T) {
	if blocks := stepBlocks(30, 10, 10); len(blocks) != 0 {
		t.Fatalf("expected no blocks for an inverted range, got %v", blocks)
	}
}
