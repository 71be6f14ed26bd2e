package tokencache

import (
	"context"
	"os"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/tradingstrategy-ai/vaultscan/abi"
	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/multicall"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/verr"
	"github.com/tradingstrategy-ai/vaultscan/vlog"
)

type fakeTokenClient struct {
	decimalsData []byte
	decimalsOK   bool
	symbolData   []byte
	symbolOK     bool
	nameData     []byte
	nameOK       bool
	calls        int
}

func (f *fakeTokenClient) ChainID() chain.ID { return 56 }
func (f *fakeTokenClient) MulticallAvailable(ctx context.Context, block transport.Block) (bool, error) {
	return false, nil
}
func (f *fakeTokenClient) GetBlockTimestamp(ctx context.Context, block transport.Block) (uint64, error) {
	return 0, nil
}
func (f *fakeTokenClient) LatestBlock(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeTokenClient) StorageAt(ctx context.Context, target chain.Address, slot [32]byte, block transport.Block) ([32]byte, error) {
	return [32]byte{}, nil
}

func (f *fakeTokenClient) Call(ctx context.Context, target chain.Address, data []byte, block transport.Block) ([]byte, error) {
	f.calls++
	sel := string(data[:4])
	switch sel {
	case string(mustSelector("decimals()")):
		if !f.decimalsOK {
			return nil, verr.New(verr.Revert, "execution reverted")
		}
		return f.decimalsData, nil
	case string(mustSelector("symbol()")):
		if !f.symbolOK {
			return nil, verr.New(verr.Revert, "execution reverted")
		}
		return f.symbolData, nil
	case string(mustSelector("name()")):
		if !f.nameOK {
			return nil, verr.New(verr.Revert, "execution reverted")
		}
		return f.nameData, nil
	default:
		return nil, verr.New(verr.Transport, "unknown selector")
	}
}

func mustSelector(sig string) []byte {
	s := abi.ComputeSelector(sig)
	return s[:]
}

func addr(b byte) chain.Address {
	var a chain.Address
	a[19] = b
	return a
}

func uint256Return(v uint64) []byte {
	out := make([]byte, 32)
	for i := 0; i < 8; i++ {
		out[31-i] = byte(v >> (8 * i))
	}
	return out
}

func dynamicStringReturn(s string) []byte {
	out := make([]byte, 32)
	out[31] = 0x20
	lenWord := make([]byte, 32)
	lenWord[31] = byte(len(s))
	out = append(out, lenWord...)
	data := make([]byte, (len(s)+31)/32*32)
	copy(data, s)
	out = append(out, data...)
	return out
}

func TestResolveFetchesAndCaches(t *testing.T) {
	client := &fakeTokenClient{
		decimalsData: uint256Return(18),
		decimalsOK:   true,
		symbolData:   dynamicStringReturn("USDC"),
		symbolOK:     true,
		nameData:     dynamicStringReturn("USD Coin"),
		nameOK:       true,
	}
	b := multicall.New(client, multicall.BackendFallbackLoop, multicall.Config{BackoffBase: 1, BackoffCap: 1}, vlog.Nop())
	c, err := Open(16, nil, b)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ref, err := c.Resolve(context.Background(), 56, addr(1), transport.Latest())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ref.Decimals != 18 || ref.Symbol != "USDC" || ref.Name != "USD Coin" {
		t.Fatalf("unexpected ref: %+v", ref)
	}

	callsAfterFirst := client.calls
	if _, err := c.Resolve(context.Background(), 56, addr(1), transport.Latest()); err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if client.calls != callsAfterFirst {
		t.Fatalf("expected memory hit to avoid re-fetch, calls went from %d to %d", callsAfterFirst, client.calls)
	}
}

func TestResolveUnreadableDecimals(t *testing.T) {
	client := &fakeTokenClient{decimalsOK: false}
	b := multicall.New(client, multicall.BackendFallbackLoop, multicall.Config{BackoffBase: 1, BackoffCap: 1}, vlog.Nop())
	c, err := Open(16, nil, b)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, err = c.Resolve(context.Background(), 56, addr(2), transport.Latest())
	if verr.CodeOf(err) != verr.TokenUnreadable {
		t.Fatalf("expected TOKEN_UNREADABLE, got %v", err)
	}
}

func TestResolvePersistsToDisk(t *testing.T) {
	tmp, err := os.CreateTemp("", "tokencache-*.db")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("bolt.Open: %v", err)
	}
	defer db.Close()

	client := &fakeTokenClient{decimalsData: uint256Return(6), decimalsOK: true}
	b := multicall.New(client, multicall.BackendFallbackLoop, multicall.Config{BackoffBase: 1, BackoffCap: 1}, vlog.Nop())
	c, err := Open(16, db, b)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := c.Resolve(context.Background(), 1, addr(3), transport.Latest()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// A fresh Cache over the same db must hit disk, never the chain.
	fresh, err := Open(16, db, b)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	callsBefore := client.calls
	ref, err := fresh.Resolve(context.Background(), 1, addr(3), transport.Latest())
	if err != nil {
		t.Fatalf("Resolve from disk failed: %v", err)
	}
	if ref.Decimals != 6 {
		t.Fatalf("unexpected decimals from disk: %d", ref.Decimals)
	}
	if client.calls != callsBefore {
		t.Fatalf("expected disk hit, but chain was called again")
	}
}
