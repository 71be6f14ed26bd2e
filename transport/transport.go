// Package transport declares the external capabilities the core consumes
// from its embedding (spec.md §6): an opaque EvmClient for view calls and
// an opaque EventSource for historical log scanning. The core never
// implements chain RPC transport itself — these are narrow interfaces a
// host application supplies.
package transport

import (
	"context"

	"github.com/tradingstrategy-ai/vaultscan/chain"
)

// Block selects either a specific height or the chain tip. The zero value
// (Number: 0, Latest: false) means "block zero", not "latest" — callers
// that want the tip must set Latest explicitly.
type Block struct {
	Number uint64
	Latest bool
}

// AtBlock returns a Block pinned to a specific height.
func AtBlock(n uint64) Block { return Block{Number: n} }

// Latest returns a Block meaning "the chain tip".
func Latest() Block { return Block{Latest: true} }

func (b Block) String() string {
	if b.Latest {
		return "latest"
	}
	return itoa(b.Number)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// EvmClient is the per-chain RPC capability the core is handed by its
// embedder. Call returns a *verr.Error with Code Transport or Revert; it
// never panics.
type EvmClient interface {
	ChainID() chain.ID
	Call(ctx context.Context, target chain.Address, data []byte, block Block) ([]byte, error)
	MulticallAvailable(ctx context.Context, block Block) (bool, error)
	GetBlockTimestamp(ctx context.Context, block Block) (uint64, error)
	// LatestBlock returns the chain's current head height, the orchestrator's
	// only source for where an open-ended discovery window ends.
	LatestBlock(ctx context.Context) (uint64, error)
	// StorageAt reads a raw 32-byte storage slot, the primitive proxy-slot
	// fee resolution needs to read an EIP-1967 implementation address
	// directly rather than through a (possibly shadowed) view call.
	StorageAt(ctx context.Context, target chain.Address, slot [32]byte, block Block) ([32]byte, error)
}

// AggregateCall is one leaf of an on-chain Multicall-style aggregate call.
type AggregateCall struct {
	Target chain.Address
	Data   []byte
}

// AggregateResult is the per-leaf result of an aggregate call.
type AggregateResult struct {
	Success bool
	Data    []byte
}

// Aggregator is implemented by an EvmClient that additionally knows how to
// batch calls into a single aggregate contract call (multicall.Backend
// "aggregate"). Not every EvmClient need implement it — its absence at a
// given block is exactly what MulticallAvailable reports.
type Aggregator interface {
	Aggregate(ctx context.Context, calls []AggregateCall, block Block) ([]AggregateResult, error)
}

// Log is one decoded EVM log entry.
type Log struct {
	Address     chain.Address
	Topics      [][32]byte
	Data        []byte
	BlockNumber uint64
	TxHash      [32]byte
	LogIndex    uint64
}

// LogFilter selects logs by address and/or topic. A nil Addresses slice
// means "any address"; Topics entries follow the standard eth_getLogs
// topic-list semantics (each position is OR'd across its own slice, AND'd
// across positions); a nil entry at a position means "any".
type LogFilter struct {
	Addresses []chain.Address
	Topics    [][][32]byte
}

// EventSource streams logs for one query window. The core is responsible
// for splitting windows wider than config.MaxGetLogsRange before calling
// GetLogs — GetLogs itself does not re-split.
type EventSource interface {
	GetLogs(ctx context.Context, filter LogFilter, fromBlock, toBlock uint64) ([]Log, error)
}
