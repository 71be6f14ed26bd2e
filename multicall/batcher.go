// Package multicall implements the Multicall Batcher (C2): packing a
// heterogeneous set of abi.EncodedCall values into on-chain multicall
// batches, splitting on size/gas budget, tolerating individual reverts, and
// retrying transport failures with exponential backoff before bisecting a
// batch that still won't succeed.
package multicall

import (
	"context"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cenkalti/backoff/v4"

	"github.com/tradingstrategy-ai/vaultscan/abi"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/verr"
	"github.com/tradingstrategy-ai/vaultscan/vlog"
)

// CallResult is the per-call outcome of a batch execution, preserving the
// input call's position.
type CallResult struct {
	Success      bool
	ReturnData   []byte
	Block        uint64
	RevertReason string
	Err          error // set only for TRANSPORT- and GAS_PATHOLOGY-classified failures
}

// Backend selects how a Batcher talks to the chain. The choice is made at
// construction time; a Batcher never switches backend at runtime.
type Backend int

const (
	// BackendAggregate issues one on-chain aggregate contract call per
	// batch, returning (success, data) tuples for every leaf.
	BackendAggregate Backend = iota
	// BackendFallbackLoop issues one eth_call per leaf, used when the
	// aggregator contract is absent on this chain at the requested block.
	BackendFallbackLoop
)

// Config tunes the splitting and retry policy. Zero-value fields fall back
// to the spec's stated defaults.
type Config struct {
	MaxCallsPerBatch int
	MaxBatchBytes    datasize.ByteSize
	RetryCount       int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	CallTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxCallsPerBatch <= 0 {
		c.MaxCallsPerBatch = 100
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = 2 * datasize.MB
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

// Batcher executes heterogeneous call sets against one EvmClient. A Batcher
// instance is single-threaded internally — the orchestrator (C8) is
// responsible for giving each worker its own Batcher/EvmClient pair.
type Batcher struct {
	client  transport.EvmClient
	backend Backend
	cfg     Config
	log     *vlog.Logger
}

// New builds a Batcher for one client using the given backend and config.
func New(client transport.EvmClient, backend Backend, cfg Config, log *vlog.Logger) *Batcher {
	if log == nil {
		log = vlog.Nop()
	}
	return &Batcher{client: client, backend: backend, cfg: cfg.withDefaults(), log: log}
}

// Execute runs calls against the chain at block, preserving input order and
// length. Individual reverts never abort the batch; only transport errors
// trigger retry/bisect.
func (b *Batcher) Execute(ctx context.Context, calls []abi.EncodedCall, block transport.Block) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	batches := split(calls, b.cfg.MaxCallsPerBatch, b.cfg.MaxBatchBytes)
	results := make([]CallResult, 0, len(calls))
	for _, batch := range batches {
		batchResults, err := b.executeBatchWithRetry(ctx, batch, block)
		if err != nil {
			return nil, err
		}
		results = append(results, batchResults...)
	}
	return results, nil
}

// split packs calls into batches respecting both the call-count and
// encoded-byte-size soft budgets, preserving order across splits.
func split(calls []abi.EncodedCall, maxCalls int, maxBytes datasize.ByteSize) [][]abi.EncodedCall {
	var batches [][]abi.EncodedCall
	var cur []abi.EncodedCall
	var curBytes uint64
	for _, c := range calls {
		callBytes := uint64(len(c.Data()))
		wouldOverflowCount := len(cur)+1 > maxCalls
		wouldOverflowBytes := curBytes+callBytes > maxBytes.Bytes() && len(cur) > 0
		if wouldOverflowCount || wouldOverflowBytes {
			batches = append(batches, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, c)
		curBytes += callBytes
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// executeBatchWithRetry runs one batch, retrying transport failures with
// exponential backoff up to cfg.RetryCount times. On exhaustion it bisects
// the batch into two halves, retries each half once, and marks any half
// that still fails as TRANSPORT for every call it contains.
func (b *Batcher) executeBatchWithRetry(ctx context.Context, batch []abi.EncodedCall, block transport.Block) ([]CallResult, error) {
	results, err := b.retryLoop(ctx, batch, block, b.cfg.RetryCount)
	if err == nil {
		return results, nil
	}
	b.log.Warn("multicall batch exhausted retries, bisecting", "size", len(batch), "err", err)
	if len(batch) == 1 {
		return []CallResult{transportFailure(batch[0])}, nil
	}
	mid := len(batch) / 2
	left, right := batch[:mid], batch[mid:]
	leftResults, lErr := b.retryLoop(ctx, left, block, 1)
	if lErr != nil {
		leftResults = transportFailures(left)
	}
	rightResults, rErr := b.retryLoop(ctx, right, block, 1)
	if rErr != nil {
		rightResults = transportFailures(right)
	}
	return append(leftResults, rightResults...), nil
}

func (b *Batcher) retryLoop(ctx context.Context, batch []abi.EncodedCall, block transport.Block, attempts int) ([]CallResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.BackoffBase
	bo.MaxInterval = b.cfg.BackoffCap
	bo.MaxElapsedTime = 0 // bounded by attempts, not wall-clock
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := bo.NextBackOff()
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		results, err := b.executeOnce(ctx, batch, block)
		if err == nil {
			return results, nil
		}
		lastErr = err
		b.log.Debug("multicall batch attempt failed", "attempt", attempt, "size", len(batch), "err", err)
	}
	return nil, lastErr
}

func (b *Batcher) executeOnce(ctx context.Context, batch []abi.EncodedCall, block transport.Block) ([]CallResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	switch b.backend {
	case BackendAggregate:
		agg, ok := b.client.(transport.Aggregator)
		if !ok {
			return b.executeFallbackLoop(callCtx, batch, block)
		}
		calls := make([]transport.AggregateCall, len(batch))
		for i, c := range batch {
			calls[i] = transport.AggregateCall{Target: c.Target, Data: c.Data()}
		}
		raw, err := agg.Aggregate(callCtx, calls, block)
		if err != nil {
			return nil, err
		}
		if len(raw) != len(batch) {
			return nil, verr.New(verr.Transport, "aggregate returned wrong result count")
		}
		out := make([]CallResult, len(batch))
		for i, r := range raw {
			out[i] = CallResult{Success: r.Success, ReturnData: r.Data, Block: blockNumberOf(block)}
		}
		return out, nil
	default:
		return b.executeFallbackLoop(callCtx, batch, block)
	}
}

func (b *Batcher) executeFallbackLoop(ctx context.Context, batch []abi.EncodedCall, block transport.Block) ([]CallResult, error) {
	out := make([]CallResult, len(batch))
	for i, c := range batch {
		data, err := b.client.Call(ctx, c.Target, c.Data(), block)
		if err == nil {
			out[i] = CallResult{Success: true, ReturnData: data, Block: blockNumberOf(block)}
			continue
		}
		switch verr.CodeOf(err) {
		case verr.Revert:
			out[i] = CallResult{Success: false, Block: blockNumberOf(block), RevertReason: err.Error()}
		case verr.GasPathology:
			// Gas pathology is a per-call disposition the reader's warmup
			// policy prunes going forward; it never fails the batch.
			out[i] = CallResult{Success: false, Block: blockNumberOf(block), Err: err}
		default:
			// A transport-classified leaf failure fails the whole batch
			// attempt so the retry/bisect policy above can engage.
			return nil, err
		}
	}
	return out, nil
}

func blockNumberOf(b transport.Block) uint64 { return b.Number }

func transportFailure(c abi.EncodedCall) CallResult {
	return CallResult{Success: false, Err: verr.New(verr.Transport, "TRANSPORT")}
}

func transportFailures(batch []abi.EncodedCall) []CallResult {
	out := make([]CallResult, len(batch))
	for i, c := range batch {
		out[i] = transportFailure(c)
	}
	return out
}
