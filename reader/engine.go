package reader

import (
	"context"

	"github.com/tradingstrategy-ai/vaultscan/abi"
	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/multicall"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/vault"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

// DefaultGasPathologyStreak is the number of consecutive gas-related
// failures a call must accumulate during real reads before the engine
// promotes it from reverts=false to reverts=true.
const DefaultGasPathologyStreak = 3

// Engine runs warmup and historical reads for one vault using a strategy
// bound by ForFeatures. It holds no per-vault state itself — all
// bookkeeping lives in the vault.ReaderState the caller threads through.
type Engine struct {
	Client           transport.EvmClient
	Batcher          *multicall.Batcher
	GasFailureStreak int
}

func (e *Engine) streak() int {
	if e.GasFailureStreak <= 0 {
		return DefaultGasPathologyStreak
	}
	return e.GasFailureStreak
}

// Warmup tests every call a strategy may issue that isn't already checked
// in state.CallStatus, one at a time (never multicalled), and records its
// disposition. Idempotent: calls already checked are left untouched. An
// entry with CheckBlock 0 that isn't marked reverting was never actually
// checked (a transport failure, or a status created by a real read), so it
// is tested again.
func (e *Engine) Warmup(ctx context.Context, target chain.Address, strategy Strategy, checkBlock uint64, state vault.ReaderState) vault.ReaderState {
	next := state.Clone()
	if next.CallStatus == nil {
		next.CallStatus = map[string]vault.CallCheck{}
	}

	for _, call := range strategy.WarmupCalls(target, next) {
		if check, already := next.CallStatus[call.FunctionLabel]; already && (check.CheckBlock != 0 || check.Reverts) {
			continue
		}
		next.CallStatus[call.FunctionLabel] = e.probe(ctx, call, checkBlock)
	}
	return next
}

func (e *Engine) probe(ctx context.Context, call abi.EncodedCall, checkBlock uint64) vault.CallCheck {
	_, err := e.Client.Call(ctx, call.Target, call.Data(), transport.AtBlock(checkBlock))
	if err == nil {
		return vault.CallCheck{CheckBlock: checkBlock, Reverts: false}
	}
	switch verr.CodeOf(err) {
	case verr.Revert, verr.GasPathology:
		return vault.CallCheck{CheckBlock: checkBlock, Reverts: true}
	default:
		// A transport failure during warmup leaves the call untested; the
		// caller should retry warmup for this vault on a later pass rather
		// than wrongly recording a permanent disposition.
		return vault.CallCheck{CheckBlock: 0, Reverts: false}
	}
}

// ReadRange produces one HistoricalRead per block, in ascending order,
// pruning any call marked reverting in state and applying the
// gas-pathology promotion policy as it goes. Returns the updated state
// alongside the reads so the caller can persist both atomically.
func (e *Engine) ReadRange(ctx context.Context, target chain.Address, strategy Strategy, blocks []uint64, state vault.ReaderState) ([]vault.HistoricalRead, vault.ReaderState, error) {
	next := state.Clone()
	reads := make([]vault.HistoricalRead, 0, len(blocks))

	for _, blockNum := range blocks {
		calls := strategy.BuildBundle(target, next)
		block := transport.AtBlock(blockNum)
		results, err := e.Batcher.Execute(ctx, calls, block)
		if err != nil {
			return reads, next, verr.Wrap(verr.Transport, err, "reader: executing block bundle")
		}

		read := vault.HistoricalRead{Key: vault.Spec{}, Block: blockNum}
		strategy.DecodeBundle(calls, toReaderResults(results), next, &read)
		e.applyGasPathology(calls, results, &next)
		reads = append(reads, read)
	}
	return reads, next, nil
}

func toReaderResults(in []multicall.CallResult) []CallResult {
	out := make([]CallResult, len(in))
	for i, r := range in {
		out[i] = CallResult{Success: r.Success, ReturnData: r.ReturnData, RevertReason: r.RevertReason}
	}
	return out
}

// applyGasPathology promotes a call to reverts=true once it has failed
// with a gas-related error for e.streak() consecutive blocks, protecting
// the pipeline against contracts patched into hostile states after
// warmup already cleared them.
func (e *Engine) applyGasPathology(calls []abi.EncodedCall, results []multicall.CallResult, state *vault.ReaderState) {
	if state.CallStatus == nil {
		state.CallStatus = map[string]vault.CallCheck{}
	}
	for i, c := range calls {
		if i >= len(results) {
			continue
		}
		r := results[i]
		check := state.CallStatus[c.FunctionLabel]
		gasFailure := !r.Success && r.Err != nil && verr.CodeOf(r.Err) == verr.GasPathology
		if gasFailure {
			check.ConsecutiveGasFailures++
			if check.ConsecutiveGasFailures >= e.streak() {
				check.Reverts = true
			}
		} else {
			check.ConsecutiveGasFailures = 0
		}
		state.CallStatus[c.FunctionLabel] = check
	}
}
