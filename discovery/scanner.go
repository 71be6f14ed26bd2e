// Package discovery implements the Vault Discovery Scanner (C5):
// incrementally crawling chain history for vault-deployment events,
// probing each candidate lead with the classification registry's union of
// probe calls, classifying, and persisting the result.
package discovery

import (
	"context"

	"github.com/tradingstrategy-ai/vaultscan/abi"
	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/classify"
	"github.com/tradingstrategy-ai/vaultscan/multicall"
	"github.com/tradingstrategy-ai/vaultscan/reader"
	"github.com/tradingstrategy-ai/vaultscan/store"
	"github.com/tradingstrategy-ai/vaultscan/tokencache"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/vault"
	"github.com/tradingstrategy-ai/vaultscan/verr"
	"github.com/tradingstrategy-ai/vaultscan/vlog"
)

// Config tunes how the scanner groups logs and leads per round-trip.
type Config struct {
	MaxGetLogsRange uint64 // windows wider than this are split before GetLogs
	LeadsPerBatch   int    // leads probed together in one super-batch
}

func (c Config) withDefaults() Config {
	if c.MaxGetLogsRange == 0 {
		c.MaxGetLogsRange = 2000
	}
	if c.LeadsPerBatch == 0 {
		c.LeadsPerBatch = 25
	}
	return c
}

// Scanner drives one chain's discovery pass. A Scanner is not safe for
// concurrent Scan calls on the same chain — that exclusivity is the
// cursor's single-writer invariant, enforced by store.ChainLock at the
// orchestrator layer.
type Scanner struct {
	ChainID  chain.ID
	Events   transport.EventSource
	Batcher  *multicall.Batcher
	Registry *classify.Registry
	Store    *store.Store
	Rejects  *store.RejectsStore
	Log      *vlog.Logger
	Cfg      Config
	// Client is only consulted for proxy-slot resolution (classify.Row's
	// ProxyResolve flag); every ordinary probe goes through Batcher. A nil
	// Client simply skips resolution for matched rows that requested it.
	Client transport.EvmClient
	// TokenCache resolves the denomination and share token metadata for a
	// newly classified vault. A nil TokenCache leaves Record.DenominationToken
	// and ShareToken unset, and every conversion falls back to the
	// ERC-4626 18-decimal convention.
	TokenCache *tokencache.Cache
}

// Result summarizes one Scan call for the orchestrator's dashboard.
type Result struct {
	NewRecords   int
	Rejected     int
	LeadsProbed  int
	CursorBefore uint64
	CursorAfter  uint64
}

// Scan crawls [fromBlock, toBlock] for deployment-correlated logs, probes
// every distinct lead, classifies, and persists. The cursor only advances
// after the entire lead queue for this window has drained — a crash
// mid-scan leaves the cursor at its prior value, so re-running repeats at
// most one window's worth of work, never skipping a block.
func (s *Scanner) Scan(ctx context.Context, fromBlock, toBlock uint64) (Result, error) {
	cfg := s.Cfg.withDefaults()
	var result Result
	result.CursorBefore = fromBlock

	topics := s.Registry.DeploymentTopics()
	leads := newLeadQueue()

	for windowStart := fromBlock; windowStart <= toBlock; windowStart += cfg.MaxGetLogsRange {
		windowEnd := windowStart + cfg.MaxGetLogsRange - 1
		if windowEnd > toBlock {
			windowEnd = toBlock
		}
		logs, err := s.Events.GetLogs(ctx, transport.LogFilter{Topics: [][][32]byte{topics}}, windowStart, windowEnd)
		if err != nil {
			// Event-source transport errors pause the scan; the cursor is
			// never advanced past an unacknowledged block.
			return result, verr.Wrap(verr.Transport, err, "discovery: fetching logs")
		}
		for _, l := range logs {
			leads.Add(l.Address)
		}
	}

	result.LeadsProbed = leads.Len()
	probeSigs := s.Registry.ProbeSignatures()

	for _, batch := range chunkAddresses(leads.Drain(), cfg.LeadsPerBatch) {
		if err := s.probeAndClassify(ctx, batch, probeSigs, toBlock, &result); err != nil {
			return result, err
		}
	}

	// Every persisted record already advanced the cursor to toBlock via
	// PutRecordAndCursor, atomically with its own write. A window that
	// classified nothing (no leads, or every lead rejected) still needs an
	// explicit cursor advance so it isn't rescanned forever.
	if result.NewRecords == 0 {
		if err := s.Store.PutCursor(s.ChainID, toBlock); err != nil {
			return result, verr.Wrap(verr.Transport, err, "discovery: advancing cursor")
		}
	}
	result.CursorAfter = toBlock
	return result, nil
}

func chunkAddresses(addrs []chain.Address, size int) [][]chain.Address {
	var out [][]chain.Address
	for i := 0; i < len(addrs); i += size {
		end := i + size
		if end > len(addrs) {
			end = len(addrs)
		}
		out = append(out, addrs[i:end])
	}
	return out
}

func (s *Scanner) probeAndClassify(ctx context.Context, leads []chain.Address, probeSigs []string, block uint64, result *Result) error {
	var calls []abi.EncodedCall
	for _, addr := range leads {
		for _, sig := range probeSigs {
			// Probes with a parameter (e.g. convertToShares(uint256)) are
			// built with no trailing argument word; EVM calldata reads
			// past its own length return zero, so this is equivalent to
			// passing an explicit zero and needs no special case here.
			calls = append(calls, abi.Build(addr, sig, sig))
		}
	}

	results, err := s.Batcher.Execute(ctx, calls, transport.AtBlock(block))
	if err != nil {
		return verr.Wrap(verr.Transport, err, "discovery: probing leads")
	}

	byAddr := make(map[chain.Address]classify.CapabilitySet, len(leads))
	byAddrData := make(map[chain.Address]map[string][]byte, len(leads))
	for _, addr := range leads {
		byAddr[addr] = classify.CapabilitySet{}
		byAddrData[addr] = map[string][]byte{}
	}
	for i, c := range calls {
		addr := c.Target
		sig := probeSigs[i%len(probeSigs)]
		byAddr[addr][sig] = results[i].Success
		if results[i].Success {
			byAddrData[addr][sig] = results[i].ReturnData
		}
	}

	for _, addr := range leads {
		caps := byAddr[addr]
		if allFailed(caps) {
			// A lead whose every probe reverts is discarded silently.
			continue
		}
		key := chain.Key{ChainID: s.ChainID, Address: addr}
		classification := s.Registry.Classify(key, caps)

		if classification.Rejected {
			if s.Rejects != nil {
				if err := s.Rejects.PutReject(ctx, key, caps, classification.Conflict, block); err != nil {
					return verr.Wrap(verr.Transport, err, "discovery: snapshotting reject")
				}
			}
			result.Rejected++
			continue
		}

		rec := vault.Record{
			Key:            key,
			Features:       classification.Features,
			FirstSeenBlock: block,
			ProtocolName:   string(classification.Protocol),
			Flags:          deriveFlags(classification),
		}
		if classification.ProxyResolve && s.Client != nil {
			if impl, err := reader.ResolveImplementation(ctx, s.Client, addr, transport.AtBlock(block)); err != nil {
				s.Log.Warn("discovery: proxy-slot resolution failed", "vault", key.String(), "err", err)
			} else {
				rec.ImplementationAddress = &impl
			}
		}
		s.resolveTokens(ctx, key, addr, byAddrData[addr], block, &rec)

		if err := s.Store.PutRecordAndCursor(rec, s.ChainID, block); err != nil {
			return verr.Wrap(verr.Transport, err, "discovery: persisting vault record")
		}
		result.NewRecords++
	}
	return nil
}

// resolveTokens populates rec's denomination and share token metadata via
// the token cache: the share token is the vault address itself (every
// ERC-4626 vault is also its own ERC-20 share token); the denomination
// token is decoded from the already-probed asset() return data, so no
// extra call is spent finding it. A failed resolution is logged and left
// unset — the reader falls back to the 18-decimal convention for that
// vault rather than aborting discovery over one unreadable token.
func (s *Scanner) resolveTokens(ctx context.Context, key chain.Key, vaultAddr chain.Address, assetData map[string][]byte, block uint64, rec *vault.Record) {
	if s.TokenCache == nil {
		return
	}
	atBlock := transport.AtBlock(block)

	if shareRef, err := s.TokenCache.Resolve(ctx, s.ChainID, vaultAddr, atBlock); err != nil {
		s.Log.Warn("discovery: resolving share token failed", "vault", key.String(), "err", err)
	} else {
		rec.ShareToken = &shareRef
		rec.Name = shareRef.Name
		rec.Symbol = shareRef.Symbol
	}

	raw, ok := assetData["asset()"]
	if !ok {
		return
	}
	assetAddr, err := abi.DecodeAddress(raw, "asset()")
	if err != nil {
		s.Log.Warn("discovery: decoding asset() return data failed", "vault", key.String(), "err", err)
		return
	}
	if denomRef, err := s.TokenCache.Resolve(ctx, s.ChainID, assetAddr, atBlock); err != nil {
		s.Log.Warn("discovery: resolving denomination token failed", "vault", key.String(), "err", err)
	} else {
		rec.DenominationToken = &denomRef
	}
}

func allFailed(caps classify.CapabilitySet) bool {
	for _, ok := range caps {
		if ok {
			return false
		}
	}
	return true
}

func deriveFlags(r classify.Result) []vault.Flag {
	var flags []vault.Flag
	for _, f := range r.Features {
		switch f {
		case classify.Subvault:
			flags = append(flags, vault.FlagSubvault)
		case classify.PerpDexTradingVault:
			flags = append(flags, vault.FlagPerpDexTradingVault)
		}
	}
	return flags
}
