// Package orchestrator drives the discovery scanner and the historical
// reader across many chains in parallel (C8): one supervised loop per
// enabled chain, a bounded worker pool per vault, and a thread-safe,
// polled-snapshot progress dashboard. Its polling shape is modelled on a
// check-once-then-ticker pattern: do the work immediately, then re-check on
// a fixed interval instead of busy-looping, stopping cleanly on context
// cancellation.
package orchestrator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/discovery"
	"github.com/tradingstrategy-ai/vaultscan/reader"
	"github.com/tradingstrategy-ai/vaultscan/store"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/vault"
	"github.com/tradingstrategy-ai/vaultscan/verr"
	"github.com/tradingstrategy-ai/vaultscan/vlog"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultMaxWorkers   = 16
	defaultRetryCount   = 3
)

// ChainJob bundles everything one chain's supervised loop needs. A Scanner
// and Engine are never shared across chains; each chain owns its own
// transport client, per the no-shared-batcher-across-threads rule.
type ChainJob struct {
	ChainID     chain.ID
	Scanner     *discovery.Scanner
	Reader      *reader.Engine
	Client      transport.EvmClient
	BlockStep   uint64 // historical sampling stride, derived from FREQUENCY
	EndBlock    uint64
	HasEndBlock bool
	// ResetLeads mirrors config.Config.ResetLeads (RESET_LEADS): on the
	// first tick of this run, the persisted cursor is cleared so discovery
	// starts from block 1 again instead of resuming where it left off.
	ResetLeads bool
}

// Orchestrator runs the supervised per-chain loops described in ChainJob
// and exposes their aggregate state through Dashboard.
type Orchestrator struct {
	Store        *store.Store
	Jobs         []ChainJob
	MaxWorkers   int
	RetryCount   int
	PollInterval time.Duration
	LockDir      string
	Log          *vlog.Logger
	Dashboard    *Dashboard

	// Sink receives every HistoricalRead as it is produced. The core only
	// streams records outward; persisting them durably is the embedder's
	// concern. A nil Sink silently discards reads.
	Sink func(vault.HistoricalRead)

	// SkipPostProcessing runs discovery only, skipping the historical-read
	// fan-out every tick — the "scan-vaults" CLI command's mode.
	SkipPostProcessing bool
	// SkipDiscovery runs historical reads only against vaults already
	// persisted, skipping the log-scan phase — the "scan-prices" CLI
	// command's mode.
	SkipDiscovery bool
}

func (o *Orchestrator) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return defaultPollInterval
	}
	return o.PollInterval
}

func (o *Orchestrator) maxWorkers() int {
	if o.MaxWorkers <= 0 {
		return defaultMaxWorkers
	}
	return o.MaxWorkers
}

func (o *Orchestrator) retryCount() int {
	if o.RetryCount <= 0 {
		return defaultRetryCount
	}
	return o.RetryCount
}

// Run starts the supervised loop for every job and blocks until ctx is
// cancelled (a soft cancel: each chain finishes its current tick, persists
// whatever it already committed to the store, and returns) or until every
// chain's loop has permanently failed to even acquire its lock.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.Dashboard == nil {
		o.Dashboard = NewDashboard()
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range o.Jobs {
		job := job
		g.Go(func() error {
			o.runChain(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

// runChain owns job.ChainID's cursor for the lifetime of the loop. It never
// returns an error to the caller: a chain that cannot make progress pauses
// itself on the dashboard and keeps polling, so a transient transport
// outage recovers without the whole orchestrator restarting.
func (o *Orchestrator) runChain(ctx context.Context, job ChainJob) {
	log := o.Log
	if log == nil {
		log = vlog.Nop()
	}
	log = log.With("chain", job.ChainID)

	lock, err := store.LockChain(o.LockDir, job.ChainID)
	if err != nil {
		o.Dashboard.update(job.ChainID, func(p ChainProgress) ChainProgress {
			p.ChainID = job.ChainID
			p.Paused = true
			p.LastError = err.Error()
			return p
		})
		log.Error("orchestrator: chain lock held by another process", "err", err)
		return
	}
	defer lock.Unlock()

	if job.ResetLeads {
		if err := o.Store.PutCursor(job.ChainID, 0); err != nil {
			log.Error("orchestrator: RESET_LEADS failed to clear persisted cursor", "err", err)
		} else {
			log.Info("orchestrator: RESET_LEADS set, discovery will restart from block 1")
		}
	}

	// Check once without delay so a freshly started process makes progress
	// immediately, then fall back to the poll interval.
	o.tick(ctx, job, log)

	ticker := time.NewTicker(o.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx, job, log)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context, job ChainJob, log *vlog.Logger) {
	tip, err := job.Client.LatestBlock(ctx)
	if err != nil {
		o.pause(job.ChainID, err)
		log.Warn("orchestrator: fetching chain tip", "err", err)
		return
	}
	toBlock := tip
	if job.HasEndBlock && job.EndBlock < toBlock {
		toBlock = job.EndBlock
	}

	fromBlock := uint64(1)
	if cursor, ok, err := o.Store.LoadCursor(job.ChainID); err != nil {
		o.pause(job.ChainID, err)
		return
	} else if ok {
		fromBlock = cursor + 1
	}

	if !o.SkipDiscovery && fromBlock <= toBlock {
		result, err := job.Scanner.Scan(ctx, fromBlock, toBlock)
		if err != nil {
			o.pause(job.ChainID, err)
			log.Warn("orchestrator: discovery scan failed, pausing chain", "err", err)
			return
		}
		o.Dashboard.update(job.ChainID, func(p ChainProgress) ChainProgress {
			p.ChainID = job.ChainID
			p.Phase = "discovery"
			p.Paused = false
			p.LastError = ""
			p.CursorBlock = result.CursorAfter
			p.VaultsDiscovered += result.NewRecords
			p.VaultsRejected += result.Rejected
			return p
		})
	}

	if o.SkipPostProcessing {
		return
	}

	records, err := o.Store.ListRecords(job.ChainID)
	if err != nil {
		o.pause(job.ChainID, err)
		return
	}
	if len(records) == 0 {
		return
	}

	o.Dashboard.update(job.ChainID, func(p ChainProgress) ChainProgress {
		p.Phase = "historical-read"
		return p
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxWorkers())
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			o.readVaultWithRetry(gctx, job, rec, log)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) pause(chainID chain.ID, err error) {
	o.Dashboard.update(chainID, func(p ChainProgress) ChainProgress {
		p.ChainID = chainID
		p.Paused = true
		p.LastError = err.Error()
		return p
	})
}

// readVaultWithRetry runs one vault's warmup + historical read, retrying up
// to retryCount times on failure. A failed attempt never persists the
// reader state, so a subsequent retry (here or on the next tick) starts
// from the last successfully committed state.
func (o *Orchestrator) readVaultWithRetry(ctx context.Context, job ChainJob, rec vault.Record, log *vlog.Logger) {
	var lastErr error
	for attempt := 0; attempt <= o.retryCount(); attempt++ {
		if attempt > 0 {
			log.Warn("orchestrator: retrying vault read", "vault", rec.Key.String(), "attempt", attempt, "err", lastErr)
		}
		if err := o.readVaultOnce(ctx, job, rec); err != nil {
			lastErr = err
			continue
		}
		o.Dashboard.update(job.ChainID, func(p ChainProgress) ChainProgress {
			p.VaultsRead++
			return p
		})
		return
	}
	o.Dashboard.update(job.ChainID, func(p ChainProgress) ChainProgress {
		p.VaultsFailed++
		return p
	})
	log.Error("orchestrator: vault read exhausted retries", "vault", rec.Key.String(), "err", lastErr)
}

func (o *Orchestrator) readVaultOnce(ctx context.Context, job ChainJob, rec vault.Record) error {
	state, ok, err := o.Store.LoadReaderState(rec.Key)
	if err != nil {
		return err
	}
	if !ok {
		state = vault.ReaderState{Key: rec.Key, Features: rec.Features}
	}
	// Re-derive decimals from the record every call rather than only on
	// first creation, so a vault whose tokens resolve on a later discovery
	// pass (token cache miss the first time round) still picks them up.
	if rec.DenominationToken != nil {
		state.AssetDecimals = rec.DenominationToken.Decimals
	}
	if rec.ShareToken != nil {
		state.ShareDecimals = rec.ShareToken.Decimals
	}

	strategy := reader.ForFeatures(rec.Features)
	tip, err := job.Client.LatestBlock(ctx)
	if err != nil {
		return verr.Wrap(verr.Transport, err, "orchestrator: fetching chain tip for vault read")
	}

	state = job.Reader.Warmup(ctx, rec.Key.Address, strategy, tip, state)

	start := rec.FirstSeenBlock
	if state.HasLastScanned {
		start = state.LastScannedBlock + job.blockStep()
	}
	blocks := stepBlocks(start, tip, job.blockStep())
	if len(blocks) == 0 {
		return o.Store.PutReaderState(state)
	}

	reads, next, err := job.Reader.ReadRange(ctx, rec.Key.Address, strategy, blocks, state)
	if err != nil {
		return err
	}
	for i := range reads {
		reads[i].Key = rec.Key
	}

	next.LastScannedBlock = blocks[len(blocks)-1]
	next.HasLastScanned = true
	if err := o.Store.PutReaderState(next); err != nil {
		return err
	}

	if o.Sink != nil {
		for _, r := range reads {
			o.Sink(r)
		}
	}
	return nil
}

func (j ChainJob) blockStep() uint64 {
	if j.BlockStep == 0 {
		return 1
	}
	return j.BlockStep
}

// stepBlocks enumerates the blocks to sample in [from, to] at the given
// stride, ascending. An empty or inverted range yields no blocks.
func stepBlocks(from, to, step uint64) []uint64 {
	if step == 0 {
		step = 1
	}
	if from > to {
		return nil
	}
	out := make([]uint64, 0, (to-from)/step+1)
	for b := from; b <= to; b += step {
		out = append(out, b)
	}
	return out
}
