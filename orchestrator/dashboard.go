package orchestrator

import (
	"sync/atomic"

	"github.com/tradingstrategy-ai/vaultscan/chain"
)

// ChainProgress is one chain's accumulated orchestrator counters, read by
// the status API as a point-in-time snapshot.
type ChainProgress struct {
	ChainID          chain.ID
	Phase            string
	CursorBlock      uint64
	VaultsDiscovered int
	VaultsRejected   int
	VaultsRead       int
	VaultsFailed     int
	Paused           bool
	LastError        string
}

// Dashboard aggregates per-chain progress behind an atomically-swapped
// snapshot map: writers build a new map and swap it in, readers take a
// reference with a single atomic load and never block a writer or another
// reader. This is the polled-snapshot shape the progress reporting contract
// calls for — no mutex is taken on the read path.
type Dashboard struct {
	snapshot atomic.Pointer[map[chain.ID]ChainProgress]
}

// NewDashboard returns an empty Dashboard ready for use.
func NewDashboard() *Dashboard {
	d := &Dashboard{}
	empty := map[chain.ID]ChainProgress{}
	d.snapshot.Store(&empty)
	return d
}

// Snapshot returns the current per-chain progress map. The returned map is
// never mutated in place by the dashboard and is safe for the caller to
// range over without further synchronisation.
func (d *Dashboard) Snapshot() map[chain.ID]ChainProgress {
	return *d.snapshot.Load()
}

// Chain returns the progress for one chain, or the zero value if it has not
// reported yet.
func (d *Dashboard) Chain(id chain.ID) ChainProgress {
	return d.Snapshot()[id]
}

// update applies fn to id's current progress (zero value if absent) and
// swaps it into a freshly copied map, retrying on a concurrent writer.
func (d *Dashboard) update(id chain.ID, fn func(ChainProgress) ChainProgress) {
	for {
		old := d.snapshot.Load()
		next := make(map[chain.ID]ChainProgress, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[id] = fn(next[id])
		if d.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}
