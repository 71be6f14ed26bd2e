package discovery

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"

	"github.com/tradingstrategy-ai/vaultscan/chain"
)

// leadItem is one candidate address ordered for deterministic drain order
// within a single scan run.
type leadItem struct {
	addr chain.Address
}

func (a leadItem) Less(than btree.Item) bool {
	b := than.(leadItem)
	for i := range a.addr {
		if a.addr[i] != b.addr[i] {
			return a.addr[i] < b.addr[i]
		}
	}
	return false
}

// leadQueue is the per-run, per-chain set of candidate addresses pulled
// from event logs: ordered (via btree, for deterministic probe order) and
// deduplicated (via a roaring-bitmap pre-filter over a 32-bit address
// hash, backed by an exact map to resolve the rare hash collision).
//
// The bitmap exists purely as a fast "definitely not present" check ahead
// of the exact map on the hot path (every log line touches this); dedup
// correctness rests entirely on the exact map.
type leadQueue struct {
	tree   *btree.BTree
	bitmap *roaring.Bitmap
	exact  map[chain.Address]struct{}
}

func newLeadQueue() *leadQueue {
	return &leadQueue{
		tree:   btree.New(32),
		bitmap: roaring.New(),
		exact:  make(map[chain.Address]struct{}),
	}
}

func addressHash32(a chain.Address) uint32 {
	var h uint32 = 2166136261
	for _, b := range a {
		h ^= uint32(b)
		h *= 16777619
	}
	return h
}

// Add inserts addr if not already present this run, returning true if it
// was newly added.
func (q *leadQueue) Add(addr chain.Address) bool {
	hash := addressHash32(addr)
	if q.bitmap.Contains(hash) {
		if _, exists := q.exact[addr]; exists {
			return false
		}
	}
	q.bitmap.Add(hash)
	q.exact[addr] = struct{}{}
	q.tree.ReplaceOrInsert(leadItem{addr: addr})
	return true
}

// Len returns the number of distinct leads queued this run.
func (q *leadQueue) Len() int { return q.tree.Len() }

// Drain returns every queued lead in ascending address order, emptying
// the queue.
func (q *leadQueue) Drain() []chain.Address {
	out := make([]chain.Address, 0, q.tree.Len())
	q.tree.Ascend(func(item btree.Item) bool {
		out = append(out, item.(leadItem).addr)
		return true
	})
	q.tree.Clear(false)
	q.bitmap.Clear()
	q.exact = make(map[chain.Address]struct{})
	return out
}
