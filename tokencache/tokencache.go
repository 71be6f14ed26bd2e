// Package tokencache implements the Token Cache (C3): resolving
// symbol/name/decimals for an ERC-20 address with a best-effort multicall
// probe, backed by a two-tier store (in-memory LRU over a disk-backed
// bbolt bucket) so a process restart never re-fetches immutable metadata.
package tokencache

import (
	"context"
	"encoding/binary"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	"github.com/tradingstrategy-ai/vaultscan/abi"
	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/multicall"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

var tokenBucket = []byte("TokenCache")

// TokenRef is the immutable ERC-20 metadata the rest of the system treats
// tokens by. Symbol/Name are best-effort and may be empty.
type TokenRef struct {
	ChainID  chain.ID
	Address  chain.Address
	Symbol   string
	Name     string
	Decimals uint8
}

func cacheKey(chainID chain.ID, addr chain.Address) [24]byte {
	var k [24]byte
	binary.BigEndian.PutUint32(k[0:4], uint32(chainID))
	copy(k[4:], addr[:])
	return k
}

// Cache is the two-tier (chain_id, address) -> TokenRef resolver. A nil Db
// runs memory-only, which is valid for tests but not for the long-running
// daemon (a restart would re-probe every token).
type Cache struct {
	mem     *lru.Cache[[24]byte, TokenRef]
	db      *bolt.DB
	batcher *multicall.Batcher
	group   singleflight.Group
}

// Open builds a Cache. memSize bounds the in-memory LRU tier; db may be nil
// to disable the disk tier (tests only).
func Open(memSize int, db *bolt.DB, batcher *multicall.Batcher) (*Cache, error) {
	if memSize <= 0 {
		memSize = 4096
	}
	mem, err := lru.New[[24]byte, TokenRef](memSize)
	if err != nil {
		return nil, verr.Wrap(verr.Config, err, "tokencache: building LRU tier")
	}
	if db != nil {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(tokenBucket)
			return err
		})
		if err != nil {
			return nil, verr.Wrap(verr.Config, err, "tokencache: creating disk bucket")
		}
	}
	return &Cache{mem: mem, db: db, batcher: batcher}, nil
}

// Resolve returns the TokenRef for addr on chainID, consulting memory, then
// disk, then the chain, in that order, and populating faster tiers as it
// goes. Concurrent calls for the same key collapse into one chain fetch.
func (c *Cache) Resolve(ctx context.Context, chainID chain.ID, addr chain.Address, block transport.Block) (TokenRef, error) {
	key := cacheKey(chainID, addr)

	if ref, ok := c.mem.Get(key); ok {
		return ref, nil
	}

	if ref, ok := c.loadDisk(key); ok {
		c.mem.Add(key, ref)
		return ref, nil
	}

	v, err, _ := c.group.Do(string(key[:]), func() (any, error) {
		ref, err := c.fetch(ctx, chainID, addr, block)
		if err != nil {
			return TokenRef{}, err
		}
		c.mem.Add(key, ref)
		c.storeDisk(key, ref)
		return ref, nil
	})
	if err != nil {
		return TokenRef{}, err
	}
	return v.(TokenRef), nil
}

func (c *Cache) loadDisk(key [24]byte) (TokenRef, bool) {
	if c.db == nil {
		return TokenRef{}, false
	}
	var ref TokenRef
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tokenBucket)
		if b == nil {
			return nil
		}
		raw := b.Get(key[:])
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return ref, found
}

func (c *Cache) storeDisk(key [24]byte, ref TokenRef) {
	if c.db == nil {
		return
	}
	raw, err := json.Marshal(ref)
	if err != nil {
		return
	}
	// bbolt's Update commits via its own write-ahead mmap + fsync path, so a
	// crash mid-write leaves prior entries intact; a failed write here just
	// means the next Resolve re-fetches from chain.
	_ = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tokenBucket)
		if b == nil {
			return nil
		}
		return b.Put(key[:], raw)
	})
}

func (c *Cache) fetch(ctx context.Context, chainID chain.ID, addr chain.Address, block transport.Block) (TokenRef, error) {
	calls := []abi.EncodedCall{
		abi.Build(addr, "decimals()", "decimals"),
		abi.Build(addr, "symbol()", "symbol"),
		abi.Build(addr, "name()", "name"),
	}
	results, err := c.batcher.Execute(ctx, calls, block)
	if err != nil {
		return TokenRef{}, verr.Wrap(verr.Transport, err, "tokencache: fetching token metadata")
	}
	if len(results) != 3 {
		return TokenRef{}, verr.New(verr.Decode, "tokencache: unexpected result count")
	}

	decimalsResult := results[0]
	if !decimalsResult.Success {
		return TokenRef{}, verr.New(verr.TokenUnreadable, "decimals() reverted or unavailable")
	}
	decimals, err := abi.DecodeUint256(decimalsResult.ReturnData, "decimals")
	if err != nil {
		return TokenRef{}, verr.Wrap(verr.TokenUnreadable, err, "decoding decimals()")
	}
	if !decimals.IsUint64() || decimals.Uint64() > 255 {
		return TokenRef{}, verr.New(verr.TokenUnreadable, "decimals() out of uint8 range")
	}

	ref := TokenRef{ChainID: chainID, Address: addr, Decimals: uint8(decimals.Uint64())}

	if symResult := results[1]; symResult.Success {
		if s, err := abi.DecodeString(symResult.ReturnData, "symbol"); err == nil {
			ref.Symbol = s
		}
	}
	if nameResult := results[2]; nameResult.Success {
		if s, err := abi.DecodeString(nameResult.ReturnData, "name"); err == nil {
			ref.Name = s
		}
	}
	return ref, nil
}
