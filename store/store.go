package store

import (
	"encoding/binary"
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/vault"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

var metaBucket = []byte("Meta")
var schemaVersionKey = []byte("schema_version")

// Store is the bbolt-backed point-lookup half of C7: vault records,
// reader states, and chain cursors. The token cache's disk tier is opened
// separately by the tokencache package against the same *bolt.DB so both
// share one file and one writer.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures its
// buckets and schema version exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, verr.Wrap(verr.Config, err, "store: opening database")
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{VaultRecords, ReaderStates, TokenCache, ChainCursors} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if meta.Get(schemaVersionKey) == nil {
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], schemaVersion)
			return meta.Put(schemaVersionKey, buf[:])
		}
		return nil
	})
}

// DB exposes the underlying database so callers that need to share a
// single-writer handle (e.g. tokencache's disk tier) can reuse it.
func (s *Store) DB() *bolt.DB { return s.db }

// Close releases the database file handle.
func (s *Store) Close() error { return s.db.Close() }

func vaultKeyBytes(k chain.Key) []byte {
	buf := make([]byte, 4+chain.AddressLength)
	binary.BigEndian.PutUint32(buf[0:4], uint32(k.ChainID))
	copy(buf[4:], k.Address[:])
	return buf
}

// PutRecord atomically replaces the VaultRecord for r.Key.
func (s *Store) PutRecord(r vault.Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return verr.Wrap(verr.Decode, err, "store: marshaling vault record")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(VaultRecords)).Put(vaultKeyBytes(r.Key), raw)
	})
}

// LoadRecord returns the VaultRecord for key, or ok=false if absent.
func (s *Store) LoadRecord(key chain.Key) (vault.Record, bool, error) {
	var rec vault.Record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(VaultRecords)).Get(vaultKeyBytes(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return vault.Record{}, false, verr.Wrap(verr.Decode, err, "store: unmarshaling vault record")
	}
	return rec, found, nil
}

// PutReaderState atomically replaces the ReaderState for state.Key.
func (s *Store) PutReaderState(state vault.ReaderState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return verr.Wrap(verr.Decode, err, "store: marshaling reader state")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ReaderStates)).Put(vaultKeyBytes(state.Key), raw)
	})
}

// BatchPutReaderStates replaces many reader states in one transaction, so
// a worker flushing a run of blocks amortises the fsync cost across the
// whole batch instead of paying it per vault.
func (s *Store) BatchPutReaderStates(states []vault.ReaderState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ReaderStates))
		for _, state := range states {
			raw, err := json.Marshal(state)
			if err != nil {
				return err
			}
			if err := b.Put(vaultKeyBytes(state.Key), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadReaderState returns the ReaderState for key, or ok=false if absent.
func (s *Store) LoadReaderState(key chain.Key) (vault.ReaderState, bool, error) {
	var state vault.ReaderState
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(ReaderStates)).Get(vaultKeyBytes(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &state); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return vault.ReaderState{}, false, verr.Wrap(verr.Decode, err, "store: unmarshaling reader state")
	}
	return state, found, nil
}

// DeleteReaderState removes the ReaderState for key, used by the
// "purge-price-data" CLI command. The VaultRecord itself is untouched —
// purging price history never forgets that a vault was discovered.
func (s *Store) DeleteReaderState(key chain.Key) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ReaderStates)).Delete(vaultKeyBytes(key))
	})
}

// LoadCursor returns the persisted scan cursor for chainID, or ok=false
// if the chain has never been scanned.
func (s *Store) LoadCursor(chainID chain.ID) (uint64, bool, error) {
	var cursor uint64
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		var key [4]byte
		binary.BigEndian.PutUint32(key[:], uint32(chainID))
		raw := tx.Bucket([]byte(ChainCursors)).Get(key[:])
		if raw == nil {
			return nil
		}
		cursor = binary.BigEndian.Uint64(raw)
		found = true
		return nil
	})
	return cursor, found, err
}

// PutCursor advances the persisted cursor for chainID. Callers are
// responsible for only ever calling this with a monotonically
// non-decreasing value (cursor monotonicity is a property of the caller's
// scan loop, not enforced here).
func (s *Store) PutCursor(chainID chain.ID, cursor uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var key [4]byte
		binary.BigEndian.PutUint32(key[:], uint32(chainID))
		var val [8]byte
		binary.BigEndian.PutUint64(val[:], cursor)
		return tx.Bucket([]byte(ChainCursors)).Put(key[:], val[:])
	})
}

// ListRecords returns every VaultRecord persisted for chainID, in
// key-ascending (address) order. Used by the orchestrator to enumerate the
// vaults a chain's discovery pass has accumulated before fanning out
// historical-read tasks.
func (s *Store) ListRecords(chainID chain.ID) ([]vault.Record, error) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(chainID))

	var out []vault.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(VaultRecords)).Cursor()
		for k, v := c.Seek(prefix[:]); k != nil && len(k) >= 4 && string(k[:4]) == string(prefix[:]); k, v = c.Next() {
			var rec vault.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, verr.Wrap(verr.Decode, err, "store: listing vault records")
	}
	return out, nil
}

// PutRecordAndCursor commits a vault record write and a cursor advance in
// one bbolt transaction, so a crash between the two is impossible — the
// resumability invariant discovery depends on.
func (s *Store) PutRecordAndCursor(r vault.Record, chainID chain.ID, cursor uint64) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return verr.Wrap(verr.Decode, err, "store: marshaling vault record")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(VaultRecords)).Put(vaultKeyBytes(r.Key), raw); err != nil {
			return err
		}
		var key [4]byte
		binary.BigEndian.PutUint32(key[:], uint32(chainID))
		var val [8]byte
		binary.BigEndian.PutUint64(val[:], cursor)
		return tx.Bucket([]byte(ChainCursors)).Put(key[:], val[:])
	})
}
