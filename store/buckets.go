// Package store implements the Reader-State Store (C7): durable,
// crash-safe persistence for vault records, reader states, the token
// cache's disk tier, and per-chain scan cursors, plus a queryable rejects
// and broken-call diagnostics table.
//
// Point-lookup stores use a single bbolt database (one writer, ACID,
// atomic per-key replacement via its copy-on-write B+tree — a crash
// mid-transaction never corrupts a prior commit). The rejects and
// broken-calls tables are relational by nature (ad-hoc triage queries,
// joins across chain/vault/function) and live in a separate
// modernc.org/sqlite database instead.
package store

const (
	// VaultRecords: key - chain_id(4 bytes BE) + address(20 bytes), value
	// - JSON-encoded vault.Record.
	VaultRecords = "VaultRecords"

	// ReaderStates: key - chain_id(4 bytes BE) + address(20 bytes), value
	// - JSON-encoded vault.ReaderState.
	ReaderStates = "ReaderStates"

	// TokenCache: key - chain_id(4 bytes BE) + address(20 bytes), value -
	// JSON-encoded tokencache.TokenRef. Owned by the tokencache package;
	// named here so the schema is visible in one place.
	TokenCache = "TokenCache"

	// ChainCursors: key - chain_id(4 bytes BE), value - block number (8
	// bytes BE). One writer per chain per spec's concurrency model.
	ChainCursors = "ChainCursors"
)

// schemaVersion is stamped into every database this package opens so a
// future incompatible layout change fails loudly instead of silently
// misreading old records.
const schemaVersion = 1
