package store

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "modernc.org/sqlite"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/classify"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

// RejectsStore holds capability-set snapshots for leads that failed
// classification, plus the broken-call diagnostics table, in a
// modernc.org/sqlite database. Both are queried ad-hoc by operators
// (triage, re-classification after a registry update), which is why they
// live in a relational store rather than bbolt's point-lookup buckets.
type RejectsStore struct {
	db *sql.DB
}

const rejectsSchema = `
CREATE TABLE IF NOT EXISTS rejects (
	chain_id INTEGER NOT NULL,
	address TEXT NOT NULL,
	capability_set TEXT NOT NULL,
	conflict_first TEXT,
	conflict_second TEXT,
	last_seen_block INTEGER NOT NULL,
	PRIMARY KEY (chain_id, address)
);

CREATE TABLE IF NOT EXISTS broken_calls (
	chain_id INTEGER NOT NULL,
	address TEXT NOT NULL,
	function_label TEXT NOT NULL,
	block INTEGER NOT NULL,
	reason TEXT NOT NULL,
	PRIMARY KEY (chain_id, address, function_label, block)
);
`

// OpenRejects opens (creating if absent) the sqlite database at path.
func OpenRejects(path string) (*RejectsStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, verr.Wrap(verr.Config, err, "store: opening rejects database")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is a single-process pure-Go engine; serialise writers
	if _, err := db.Exec(rejectsSchema); err != nil {
		db.Close()
		return nil, verr.Wrap(verr.Config, err, "store: creating rejects schema")
	}
	return &RejectsStore{db: db}, nil
}

// Close releases the database handle.
func (r *RejectsStore) Close() error { return r.db.Close() }

// PutReject snapshots a rejected lead's capability set, overwriting any
// prior snapshot for the same key so re-classification always inspects
// the most recent probe.
func (r *RejectsStore) PutReject(ctx context.Context, key chain.Key, caps classify.CapabilitySet, conflict *classify.Conflict, block uint64) error {
	raw, err := json.Marshal(caps)
	if err != nil {
		return verr.Wrap(verr.Decode, err, "store: marshaling capability set")
	}
	var first, second sql.NullString
	if conflict != nil {
		first = sql.NullString{String: string(conflict.First), Valid: true}
		second = sql.NullString{String: string(conflict.Second), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rejects (chain_id, address, capability_set, conflict_first, conflict_second, last_seen_block)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, address) DO UPDATE SET
			capability_set = excluded.capability_set,
			conflict_first = excluded.conflict_first,
			conflict_second = excluded.conflict_second,
			last_seen_block = excluded.last_seen_block
	`, uint32(key.ChainID), key.Address.String(), string(raw), first, second, block)
	return err
}

// RejectRow is one row of a rejects listing, used for re-classification
// sweeps after a registry update.
type RejectRow struct {
	Key           chain.Key
	Capabilities  classify.CapabilitySet
	LastSeenBlock uint64
}

// ListRejects returns every rejected lead for a chain.
func (r *RejectsStore) ListRejects(ctx context.Context, chainID chain.ID) ([]RejectRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT address, capability_set, last_seen_block FROM rejects WHERE chain_id = ?`, uint32(chainID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RejectRow
	for rows.Next() {
		var addrStr, capsRaw string
		var lastSeen uint64
		if err := rows.Scan(&addrStr, &capsRaw, &lastSeen); err != nil {
			return nil, err
		}
		addr, err := chain.ParseAddress(addrStr)
		if err != nil {
			return nil, err
		}
		var caps classify.CapabilitySet
		if err := json.Unmarshal([]byte(capsRaw), &caps); err != nil {
			return nil, err
		}
		out = append(out, RejectRow{Key: chain.Key{ChainID: chainID, Address: addr}, Capabilities: caps, LastSeenBlock: lastSeen})
	}
	return out, rows.Err()
}

// DeleteReject removes a lead from the rejects table, used once
// re-classification succeeds and a VaultRecord is written instead.
func (r *RejectsStore) DeleteReject(ctx context.Context, key chain.Key) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rejects WHERE chain_id = ? AND address = ?`, uint32(key.ChainID), key.Address.String())
	return err
}

// RecordBrokenCall appends one broken-call diagnostic row for a call that a
// warmup or gas-pathology promotion marked reverting. Only the store tests
// call it; the reader does not record broken calls here.
func (r *RejectsStore) RecordBrokenCall(ctx context.Context, key chain.Key, functionLabel string, block uint64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO broken_calls (chain_id, address, function_label, block, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, address, function_label, block) DO UPDATE SET reason = excluded.reason
	`, uint32(key.ChainID), key.Address.String(), functionLabel, block, reason)
	return err
}

// BrokenCall is one row of list_broken_calls(), the diagnostics table
// surfaced to operators.
type BrokenCall struct {
	Key           chain.Key
	FunctionLabel string
	Block         uint64
	Reason        string
}

// ListBrokenCalls produces the full (chain, vault, function, block)
// diagnostics table.
func (r *RejectsStore) ListBrokenCalls(ctx context.Context) ([]BrokenCall, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT chain_id, address, function_label, block, reason FROM broken_calls ORDER BY chain_id, address, block`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BrokenCall
	for rows.Next() {
		var chainID uint32
		var addrStr, label, reason string
		var block uint64
		if err := rows.Scan(&chainID, &addrStr, &label, &block, &reason); err != nil {
			return nil, err
		}
		addr, err := chain.ParseAddress(addrStr)
		if err != nil {
			return nil, err
		}
		out = append(out, BrokenCall{
			Key:           chain.Key{ChainID: chain.ID(chainID), Address: addr},
			FunctionLabel: label,
			Block:         block,
			Reason:        reason,
		})
	}
	return out, rows.Err()
}
