// Package store provides the SQLite-backed sync ledger.
//
// The ledger holds:
//   - Ledger records: the accepted baseline per object id (CAS on digest)
//   - External ids: reverse mapping from origin identifiers to object ids
//   - Sync events: the append-only audit log
//   - Passes: one summary row per sync pass
//   - Pending conflicts: true conflicts awaiting a manual decision
//
// # Invariants
//
// The stored digest for an id always equals the digest of the last object
// accepted for that id. Put and Commit enforce this with a compare-and-swap
// on (id, expected_digest), so concurrent processes sharing one ledger file
// cannot silently overwrite each other.
//
// sync_events rows are never updated or deleted. Triggers reject both.
// Event queries are ordered by seq ASC.
//
// Events are audit data. Nothing in the engine reads them to make decisions;
// VerifyReplay folds them only to check that the ledger is reconstructable.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
