// Package engine implements the trisync synchronization pass.
//
// A pass takes one batch from the origin source and one from the processing
// client, reconciles both against the ledger baseline, resolves conflicts,
// and commits the accepted objects.
//
// ARCHITECTURE:
//
// Pass States:
// Every pass walks Idle -> Ingesting -> Reconciling -> Resolving ->
// Committing -> Idle. State() exposes the current phase.
//
//  1. Ingesting validates raw records (type required, one record per id per
//     source) and resolves identities: explicit id, external id through the
//     ledger's reverse mapping, or a minted UUIDv7.
//  2. Reconciling reads each id's baseline and builds a candidate per source
//     from it (ApplyContentChange, Tombstone) or from scratch (Create).
//  3. Resolving runs the three-way compare for ids present in both batches
//     and plans one ledger commit per object.
//  4. Committing writes the plan: one transaction per object, record and
//     event together, guarded by a compare-and-swap on the baseline digest.
//
// Nothing is written before Committing, so cancelling a pass earlier leaves
// no trace. Committing ignores cancellation and runs to completion; a ledger
// failure stops it and the remaining objects are reported not-committed.
//
// Single Writer:
// A pass-level lock serializes Run and ResolveConflict within a process.
// Concurrent processes sharing a ledger lose the compare-and-swap instead;
// the losing record is re-queued for the next pass.
//
// Audit:
// Every exclusion is both a sync event and an entry in the pass result.
// Events are never read back to decide anything; decisions use ledger
// records only.
package engine
