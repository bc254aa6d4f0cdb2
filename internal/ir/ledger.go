package ir

import "time"

// LedgerRecord is the baseline the ledger holds for one object id.
// Digest always equals Object.Digest of the last object the engine accepted.
type LedgerRecord struct {
	ID         string          `json:"id"`
	Digest     string          `json:"digest"`
	Version    int64           `json:"version"`
	Provenance Provenance      `json:"provenance"`
	Timestamp  time.Time       `json:"timestamp"`
	Lifecycle  Lifecycle       `json:"lifecycle"`
	ExternalID string          `json:"external_id,omitempty"`
	Object     VersionedObject `json:"object"`
}

// RecordFor builds the ledger record that makes obj the new baseline.
func RecordFor(obj VersionedObject) LedgerRecord {
	return LedgerRecord{
		ID:         obj.ID,
		Digest:     obj.Digest,
		Version:    obj.Version,
		Provenance: obj.Provenance,
		Timestamp:  obj.Timestamp,
		Lifecycle:  obj.Lifecycle,
		ExternalID: obj.ExternalID,
		Object:     obj,
	}
}

// EventKind classifies a sync event.
type EventKind string

const (
	EventCreate             EventKind = "create"
	EventUpdate             EventKind = "update"
	EventDelete             EventKind = "delete"
	EventConflictResolved   EventKind = "conflict-resolved"
	EventConflictUnresolved EventKind = "conflict-unresolved"
	EventError              EventKind = "error"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventCreate, EventUpdate, EventDelete,
		EventConflictResolved, EventConflictUnresolved, EventError:
		return true
	}
	return false
}

// MutatesBaseline reports whether events of this kind accompany a ledger
// record write. Replay verification folds only these.
func (k EventKind) MutatesBaseline() bool {
	switch k {
	case EventCreate, EventUpdate, EventDelete, EventConflictResolved:
		return true
	}
	return false
}

// SyncEvent is one append-only entry of the audit log.
//
// Events record what happened; they are never read back to decide what to do.
// Seq is assigned by the ledger on append.
type SyncEvent struct {
	Seq         int64     `json:"seq"`
	PassID      string    `json:"pass_id"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        EventKind `json:"kind"`
	ObjectID    string    `json:"object_id,omitempty"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	Version     int64     `json:"version,omitempty"`
}

// PassStatus is the overall result of a sync pass.
type PassStatus string

const (
	// PassSuccess means every object in the pass was committed.
	PassSuccess PassStatus = "success"

	// PassPartial means the pass completed but some objects were excluded,
	// left unresolved, errored, or re-queued.
	PassPartial PassStatus = "partial"

	// PassFailed means a fatal ledger failure aborted the pass.
	PassFailed PassStatus = "failed"
)

// PassCounts tallies per-object outcomes of a pass.
type PassCounts struct {
	Ingested     int `json:"ingested"`
	Committed    int `json:"committed"`
	Unchanged    int `json:"unchanged"`
	Unresolved   int `json:"unresolved"`
	Errored      int `json:"errored"`
	Requeued     int `json:"requeued"`
	NotCommitted int `json:"not_committed"`
}

// PassSummary is the persisted report of one pass.
type PassSummary struct {
	PassID     string     `json:"pass_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Strategy   string     `json:"strategy"`
	Status     PassStatus `json:"status"`
	Counts     PassCounts `json:"counts"`
}

// PendingConflict is a true conflict awaiting an external decision.
// Original is nil when the object had no baseline.
type PendingConflict struct {
	ConflictID string           `json:"conflict_id"`
	ObjectID   string           `json:"object_id"`
	PassID     string           `json:"pass_id"`
	Original   *VersionedObject `json:"original,omitempty"`
	CandidateA VersionedObject  `json:"candidate_a"`
	CandidateB VersionedObject  `json:"candidate_b"`
	DetectedAt time.Time        `json:"detected_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
	Choice     string           `json:"choice,omitempty"`
}

// Resolved reports whether a decision has been recorded.
func (p PendingConflict) Resolved() bool {
	return p.ResolvedAt != nil
}

// QueuedRecord is an input record parked after its commit lost a
// compare-and-swap. The next pass against the ledger replays it.
// Record holds the raw record as JSON; Side is "origin" or "client".
type QueuedRecord struct {
	Seq      int64     `json:"seq"`
	ObjectID string    `json:"object_id"`
	Side     string    `json:"side"`
	PassID   string    `json:"pass_id"`
	Record   []byte    `json:"record"`
	QueuedAt time.Time `json:"queued_at"`
}
