package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/trisync/internal/ir"
)

// CommitRequest is everything the engine writes for one object in one
// transaction.
type CommitRequest struct {
	// Record is the new baseline. Nil for event-only commits such as error
	// and conflict-unresolved events.
	Record *ir.LedgerRecord

	// ExpectedDigest and ExpectedVersion are the baseline the caller read.
	// An empty ExpectedDigest means the id must not exist yet. Both are
	// compared: a tombstone keeps the digest but bumps the version.
	ExpectedDigest  string
	ExpectedVersion int64

	// Event is appended in the same transaction. Required.
	Event ir.SyncEvent

	// Conflict, when set, is opened as a pending conflict.
	Conflict *ir.PendingConflict

	// ResolvesConflict, when set, closes the named pending conflict with
	// Choice.
	ResolvesConflict string
	Choice           string

	// Requeue parks input records for the next pass, in the same
	// transaction as Event.
	Requeue []ir.QueuedRecord
}

// Put atomically writes rec as the baseline for rec.ID, provided the stored
// record has expectedDigest and expectedVersion. An empty expectedDigest
// requires that no record exists. Returns ErrDigestMismatch (wrapped) when
// the compare-and-swap fails; nothing is written in that case.
func (s *Store) Put(ctx context.Context, rec ir.LedgerRecord, expectedDigest string, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put %s: begin tx: %w", rec.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := putRecord(ctx, tx, rec, expectedDigest, expectedVersion); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put %s: commit: %w", rec.ID, err)
	}
	return nil
}

// AppendEvent appends ev to the event log and returns its ledger-assigned seq.
// Every failure is returned to the caller.
func (s *Store) AppendEvent(ctx context.Context, ev ir.SyncEvent) (int64, error) {
	return insertEvent(ctx, s.db, ev)
}

// Commit applies req in a single transaction: the record write (if any), the
// pending-conflict bookkeeping (if any), and the event. Either all of it is
// visible afterwards or none of it is.
func (s *Store) Commit(ctx context.Context, req CommitRequest) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if req.Record != nil {
		if err := putRecord(ctx, tx, *req.Record, req.ExpectedDigest, req.ExpectedVersion); err != nil {
			return 0, err
		}
	}

	if req.ResolvesConflict != "" {
		if err := markResolved(ctx, tx, req.ResolvesConflict, req.Choice, req.Event.Timestamp); err != nil {
			return 0, err
		}
	}

	if req.Conflict != nil {
		if err := savePending(ctx, tx, *req.Conflict); err != nil {
			return 0, err
		}
	}

	seq, err := insertEvent(ctx, tx, req.Event)
	if err != nil {
		return 0, err
	}

	for _, q := range req.Requeue {
		if err := insertQueued(ctx, tx, q); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return seq, nil
}

// RecordPass persists a pass summary.
func (s *Store) RecordPass(ctx context.Context, p ir.PassSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO passes
		(pass_id, started_at, finished_at, strategy, status,
		 ingested, committed, unchanged, unresolved, errored, requeued, not_committed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.PassID,
		formatTime(p.StartedAt),
		formatTime(p.FinishedAt),
		p.Strategy,
		string(p.Status),
		p.Counts.Ingested,
		p.Counts.Committed,
		p.Counts.Unchanged,
		p.Counts.Unresolved,
		p.Counts.Errored,
		p.Counts.Requeued,
		p.Counts.NotCommitted,
	)
	if err != nil {
		return fmt.Errorf("record pass %s: %w", p.PassID, err)
	}
	return nil
}

// SavePendingConflict opens a pending conflict. Any other open conflict for
// the same object is superseded. Re-detecting the same conflict reopens it.
func (s *Store) SavePendingConflict(ctx context.Context, pc ir.PendingConflict) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save pending conflict: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := savePending(ctx, tx, pc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save pending conflict: commit: %w", err)
	}
	return nil
}

// MarkConflictResolved records the decision for an open conflict.
// Returns ErrNotFound (wrapped) if no open conflict has that id.
func (s *Store) MarkConflictResolved(ctx context.Context, conflictID, choice string, at time.Time) error {
	return markResolved(ctx, s.db, conflictID, choice, at)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putRecord(ctx context.Context, tx execer, rec ir.LedgerRecord, expectedDigest string, expectedVersion int64) error {
	if rec.ID == "" || rec.ID != rec.Object.ID {
		return fmt.Errorf("put %q: record id does not match object id %q", rec.ID, rec.Object.ID)
	}
	if rec.Digest != rec.Object.Digest {
		return fmt.Errorf("put %s: record digest does not match object digest", rec.ID)
	}
	if expectedDigest != "" && expectedVersion < 1 {
		return fmt.Errorf("put %s: expected version is required with an expected digest", rec.ID)
	}

	objJSON, err := marshalObject(rec.Object)
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.ID, err)
	}

	var res sql.Result
	if expectedDigest == "" {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_records
			(id, digest, version, provenance, timestamp, lifecycle, external_id, object)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			rec.ID,
			rec.Digest,
			rec.Version,
			string(rec.Provenance),
			formatTime(rec.Timestamp),
			string(rec.Lifecycle),
			rec.ExternalID,
			objJSON,
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE ledger_records
			SET digest = ?, version = ?, provenance = ?, timestamp = ?,
			    lifecycle = ?, external_id = ?, object = ?
			WHERE id = ? AND digest = ? AND version = ?
		`,
			rec.Digest,
			rec.Version,
			string(rec.Provenance),
			formatTime(rec.Timestamp),
			string(rec.Lifecycle),
			rec.ExternalID,
			objJSON,
			rec.ID,
			expectedDigest,
			expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put %s: rows affected: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("put %s: expected digest %q at version %d: %w",
			rec.ID, expectedDigest, expectedVersion, ErrDigestMismatch)
	}

	if rec.ExternalID != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO external_ids (external_id, object_id)
			VALUES (?, ?)
			ON CONFLICT(external_id) DO UPDATE SET object_id = excluded.object_id
		`, rec.ExternalID, rec.ID)
		if err != nil {
			return fmt.Errorf("put %s: map external id: %w", rec.ID, err)
		}
	}

	return nil
}

func insertEvent(ctx context.Context, tx execer, ev ir.SyncEvent) (int64, error) {
	if !ev.Kind.Valid() {
		return 0, fmt.Errorf("append event: invalid kind %q", ev.Kind)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_events
		(pass_id, timestamp, kind, object_id, source, destination, outcome, detail, digest, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.PassID,
		formatTime(ev.Timestamp),
		string(ev.Kind),
		ev.ObjectID,
		ev.Source,
		ev.Destination,
		ev.Outcome,
		ev.Detail,
		ev.Digest,
		ev.Version,
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: last insert id: %w", err)
	}
	return seq, nil
}

func savePending(ctx context.Context, tx execer, pc ir.PendingConflict) error {
	original, err := marshalOptionalObject(pc.Original)
	if err != nil {
		return fmt.Errorf("save pending conflict: %w", err)
	}
	candA, err := marshalObject(pc.CandidateA)
	if err != nil {
		return fmt.Errorf("save pending conflict: %w", err)
	}
	candB, err := marshalObject(pc.CandidateB)
	if err != nil {
		return fmt.Errorf("save pending conflict: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE pending_conflicts
		SET resolved_at = ?, choice = 'superseded'
		WHERE object_id = ? AND conflict_id != ? AND resolved_at IS NULL
	`, formatTime(pc.DetectedAt), pc.ObjectID, pc.ConflictID)
	if err != nil {
		return fmt.Errorf("save pending conflict: supersede: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_conflicts
		(conflict_id, object_id, pass_id, original, candidate_a, candidate_b, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conflict_id) DO UPDATE SET
			pass_id = excluded.pass_id,
			original = excluded.original,
			detected_at = excluded.detected_at,
			resolved_at = NULL,
			choice = ''
	`,
		pc.ConflictID,
		pc.ObjectID,
		pc.PassID,
		original,
		candA,
		candB,
		formatTime(pc.DetectedAt),
	)
	if err != nil {
		return fmt.Errorf("save pending conflict: %w", err)
	}
	return nil
}

func markResolved(ctx context.Context, tx execer, conflictID, choice string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE pending_conflicts
		SET resolved_at = ?, choice = ?
		WHERE conflict_id = ? AND resolved_at IS NULL
	`, formatTime(at), choice, conflictID)
	if err != nil {
		return fmt.Errorf("resolve conflict %s: %w", conflictID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve conflict %s: rows affected: %w", conflictID, err)
	}
	if n == 0 {
		return fmt.Errorf("resolve conflict %s: %w", conflictID, ErrNotFound)
	}
	return nil
}

func insertQueued(ctx context.Context, tx execer, q ir.QueuedRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO requeued_records (object_id, side, pass_id, record, queued_at)
		VALUES (?, ?, ?, ?, ?)
	`, q.ObjectID, q.Side, q.PassID, string(q.Record), formatTime(q.QueuedAt))
	if err != nil {
		return fmt.Errorf("requeue %s: %w", q.ObjectID, err)
	}
	return nil
}

// ClearQueued removes the queued records with the given seqs once a pass
// has replayed them. Unknown seqs are ignored.
func (s *Store) ClearQueued(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear queued: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, seq := range seqs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM requeued_records WHERE seq = ?`, seq); err != nil {
			return fmt.Errorf("clear queued %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear queued: commit: %w", err)
	}
	return nil
}
