package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/trisync/internal/ir"
)

// EventFilter narrows an Events query. Zero fields match everything.
type EventFilter struct {
	ObjectID string
	PassID   string
	Kind     ir.EventKind
	AfterSeq int64
	Limit    int
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Get returns the ledger record for id.
// Returns ErrNotFound (wrapped) if the id has no baseline.
func (s *Store) Get(ctx context.Context, id string) (ir.LedgerRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, digest, version, provenance, timestamp, lifecycle, external_id, object
		FROM ledger_records
		WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.LedgerRecord{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.LedgerRecord{}, fmt.Errorf("get %s: %w", id, err)
	}
	return rec, nil
}

// LookupExternal resolves an origin identifier to an object id.
// Returns ErrNotFound (wrapped) if the external id was never mapped.
func (s *Store) LookupExternal(ctx context.Context, externalID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT object_id FROM external_ids WHERE external_id = ?
	`, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup external %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup external %s: %w", externalID, err)
	}
	return id, nil
}

// Records returns every ledger record ordered by id.
// Returns an empty slice (not nil) for an empty ledger.
func (s *Store) Records(ctx context.Context) ([]ir.LedgerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, digest, version, provenance, timestamp, lifecycle, external_id, object
		FROM ledger_records
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []ir.LedgerRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Events returns events matching f in seq order.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Events(ctx context.Context, f EventFilter) ([]ir.SyncEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.ObjectID != "" {
		where = append(where, "object_id = ?")
		args = append(args, f.ObjectID)
	}
	if f.PassID != "" {
		where = append(where, "pass_id = ?")
		args = append(args, f.PassID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	query := `
		SELECT seq, pass_id, timestamp, kind, object_id, source, destination, outcome, detail, digest, version
		FROM sync_events`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY seq ASC"
	if f.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.SyncEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Passes returns all pass summaries, oldest first.
func (s *Store) Passes(ctx context.Context) ([]ir.PassSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pass_id, started_at, finished_at, strategy, status,
		       ingested, committed, unchanged, unresolved, errored, requeued, not_committed
		FROM passes
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query passes: %w", err)
	}
	defer rows.Close()

	passes := []ir.PassSummary{}
	for rows.Next() {
		var (
			p                 ir.PassSummary
			started, finished string
			status            string
		)
		err := rows.Scan(
			&p.PassID, &started, &finished, &p.Strategy, &status,
			&p.Counts.Ingested, &p.Counts.Committed, &p.Counts.Unchanged, &p.Counts.Unresolved,
			&p.Counts.Errored, &p.Counts.Requeued, &p.Counts.NotCommitted,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		if p.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("scan pass %s: %w", p.PassID, err)
		}
		if p.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("scan pass %s: %w", p.PassID, err)
		}
		p.Status = ir.PassStatus(status)
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passes: %w", err)
	}
	return passes, nil
}

// LastPassID returns the id of the most recently recorded pass, or "" if no
// pass has run against this ledger.
func (s *Store) LastPassID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT pass_id FROM passes ORDER BY seq DESC LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last pass id: %w", err)
	}
	return id, nil
}

// PendingConflicts returns open conflicts in detection order.
func (s *Store) PendingConflicts(ctx context.Context) ([]ir.PendingConflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conflict_id, object_id, pass_id, original, candidate_a, candidate_b,
		       detected_at, resolved_at, choice
		FROM pending_conflicts
		WHERE resolved_at IS NULL
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := []ir.PendingConflict{}
	for rows.Next() {
		pc, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending conflicts: %w", err)
	}
	return conflicts, nil
}

// PendingConflictFor returns the open conflict for objectID.
// Returns ErrNotFound (wrapped) if the object has none.
func (s *Store) PendingConflictFor(ctx context.Context, objectID string) (ir.PendingConflict, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conflict_id, object_id, pass_id, original, candidate_a, candidate_b,
		       detected_at, resolved_at, choice
		FROM pending_conflicts
		WHERE object_id = ? AND resolved_at IS NULL
	`, objectID)

	pc, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.PendingConflict{}, fmt.Errorf("pending conflict for %s: %w", objectID, ErrNotFound)
	}
	if err != nil {
		return ir.PendingConflict{}, fmt.Errorf("pending conflict for %s: %w", objectID, err)
	}
	return pc, nil
}

// QueuedRecords returns the records waiting for the next pass, oldest first.
// Returns an empty slice (not nil) when the queue is empty.
func (s *Store) QueuedRecords(ctx context.Context) ([]ir.QueuedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, object_id, side, pass_id, record, queued_at
		FROM requeued_records
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query queued records: %w", err)
	}
	defer rows.Close()

	queued := []ir.QueuedRecord{}
	for rows.Next() {
		var (
			q          ir.QueuedRecord
			record, at string
		)
		if err := rows.Scan(&q.Seq, &q.ObjectID, &q.Side, &q.PassID, &record, &at); err != nil {
			return nil, fmt.Errorf("scan queued record: %w", err)
		}
		q.Record = []byte(record)
		if q.QueuedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("scan queued record %d: %w", q.Seq, err)
		}
		queued = append(queued, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued records: %w", err)
	}
	return queued, nil
}

func scanRecord(row rowScanner) (ir.LedgerRecord, error) {
	var (
		rec                       ir.LedgerRecord
		prov, ts, lifecycle, body string
	)
	err := row.Scan(&rec.ID, &rec.Digest, &rec.Version, &prov, &ts, &lifecycle, &rec.ExternalID, &body)
	if err != nil {
		// Pass sql.ErrNoRows through unwrapped so callers can map it.
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan record: %w", err)
	}

	rec.Provenance = ir.Provenance(prov)
	rec.Lifecycle = ir.Lifecycle(lifecycle)
	if rec.Timestamp, err = parseTime(ts); err != nil {
		return rec, fmt.Errorf("scan record %s: %w", rec.ID, err)
	}
	if rec.Object, err = unmarshalObject(body); err != nil {
		return rec, fmt.Errorf("scan record %s: %w", rec.ID, err)
	}
	if rec.Object.Digest != rec.Digest {
		return rec, fmt.Errorf("scan record %s: corrupt row: object digest %s differs from column %s",
			rec.ID, rec.Object.Digest, rec.Digest)
	}
	return rec, nil
}

func scanEvent(row rowScanner) (ir.SyncEvent, error) {
	var (
		ev       ir.SyncEvent
		ts, kind string
	)
	err := row.Scan(&ev.Seq, &ev.PassID, &ts, &kind, &ev.ObjectID, &ev.Source,
		&ev.Destination, &ev.Outcome, &ev.Detail, &ev.Digest, &ev.Version)
	if err != nil {
		return ev, fmt.Errorf("scan event: %w", err)
	}
	ev.Kind = ir.EventKind(kind)
	if ev.Timestamp, err = parseTime(ts); err != nil {
		return ev, fmt.Errorf("scan event %d: %w", ev.Seq, err)
	}
	return ev, nil
}

func scanConflict(row rowScanner) (ir.PendingConflict, error) {
	var (
		pc                 ir.PendingConflict
		original, resolved sql.NullString
		candA, candB, det  string
	)
	err := row.Scan(&pc.ConflictID, &pc.ObjectID, &pc.PassID, &original, &candA, &candB,
		&det, &resolved, &pc.Choice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pc, err
		}
		return pc, fmt.Errorf("scan conflict: %w", err)
	}

	if pc.Original, err = unmarshalOptionalObject(original); err != nil {
		return pc, fmt.Errorf("scan conflict %s: %w", pc.ConflictID, err)
	}
	if pc.CandidateA, err = unmarshalObject(candA); err != nil {
		return pc, fmt.Errorf("scan conflict %s: %w", pc.ConflictID, err)
	}
	if pc.CandidateB, err = unmarshalObject(candB); err != nil {
		return pc, fmt.Errorf("scan conflict %s: %w", pc.ConflictID, err)
	}
	if pc.DetectedAt, err = parseTime(det); err != nil {
		return pc, fmt.Errorf("scan conflict %s: %w", pc.ConflictID, err)
	}
	if resolved.Valid {
		at, err := parseTime(resolved.String)
		if err != nil {
			return pc, fmt.Errorf("scan conflict %s: %w", pc.ConflictID, err)
		}
		pc.ResolvedAt = &at
	}
	return pc, nil
}
