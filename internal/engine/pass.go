package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/trisync/internal/batch"
	"github.com/roach88/trisync/internal/conflict"
	"github.com/roach88/trisync/internal/ir"
	"github.com/roach88/trisync/internal/store"
)

const (
	destinationLedger  = "ledger"
	destinationPending = "pending"

	outcomeCreated    = "created"
	outcomeUpdated    = "updated"
	outcomeDeleted    = "deleted"
	outcomeMerged     = "merged"
	outcomeUnresolved = "unresolved"
	outcomeSkipped    = "skipped"
	outcomeRequeued   = "requeued"
)

// Pass is one synchronization request: the origin batch, the processing
// client's batch, and optionally a strategy overriding the engine default.
// Either batch may be empty.
type Pass struct {
	Origin   []batch.RawRecord
	Client   []batch.RawRecord
	Strategy *conflict.Strategy
}

// ObjectStatus is what a pass did with one object or record.
type ObjectStatus string

const (
	StatusCommitted    ObjectStatus = "committed"
	StatusUnchanged    ObjectStatus = "unchanged"
	StatusUnresolved   ObjectStatus = "unresolved"
	StatusError        ObjectStatus = "error"
	StatusRequeued     ObjectStatus = "requeued"
	StatusNotCommitted ObjectStatus = "not-committed"
)

// ObjectReport describes the fate of one object (or one malformed record,
// in which case ObjectID may be empty).
type ObjectReport struct {
	ObjectID string       `json:"object_id"`
	Status   ObjectStatus `json:"status"`
	Kind     ir.EventKind `json:"kind,omitempty"`
	Version  int64        `json:"version,omitempty"`
	Detail   string       `json:"detail,omitempty"`
	Err      *SyncError   `json:"-"`
}

// PassResult is the outcome of Run.
type PassResult struct {
	PassID     string               `json:"pass_id"`
	Strategy   conflict.Strategy    `json:"strategy"`
	Status     ir.PassStatus        `json:"status"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Counts     ir.PassCounts        `json:"counts"`
	Reports    []ObjectReport       `json:"reports"`
	Conflicts  []ir.PendingConflict `json:"conflicts,omitempty"`

	// Output is the merged batch: one object per id not excluded by an
	// unresolved conflict, an input error, or a failed commit, in
	// first-appearance order (origin batch, then client-only ids).
	Output []ir.VersionedObject `json:"-"`
}

// Summary returns the persisted form of the result.
func (r *PassResult) Summary() ir.PassSummary {
	return ir.PassSummary{
		PassID:     r.PassID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Strategy:   string(r.Strategy),
		Status:     r.Status,
		Counts:     r.Counts,
	}
}

// Run executes one pass: Ingesting, Reconciling, Resolving, Committing.
//
// Cancelling ctx before Committing aborts the pass with no ledger writes and
// a nil result. Once Committing starts it runs to completion regardless of
// ctx. A ledger failure aborts the pass: the result has status failed, the
// objects not yet written are reported not-committed, and the returned error
// is a LedgerIO SyncError.
func (e *Engine) Run(ctx context.Context, p Pass) (*PassResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	defer e.setState(StateIdle)

	strategy := e.strategy
	if p.Strategy != nil {
		strategy = *p.Strategy
	}
	picker, err := strategy.Picker()
	if err != nil {
		return nil, err
	}

	pr := &passRun{
		e:        e,
		id:       e.ids.Generate(),
		strategy: strategy,
		picker:   picker,
		started:  e.now().UTC(),
		byID:     make(map[string]*entry),
		external: make(map[string]string),
	}
	log := e.logger.With("pass", pr.id)
	log.Info("pass starting",
		"strategy", string(strategy),
		"origin", len(p.Origin),
		"client", len(p.Client),
	)

	e.setState(StateIngesting)
	if err := pr.ingest(ctx, p); err != nil {
		return pr.abort(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return pr.abort(ctx, err)
	}

	e.setState(StateReconciling)
	if err := pr.reconcile(ctx); err != nil {
		return pr.abort(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return pr.abort(ctx, err)
	}

	e.setState(StateResolving)
	pr.resolve()
	if err := ctx.Err(); err != nil {
		return pr.abort(ctx, err)
	}

	e.setState(StateCommitting)
	result, fatal := pr.commit(context.WithoutCancel(ctx))

	log.Info("pass finished",
		"status", string(result.Status),
		"committed", result.Counts.Committed,
		"unchanged", result.Counts.Unchanged,
		"unresolved", result.Counts.Unresolved,
		"errored", result.Counts.Errored,
		"requeued", result.Counts.Requeued,
		"not_committed", result.Counts.NotCommitted,
	)
	if fatal != nil {
		return result, fatal
	}
	return result, nil
}

// passRun is the working state of one pass.
type passRun struct {
	e        *Engine
	id       string
	strategy conflict.Strategy
	picker   conflict.Picker
	started  time.Time

	entries  []*entry
	byID     map[string]*entry
	external map[string]string

	malformed []*action
	counts    ir.PassCounts
	conflicts []ir.PendingConflict

	// dequeue holds the seqs of queued records this pass consumed.
	dequeue []int64
}

// candidate is one source's version of an object within a pass.
type candidate struct {
	side  conflict.Side
	label string
	rec   batch.RawRecord
	props ir.IRObject
	geom  ir.IRObject
	obj   ir.VersionedObject
}

func (c *candidate) source() string {
	if c.rec.Source != "" {
		return c.rec.Source
	}
	return string(c.side)
}

// entry is one object id within a pass.
type entry struct {
	id       string
	baseline *ir.VersionedObject
	origin   *candidate
	client   *candidate

	act    *action
	result ir.VersionedObject
	report ObjectReport
}

// action is one ledger commit planned during Resolving.
type action struct {
	entry  *entry
	req    store.CommitRequest
	report ObjectReport
	write  bool
	obj    ir.VersionedObject
}

// ingest validates raw records and resolves their identities. Records
// queued by earlier passes follow each side's batch; a fresh record for the
// same id supersedes the queued one.
func (pr *passRun) ingest(ctx context.Context, p Pass) error {
	queued, err := pr.e.ledger.QueuedRecords(ctx)
	if err != nil {
		return pr.readErr(ctx, "", err)
	}
	sides := []struct {
		side    conflict.Side
		records []batch.RawRecord
	}{
		{conflict.SideA, p.Origin},
		{conflict.SideB, p.Client},
	}

	for _, s := range sides {
		seen := make(map[string]bool, len(s.records))
		for i, rec := range s.records {
			label := fmt.Sprintf("%s[%d]", s.side, i)
			if err := pr.ingestRecord(ctx, s.side, label, rec, seen); err != nil {
				return err
			}
		}
		for _, q := range queued {
			if q.Side != string(s.side) {
				continue
			}
			pr.dequeue = append(pr.dequeue, q.Seq)
			if seen[q.ObjectID] {
				continue
			}
			label := fmt.Sprintf("%s[requeued %s]", s.side, q.ObjectID)
			rec, err := batch.DecodeRecord(q.Record)
			if err != nil {
				pr.counts.Ingested++
				pr.skip(q.ObjectID, s.side, fmt.Sprintf("%s: %v", label, err))
				continue
			}
			if err := pr.ingestRecord(ctx, s.side, label, rec, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func (pr *passRun) ingestRecord(ctx context.Context, side conflict.Side, label string, rec batch.RawRecord, seen map[string]bool) error {
	pr.counts.Ingested++

	if strings.TrimSpace(rec.Type) == "" {
		pr.skip(rec.Label(), side, fmt.Sprintf("%s: type is required", label))
		return nil
	}
	props, geom, err := rec.Content()
	if err != nil {
		pr.skip(rec.Label(), side, fmt.Sprintf("%s: %v", label, err))
		return nil
	}

	id, err := pr.resolveID(ctx, rec)
	if err != nil {
		return err
	}
	if seen[id] {
		pr.skip(id, side, fmt.Sprintf("%s: duplicate id %s in %s batch", label, id, side))
		return nil
	}
	seen[id] = true
	rec.ID = id

	ent, ok := pr.byID[id]
	if !ok {
		ent = &entry{id: id}
		pr.byID[id] = ent
		pr.entries = append(pr.entries, ent)
	}
	c := &candidate{side: side, label: label, rec: rec, props: props, geom: geom}
	if side == conflict.SideA {
		ent.origin = c
	} else {
		ent.client = c
	}
	return nil
}

// resolveID returns the object id for rec: its own id, the id its external
// id maps to (in this pass or in the ledger), or a freshly minted one.
func (pr *passRun) resolveID(ctx context.Context, rec batch.RawRecord) (string, error) {
	if rec.ID != "" {
		if rec.ExternalID != "" {
			pr.external[rec.ExternalID] = rec.ID
		}
		return rec.ID, nil
	}
	if rec.ExternalID == "" {
		return pr.e.ids.Generate(), nil
	}
	if id, ok := pr.external[rec.ExternalID]; ok {
		return id, nil
	}

	id, err := pr.e.ledger.LookupExternal(ctx, rec.ExternalID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		id = pr.e.ids.Generate()
	default:
		return "", pr.readErr(ctx, "", err)
	}
	pr.external[rec.ExternalID] = id
	return id, nil
}

// reconcile reads each id's baseline and builds the candidates against it.
func (pr *passRun) reconcile(ctx context.Context) error {
	for _, ent := range pr.entries {
		rec, err := pr.e.ledger.Get(ctx, ent.id)
		switch {
		case err == nil:
			obj := rec.Object
			ent.baseline = &obj
		case errors.Is(err, store.ErrNotFound):
		default:
			return pr.readErr(ctx, ent.id, err)
		}

		if ent.origin != nil && !pr.build(ent, ent.origin) {
			ent.origin = nil
		}
		if ent.client != nil && !pr.build(ent, ent.client) {
			ent.client = nil
		}
	}
	return nil
}

// build turns c into a versioned object relative to the entry's baseline.
// Returns false (after recording the skip) if the record is unusable.
func (pr *passRun) build(ent *entry, c *candidate) bool {
	prov := ir.ProvenanceOrigin
	if c.side == conflict.SideB {
		prov = ir.ProvenanceClient
	}
	// Records without a timestamp share the pass start, so timestamp ties
	// fall through to the provenance order.
	at := pr.started
	if c.rec.Timestamp != nil {
		at = c.rec.Timestamp.UTC()
	}

	var (
		obj ir.VersionedObject
		err error
	)
	switch {
	case ent.baseline == nil && c.rec.Deleted:
		pr.skip(ent.id, c.side, fmt.Sprintf("%s: delete of unknown object %s", c.label, ent.id))
		return false
	case ent.baseline == nil:
		obj, err = ir.Create(ent.id, c.rec.Type, c.props, c.geom, prov, at)
	case c.rec.Deleted:
		obj = ent.baseline.Tombstone(prov, at)
	default:
		elementType := c.rec.Type
		obj, err = ent.baseline.ApplyContentChange(ir.ContentChange{
			Type:       &elementType,
			Properties: c.props,
			Geometry:   c.geom,
		}, prov, at)
	}
	if err != nil {
		pr.skip(ent.id, c.side, fmt.Sprintf("%s: %v", c.label, err))
		return false
	}
	if c.rec.ExternalID != "" {
		obj.ExternalID = c.rec.ExternalID
	}
	c.obj = obj
	return true
}

// resolve decides every entry and plans its commit.
func (pr *passRun) resolve() {
	for _, ent := range pr.entries {
		a, b := ent.origin, ent.client
		switch {
		case a == nil && b == nil:
			// Every record for this id was skipped.
		case a != nil && b != nil:
			outcome := conflict.Detect(ent.baseline, a.obj, b.obj)
			res, err := conflict.ResolveWith(outcome, ent.baseline, a.obj, b.obj, pr.picker)
			if err != nil {
				pr.planUnresolved(ent, err)
				continue
			}
			winner := a
			if res.Side == conflict.SideB || (res.Side == "" && res.Winner.Version != a.obj.Version) {
				winner = b
			}
			detail := res.Outcome.String()
			if res.Reason != "" {
				detail += ": " + res.Reason
			}
			pr.planWrite(ent, res.Winner, res.Merged, winner.source(), detail)
		case a != nil:
			pr.planWrite(ent, a.obj, false, a.source(), "origin only")
		default:
			pr.planWrite(ent, b.obj, false, b.source(), "client only")
		}
	}
}

func (pr *passRun) planWrite(ent *entry, obj ir.VersionedObject, merged bool, source, detail string) {
	ent.result = obj
	if ent.baseline != nil && obj.Version == ent.baseline.Version && obj.ChangeKey() == ent.baseline.ChangeKey() {
		ent.report = ObjectReport{ObjectID: ent.id, Status: StatusUnchanged, Version: obj.Version}
		return
	}

	kind := eventKindFor(ent.baseline, obj, merged)
	rec := ir.RecordFor(obj)
	ent.act = &action{
		entry: ent,
		write: true,
		obj:   obj,
		req: store.CommitRequest{
			Record:         &rec,
			ExpectedDigest:  digestOf(ent.baseline),
			ExpectedVersion: versionOf(ent.baseline),
			Event: ir.SyncEvent{
				PassID:      pr.id,
				Timestamp:   pr.e.now().UTC(),
				Kind:        kind,
				ObjectID:    ent.id,
				Source:      source,
				Destination: destinationLedger,
				Outcome:     outcomeFor(kind),
				Detail:      detail,
				Digest:      obj.Digest,
				Version:     obj.Version,
			},
		},
		report: ObjectReport{
			ObjectID: ent.id,
			Status:   StatusCommitted,
			Kind:     kind,
			Version:  obj.Version,
			Detail:   detail,
		},
	}
}

func (pr *passRun) planUnresolved(ent *entry, cause error) {
	a, b := ent.origin.obj, ent.client.obj
	now := pr.e.now().UTC()
	se := NewUnresolvedError(ent.id, a.ChangeKey(), b.ChangeKey())
	if !errors.Is(cause, conflict.ErrUnresolved) {
		se.Err = cause
	}

	pc := ir.PendingConflict{
		ConflictID: ir.ConflictID(ent.id, a.ChangeKey(), b.ChangeKey()),
		ObjectID:   ent.id,
		PassID:     pr.id,
		Original:   ent.baseline,
		CandidateA: a,
		CandidateB: b,
		DetectedAt: now,
	}
	ent.act = &action{
		entry: ent,
		req: store.CommitRequest{
			Conflict: &pc,
			Event: ir.SyncEvent{
				PassID:      pr.id,
				Timestamp:   now,
				Kind:        ir.EventConflictUnresolved,
				ObjectID:    ent.id,
				Source:      string(conflict.SideA) + "," + string(conflict.SideB),
				Destination: destinationPending,
				Outcome:     outcomeUnresolved,
				Detail:      fmt.Sprintf("origin=%s client=%s", a.ChangeKey(), b.ChangeKey()),
			},
		},
		report: ObjectReport{
			ObjectID: ent.id,
			Status:   StatusUnresolved,
			Kind:     ir.EventConflictUnresolved,
			Detail:   se.Message,
			Err:      se,
		},
	}
}

// skip records a malformed input record. Its error event is written first
// thing during Committing.
func (pr *passRun) skip(objectID string, side conflict.Side, message string) {
	pr.counts.Errored++
	se := NewMalformedError(objectID, message)
	pr.malformed = append(pr.malformed, &action{
		req: store.CommitRequest{
			Event: ir.SyncEvent{
				PassID:      pr.id,
				Timestamp:   pr.e.now().UTC(),
				Kind:        ir.EventError,
				ObjectID:    objectID,
				Source:      string(side),
				Destination: destinationLedger,
				Outcome:     outcomeSkipped,
				Detail:      message,
			},
		},
		report: ObjectReport{
			ObjectID: objectID,
			Status:   StatusError,
			Kind:     ir.EventError,
			Detail:   message,
			Err:      se,
		},
	})
}

// readErr classifies a ledger read failure before Committing.
func (pr *passRun) readErr(ctx context.Context, objectID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return NewLedgerIOError(objectID, err)
}

// abort ends a pass before Committing. Cancellation leaves no trace; a ledger
// read failure yields a failed result whose summary is recorded if the
// ledger still accepts it.
func (pr *passRun) abort(ctx context.Context, err error) (*PassResult, error) {
	if !IsLedgerIOError(err) {
		pr.e.logger.Info("pass cancelled", "pass", pr.id, "err", err)
		return nil, fmt.Errorf("pass %s cancelled: %w", pr.id, err)
	}

	result := &PassResult{
		PassID:     pr.id,
		Strategy:   pr.strategy,
		Status:     ir.PassFailed,
		StartedAt:  pr.started,
		FinishedAt: pr.e.now().UTC(),
		Counts:     pr.counts,
		Reports:    []ObjectReport{{Status: StatusError, Detail: err.Error(), Err: asSyncError(err)}},
		Output:     []ir.VersionedObject{},
	}
	pr.recordPass(ctx, result)
	pr.e.logger.Error("pass failed", "pass", pr.id, "err", err)
	return result, err
}

// commit writes every planned action in order. It never observes
// cancellation: the caller passes a context detached from it.
func (pr *passRun) commit(ctx context.Context) (*PassResult, error) {
	e := pr.e

	var fatal *SyncError
	reports := make([]ObjectReport, 0, len(pr.malformed)+len(pr.entries))

	for _, act := range pr.malformed {
		if fatal == nil {
			if _, err := e.ledger.Commit(ctx, act.req); err != nil {
				fatal = NewLedgerIOError(act.report.ObjectID, err)
			}
		}
		reports = append(reports, act.report)
	}

	for _, ent := range pr.entries {
		act := ent.act
		switch {
		case act == nil && ent.origin == nil && ent.client == nil:
			continue
		case act == nil:
			pr.counts.Unchanged++
			e.setObject(ent.result)
		case fatal != nil:
			pr.counts.NotCommitted++
			ent.report = ObjectReport{ObjectID: ent.id, Status: StatusNotCommitted, Detail: "pass aborted before commit"}
		default:
			ent.report = act.report
			fatal = pr.apply(ctx, ent, act)
		}
		reports = append(reports, ent.report)
	}

	if fatal == nil && len(pr.dequeue) > 0 {
		if err := e.ledger.ClearQueued(ctx, pr.dequeue); err != nil {
			fatal = NewLedgerIOError("", fmt.Errorf("clear queued records: %w", err))
		}
	}

	status := ir.PassSuccess
	switch {
	case fatal != nil:
		status = ir.PassFailed
	case pr.counts.Unresolved+pr.counts.Errored+pr.counts.Requeued+pr.counts.NotCommitted > 0:
		status = ir.PassPartial
	}

	output := []ir.VersionedObject{}
	for _, ent := range pr.entries {
		switch ent.report.Status {
		case StatusCommitted, StatusUnchanged:
			output = append(output, ent.result)
		}
	}

	result := &PassResult{
		PassID:     pr.id,
		Strategy:   pr.strategy,
		Status:     status,
		StartedAt:  pr.started,
		FinishedAt: e.now().UTC(),
		Counts:     pr.counts,
		Reports:    reports,
		Conflicts:  pr.conflicts,
		Output:     output,
	}
	if err := pr.recordPass(ctx, result); err != nil && fatal == nil {
		fatal = NewLedgerIOError("", fmt.Errorf("record pass: %w", err))
	}
	if fatal != nil {
		return result, fatal
	}
	return result, nil
}

// apply commits one planned action. Returns a non-nil error only for a
// fatal ledger failure.
func (pr *passRun) apply(ctx context.Context, ent *entry, act *action) *SyncError {
	e := pr.e
	_, err := e.ledger.Commit(ctx, act.req)
	switch {
	case err == nil:
		if act.write {
			pr.counts.Committed++
			e.setObject(act.obj)
		} else {
			pr.counts.Unresolved++
			pr.conflicts = append(pr.conflicts, *act.req.Conflict)
		}
		e.logger.Debug("object committed",
			"pass", pr.id,
			"object", ent.id,
			"kind", string(act.req.Event.Kind),
			"version", act.req.Event.Version,
		)
		return nil

	case act.write && errors.Is(err, store.ErrDigestMismatch):
		se := NewDigestMismatchError(ent.id, err)
		now := e.now().UTC()
		queued, qerr := pr.queue(ent, now)
		if qerr != nil {
			pr.counts.NotCommitted++
			fatal := NewLedgerIOError(ent.id, qerr)
			ent.report = ObjectReport{ObjectID: ent.id, Status: StatusNotCommitted, Detail: fatal.Error(), Err: fatal}
			return fatal
		}

		_, err := e.ledger.Commit(ctx, store.CommitRequest{
			Event: ir.SyncEvent{
				PassID:      pr.id,
				Timestamp:   now,
				Kind:        ir.EventError,
				ObjectID:    ent.id,
				Source:      act.req.Event.Source,
				Destination: destinationLedger,
				Outcome:     outcomeRequeued,
				Detail:      se.Error(),
				Digest:      act.obj.Digest,
				Version:     act.obj.Version,
			},
			Requeue: queued,
		})
		if err != nil {
			pr.counts.NotCommitted++
			fatal := NewLedgerIOError(ent.id, err)
			ent.report = ObjectReport{ObjectID: ent.id, Status: StatusNotCommitted, Detail: fatal.Error(), Err: fatal}
			return fatal
		}

		pr.counts.Requeued++
		ent.report = ObjectReport{ObjectID: ent.id, Status: StatusRequeued, Detail: se.Message, Err: se}
		e.logger.Warn("baseline changed during pass, record re-queued", "pass", pr.id, "object", ent.id)
		return nil

	default:
		pr.counts.NotCommitted++
		se := NewLedgerIOError(ent.id, err)
		ent.report = ObjectReport{ObjectID: ent.id, Status: StatusNotCommitted, Detail: se.Error(), Err: se}
		return se
	}
}

// queue encodes the entry's input records for the next pass. A record
// without a timestamp keeps the instant this pass gave it.
func (pr *passRun) queue(ent *entry, now time.Time) ([]ir.QueuedRecord, error) {
	queued := []ir.QueuedRecord{}
	for _, c := range []*candidate{ent.origin, ent.client} {
		if c == nil {
			continue
		}
		rec := c.rec
		if rec.Timestamp == nil {
			at := pr.started
			rec.Timestamp = &at
		}
		data, err := batch.EncodeRecord(rec)
		if err != nil {
			return nil, err
		}
		queued = append(queued, ir.QueuedRecord{
			ObjectID: ent.id,
			Side:     string(c.side),
			PassID:   pr.id,
			Record:   data,
			QueuedAt: now,
		})
	}
	return queued, nil
}

// recordPass persists the pass summary. Failures after a fatal error are
// logged only.
func (pr *passRun) recordPass(ctx context.Context, result *PassResult) error {
	err := pr.e.ledger.RecordPass(context.WithoutCancel(ctx), result.Summary())
	if err != nil {
		pr.e.logger.Error("record pass failed", "pass", pr.id, "err", err)
	}
	return err
}

func eventKindFor(baseline *ir.VersionedObject, obj ir.VersionedObject, merged bool) ir.EventKind {
	switch {
	case merged:
		return ir.EventConflictResolved
	case baseline == nil:
		return ir.EventCreate
	case obj.IsTombstoned():
		return ir.EventDelete
	default:
		return ir.EventUpdate
	}
}

func outcomeFor(kind ir.EventKind) string {
	switch kind {
	case ir.EventCreate:
		return outcomeCreated
	case ir.EventDelete:
		return outcomeDeleted
	case ir.EventConflictResolved:
		return outcomeMerged
	default:
		return outcomeUpdated
	}
}

func asSyncError(err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	return nil
}
