package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/trisync/internal/conflict"
	"github.com/roach88/trisync/internal/ir"
	"github.com/roach88/trisync/internal/store"
)

// Ledger is the persistence the engine runs against. *store.Store
// satisfies it.
type Ledger interface {
	Get(ctx context.Context, id string) (ir.LedgerRecord, error)
	LookupExternal(ctx context.Context, externalID string) (string, error)
	Records(ctx context.Context) ([]ir.LedgerRecord, error)
	Commit(ctx context.Context, req store.CommitRequest) (int64, error)
	RecordPass(ctx context.Context, p ir.PassSummary) error
	PendingConflictFor(ctx context.Context, objectID string) (ir.PendingConflict, error)
	QueuedRecords(ctx context.Context) ([]ir.QueuedRecord, error)
	ClearQueued(ctx context.Context, seqs []int64) error
}

var _ Ledger = (*store.Store)(nil)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine closed")

// State is the phase of the pass currently running.
type State int32

const (
	StateIdle State = iota
	StateIngesting
	StateReconciling
	StateResolving
	StateCommitting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateIngesting:
		return "Ingesting"
	case StateReconciling:
		return "Reconciling"
	case StateResolving:
		return "Resolving"
	case StateCommitting:
		return "Committing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Engine runs synchronization passes against a ledger.
//
// The engine keeps an in-memory object set mirroring the ledger's records.
// Passes and manual resolutions are serialized by a pass-level lock: no two
// passes observe or mutate the same baseline concurrently. Cross-process
// writers are handled by the ledger's compare-and-swap; records that lose it
// are parked in the ledger and replayed by the next pass of any engine.
//
// Thread-safety model:
//   - Run(), ResolveConflict(), Load(), Close(): serialized by the pass lock
//   - State(), Objects(), Object(): safe from any goroutine at any time
type Engine struct {
	ledger   Ledger
	strategy conflict.Strategy
	now      func() time.Time
	ids      IDGenerator
	logger   *slog.Logger

	passMu sync.Mutex
	closed bool

	state atomic.Int32

	mu      sync.RWMutex
	objects map[string]ir.VersionedObject
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithStrategy sets the default conflict strategy for passes that do not
// name one. Default: LastWriteWins.
func WithStrategy(s conflict.Strategy) EngineOption {
	return func(e *Engine) {
		e.strategy = s
	}
}

// WithNow sets the wall clock used for event and object timestamps.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator sets the generator for pass ids and minted object ids.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over ledger. Call Load before the first pass to
// populate the in-memory object set.
func New(ledger Ledger, opts ...EngineOption) *Engine {
	e := &Engine{
		ledger:   ledger,
		strategy: conflict.DefaultStrategy,
		now:      time.Now,
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
		objects:  make(map[string]ir.VersionedObject),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the phase of the running pass, or StateIdle.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.logger.Debug("pass state", "state", s.String())
}

// Load replaces the in-memory object set with the ledger's records.
func (e *Engine) Load(ctx context.Context) error {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	if e.closed {
		return ErrClosed
	}

	records, err := e.ledger.Records(ctx)
	if err != nil {
		return NewLedgerIOError("", fmt.Errorf("load: %w", err))
	}

	objects := make(map[string]ir.VersionedObject, len(records))
	for _, rec := range records {
		objects[rec.ID] = rec.Object
	}

	e.mu.Lock()
	e.objects = objects
	e.mu.Unlock()

	e.logger.Info("object set loaded", "objects", len(objects))
	return nil
}

// Close waits for a running pass to finish and rejects further passes.
// The ledger is owned by the caller and is not closed.
func (e *Engine) Close() error {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	e.closed = true
	return nil
}

// Objects returns the in-memory object set ordered by id.
func (e *Engine) Objects() []ir.VersionedObject {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]ir.VersionedObject, 0, len(e.objects))
	for _, obj := range e.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Object returns the in-memory object for id.
func (e *Engine) Object(id string) (ir.VersionedObject, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	obj, ok := e.objects[id]
	return obj, ok
}

// Requeued returns the ids of records waiting in the ledger for the next
// pass after losing a compare-and-swap.
func (e *Engine) Requeued(ctx context.Context) ([]string, error) {
	queued, err := e.ledger.QueuedRecords(ctx)
	if err != nil {
		return nil, NewLedgerIOError("", fmt.Errorf("queued records: %w", err))
	}

	seen := make(map[string]bool, len(queued))
	ids := []string{}
	for _, q := range queued {
		if !seen[q.ObjectID] {
			seen[q.ObjectID] = true
			ids = append(ids, q.ObjectID)
		}
	}
	return ids, nil
}

func (e *Engine) setObject(obj ir.VersionedObject) {
	e.mu.Lock()
	e.objects[obj.ID] = obj
	e.mu.Unlock()
}

// ResolveConflict supplies the decision for the open conflict on objectID.
// The chosen candidate is committed as a merged object (version
// max(A,B)+1, provenance merged) with a conflict-resolved event.
//
// Returns store.ErrNotFound (wrapped) if the object has no open conflict, and
// a DigestMismatch SyncError if the baseline moved since detection.
func (e *Engine) ResolveConflict(ctx context.Context, objectID string, choice conflict.Side) (ir.VersionedObject, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	if e.closed {
		return ir.VersionedObject{}, ErrClosed
	}
	if _, err := conflict.ParseSide(string(choice)); err != nil {
		return ir.VersionedObject{}, err
	}

	pc, err := e.ledger.PendingConflictFor(ctx, objectID)
	if errors.Is(err, store.ErrNotFound) {
		return ir.VersionedObject{}, fmt.Errorf("resolve %s: %w", objectID, err)
	}
	if err != nil {
		return ir.VersionedObject{}, NewLedgerIOError(objectID, err)
	}

	baseline, err := e.baseline(ctx, objectID)
	if err != nil {
		return ir.VersionedObject{}, err
	}
	if changeKey(baseline) != changeKey(pc.Original) || versionOf(baseline) != versionOf(pc.Original) {
		return ir.VersionedObject{}, NewDigestMismatchError(objectID,
			fmt.Errorf("conflict %s was detected against a different baseline", pc.ConflictID))
	}

	merged := conflict.Merge(pc.CandidateA, pc.CandidateB, choice)
	if baseline != nil && merged.Version <= baseline.Version {
		merged.Version = baseline.Version + 1
	}
	now := e.now().UTC()
	rec := ir.RecordFor(merged)
	req := store.CommitRequest{
		Record:           &rec,
		ExpectedDigest:   digestOf(baseline),
		ExpectedVersion:  versionOf(baseline),
		ResolvesConflict: pc.ConflictID,
		Choice:           string(choice),
		Event: ir.SyncEvent{
			PassID:      pc.PassID,
			Timestamp:   now,
			Kind:        ir.EventConflictResolved,
			ObjectID:    objectID,
			Source:      string(choice),
			Destination: destinationLedger,
			Outcome:     outcomeMerged,
			Detail:      fmt.Sprintf("manual decision: %s", choice),
			Digest:      merged.Digest,
			Version:     merged.Version,
		},
	}

	if _, err := e.ledger.Commit(context.WithoutCancel(ctx), req); err != nil {
		if errors.Is(err, store.ErrDigestMismatch) {
			return ir.VersionedObject{}, NewDigestMismatchError(objectID, err)
		}
		return ir.VersionedObject{}, NewLedgerIOError(objectID, err)
	}
	e.setObject(merged)

	e.logger.Info("conflict resolved",
		"object", objectID,
		"conflict", pc.ConflictID,
		"choice", string(choice),
		"version", merged.Version,
	)
	return merged, nil
}

// baseline reads the ledger record for id. Absent records yield nil.
func (e *Engine) baseline(ctx context.Context, id string) (*ir.VersionedObject, error) {
	rec, err := e.ledger.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, NewLedgerIOError(id, err)
	}
	obj := rec.Object
	return &obj, nil
}

func changeKey(obj *ir.VersionedObject) string {
	if obj == nil {
		return ""
	}
	return obj.ChangeKey()
}

func digestOf(obj *ir.VersionedObject) string {
	if obj == nil {
		return ""
	}
	return obj.Digest
}

func versionOf(obj *ir.VersionedObject) int64 {
	if obj == nil {
		return 0
	}
	return obj.Version
}
