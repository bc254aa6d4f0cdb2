package ir

import (
	"fmt"
	"time"
)

// Provenance identifies which source produced a version of an object.
type Provenance string

const (
	// ProvenanceOrigin is the authoritative authoring source.
	ProvenanceOrigin Provenance = "origin"

	// ProvenanceClient is the intermediate processing client.
	ProvenanceClient Provenance = "client"

	// ProvenanceMerged marks a version produced by conflict resolution.
	// Never inherited silently from either side.
	ProvenanceMerged Provenance = "merged"
)

// Valid reports whether p is one of the known provenance values.
func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceOrigin, ProvenanceClient, ProvenanceMerged:
		return true
	}
	return false
}

// Lifecycle is the tagged lifecycle state of an object.
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "active"
	LifecycleTombstoned Lifecycle = "tombstoned"
)

// tombstoneMarker is appended to the digest when computing a change key for
// tombstoned objects.
const tombstoneMarker = "#tombstoned"

// VersionedObject is a building element tracked by the sync engine.
//
// Objects are values: every operation returns a new VersionedObject and never
// mutates its receiver. Only the engine commits new versions.
type VersionedObject struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Properties IRObject   `json:"properties"`
	Geometry   IRObject   `json:"geometry"`
	Provenance Provenance `json:"provenance"`
	Version    int64      `json:"version"`
	Digest     string     `json:"digest"`
	Timestamp  time.Time  `json:"timestamp"`
	Lifecycle  Lifecycle  `json:"lifecycle"`
	ExternalID string     `json:"external_id,omitempty"`
}

// ContentChange describes an incoming edit. Nil fields are left unchanged.
type ContentChange struct {
	Type       *string
	Properties IRObject
	Geometry   IRObject
}

// Create builds version 1 of a new object.
func Create(id, elementType string, properties, geometry IRObject, prov Provenance, now time.Time) (VersionedObject, error) {
	if properties == nil {
		properties = IRObject{}
	}
	if geometry == nil {
		geometry = IRObject{}
	}
	digest, err := ContentDigest(elementType, properties, geometry)
	if err != nil {
		return VersionedObject{}, fmt.Errorf("create %s: %w", id, err)
	}
	return VersionedObject{
		ID:         id,
		Type:       elementType,
		Properties: properties.Clone(),
		Geometry:   geometry.Clone(),
		Provenance: prov,
		Version:    1,
		Digest:     digest,
		Timestamp:  now.UTC(),
		Lifecycle:  LifecycleActive,
	}, nil
}

// ApplyContentChange returns the object with change applied.
//
// If the resulting digest equals the current one the receiver is returned
// as-is: version, timestamp and provenance are not bumped, so replaying the
// same edit is idempotent. Applying content to a tombstoned object revives it.
func (o VersionedObject) ApplyContentChange(change ContentChange, prov Provenance, now time.Time) (VersionedObject, error) {
	next := o
	if change.Type != nil {
		next.Type = *change.Type
	}
	if change.Properties != nil {
		next.Properties = change.Properties.Clone()
	}
	if change.Geometry != nil {
		next.Geometry = change.Geometry.Clone()
	}

	digest, err := ContentDigest(next.Type, next.Properties, next.Geometry)
	if err != nil {
		return o, fmt.Errorf("apply change to %s: %w", o.ID, err)
	}
	if digest == o.Digest && o.Lifecycle == LifecycleActive {
		return o, nil
	}

	next.Digest = digest
	next.Version = o.Version + 1
	next.Timestamp = now.UTC()
	next.Provenance = prov
	next.Lifecycle = LifecycleActive
	return next, nil
}

// Tombstone soft-deletes the object. Content and digest are kept for history.
// Tombstoning an already tombstoned object is a no-op.
func (o VersionedObject) Tombstone(prov Provenance, now time.Time) VersionedObject {
	if o.Lifecycle == LifecycleTombstoned {
		return o
	}
	next := o
	next.Lifecycle = LifecycleTombstoned
	next.Version = o.Version + 1
	next.Timestamp = now.UTC()
	next.Provenance = prov
	return next
}

// IsTombstoned reports whether the object has been soft-deleted.
func (o VersionedObject) IsTombstoned() bool {
	return o.Lifecycle == LifecycleTombstoned
}

// ChangeKey is the value conflict detection compares. It equals the content
// digest for active objects; tombstoned objects carry a marker so that a
// deletion is observable as a change even though the digest is retained.
func (o VersionedObject) ChangeKey() string {
	if o.Lifecycle == LifecycleTombstoned {
		return o.Digest + tombstoneMarker
	}
	return o.Digest
}

// Validate checks structural invariants of a stored or decoded object.
func (o VersionedObject) Validate() error {
	switch {
	case o.ID == "":
		return fmt.Errorf("object: id is required")
	case o.Type == "":
		return fmt.Errorf("object %s: type is required", o.ID)
	case o.Version < 1:
		return fmt.Errorf("object %s: version must be >= 1, got %d", o.ID, o.Version)
	case !o.Provenance.Valid():
		return fmt.Errorf("object %s: invalid provenance %q", o.ID, o.Provenance)
	}
	switch o.Lifecycle {
	case LifecycleActive, LifecycleTombstoned:
	default:
		return fmt.Errorf("object %s: invalid lifecycle %q", o.ID, o.Lifecycle)
	}

	digest, err := ContentDigest(o.Type, o.Properties, o.Geometry)
	if err != nil {
		return err
	}
	if digest != o.Digest {
		return fmt.Errorf("object %s: digest mismatch (stored %s, computed %s)", o.ID, o.Digest, digest)
	}
	return nil
}
