package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed digests.
// The version suffix leaves room for a future algorithm migration.
const (
	DomainContent  = "trisync/content/v1"
	DomainConflict = "trisync/conflict/v1"
)

// DigestLen is the length of a hex-encoded digest (SHA-256, 256 bits).
const DigestLen = 64

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentDigest computes the content digest of an element.
//
// Only the semantic content participates: the element type, its properties,
// and its geometry. Identity, version, provenance, and timestamps are
// bookkeeping and are deliberately not inputs, so two sources producing the
// same element in a different key order (or at a different time) agree on
// the digest. Nil properties or geometry hash the same as empty objects.
func ContentDigest(elementType string, properties, geometry IRObject) (string, error) {
	if properties == nil {
		properties = IRObject{}
	}
	if geometry == nil {
		geometry = IRObject{}
	}
	obj := IRObject{
		"type":       IRString(elementType),
		"properties": properties,
		"geometry":   geometry,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ContentDigest: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainContent, canonical), nil
}

// MustContentDigest is like ContentDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustContentDigest(elementType string, properties, geometry IRObject) string {
	d, err := ContentDigest(elementType, properties, geometry)
	if err != nil {
		panic(err)
	}
	return d
}

// ConflictID derives a stable identifier for an unresolved conflict from the
// object id and both candidate digests. Re-detecting the same conflict in a
// later pass yields the same id, which keeps pending-conflict rows unique.
func ConflictID(objectID, digestA, digestB string) string {
	obj := IRObject{
		"object_id": IRString(objectID),
		"a":         IRString(digestA),
		"b":         IRString(digestB),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		// Strings always marshal.
		panic(err)
	}
	return hashWithDomain(DomainConflict, canonical)
}
