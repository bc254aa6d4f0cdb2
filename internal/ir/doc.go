// Package ir defines the value and entity types shared by every trisync
// package: the closed property value variant, canonical JSON, content
// digests, versioned objects, and the ledger record and event shapes.
//
// ir imports nothing internal. All other internal packages import ir.
//
// Key design constraints:
//   - Digests cover (type, properties, geometry) only, never bookkeeping
//   - Canonical JSON follows RFC 8785, so digests are independent of key order
//   - Objects are values; operations return new objects
//   - All JSON tags use snake_case
package ir
