// Package harness provides conformance testing for the sync engine.
//
// A scenario runs a sequence of passes and conflict decisions against a
// fresh ledger, then validates the event log and final object set.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	strategy: Manual
//	steps:
//	  - origin:
//	      - { id: w1, type: Wall, properties: { h: 3 } }
//	    expect:
//	      status: success
//	      counts: { committed: 1 }
//	  - origin: [{ id: w1, type: Wall, properties: { h: 4 } }]
//	    client: [{ id: w1, type: Wall, properties: { h: 5 } }]
//	  - resolve:
//	      - { object: w1, choose: client }
//	assertions:
//	  - type: event_order
//	    object: w1
//	    kinds: [create, conflict-unresolved, conflict-resolved]
//	  - type: final_object
//	    object: w1
//	    expect: { version: 3, provenance: merged, properties: { h: 5 } }
//
// # Assertion Types
//
//   - event_count: events of a kind (optionally for one object) occur N times
//   - event_order: an object's events have exactly the listed kinds, in order
//   - final_object: an object's baseline matches the expected fields
//   - pending_conflicts: exactly N conflicts remain open
//   - replay_consistent: folding the event log reproduces the ledger
//
// # Deterministic Testing
//
// The harness uses:
//   - A stepping clock starting at Epoch
//   - Sequential ids ("id-1", "id-2", ...) for passes and minted objects
//   - An in-memory SQLite ledger, isolated per scenario
//
// Two runs of one scenario therefore produce byte-identical snapshots,
// which RunWithGolden compares against testdata/golden.
package harness
