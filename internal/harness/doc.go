// Package harness runs data-layer scenarios described in YAML.
//
// A scenario is a list of steps executed in order against a fresh in-memory
// SQLite database, through the same repositories and idempotency coordinator
// the service uses. Every step is recorded in a trace; a step may carry an
// expect clause, and assertions run over the trace and the final table
// contents once the steps finish.
//
// # Scenario Format
//
//	name: optimistic_update
//	description: "A stale version loses the compare-and-swap"
//	tenant: tenant-a
//	steps:
//	  - op: create
//	    table: documents
//	    as: doc
//	    fields: { title: a, content_hash: h1, status: pending }
//	    expect: { version: 1 }
//	  - op: update
//	    table: documents
//	    ref: doc
//	    version: 1
//	    set: { status: ready }
//	  - op: update
//	    table: documents
//	    ref: doc
//	    version: 1
//	    set: { status: failed }
//	    expect: { error: CONCURRENCY }
//	assertions:
//	  - type: final_state
//	    table: documents
//	    ref: doc
//	    expect: { status: ready, version: 2 }
//
// Steps: create, get, update, delete, list (tables) and reserve, complete,
// release, purge (idempotency keys), plus advance, which moves the clock.
//
// # Assertion Types
//
//   - trace_count: an op (optionally with a given outcome) occurs N times
//   - trace_order: ops occur in the given order
//   - final_state: one row, selected by ref or where, has the given columns
//
// # Deterministic Testing
//
// The clock starts at testutil.Epoch and advances by clock_step (default 1s)
// per reading; record ids are rec-0001, rec-0002, ... and owner tokens
// tok-0001, ... so traces are byte-identical across runs and can be
// compared with golden files.
package harness
