// Package harness runs repository conformance scenarios.
//
// A scenario seeds records, runs a sequence of repository operations and
// checks their outcomes. The same scenario runs against every local
// backend; each run must produce the same trace, and the trace is compared
// against a single golden file, so backend drift shows up as a golden diff.
//
// # Scenario Format
//
//	name: list_with_includes
//	description: "Includes filter related rows, never the root"
//	config: repokit.yaml          # relative to the scenario file
//	schema: |                     # DDL for SQL backends
//	  CREATE TABLE users (...);
//	backends: [memory, sqlite]    # default: both
//	seed:
//	  - resource: users
//	    records:
//	      - {name: ann}
//	steps:
//	  - op: getAll
//	    resource: users
//	    contract: {where: {name: "ann,bob"}}
//	    expect:
//	      ids: [1, 2]
//	      total: 2
//	  - op: getOne
//	    resource: users
//	    id: "abc"
//	    expect: {case: INVALID_IDENTIFIER_FORMAT}
//	assertions:
//	  - type: count
//	    resource: users
//	    contract: {where: {deletedAt: "!null"}}
//	    count: 1
//
// Operations are getAll, getOne, store, update and delete. An expect case
// is "ok" (the default) or a repository error code.
//
// # Assertion Types
//
//   - count: getAll with the contract returns exactly Count records
//   - contains: getAll with the contract returns a record matching Expect
//
// # Deterministic Testing
//
// Records are seeded one at a time and soft-delete timestamps come from
// testutil.DeterministicClock, so ids and timestamps repeat across runs and
// backends.
package harness
