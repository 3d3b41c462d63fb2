// Package harness runs end-to-end reconciliation scenarios.
//
// A scenario describes the starting table, the platform's users and
// scripted failures, webhook behaviour and any pre-existing ledger entries.
// The harness wires the real engine, source adapter, gateway and actuator
// to in-memory fakes, runs one or more cycles on a fake clock, and checks
// assertions against what happened.
//
// # Scenario Format
//
//	name: duplicate_merge
//	description: "A second request for a member is marked double"
//	cycles: 1
//	platform:
//	  group: { id: 1500000001, access_hash: 1 }
//	  users:
//	    - { id: 100, username: alice }
//	  fail_invite:
//	    - { user: 100, errors: [flood] }
//	table:
//	  records:
//	    - { id: rec1, status: telegram, identity: 100 }
//	    - { id: rec2, status: submitted, identity: 100 }
//	webhooks:
//	  invite-fallback: { status: 500 }
//	ledger:
//	  added: ["100"]
//	assertions:
//	  - { type: status, record: rec2, status: double }
//	  - { type: field, record: rec2, field: telegramID, value: double_100_rec2 }
//	  - { type: call_count, op: invite, count: 0 }
//
// # Assertion Types
//
//   - status: a record's final status
//   - field: a record's final field value, compared as a string
//   - ledger: the exact identity set recorded for a kind
//   - call_count: how many platform calls of op were made
//   - notify_count: how many webhooks of kind were delivered
//   - errors: the runtime error codes of every cycle, in order
//   - min_spacing: the minimum gap between consecutive mutating calls
//
// # Deterministic Testing
//
// Every run uses a fresh fake clock starting at testutil.Epoch, a fixed
// cycle token and a memory ledger, so traces are identical between runs
// and can be compared against golden files.
package harness
