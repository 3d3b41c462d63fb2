// Package engine implements the reconciliation loop.
//
// The engine polls the record source, drives each record through the status
// state machine declared in package record, and sequences the side effects:
// notifications through the gateway and group mutations through the
// actuator. Every side effect is checked against the idempotency ledger
// before it is attempted and recorded there once it is confirmed.
//
// ARCHITECTURE:
//
// Single worker:
// One goroutine runs cycles back to back. Records are processed one at a
// time; the actuator admits one mutation per interval anyway.
//
// Cycle:
// 1. Read every telegram-status record and index identities into a set
// 2. submitted batch: duplicates -> double, others notified -> pending
// 3. approved batch: add pipeline -> telegram, invited, blocked or double
// 4. refused batch: remove pipeline -> removed
// 5. Sleep for the poll interval (interrupted by shutdown)
//
// Status writes are batched per target status after each batch. A failed
// write leaves the records in their old status; the ledger re-routes them
// straight to the write on the next cycle without repeating side effects.
//
// Shutdown is checked between records. A mutation that has started runs to
// completion, and its status write is still attempted.
package engine
