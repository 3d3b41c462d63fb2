// Package ledger provides the durable idempotency ledger: the set of
// (action kind, identity) pairs whose side effect has already been confirmed.
//
// Entries are appended the moment a mutating action succeeds and are never
// deleted. The engine checks the ledger before every mutating call, so a
// crash between "side effect applied" and "status written" never repeats the
// side effect; the record is routed straight to status write-back instead.
//
// # Backends
//
//   - json: the reference persisted format, a mapping from action-kind name
//     to an ordered list of identities. Rewritten in full on every Mark via
//     write-to-temp plus atomic rename. An empty path keeps it in memory.
//   - sqlite: one row per entry with UNIQUE(kind, identity); WAL mode.
//   - pebble: embedded LSM key-value store, one key per entry.
//
// All backends are safe for concurrent use.
package ledger
