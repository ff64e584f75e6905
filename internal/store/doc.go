// Package store provides SQLite-backed durable storage for a contract's
// operation log: the articles, every staged operation, the append-only
// accepted sequence, and snapshot checkpoints.
//
// # Critical patterns
//
// Idempotency by identity
//   - Operations are keyed by their content-derived commitment
//   - INSERT ... ON CONFLICT DO NOTHING makes re-staging a no-op
//   - The accepted table rejects a different opid at an occupied position
//
// Logical time only
//   - Ordering uses arrival_seq and position INTEGER columns, never
//     timestamps, so replay is independent of wall time
//
// Deterministic reads
//   - Load orders the accepted sequence by position and pending operations
//     by (arrival_seq, opid)
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Commitments are computed in internal/op over RFC 8785 canonical JSON with
// domain separation; the store treats them as opaque keys.
package store
