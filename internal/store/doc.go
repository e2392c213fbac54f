// Package store provides the SQLite-backed store for grow unit settings and
// the machinery that keeps it usable when the file on disk goes bad.
//
// # Opening
//
// Open returns a *Store only after the header check, the integrity probe and
// schema verification have passed. It never retries and returns raw errors.
//
// # Classification
//
// Classify maps any error from Open or a query to Evidence with one Kind.
// Only malformed-header, disk-image-malformed and schema-mismatch-unrecoverable
// count as corruption. Lock contention and I/O hiccups are transient.
// Everything else is unknown and is never quarantined.
//
// # Quarantine
//
// Corrupt files (the main file plus -wal, -shm and -journal sidecars) are
// renamed into <dir>/corrupt/<base>-<timestamp>/ and described by a YAML
// record beside that directory. Nothing is deleted or rewritten.
//
// # Guard
//
// Guard owns the live *Store. Reads share a lock, writes and recovery take it
// exclusively. Corruption seen by any operation is quarantined once, the
// store is recreated and the operation retried once. A failed recovery makes
// the Guard refuse further work.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout: Wait for locks (5 seconds by default)
//   - foreign_keys=ON: Settings and schedules cascade with their unit
package store
