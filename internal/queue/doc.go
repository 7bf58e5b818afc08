// Package queue provides the SQLite-backed durable local queue for detection
// events and their images.
//
// The queue holds three tables:
//   - events: one row per detection, with sync state and retry bookkeeping
//   - blobs: raw image bytes referenced by events
//   - meta: small key/value facts (device id, last successful sync)
//
// # Critical Patterns
//
// Synchronous durability
//   - Enqueue commits before returning, with synchronous=FULL, so a record
//     survives a crash or power loss immediately after the call returns
//
// Forward-only state
//   - sync_state moves pending -> synced or pending -> failed, never back
//   - Every mark is an UPDATE guarded by the current state, so repeating it
//     is a no-op
//
// Exactly-once aggregation bookkeeping
//   - aggregation_applied is set before and together with the synced flag;
//     the worker checks it before issuing counter increments
//
// Deterministic ordering
//   - All listings use ORDER BY captured_at ASC, id ASC
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: fsync on every commit
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: events.blob_id must reference a blob
//
// Only this package writes sync-state columns. No method performs network I/O.
package queue
