// Package syncer drains the durable queue into the remote stores.
//
// A Worker runs one drain at a time. Drains are triggered by the
// connectivity monitor going online, by a periodic ticker, and by Trigger
// after a detection is recorded while online; triggers that arrive during a
// drain coalesce into one follow-up drain.
//
// Each record is synced by a straight-line sequence (upload image, upsert
// event document, apply aggregation, mark synced). Every step is idempotent
// on retry: blob paths and document ids are deterministic, upserts merge, and
// the aggregation step is guarded both remotely (by document id) and locally
// (by the aggregation_applied flag). A crash or timeout between any two steps
// therefore never double counts.
package syncer
