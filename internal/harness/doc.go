// Package harness runs sync scenarios against the real queue, ingestion API
// and sync worker, with an in-memory remote that can be taken offline and
// made to fail on cue.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: offline_three_events
//	description: "Events captured offline sync once after reconnect"
//	device_id: kiosk-01          # default kiosk-01
//	timezone: UTC                # default UTC
//	start: 2026-10-19T08:00:00Z  # default shown
//	sync:
//	  max_retries: 3
//	  base_backoff: 10s
//	  max_backoff: 5m
//	  max_attempts: 0            # 0 means unlimited
//	steps:
//	  - action: offline
//	  - action: record
//	    detection: { label: cracked, batch_id: B1, confidence: 0.93 }
//	  - action: online
//	  - action: sync
//	assertions:
//	  - type: queue_counts
//	    expect: { pending: 0, synced: 1, failed: 0 }
//
// # Actions
//
//   - record: record a detection through the ingestion API (optional image)
//   - offline, online: flip the monitor and the remote's reachability
//   - sync: one RunOnce drain
//   - fault: queue a fault on the remote (op, mode, times)
//   - crash: fail the next N local MarkSynced (or, with op:
//     mark_aggregation_applied, MarkAggregationApplied) calls, as a crash would
//   - restart: close and reopen the queue and build a new worker
//   - advance: move the clock forward
//
// # Assertion Types
//
//   - queue_counts: pending/synced/failed counts in the local queue
//   - record_state: state, retry_count, attempts, aggregation_applied of one record
//   - summary: total and label counters of a daily or batch summary
//   - remote_documents: number of detection documents in the remote
//   - blob_count: number of uploaded images
//   - remote_calls: number of calls the remote saw for one op
//   - trace_count: number of trace entries for one action
//
// # Deterministic Testing
//
// Every scenario runs with a manual clock, sequential run ids and a fresh
// SQLite queue in a temp directory, so traces can be compared against
// golden snapshots (see RunWithGolden).
package harness
