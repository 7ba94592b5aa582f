// Package ledger provides the append-only usage log for admission decisions.
//
// # Overview
//
// Every check the admission engine performs, allowed or denied, produces one
// Entry. Entries are immutable once appended; ordering is arrival order,
// carried by a monotonically non-decreasing sequence number assigned at
// append time. The ledger is the sole input for usage statistics and the
// audit trail for debugging quota disputes.
//
// Two backends are provided:
//
//   - MemoryLedger: a bounded ring with count-based retention, for
//     process-local deployments and tests
//   - SQLiteLedger: a durable append-only table indexed by credential,
//     endpoint, and timestamp, with age-based retention enforced by the
//     retention sub-package
//
// The Writer decouples appends from the admission path: entries are queued
// to a background worker, preserving arrival order, and drained on Close.
// Delivery is at-least-once under normal operation.
package ledger
