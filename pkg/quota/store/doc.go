// Package store provides counter persistence backends for the admission
// engine.
//
// # Backends
//
//   - MemoryStore: process-local map, fastest, state lost on restart
//   - SQLiteStore: one row per live scope key, survives restarts, single
//     instance
//   - RedisStore: shared counters for multi-instance deployments
//
// All three expose identical semantics through quota.Store. The contract
// that matters is CompareAndSwap: the engine's read-decide-write sequence
// is only correct if installing a new state fails whenever another writer
// has moved the counter since the read. Each backend carries a per-state
// version for that comparison: in memory it lives next to the entry, in
// SQLite it is a column guarded by UPDATE ... WHERE version = ?, and in
// Redis it rides inside the value under a WATCH transaction.
//
// # Thread safety
//
// All backends are safe for concurrent use. Contention is per key; checks
// against distinct scope keys never serialize against each other beyond
// the map or connection level.
package store
