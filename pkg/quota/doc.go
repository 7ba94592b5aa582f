// Package quota implements the rate-limit admission engine.
//
// # Overview
//
// The engine answers one question on the request path: may the holder of a
// quota make this request right now? A quota is a fixed-window budget of
// {max requests, window} resolved for a credential by an external
// collaborator. Counters are isolated per scope key, the tuple of
// (credential, sub-identity, endpoint, class), so two users of the same
// API key never share a window.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - store: counter persistence backends (memory, SQLite, Redis)
//   - ledger: append-only usage log (memory, SQLite) with async writing
//     and retention pruning
//   - stats: read-only aggregation over the ledger and counter snapshots
//   - resolver: credential-to-quota resolution (static map, watched file)
//
// The parent package holds the scope key builder, the fixed-window policy,
// the admission engine, and the Prometheus instrumentation.
//
// # Concurrency
//
// The engine serializes read-decide-write per scope key with optimistic
// compare-and-swap against the counter store, retried on conflict up to a
// bounded budget. Checks against distinct keys proceed fully in parallel;
// there is no global lock on the admission path. Denials never write.
//
// # Usage
//
//	st := store.NewMemoryStore()
//	led := ledger.NewMemoryLedger(10000)
//	eng := quota.NewEngine(st, led, quota.EngineConfig{})
//
//	scope, err := quota.NewScopeKey("key-123", "alice", "/v1/search", quota.ClassUser)
//	res, err := eng.Check(ctx, scope, quota.QuotaConfig{MaxRequests: 10, Window: time.Minute})
//	if !res.Allowed {
//	    // reply 429 with res.RetryAfter
//	}
package quota
