// Package stats derives usage statistics from the ledger and counter
// store.
//
// The aggregator is strictly read-only: it queries the ledger with indexed
// filters and takes counter snapshots, but never evaluates a window or
// advances a counter. Calling it any number of times cannot change the
// outcome of the next admission check.
//
// Accuracy over long lookbacks is bounded by the ledger's retention
// policy; asking for more history than retention keeps counts what the
// ledger still holds.
package stats
