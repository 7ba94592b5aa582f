// Package resolver maps credential identifiers to their quota
// configuration. A resolver is consulted once per admission check,
// before any counter is touched, so implementations must be cheap
// and safe for concurrent use.
//
// Two implementations are provided. StaticResolver serves a fixed
// in-memory table and suits tests and embedded use. FileResolver
// loads the table from a YAML file and reloads it when the file
// changes on disk, so credentials can be rotated without a restart.
package resolver
