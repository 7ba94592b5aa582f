// Package retention enforces bounded retention on the usage ledger and
// sweeps idle counters out of the counter store.
//
// The Pruner deletes ledger entries older than the retention period and,
// optionally, trims the log down to a maximum entry count. The Scheduler
// runs the pruner on a cron expression (for example "0 3 * * *" for daily
// at 3 AM) and lets the same pass clean up counters that have been idle
// past their horizon.
//
// Retention directly bounds how far back statistics can look; the
// configured period is therefore part of the stats contract, not just a
// disk-space knob.
package retention
