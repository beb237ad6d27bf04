// Package store manages job persistence backed by SQLite: the jobs table,
// the per-stage child records, and the append-only event log. It also owns
// the shared database handle the SQLite queue backend piggybacks on.
//
// Updates are narrow and guarded: every mutation that could race with
// another lease-holder carries a status precondition in its WHERE clause,
// so a stale worker loses quietly instead of clobbering newer state.
package store
