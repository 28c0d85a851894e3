// Package ledger tracks which catalog clips have already been used so that a
// clip is not reused until the whole catalog has been consumed.
//
// A Ledger holds two sets: ids persisted by earlier runs and ids consumed in
// the current run. Only the orchestrator goroutine mutates it; there is no
// internal locking. Store adds a cross-process advisory lock around the
// backing file so concurrent runs cannot interleave their commits.
package ledger
