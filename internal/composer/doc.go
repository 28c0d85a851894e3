// Package composer drives a batch of composition tasks through selection,
// normalization and concatenation.
//
// Tasks run one at a time. Each task moves PENDING -> SELECTING ->
// NORMALIZING -> CONCATENATING -> DONE, or to FAILED from whichever state it
// was in. A failed task never aborts the batch: its outcome is reported, its
// ledger picks are rolled back, and the next task starts. The usage ledger
// is committed once when the batch ends unless selection.commit_per_task is
// set.
package composer
