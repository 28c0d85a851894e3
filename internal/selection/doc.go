// Package selection picks the ordered clip list for one composition task.
//
// Mandatory clips are always included, regardless of prior usage. The rest
// of the playlist is drawn uniformly at random, without weighting by
// duration, from clips the ledger reports as available. When no available
// clip remains the ledger's exhaustion reset makes previously persisted
// clips eligible again; clips consumed earlier in the same run never are.
package selection
