// Package history records every composed output in SQLite together with the
// ordered clips that went into it.
//
// The database doubles as the mapping log: each composition row carries the
// run id, the task it came from, its final state and timings, and a child
// table lists the input clips by position. Schema changes bump the version
// in schema.go; users delete history.db to adopt the new schema.
package history
