// Package tasksheet reads composition tasks from a CSV sheet and writes each
// task's result back into the same sheet.
//
// The sheet layout follows the operator's spreadsheet export: one row per
// requested output with "first vids", optional "second vids" and
// "third vids", "desired length" in minutes, "output directory" and
// "status". Only rows whose status is "auto" are tasks. After a task
// finishes its output path is appended to the output directory cell and the
// status becomes "Done" or "Failed: <reason>". Every update rewrites the
// whole file atomically, keeping a UTF-8 BOM when the original had one.
package tasksheet
