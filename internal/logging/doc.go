// Package logging assembles the slog loggers used by montage.
//
// It owns the console and JSON handlers, the per-run log file under
// paths.log_dir, and retention of old run logs. Context helpers tag lines with
// the run, task, and stage identifiers carried by services context values so
// orchestrator code does not have to thread them through by hand.
package logging
