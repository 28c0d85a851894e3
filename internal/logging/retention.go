package logging

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PruneRunLogs deletes run logs in dir whose modification time is older than
// retentionDays, never touching keep (the log of the current run). Files that
// do not look like run logs are ignored. It returns how many logs were removed;
// retentionDays <= 0 disables pruning.
func PruneRunLogs(logger *slog.Logger, dir string, retentionDays int, keep string) int {
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	stale, err := staleRunLogs(dir, time.Now().AddDate(0, 0, -retentionDays), keep)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			WarnWithContext(logger, "log retention scan failed", "log_retention_failed",
				String("log_dir", dir),
				Error(err),
				String(FieldErrorHint, "check that log_dir is readable"),
				String(FieldImpact, "old run logs were not pruned"),
			)
		}
		return 0
	}

	removed := 0
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check file permissions and log_dir ownership"),
				String(FieldImpact, "old run log remains on disk"),
			)
			continue
		}
		removed++
	}
	if removed > 0 && logger != nil {
		logger.Info("old run logs pruned",
			String("log_dir", dir),
			Int("removed", removed),
			Int("retention_days", retentionDays),
			String(FieldEventType, "log_pruned"),
		)
	}
	return removed
}

// staleRunLogs lists run logs in dir last modified before cutoff.
func staleRunLogs(dir string, cutoff time.Time, keep string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, runLogPattern))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	keepAbs := absOrSelf(keep)
	var stale []string
	for _, path := range matches {
		if keep != "" && absOrSelf(path) == keepAbs {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, path)
		}
	}
	return stale, nil
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
