package preflight

import (
	"context"
	"path/filepath"
	"strings"

	"montage/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the filesystem checks a composition batch needs.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckFreeSpace("Work directory space", cfg.Paths.WorkDir, MinWorkDirFreeBytes),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Ledger directory", filepath.Dir(cfg.Paths.LedgerFile)),
		CheckReadableFile("Catalog feed", cfg.Paths.CatalogFile),
	}

	// The task sheet is optional when tasks come from flags.
	if strings.TrimSpace(cfg.Paths.TaskSheet) != "" {
		results = append(results, CheckWritableFile("Task sheet", cfg.Paths.TaskSheet))
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
