package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"montage/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools and configured paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			p := newStatusPrinter(cmd.OutOrStdout())

			p.section("Dependencies")
			for _, status := range preflight.CheckSystemDeps(cmd.Context(), cfg) {
				switch {
				case status.Available:
					p.line(status.Name, statusOK, status.Command)
				case status.Optional:
					p.line(status.Name, statusWarn, status.Detail)
				default:
					p.line(status.Name, statusError, status.Detail)
				}
			}

			p.section("Paths")
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				p.line(result.Name, kind, result.Detail)
			}
			if free, err := preflight.FreeBytes(cfg.Paths.WorkDir); err == nil {
				p.line("Work directory free", statusInfo, humanize.IBytes(free))
			}

			p.section("Selection")
			seed := "random"
			if cfg.Selection.Seed != 0 {
				seed = fmt.Sprintf("%d", cfg.Selection.Seed)
			}
			p.line("Seed", statusInfo, seed)
			p.line("Commit per task", statusInfo, yesNo(cfg.Selection.CommitPerTask))
			if strings.TrimSpace(cfg.Paths.TaskSheet) == "" {
				p.line("Task sheet", statusWarn, "not configured; use --sheet or --first")
			}

			if p.errors > 0 {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
}
