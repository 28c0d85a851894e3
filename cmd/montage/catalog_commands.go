package main

import (
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"montage/internal/catalog"
	"montage/internal/config"
	"montage/internal/durationfmt"
	"montage/internal/logging"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Build and inspect the clip catalog",
	}
	cmd.AddCommand(newCatalogIngestCommand(ctx))
	cmd.AddCommand(newCatalogShowCommand(ctx))
	return cmd
}

func newCatalogIngestCommand(ctx *commandContext) *cobra.Command {
	var (
		outPath    string
		workers    int
		appendMode bool
		noProgress bool
		extensions []string
	)
	cmd := &cobra.Command{
		Use:   "ingest <directory>",
		Short: "Scan a folder of clips and write the catalog feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			dir, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve directory: %w", err)
			}
			target := cfg.Paths.CatalogFile
			if strings.TrimSpace(outPath) != "" {
				if target, err = config.ExpandPath(outPath); err != nil {
					return fmt.Errorf("resolve output path: %w", err)
				}
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger, _, err := logging.NewFromConfig(cfg, time.Now())
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			var (
				progress     *taskProgress
				progressOnce sync.Once
			)
			report, err := catalog.Ingest(signalCtx, dir, target, catalog.IngestOptions{
				FFprobeBinary: cfg.Normalize.FFprobeBinary,
				Workers:       workers,
				Extensions:    extensions,
				Append:        appendMode,
				Logger:        logger,
				Progress: func(done, total int) {
					progressOnce.Do(func() {
						progress = newTaskProgress(cmd.ErrOrStderr(), total, "probing", !noProgress)
					})
					progress.Set(done)
				},
			})
			progress.Finish()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Catalog written to %s\n", report.Output)
			fmt.Fprintf(out, "  Found:   %d\n", report.Found)
			fmt.Fprintf(out, "  Added:   %d\n", report.Added)
			if appendMode {
				fmt.Fprintf(out, "  Kept:    %d\n", report.Kept)
			}
			if report.Failed > 0 {
				fmt.Fprintf(out, "  Unprobed: %d (recorded as 0:00)\n", report.Failed)
			}
			fmt.Fprintf(out, "  Elapsed: %s\n", report.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Catalog feed to write (default paths.catalog_file)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent ffprobe processes (default 8)")
	cmd.Flags().BoolVar(&appendMode, "append", false, "Keep existing rows and add only new clips")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "File extensions to include (default .mp4,.avi,.mkv,.mov)")
	return cmd
}

func newCatalogShowCommand(ctx *commandContext) *cobra.Command {
	var (
		limit   int
		minimum float64
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List catalog entries in selection order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cmd.Flags().Changed("min-seconds") {
				minimum = cfg.Selection.MinClipSeconds
			}
			cat, err := catalog.Load(cfg.Paths.CatalogFile, minimum, logging.NewNop())
			if err != nil {
				return err
			}

			entries := cat.Entries()
			shown := entries
			if limit > 0 && len(shown) > limit {
				shown = shown[:limit]
			}
			now := time.Now()
			rows := make([][]string, 0, len(shown))
			for _, e := range shown {
				added := "-"
				if e.Freshness > 0 {
					added = humanize.RelTime(now.Add(-time.Duration(e.Freshness)*time.Second), now, "ago", "from now")
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", e.Seq),
					e.Name,
					durationfmt.Format(e.Duration),
					added,
					e.ID,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]column{numCol("#"), textCol("Name"), numCol("Length"), textCol("Added"), textCol("Path")},
				rows,
			))
			fmt.Fprintf(out, "%s clips, %s total\n", humanize.Comma(int64(cat.Len())), durationfmt.Format(cat.TotalSeconds()))
			if len(shown) < len(entries) {
				fmt.Fprintf(out, "(showing first %d; use --limit 0 for all)\n", len(shown))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows to show (0 for all)")
	cmd.Flags().Float64Var(&minimum, "min-seconds", 0, "Hide clips shorter than this (default selection.min_clip_seconds)")
	return cmd
}
