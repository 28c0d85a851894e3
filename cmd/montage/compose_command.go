package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"montage/internal/catalog"
	"montage/internal/composer"
	"montage/internal/concat"
	"montage/internal/config"
	"montage/internal/deps"
	"montage/internal/durationfmt"
	"montage/internal/history"
	"montage/internal/ledger"
	"montage/internal/logging"
	"montage/internal/metrics"
	"montage/internal/normalize"
	"montage/internal/notifications"
	"montage/internal/preflight"
	"montage/internal/selection"
	"montage/internal/tasksheet"
)

type composeOptions struct {
	sheetPath     string
	first         string
	second        string
	third         string
	lengthMinutes float64
	outputDir     string
	seed          int64
	dryRun        bool
	noProgress    bool
	skipChecks    bool
	showClips     bool
}

func (o composeOptions) adHoc() bool {
	return strings.TrimSpace(o.first) != ""
}

func bindComposeFlags(cmd *cobra.Command, opts *composeOptions) {
	cmd.Flags().StringVar(&opts.sheetPath, "sheet", "", "Task sheet CSV (default paths.task_sheet)")
	cmd.Flags().StringVar(&opts.first, "first", "", "Compose a single output starting with this clip instead of reading the sheet")
	cmd.Flags().StringVar(&opts.second, "second", "", "Optional second pinned clip for --first")
	cmd.Flags().StringVar(&opts.third, "third", "", "Optional third pinned clip for --first")
	cmd.Flags().Float64Var(&opts.lengthMinutes, "length", 0, "Desired length in minutes for --first")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "Output directory for --first (default paths.output_dir)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed for this run (overrides selection.seed)")
}

func newComposeCommand(ctx *commandContext) *cobra.Command {
	var opts composeOptions
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Select, normalize and concatenate every pending task",
		Long: "Compose reads tasks with status \"auto\" from the task sheet (or a single task from flags),\n" +
			"builds a playlist for each one, transcodes the clips to a uniform profile and joins them.\n" +
			"Results are written back to the sheet and clip usage is recorded in the ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompose(cmd, ctx, opts)
		},
	}
	bindComposeFlags(cmd, &opts)
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Select playlists only; do not transcode or update the ledger")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().BoolVar(&opts.skipChecks, "skip-checks", false, "Skip dependency and filesystem preflight checks")
	cmd.Flags().BoolVar(&opts.showClips, "show-clips", false, "List the selected clips under the results table")
	return cmd
}

func newSelectCommand(ctx *commandContext) *cobra.Command {
	var opts composeOptions
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Preview the playlists compose would build",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.dryRun = true
			opts.noProgress = true
			opts.showClips = true
			return runCompose(cmd, ctx, opts)
		},
	}
	bindComposeFlags(cmd, &opts)
	return cmd
}

func runCompose(cmd *cobra.Command, ctx *commandContext, opts composeOptions) error {
	loaded, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfgCopy := *loaded
	cfg := &cfgCopy
	if opts.seed != 0 {
		cfg.Selection.Seed = opts.seed
	}
	if sheet := strings.TrimSpace(opts.sheetPath); sheet != "" {
		expanded, err := config.ExpandPath(sheet)
		if err != nil {
			return fmt.Errorf("resolve sheet path: %w", err)
		}
		cfg.Paths.TaskSheet = expanded
	}
	if opts.adHoc() {
		cfg.Paths.TaskSheet = ""
	}

	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, logPath, err := logging.NewFromConfig(cfg, time.Now())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	out := cmd.OutOrStdout()

	if !opts.dryRun && !opts.skipChecks {
		if err := runPreflight(signalCtx, cfg); err != nil {
			return err
		}
	}

	store := ledger.NewStore(cfg.Paths.LedgerFile)
	if !opts.dryRun {
		if err := store.Lock(); err != nil {
			return err
		}
		defer func() {
			if err := store.Unlock(); err != nil {
				logger.Warn("ledger lock not released", logging.Error(err))
			}
		}()
	}
	led, err := store.Load()
	if err != nil {
		logging.WarnWithContext(logger, "usage ledger unreadable", "ledger_load_failed",
			logging.String("path", store.Path()),
			logging.String(logging.FieldImpact, "previously used clips may be selected again"),
			logging.Error(err),
		)
	}

	cat, err := catalog.Load(cfg.Paths.CatalogFile, cfg.Selection.MinClipSeconds, logger)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	tasks, sheet, err := loadTasks(signalCtx, cfg, opts, logger)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found (rows need status \"auto\", first vids and desired length).")
		return nil
	}

	progress := newTaskProgress(cmd.ErrOrStderr(), len(tasks), "composing", !opts.noProgress)
	composerOpts := []composer.Option{
		composer.WithDryRun(opts.dryRun),
		composer.WithMetrics(metrics.New()),
		composer.WithProgress(func(done, total int, outcome composer.TaskOutcome) {
			progress.Set(done)
		}),
	}

	var (
		norm composer.Normalizer
		conc composer.Concatenator
	)
	if !opts.dryRun {
		pipeline := normalize.New(cfg.Normalize, logger)
		logger.Info("normalization encoder selected", logging.String("encoder", string(pipeline.Encoder())))
		norm = pipeline
		conc = concat.New(cfg.Normalize.FFmpegBinary, logger)

		hist, err := history.Open(cfg)
		if err != nil {
			logging.WarnWithContext(logger, "history unavailable", "history_open_failed",
				logging.String(logging.FieldImpact, "this run will not appear in montage history"),
				logging.Error(err),
			)
		} else {
			defer hist.Close()
			composerOpts = append(composerOpts, composer.WithHistory(hist))
		}
		if sheet != nil {
			composerOpts = append(composerOpts, composer.WithResultSink(sheet))
		}
		composerOpts = append(composerOpts, composer.WithNotifier(notifications.NewService(cfg)))
	}

	orch, err := composer.New(cfg, cat, led, norm, conc, logger, composerOpts...)
	if err != nil {
		return err
	}
	report, runErr := orch.Run(signalCtx, tasks)
	progress.Finish()

	printComposeReport(out, report, cat, opts.showClips)
	if logPath != "" {
		fmt.Fprintf(out, "Log: %s\n", logPath)
	}
	if runErr != nil {
		return runErr
	}
	if failed := len(report.Failed()); failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(report.Outcomes))
	}
	return nil
}

func loadTasks(ctx context.Context, cfg *config.Config, opts composeOptions, logger *slog.Logger) ([]selection.CompositionTask, *tasksheet.Sheet, error) {
	if opts.adHoc() {
		if opts.lengthMinutes <= 0 {
			return nil, nil, errors.New("--length must be a positive number of minutes when --first is used")
		}
		outputDir := strings.TrimSpace(opts.outputDir)
		if outputDir != "" {
			expanded, err := config.ExpandPath(outputDir)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve output dir: %w", err)
			}
			outputDir = expanded
		}
		return []selection.CompositionTask{{
			ID:            "cli-1",
			TargetSeconds: opts.lengthMinutes * 60,
			First:         strings.TrimSpace(opts.first),
			Second:        strings.TrimSpace(opts.second),
			Third:         strings.TrimSpace(opts.third),
			OutputDir:     outputDir,
		}}, nil, nil
	}

	if strings.TrimSpace(cfg.Paths.TaskSheet) == "" {
		return nil, nil, errors.New("no task sheet configured; set paths.task_sheet, pass --sheet, or use --first")
	}
	sheet, err := tasksheet.Open(cfg.Paths.TaskSheet, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open task sheet: %w", err)
	}
	tasks, err := sheet.Tasks(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read tasks: %w", err)
	}
	return tasks, sheet, nil
}

func runPreflight(ctx context.Context, cfg *config.Config) error {
	if missing := deps.Missing(preflight.CheckSystemDeps(ctx, cfg)); len(missing) > 0 {
		return fmt.Errorf("missing required tools: %s (run `montage doctor`)", strings.Join(missing, ", "))
	}
	failed := preflight.Failed(preflight.RunAll(ctx, cfg))
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(parts, "; "))
}

func printComposeReport(out io.Writer, report composer.BatchReport, cat *catalog.Catalog, showClips bool) {
	if len(report.Outcomes) == 0 {
		return
	}
	cols := []column{textCol("Task"), textCol("First clip"), numCol("Clips"), numCol("Length"), numCol("Target"), textCol("State"), textCol("Result")}
	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		result := o.OutputPath
		switch o.State {
		case composer.StateFailed:
			result = composer.FailureReason(o)
		case composer.StatePlanned:
			result = "(dry run) " + o.OutputPath
		}
		state := string(o.State)
		if o.Playlist.Underfilled {
			state += " (short)"
		}
		rows = append(rows, []string{
			o.Task.ID,
			catalog.DisplayName(o.Task.First),
			fmt.Sprintf("%d", len(o.Playlist.ClipIDs)),
			durationfmt.FormatClock(o.Playlist.TotalSeconds),
			durationfmt.FormatClock(o.Task.TargetSeconds),
			state,
			result,
		})
	}
	fmt.Fprintln(out, renderTable(cols, rows))

	if showClips {
		for _, o := range report.Outcomes {
			if len(o.Playlist.ClipIDs) == 0 {
				continue
			}
			fmt.Fprintf(out, "\n%s (%s):\n", o.Task.ID, durationfmt.FormatClock(o.Playlist.TotalSeconds))
			for _, id := range o.Playlist.ClipIDs {
				length := ""
				if entry, ok := cat.Lookup(id); ok {
					length = durationfmt.Format(entry.Duration)
				}
				fmt.Fprintf(out, "  %6s  %s\n", length, id)
			}
		}
	}

	counts := report.Counts()
	fmt.Fprintf(out, "\nRun %s: %d done, %d failed, %d planned; ledger %d entries (committed: %s)\n",
		report.RunID,
		counts[composer.StateDone],
		counts[composer.StateFailed],
		counts[composer.StatePlanned],
		report.LedgerSize,
		yesNo(report.Committed),
	)
}
