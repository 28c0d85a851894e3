package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"montage/internal/config"
	"montage/internal/history"
	"montage/internal/ledger"
	"montage/internal/logging"
	"montage/internal/media/ffprobe"
	"montage/internal/metrics"
	"montage/internal/selection"
	"montage/internal/services"
)

// Recorder persists task outcomes to the composition history.
type Recorder interface {
	Record(ctx context.Context, c *history.Composition) error
}

// Notifier announces batch progress to an external channel.
type Notifier interface {
	BatchStarted(ctx context.Context, tasks int) error
	BatchCompleted(ctx context.Context, done, failed int, elapsed time.Duration) error
	TaskFailed(ctx context.Context, taskID, reason string) error
}

// Orchestrator runs composition batches.
type Orchestrator struct {
	cfg        *config.Config
	logger     *slog.Logger
	catalog    selection.Catalog
	ledger     *ledger.Ledger
	normalizer Normalizer
	concat     Concatenator
	sink       ResultSink
	history    Recorder
	notifier   Notifier
	metrics    *metrics.Metrics
	rng        *rand.Rand
	probe      DurationProber
	progress   func(done, total int, outcome TaskOutcome)
	runID      string
	dryRun     bool
	now        func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithResultSink reports each finished task to sink.
func WithResultSink(sink ResultSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithHistory records each finished task.
func WithHistory(rec Recorder) Option {
	return func(o *Orchestrator) {
		o.history = rec
	}
}

// WithNotifier sends batch summaries and task failures to n.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithMetrics updates m as tasks finish and writes the textfile after the batch.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithRand overrides the random source derived from selection.seed.
func WithRand(rng *rand.Rand) Option {
	return func(o *Orchestrator) {
		if rng != nil {
			o.rng = rng
		}
	}
}

// WithDurationProber overrides how composed outputs are measured. A nil
// prober skips the measurement.
func WithDurationProber(fn DurationProber) Option {
	return func(o *Orchestrator) {
		o.probe = fn
	}
}

// WithProgress registers a callback invoked after every task.
func WithProgress(fn func(done, total int, outcome TaskOutcome)) Option {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

// WithRunID fixes the batch correlation id.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.runID = id
		}
	}
}

// WithDryRun selects playlists without transcoding or committing the ledger.
func WithDryRun(enabled bool) Option {
	return func(o *Orchestrator) {
		o.dryRun = enabled
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New wires an orchestrator. Normalizer and concatenator may be nil only in
// dry-run mode.
func New(cfg *config.Config, cat selection.Catalog, led *ledger.Ledger, norm Normalizer, conc Concatenator, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || cat == nil || led == nil {
		return nil, errors.New("composer requires config, catalog and ledger")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "composer"),
		catalog:    cat,
		ledger:     led,
		normalizer: norm,
		concat:     conc,
		rng:        selection.NewRand(cfg.Selection.Seed),
		runID:      uuid.NewString(),
		now:        time.Now,
	}
	binary := cfg.Normalize.FFprobeBinary
	o.probe = func(ctx context.Context, path string) (float64, error) {
		return ffprobe.ProbeDuration(ctx, binary, path)
	}
	for _, opt := range opts {
		opt(o)
	}
	if !o.dryRun && (o.normalizer == nil || o.concat == nil) {
		return nil, errors.New("composer requires a normalizer and concatenator unless dry-run is enabled")
	}
	return o, nil
}

// RunID returns the batch correlation id.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// RunFeed loads tasks from feed and runs them.
func (o *Orchestrator) RunFeed(ctx context.Context, feed TaskFeed) (BatchReport, error) {
	if feed == nil {
		return BatchReport{RunID: o.runID}, errors.New("task feed is nil")
	}
	tasks, err := feed.Tasks(ctx)
	if err != nil {
		return BatchReport{RunID: o.runID}, fmt.Errorf("load tasks: %w", err)
	}
	return o.Run(ctx, tasks)
}

// Run processes tasks sequentially. Per-task failures are reported in the
// returned outcomes; the error is non-nil only when the batch itself was
// interrupted or the ledger could not be committed.
func (o *Orchestrator) Run(ctx context.Context, tasks []selection.CompositionTask) (BatchReport, error) {
	ctx = services.WithRunID(ctx, o.runID)
	logger := logging.WithContext(ctx, o.logger)
	report := BatchReport{RunID: o.runID, StartedAt: o.now()}

	logger.Info(
		"batch started",
		logging.String(logging.FieldEventType, "batch_start"),
		logging.Int("tasks", len(tasks)),
		logging.Int("catalog_size", len(o.catalog.IDs())),
		logging.Bool("dry_run", o.dryRun),
	)
	if o.notifier != nil && !o.dryRun {
		o.notify(ctx, "batch_start", o.notifier.BatchStarted(ctx, len(tasks)))
	}

	var (
		runErr       error
		commitFailed bool
	)
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("batch interrupted after %d of %d tasks: %w", i, len(tasks), err)
			break
		}
		outcome := o.runTask(ctx, task)
		report.Outcomes = append(report.Outcomes, outcome)
		o.finishTask(ctx, outcome)
		if o.progress != nil {
			o.progress(i+1, len(tasks), outcome)
		}

		if o.cfg.Selection.CommitPerTask && outcome.State == StateDone {
			if err := o.commit(ctx); err != nil {
				runErr = err
				commitFailed = true
				break
			}
			report.Committed = true
		}
	}

	if !o.dryRun && !commitFailed {
		if err := o.commit(ctx); err != nil {
			runErr = errors.Join(runErr, err)
		} else {
			report.Committed = true
		}
	}

	report.FinishedAt = o.now()
	report.LedgerSize = o.ledger.Len()
	o.flushMetrics(ctx, report)

	counts := report.Counts()
	logger.Info(
		"batch finished",
		logging.String(logging.FieldEventType, "batch_complete"),
		logging.Int("done", counts[StateDone]),
		logging.Int("failed", counts[StateFailed]),
		logging.Int("planned", counts[StatePlanned]),
		logging.Int("ledger_entries", report.LedgerSize),
		logging.Bool("committed", report.Committed),
		logging.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	if o.notifier != nil && !o.dryRun {
		// The batch context may already be canceled; the summary still goes out.
		notifyCtx := context.WithoutCancel(ctx)
		o.notify(notifyCtx, "batch_complete", o.notifier.BatchCompleted(notifyCtx, counts[StateDone], counts[StateFailed], report.FinishedAt.Sub(report.StartedAt)))
	}
	return report, runErr
}

func (o *Orchestrator) notify(ctx context.Context, event string, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(logging.WithContext(ctx, o.logger), "notification not delivered", "notification_failed",
		logging.String("notification", event),
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
		logging.Error(err),
	)
}

func (o *Orchestrator) commit(ctx context.Context) error {
	path := o.cfg.Paths.LedgerFile
	if err := o.ledger.Commit(path); err != nil {
		logging.ErrorWithContext(
			logging.WithContext(ctx, o.logger),
			"ledger commit failed",
			"ledger_commit_failed",
			logging.String("path", path),
			logging.String(logging.FieldErrorHint, "check permissions and free space for the ledger directory"),
			logging.Error(err),
		)
		return err
	}
	logging.WithContext(ctx, o.logger).Debug("ledger committed",
		logging.String("path", path),
		logging.Int("entries", o.ledger.Len()),
	)
	return nil
}

// finishTask fans an outcome out to metrics, history, notifications and the sink.
// None of them can fail the task.
func (o *Orchestrator) finishTask(ctx context.Context, outcome TaskOutcome) {
	ctx = services.WithTaskID(ctx, outcome.Task.ID)
	logger := logging.WithContext(ctx, o.logger)

	if o.metrics != nil {
		o.metrics.ObserveTask(outcome.State.Stage(), outcome.Duration)
		o.metrics.AddResets(outcome.Playlist.Resets)
		if outcome.Playlist.Underfilled {
			o.metrics.IncUnderfilled()
		}
		if outcome.State == StateDone {
			o.metrics.AddClipsNormalized(len(outcome.Playlist.ClipIDs))
			o.metrics.AddOutputSeconds(outcome.OutputSeconds)
		}
	}

	if o.dryRun {
		return
	}

	if o.history != nil {
		if err := o.history.Record(ctx, o.historyRecord(outcome)); err != nil {
			logging.WarnWithContext(logger, "history record failed", "history_record_failed",
				logging.String(logging.FieldImpact, "composition missing from montage history"),
				logging.Error(err),
			)
		}
	}
	if o.notifier != nil && outcome.State == StateFailed {
		o.notify(ctx, "task_failed", o.notifier.TaskFailed(ctx, outcome.Task.ID, FailureReason(outcome)))
	}
	if o.sink != nil {
		if err := o.sink.Report(ctx, outcome); err != nil {
			logging.WarnWithContext(logger, "task result not reported", "result_report_failed",
				logging.String(logging.FieldImpact, "task sheet does not reflect this outcome"),
				logging.String(logging.FieldErrorHint, "close the task sheet in other programs and check permissions"),
				logging.Error(err),
			)
		}
	}
}

func (o *Orchestrator) historyRecord(outcome TaskOutcome) *history.Composition {
	state := history.StateDone
	errText := ""
	if outcome.State != StateDone {
		state = history.StateFailed
		if outcome.Err != nil {
			errText = fmt.Sprintf("%s in %s: %v", services.FailureKind(outcome.Err), outcome.FailedIn.Stage(), outcome.Err)
		}
	}
	return &history.Composition{
		RunID:         o.runID,
		TaskID:        outcome.Task.ID,
		Row:           outcome.Task.Row,
		OutputPath:    outcome.OutputPath,
		State:         state,
		Error:         errText,
		TargetSeconds: outcome.Task.TargetSeconds,
		TotalSeconds:  outcome.Playlist.TotalSeconds,
		OutputSeconds: outcome.OutputSeconds,
		Underfilled:   outcome.Playlist.Underfilled,
		Resets:        outcome.Playlist.Resets,
		StartedAt:     outcome.StartedAt,
		FinishedAt:    outcome.StartedAt.Add(outcome.Duration),
		Inputs:        outcome.Playlist.ClipIDs,
	}
}

func (o *Orchestrator) flushMetrics(ctx context.Context, report BatchReport) {
	if o.metrics == nil {
		return
	}
	o.metrics.SetLedgerSize(report.LedgerSize)
	o.metrics.MarkBatchFinished(report.FinishedAt)
	if err := o.metrics.WriteTextfile(o.cfg.Paths.MetricsFile); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "metrics textfile not written", "metrics_write_failed",
			logging.String("path", o.cfg.Paths.MetricsFile),
			logging.Error(err),
		)
	}
}
