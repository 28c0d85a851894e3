package composer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"montage/internal/durationfmt"
	"montage/internal/logging"
	"montage/internal/selection"
	"montage/internal/services"
	"montage/internal/textutil"
)

func (o *Orchestrator) runTask(ctx context.Context, task selection.CompositionTask) TaskOutcome {
	ctx = services.WithTaskID(ctx, task.ID)
	outcome := TaskOutcome{Task: task, State: StatePending, StartedAt: o.now()}
	checkpoint := o.ledger.Checkpoint()

	finish := func(out TaskOutcome) TaskOutcome {
		out.Duration = o.now().Sub(out.StartedAt)
		return out
	}
	fail := func(out TaskOutcome, err error) TaskOutcome {
		o.ledger.Rollback(checkpoint)
		out.FailedIn = out.State
		out.State = StateFailed
		out.Err = err
		logger := logging.WithContext(services.WithStage(ctx, out.FailedIn.Stage()), o.logger)
		logging.ErrorWithContext(logger, "task failed", "task_failed",
			logging.String("failure_kind", services.FailureKind(err)),
			logging.String(logging.FieldImpact, "no output for this task; its clips stay available"),
			logging.Error(err),
		)
		return finish(out)
	}

	outcome.State = StateSelecting
	stageCtx := services.WithStage(ctx, outcome.State.Stage())
	playlist, err := selection.Select(task, o.catalog, o.ledger, o.rng)
	if err != nil {
		return fail(outcome, err)
	}
	outcome.Playlist = playlist
	outcome.OutputPath = o.outputPath(task)

	logger := logging.WithContext(stageCtx, o.logger)
	logger.Info(
		"playlist selected",
		logging.String(logging.FieldEventType, "playlist_selected"),
		logging.Int("clips", len(playlist.ClipIDs)),
		logging.String("total", durationfmt.Format(playlist.TotalSeconds)),
		logging.String("target", durationfmt.Format(task.TargetSeconds)),
		logging.Int("resets", playlist.Resets),
	)
	if playlist.Underfilled {
		logging.WarnWithContext(logger, "catalog exhausted before target", "playlist_underfilled",
			logging.String("shortfall", durationfmt.Format(playlist.Shortfall(task.TargetSeconds))),
			logging.String(logging.FieldImpact, "output is shorter than requested"),
			logging.String(logging.FieldErrorHint, "add clips to the catalog or lower the desired length"),
		)
	}

	if o.dryRun {
		outcome.State = StatePlanned
		return finish(outcome)
	}

	workDir, err := os.MkdirTemp(o.cfg.Paths.WorkDir, "task-*")
	if err != nil {
		return fail(outcome, services.Wrap(services.ErrConfiguration, "composer", "workdir", "Failed to create task work directory", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			logger.Warn("work directory not removed", logging.String("path", workDir), logging.Error(rmErr))
		}
	}()

	outcome.State = StateNormalizing
	stageCtx = services.WithStage(ctx, outcome.State.Stage())
	artifacts, err := o.normalizer.NormalizeAll(stageCtx, workDir, playlist.ClipIDs)
	if err != nil {
		return fail(outcome, err)
	}

	outcome.State = StateConcatenating
	stageCtx = services.WithStage(ctx, outcome.State.Stage())
	if err := os.MkdirAll(filepath.Dir(outcome.OutputPath), 0o755); err != nil {
		return fail(outcome, services.Wrap(services.ErrConfiguration, "composer", "output dir", "Failed to create output directory", err))
	}
	if err := o.concat.Concatenate(stageCtx, artifacts, outcome.OutputPath); err != nil {
		return fail(outcome, err)
	}

	outcome.State = StateDone
	if o.probe != nil {
		seconds, err := o.probe(stageCtx, outcome.OutputPath)
		if err != nil {
			logging.WithContext(stageCtx, o.logger).Debug("output duration probe failed", logging.Error(err))
		} else {
			outcome.OutputSeconds = seconds
		}
	}
	outcome = finish(outcome)
	logging.WithContext(services.WithStage(ctx, outcome.State.Stage()), o.logger).Info(
		"task completed",
		logging.String(logging.FieldEventType, "task_complete"),
		logging.String("output", outcome.OutputPath),
		logging.String("output_length", durationfmt.Format(outcome.OutputSeconds)),
		logging.Duration("elapsed", outcome.Duration),
	)
	return outcome
}

// outputPath names the composed file after the first clip inside the task's
// output directory, falling back to paths.output_dir.
func (o *Orchestrator) outputPath(task selection.CompositionTask) string {
	dir := strings.TrimSpace(task.OutputDir)
	if dir == "" {
		dir = o.cfg.Paths.OutputDir
	}
	return filepath.Join(dir, textutil.OutputFileName(task.First, o.cfg.Selection.OutputSuffix))
}

// FailureReason renders the short reason written next to a failed task.
func FailureReason(outcome TaskOutcome) string {
	if outcome.State != StateFailed {
		return ""
	}
	kind := services.FailureKind(outcome.Err)
	if kind == "" {
		kind = "failed"
	}
	return fmt.Sprintf("%s during %s", kind, outcome.FailedIn.Stage())
}
