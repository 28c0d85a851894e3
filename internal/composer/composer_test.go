package composer_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"montage/internal/catalog"
	"montage/internal/composer"
	"montage/internal/concat"
	"montage/internal/config"
	"montage/internal/history"
	"montage/internal/ledger"
	"montage/internal/normalize"
	"montage/internal/selection"
	"montage/internal/services"
	"montage/internal/testsupport"
)

type fakeNormalizer struct {
	mu       sync.Mutex
	calls    [][]string
	workDirs []string
	failOn   map[int]error
	before   func(call int)
}

func (f *fakeNormalizer) NormalizeAll(_ context.Context, workDir string, clipIDs []string) ([]string, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, append([]string(nil), clipIDs...))
	f.workDirs = append(f.workDirs, workDir)
	f.mu.Unlock()

	if f.before != nil {
		f.before(call)
	}
	if err := f.failOn[call]; err != nil {
		return nil, err
	}
	artifacts := make([]string, len(clipIDs))
	for i := range clipIDs {
		artifacts[i] = filepath.Join(workDir, normalize.ArtifactName(i))
		if err := os.WriteFile(artifacts[i], []byte("x"), 0o644); err != nil {
			return nil, err
		}
	}
	return artifacts, nil
}

type fakeConcat struct {
	outputs []string
}

func (f *fakeConcat) Concatenate(_ context.Context, artifacts []string, outputPath string) error {
	f.outputs = append(f.outputs, outputPath)
	return os.WriteFile(outputPath, []byte(strings.Join(artifacts, "\n")), 0o644)
}

type failingConcat struct {
	calls int
}

func (f *failingConcat) Concatenate(context.Context, []string, string) error {
	f.calls++
	return fmt.Errorf("ffmpeg exited 1: %w", concat.ErrConcatFailure)
}

func assertWorkDirsRemoved(t *testing.T, cfg *config.Config, dirs []string) {
	t.Helper()
	if len(dirs) == 0 {
		t.Fatal("expected the normalizer to receive a work dir")
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("work dir %s not removed (err=%v)", dir, err)
		}
	}
	leftovers, err := filepath.Glob(filepath.Join(cfg.Paths.WorkDir, "task-*"))
	if err != nil {
		t.Fatalf("glob work dir: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("task work dirs left behind: %v", leftovers)
	}
}

type recordingSink struct {
	outcomes []composer.TaskOutcome
}

func (s *recordingSink) Report(_ context.Context, outcome composer.TaskOutcome) error {
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Entry{
		{ID: "/clips/intro.mp4", Duration: 5},
		{ID: "/clips/a.mp4", Duration: 40},
		{ID: "/clips/b.mp4", Duration: 50},
		{ID: "/clips/c.mp4", Duration: 70},
		{ID: "/clips/d.mp4", Duration: 30},
		{ID: "/clips/e.mp4", Duration: 20},
	})
}

func fixedProbe(seconds float64) composer.DurationProber {
	return func(context.Context, string) (float64, error) { return seconds, nil }
}

func newOrchestrator(t *testing.T, cfg *config.Config, led *ledger.Ledger, norm composer.Normalizer, conc composer.Concatenator, opts ...composer.Option) *composer.Orchestrator {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	opts = append([]composer.Option{composer.WithDurationProber(fixedProbe(0))}, opts...)
	orch, err := composer.New(cfg, testCatalog(), led, norm, conc, nil, opts...)
	if err != nil {
		t.Fatalf("composer.New: %v", err)
	}
	return orch
}

func readLedger(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	return strings.Fields(string(data))
}

func TestRunComposesTasksAndCommitsLedgerOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	led := ledger.New()
	norm := &fakeNormalizer{}
	conc := &fakeConcat{}
	sink := &recordingSink{}
	store := testsupport.MustOpenHistory(t, cfg)

	orch := newOrchestrator(t, cfg, led, norm, conc,
		composer.WithResultSink(sink),
		composer.WithHistory(store),
		composer.WithDurationProber(fixedProbe(95)),
		composer.WithRunID("run-test"),
	)

	tasks := []selection.CompositionTask{
		{ID: "row-1", Row: 1, TargetSeconds: 60, First: "/clips/intro.mp4"},
		{ID: "row-2", Row: 2, TargetSeconds: 30, First: "/clips/a.mp4"},
	}
	report, err := orch.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !report.Committed {
		t.Fatal("expected ledger to be committed")
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(report.Outcomes))
	}

	seen := map[string]bool{}
	for i, outcome := range report.Outcomes {
		if outcome.State != composer.StateDone {
			t.Fatalf("task %d state = %s, err=%v", i, outcome.State, outcome.Err)
		}
		if outcome.OutputSeconds != 95 {
			t.Fatalf("task %d output seconds = %v, want 95", i, outcome.OutputSeconds)
		}
		if outcome.Playlist.ClipIDs[0] != tasks[i].First {
			t.Fatalf("task %d first clip = %s, want %s", i, outcome.Playlist.ClipIDs[0], tasks[i].First)
		}
		for _, id := range outcome.Playlist.ClipIDs {
			// Pinned clips ignore the ledger and may repeat.
			if seen[id] && id != tasks[i].First {
				t.Fatalf("clip %s reused across tasks", id)
			}
			seen[id] = true
		}
	}

	wantOut := filepath.Join(cfg.Paths.OutputDir, "intro_montage.mp4")
	if report.Outcomes[0].OutputPath != wantOut {
		t.Fatalf("output path = %s, want %s", report.Outcomes[0].OutputPath, wantOut)
	}
	if _, err := os.Stat(wantOut); err != nil {
		t.Fatalf("expected output file: %v", err)
	}

	for _, dir := range norm.workDirs {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("work dir %s not removed (err=%v)", dir, err)
		}
	}

	committed := readLedger(t, cfg.Paths.LedgerFile)
	if len(committed) != len(seen) {
		t.Fatalf("ledger has %d entries, want %d", len(committed), len(seen))
	}
	for _, id := range committed {
		if !seen[id] {
			t.Fatalf("unexpected ledger entry %s", id)
		}
	}

	if len(sink.outcomes) != 2 {
		t.Fatalf("sink received %d outcomes, want 2", len(sink.outcomes))
	}
	rows, err := store.List(context.Background(), history.ListOptions{RunID: "run-test"})
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if len(rows) != 2 || rows[1].TaskID != "row-1" || len(rows[1].Inputs) != len(report.Outcomes[0].Playlist.ClipIDs) {
		t.Fatalf("unexpected history rows: %#v", rows)
	}
}

func TestFailedTaskRollsBackLedgerAndBatchContinues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	led := ledger.New()
	norm := &fakeNormalizer{failOn: map[int]error{
		0: fmt.Errorf("transcode: %w", normalize.ErrTranscodeFailure),
	}}
	conc := &fakeConcat{}
	sink := &recordingSink{}
	orch := newOrchestrator(t, cfg, led, norm, conc, composer.WithResultSink(sink))

	tasks := []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 100, First: "/clips/intro.mp4"},
		{ID: "row-2", TargetSeconds: 10, First: "/clips/e.mp4"},
	}
	report, err := orch.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	first := report.Outcomes[0]
	if first.State != composer.StateFailed || first.FailedIn != composer.StateNormalizing {
		t.Fatalf("unexpected first outcome: state=%s failedIn=%s", first.State, first.FailedIn)
	}
	if !errors.Is(first.Err, normalize.ErrTranscodeFailure) {
		t.Fatalf("expected transcode failure, got %v", first.Err)
	}
	if got := composer.FailureReason(first); got != "tool_failed during normalizing" {
		t.Fatalf("FailureReason = %q", got)
	}
	if report.Outcomes[1].State != composer.StateDone {
		t.Fatalf("second task should succeed, got %s (%v)", report.Outcomes[1].State, report.Outcomes[1].Err)
	}

	committed := readLedger(t, cfg.Paths.LedgerFile)
	for _, id := range committed {
		if id == "/clips/intro.mp4" {
			t.Fatal("failed task's mandatory clip must not be committed")
		}
	}
	if len(committed) != len(report.Outcomes[1].Playlist.ClipIDs) {
		t.Fatalf("ledger = %v, want only second task clips %v", committed, report.Outcomes[1].Playlist.ClipIDs)
	}
	if len(sink.outcomes) != 2 || sink.outcomes[0].State != composer.StateFailed {
		t.Fatalf("sink should see the failure first: %#v", sink.outcomes)
	}
}

func TestMissingMandatoryClipFailsInSelecting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	norm := &fakeNormalizer{}
	orch := newOrchestrator(t, cfg, ledger.New(), norm, &fakeConcat{})

	report, err := orch.Run(context.Background(), []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 60, First: "/clips/missing.mp4"},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	outcome := report.Outcomes[0]
	if outcome.FailedIn != composer.StateSelecting {
		t.Fatalf("failed in %s, want SELECTING", outcome.FailedIn)
	}
	if !errors.Is(outcome.Err, selection.ErrMissingMandatoryClip) || !errors.Is(outcome.Err, services.ErrNotFound) {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}
	if len(norm.calls) != 0 {
		t.Fatal("normalizer must not run for a failed selection")
	}
}

func TestDryRunSelectsWithoutCommitting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	orch, err := composer.New(cfg, testCatalog(), ledger.New(), nil, nil, nil, composer.WithDryRun(true))
	if err != nil {
		t.Fatalf("composer.New: %v", err)
	}

	report, err := orch.Run(context.Background(), []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 60, First: "/clips/intro.mp4"},
		{ID: "row-2", TargetSeconds: 60, First: "/clips/a.mp4"},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Committed {
		t.Fatal("dry run must not commit")
	}
	if _, err := os.Stat(cfg.Paths.LedgerFile); !os.IsNotExist(err) {
		t.Fatalf("ledger file should not exist, stat err=%v", err)
	}
	for _, outcome := range report.Outcomes {
		if outcome.State != composer.StatePlanned {
			t.Fatalf("state = %s, want PLANNED", outcome.State)
		}
	}
	if report.Counts()[composer.StatePlanned] != 2 {
		t.Fatalf("unexpected counts: %v", report.Counts())
	}
}

func TestNewRequiresPipelineOutsideDryRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := composer.New(cfg, testCatalog(), ledger.New(), nil, nil, nil); err == nil {
		t.Fatal("expected error without normalizer and concatenator")
	}
}

func TestCanceledContextStopsBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	norm := &fakeNormalizer{}
	orch := newOrchestrator(t, cfg, ledger.New(), norm, &fakeConcat{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := orch.Run(ctx, []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 60, First: "/clips/intro.mp4"},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(report.Outcomes) != 0 || len(norm.calls) != 0 {
		t.Fatalf("no task should run after cancel: %d outcomes", len(report.Outcomes))
	}
}

func TestLedgerCommitFailureIsSurfaced(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	blocker := filepath.Join(testsupport.BaseDir(cfg), "blocker")
	testsupport.WriteFile(t, blocker, 1)
	orch := newOrchestrator(t, cfg, ledger.New(), &fakeNormalizer{}, &fakeConcat{})
	cfg.Paths.LedgerFile = filepath.Join(blocker, "used.log")

	report, err := orch.Run(context.Background(), []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 10, First: "/clips/intro.mp4"},
	})
	if !errors.Is(err, ledger.ErrLedgerIO) {
		t.Fatalf("expected ErrLedgerIO, got %v", err)
	}
	if report.Committed {
		t.Fatal("report must not claim a commit")
	}
	if report.Outcomes[0].State != composer.StateDone {
		t.Fatalf("task outcome should be unaffected, got %s", report.Outcomes[0].State)
	}
}

func TestCommitPerTaskPersistsBeforeNextTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Selection.CommitPerTask = true

	var seenAtSecond []string
	norm := &fakeNormalizer{}
	norm.before = func(call int) {
		if call == 1 {
			data, _ := os.ReadFile(cfg.Paths.LedgerFile)
			seenAtSecond = strings.Fields(string(data))
		}
	}
	orch := newOrchestrator(t, cfg, ledger.New(), norm, &fakeConcat{})

	report, err := orch.Run(context.Background(), []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 10, First: "/clips/intro.mp4"},
		{ID: "row-2", TargetSeconds: 10, First: "/clips/a.mp4"},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(seenAtSecond) != len(report.Outcomes[0].Playlist.ClipIDs) {
		t.Fatalf("ledger before second task = %v, want first task clips %v", seenAtSecond, report.Outcomes[0].Playlist.ClipIDs)
	}
}

func TestMetricsTextfileWrittenAfterBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMetricsFile())
	m := newMetrics()
	orch := newOrchestrator(t, cfg, ledger.New(), &fakeNormalizer{}, &fakeConcat{}, composer.WithMetrics(m))

	if _, err := orch.Run(context.Background(), []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 10, First: "/clips/intro.mp4"},
	}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	content, err := os.ReadFile(cfg.Paths.MetricsFile)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(content), `montage_tasks_total{state="done"} 1`) {
		t.Fatalf("unexpected metrics:\n%s", content)
	}
}

func TestTaskOutputDirOverridesConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	custom := filepath.Join(testsupport.BaseDir(cfg), "custom")
	orch := newOrchestrator(t, cfg, ledger.New(), &fakeNormalizer{}, &fakeConcat{})

	report, err := orch.Run(context.Background(), []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 10, First: "/clips/intro.mp4", OutputDir: custom},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if want := filepath.Join(custom, "intro_montage.mp4"); report.Outcomes[0].OutputPath != want {
		t.Fatalf("output = %s, want %s", report.Outcomes[0].OutputPath, want)
	}
}

type recordingNotifier struct {
	started int
	done    int
	failed  int
	reasons []string
	err     error
}

func (n *recordingNotifier) BatchStarted(_ context.Context, tasks int) error {
	n.started = tasks
	return n.err
}

func (n *recordingNotifier) BatchCompleted(_ context.Context, done, failed int, _ time.Duration) error {
	n.done, n.failed = done, failed
	return n.err
}

func (n *recordingNotifier) TaskFailed(_ context.Context, taskID, reason string) error {
	n.reasons = append(n.reasons, taskID+": "+reason)
	return n.err
}

func TestNotifierSeesBatchAndFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	notifier := &recordingNotifier{err: errors.New("ntfy offline")}
	orch := newOrchestrator(t, cfg, ledger.New(), &fakeNormalizer{}, &fakeConcat{}, composer.WithNotifier(notifier))

	report, err := orch.Run(context.Background(), []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 60, First: "/clips/missing.mp4"},
		{ID: "row-2", TargetSeconds: 30, First: "/clips/a.mp4"},
	})
	if err != nil {
		t.Fatalf("notification errors must not fail the batch: %v", err)
	}
	if report.Outcomes[1].State != composer.StateDone {
		t.Fatalf("second task state = %s", report.Outcomes[1].State)
	}
	if notifier.started != 2 || notifier.done != 1 || notifier.failed != 1 {
		t.Fatalf("unexpected notifier counts: %+v", notifier)
	}
	if len(notifier.reasons) != 1 || notifier.reasons[0] != "row-1: not_found during selecting" {
		t.Fatalf("unexpected failure notifications: %v", notifier.reasons)
	}
}

func TestDryRunSkipsNotifier(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	notifier := &recordingNotifier{}
	orch, err := composer.New(cfg, testCatalog(), ledger.New(), nil, nil, nil,
		composer.WithDryRun(true), composer.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("composer.New: %v", err)
	}
	if _, err := orch.Run(context.Background(), []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 30, First: "/clips/a.mp4"},
	}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if notifier.started != 0 || notifier.done != 0 {
		t.Fatalf("dry run must not notify: %+v", notifier)
	}
}

func TestConcatFailureRemovesWorkDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	norm := &fakeNormalizer{}
	conc := &failingConcat{}
	orch := newOrchestrator(t, cfg, ledger.New(), norm, conc)

	report, err := orch.Run(context.Background(), []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 60, First: "/clips/intro.mp4"},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	outcome := report.Outcomes[0]
	if outcome.State != composer.StateFailed || outcome.FailedIn != composer.StateConcatenating {
		t.Fatalf("unexpected outcome: state=%s failedIn=%s", outcome.State, outcome.FailedIn)
	}
	if !errors.Is(outcome.Err, concat.ErrConcatFailure) {
		t.Fatalf("expected concat failure, got %v", outcome.Err)
	}
	if conc.calls != 1 {
		t.Fatalf("concatenate calls = %d, want 1", conc.calls)
	}
	assertWorkDirsRemoved(t, cfg, norm.workDirs)
}

func TestNormalizeFailureRemovesWorkDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	norm := &fakeNormalizer{failOn: map[int]error{
		0: fmt.Errorf("transcode: %w", normalize.ErrTranscodeFailure),
	}}
	conc := &fakeConcat{}
	orch := newOrchestrator(t, cfg, ledger.New(), norm, conc)

	report, err := orch.Run(context.Background(), []selection.CompositionTask{
		{ID: "row-1", TargetSeconds: 60, First: "/clips/intro.mp4"},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	outcome := report.Outcomes[0]
	if outcome.State != composer.StateFailed || outcome.FailedIn != composer.StateNormalizing {
		t.Fatalf("unexpected outcome: state=%s failedIn=%s", outcome.State, outcome.FailedIn)
	}
	if len(conc.outputs) != 0 {
		t.Fatal("concatenator must not run after a normalization failure")
	}
	assertWorkDirsRemoved(t, cfg, norm.workDirs)
}
