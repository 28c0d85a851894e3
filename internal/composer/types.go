package composer

import (
	"context"
	"time"

	"montage/internal/selection"
)

// State is a task's position in the composition state machine.
type State string

const (
	StatePending       State = "PENDING"
	StateSelecting     State = "SELECTING"
	StateNormalizing   State = "NORMALIZING"
	StateConcatenating State = "CONCATENATING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
	// StatePlanned is terminal for dry runs: a playlist was selected but
	// nothing was transcoded.
	StatePlanned State = "PLANNED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StatePlanned
}

// Stage returns the lowercase label used in log context.
func (s State) Stage() string {
	switch s {
	case StateSelecting:
		return "selecting"
	case StateNormalizing:
		return "normalizing"
	case StateConcatenating:
		return "concatenating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StatePlanned:
		return "planned"
	default:
		return "pending"
	}
}

// TaskOutcome is the per-task record handed to the ResultSink.
type TaskOutcome struct {
	Task     selection.CompositionTask
	Playlist selection.PlaylistResult
	// OutputPath is set once the output name is known, even on failure.
	OutputPath string
	State      State
	// FailedIn is the state the task was in when it failed.
	FailedIn State
	Err      error
	// OutputSeconds is the probed length of the composed file, 0 if unknown.
	OutputSeconds float64
	StartedAt     time.Time
	Duration      time.Duration
}

// Succeeded reports whether the task produced an output.
func (o TaskOutcome) Succeeded() bool {
	return o.State == StateDone
}

// TaskFeed supplies the tasks for a batch.
type TaskFeed interface {
	Tasks(ctx context.Context) ([]selection.CompositionTask, error)
}

// ResultSink receives one outcome per finished task.
type ResultSink interface {
	Report(ctx context.Context, outcome TaskOutcome) error
}

// Normalizer transcodes clips into uniform artifacts inside workDir.
type Normalizer interface {
	NormalizeAll(ctx context.Context, workDir string, clipIDs []string) ([]string, error)
}

// Concatenator joins normalized artifacts into the final output.
type Concatenator interface {
	Concatenate(ctx context.Context, artifacts []string, outputPath string) error
}

// DurationProber measures a media file in seconds.
type DurationProber func(ctx context.Context, path string) (float64, error)

// BatchReport summarizes one Run.
type BatchReport struct {
	RunID      string
	Outcomes   []TaskOutcome
	Committed  bool
	LedgerSize int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Counts returns how many outcomes ended in each state.
func (r BatchReport) Counts() map[State]int {
	counts := make(map[State]int, 3)
	for _, o := range r.Outcomes {
		counts[o.State]++
	}
	return counts
}

// Failed returns the failed outcomes in task order.
func (r BatchReport) Failed() []TaskOutcome {
	var out []TaskOutcome
	for _, o := range r.Outcomes {
		if o.State == StateFailed {
			out = append(out, o)
		}
	}
	return out
}
