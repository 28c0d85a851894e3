package history

import (
	"strings"
	"time"
)

// State is the terminal state of a recorded composition.
type State string

const (
	StateDone    State = "done"
	StateFailed  State = "failed"
	StateSkipped State = "skipped"
)

// ParseState maps a stored or user-provided string to a State.
func ParseState(value string) (State, bool) {
	switch State(strings.ToLower(strings.TrimSpace(value))) {
	case StateDone:
		return StateDone, true
	case StateFailed:
		return StateFailed, true
	case StateSkipped:
		return StateSkipped, true
	default:
		return "", false
	}
}

// Composition is one task outcome in the history database.
type Composition struct {
	ID            int64
	RunID         string
	TaskID        string
	Row           int
	OutputPath    string
	State         State
	Error         string
	TargetSeconds float64
	TotalSeconds  float64
	OutputSeconds float64
	Underfilled   bool
	Resets        int
	StartedAt     time.Time
	FinishedAt    time.Time
	// Inputs are the clip ids in playlist order.
	Inputs []string
}

// Elapsed returns the wall time the task took, or zero when unfinished.
func (c *Composition) Elapsed() time.Duration {
	if c == nil || c.FinishedAt.IsZero() || c.StartedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// ListOptions filters List results. Zero values mean no filter.
type ListOptions struct {
	Limit      int
	RunID      string
	OnlyFailed bool
	// Clip restricts results to compositions that used this clip.
	Clip string
}
