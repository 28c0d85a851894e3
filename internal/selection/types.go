package selection

import "strings"

// CompositionTask describes one output to build.
type CompositionTask struct {
	ID string
	// Row is the 1-based data row in the task feed, 0 when not feed-backed.
	Row           int
	TargetSeconds float64
	First         string
	Second        string
	Third         string
	// OutputDir overrides the configured output directory when set.
	OutputDir string
}

// Mandatory returns the pinned clips in order, skipping empty optional slots.
func (t CompositionTask) Mandatory() []string {
	out := make([]string, 0, 3)
	for _, id := range []string{t.First, t.Second, t.Third} {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// PlaylistResult is the selector's answer for one task.
type PlaylistResult struct {
	TaskID       string
	ClipIDs      []string
	TotalSeconds float64
	// Underfilled is set when the catalog ran dry before the target was met.
	Underfilled bool
	// Resets counts exhaustion resets triggered while building this playlist.
	Resets int
}

// Shortfall returns how many seconds the playlist is below target.
func (r PlaylistResult) Shortfall(target float64) float64 {
	if r.TotalSeconds >= target {
		return 0
	}
	return target - r.TotalSeconds
}
