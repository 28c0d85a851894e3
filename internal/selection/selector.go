package selection

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"montage/internal/catalog"
	"montage/internal/services"
)

var (
	// ErrMissingMandatoryClip is returned when a pinned clip is not in the catalog.
	ErrMissingMandatoryClip = fmt.Errorf("mandatory clip not in catalog: %w", services.ErrNotFound)
	// ErrInvalidTask is returned for tasks without a first clip or a positive target.
	ErrInvalidTask = fmt.Errorf("invalid composition task: %w", services.ErrValidation)
)

// Catalog is the read side of catalog.Catalog used by the selector.
type Catalog interface {
	Lookup(id string) (catalog.Entry, bool)
	IDs() []string
}

// Ledger is the usage state consulted and updated during selection.
type Ledger interface {
	Available(id string) bool
	MarkUsed(ids ...string)
	// Reset forgets persisted usage and reports whether anything was
	// forgotten.
	Reset() bool
}

var slotNames = []string{"first", "second", "third"}

// Select builds the playlist for task. Every id it returns has been marked
// used on l. On error nothing is marked.
func Select(task CompositionTask, cat Catalog, l Ledger, rng *rand.Rand) (PlaylistResult, error) {
	if cat == nil || l == nil || rng == nil {
		return PlaylistResult{}, errors.New("select: catalog, ledger and rng are required")
	}
	if strings.TrimSpace(task.First) == "" {
		return PlaylistResult{}, fmt.Errorf("%w: task %s has no first clip", ErrInvalidTask, task.ID)
	}
	if task.TargetSeconds <= 0 {
		return PlaylistResult{}, fmt.Errorf("%w: task %s target %.0fs must be positive", ErrInvalidTask, task.ID, task.TargetSeconds)
	}

	result := PlaylistResult{TaskID: task.ID}
	chosen := make(map[string]struct{})

	slots := []string{task.First, task.Second, task.Third}
	for i, raw := range slots {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		entry, ok := cat.Lookup(id)
		if !ok {
			return PlaylistResult{}, fmt.Errorf("%w: %s clip %q (task %s)", ErrMissingMandatoryClip, slotNames[i], id, task.ID)
		}
		if _, dup := chosen[id]; dup {
			continue
		}
		chosen[id] = struct{}{}
		result.ClipIDs = append(result.ClipIDs, id)
		result.TotalSeconds += entry.Duration
	}
	l.MarkUsed(result.ClipIDs...)

	ids := cat.IDs()
	for result.TotalSeconds < task.TargetSeconds {
		pool := eligible(ids, l)
		if len(pool) == 0 {
			// Only persisted usage can be forgotten; once it is gone the
			// catalog has nothing left to give this task.
			if !l.Reset() {
				result.Underfilled = true
				break
			}
			result.Resets++
			continue
		}

		for len(pool) > 0 && result.TotalSeconds < task.TargetSeconds {
			k := rng.IntN(len(pool))
			id := pool[k]
			pool[k] = pool[len(pool)-1]
			pool = pool[:len(pool)-1]

			if _, dup := chosen[id]; dup || !l.Available(id) {
				continue
			}
			entry, ok := cat.Lookup(id)
			if !ok {
				continue
			}
			chosen[id] = struct{}{}
			result.ClipIDs = append(result.ClipIDs, id)
			result.TotalSeconds += entry.Duration
			l.MarkUsed(id)
		}
	}
	return result, nil
}

func eligible(ids []string, l Ledger) []string {
	pool := make([]string, 0, len(ids))
	for _, id := range ids {
		if l.Available(id) {
			pool = append(pool, id)
		}
	}
	return pool
}

// NewRand returns a PCG-backed source. A zero seed draws a random one.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}
