package ledger

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"montage/internal/fileutil"
	"montage/internal/services"
)

// ErrLedgerIO marks failures reading or writing the ledger file.
var ErrLedgerIO = errors.New("ledger io failure")

// Ledger is the in-memory usage state for one run.
type Ledger struct {
	used   map[string]struct{}
	newly  map[string]struct{}
	order  []string
	resets int
}

// New returns a ledger seeded with previously used ids.
func New(used ...string) *Ledger {
	l := &Ledger{
		used:  make(map[string]struct{}, len(used)),
		newly: make(map[string]struct{}),
	}
	for _, id := range used {
		if id = strings.TrimSpace(id); id != "" {
			l.used[id] = struct{}{}
		}
	}
	return l
}

// Load reads a newline-delimited ledger file. A missing file yields an empty
// ledger and no error. Any other read failure also yields an empty, usable
// ledger; the returned error is informational.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return New(), services.Wrap(ErrLedgerIO, "ledger", "load", "Failed to read usage ledger; treating as empty", err)
	}

	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ids = append(ids, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return New(), services.Wrap(ErrLedgerIO, "ledger", "parse", "Failed to parse usage ledger; treating as empty", err)
	}
	return New(ids...), nil
}

// Available reports whether id may be drawn: it is neither persisted as used
// nor consumed earlier in this run.
func (l *Ledger) Available(id string) bool {
	if _, ok := l.used[id]; ok {
		return false
	}
	_, ok := l.newly[id]
	return !ok
}

// MarkUsed records ids as consumed in this run.
func (l *Ledger) MarkUsed(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := l.newly[id]; ok {
			continue
		}
		l.newly[id] = struct{}{}
		l.order = append(l.order, id)
	}
}

// Reset applies the exhaustion rule: persisted usage is forgotten for the
// rest of the run while ids consumed in this run stay ineligible. It reports
// false, and counts nothing, when there was no persisted usage left to forget.
func (l *Ledger) Reset() bool {
	if len(l.used) == 0 {
		return false
	}
	l.used = make(map[string]struct{})
	l.resets++
	return true
}

// Resets returns how many exhaustion resets happened during the run.
func (l *Ledger) Resets() int {
	return l.resets
}

// Checkpoint returns a marker for the current run accumulator.
func (l *Ledger) Checkpoint() int {
	return len(l.order)
}

// Rollback removes ids marked after checkpoint cp. It is used to discard the
// selections of a task that did not complete.
func (l *Ledger) Rollback(cp int) {
	if cp < 0 || cp >= len(l.order) {
		return
	}
	for _, id := range l.order[cp:] {
		delete(l.newly, id)
	}
	l.order = l.order[:cp]
}

// NewlyUsed returns ids consumed in this run, in the order they were marked.
func (l *Ledger) NewlyUsed() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Len returns the number of ids that would be persisted by Commit.
func (l *Ledger) Len() int {
	n := len(l.used)
	for id := range l.newly {
		if _, ok := l.used[id]; !ok {
			n++
		}
	}
	return n
}

// Snapshot returns the sorted union of persisted and newly used ids.
func (l *Ledger) Snapshot() []string {
	out := make([]string, 0, len(l.used)+len(l.newly))
	for id := range l.used {
		out = append(out, id)
	}
	for id := range l.newly {
		if _, ok := l.used[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Commit atomically rewrites path with the sorted union of persisted and
// newly used ids. On failure the previous file is left untouched.
func (l *Ledger) Commit(path string) error {
	ids := l.Snapshot()
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return services.Wrap(ErrLedgerIO, "ledger", "commit", fmt.Sprintf("Failed to persist %d ledger entries", len(ids)), err)
	}
	return nil
}
