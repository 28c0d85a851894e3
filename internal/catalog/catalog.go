package catalog

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"montage/internal/logging"
)

// Entry is one selectable source clip.
type Entry struct {
	// ID is the clip path as it appears in the feed; it is the identity used
	// by the ledger.
	ID       string
	Name     string
	Duration float64
	Seq      int
	// Freshness is the clip age in seconds recorded at ingestion time.
	Freshness int64
}

// Catalog is an indexed, read-only view of the entries for one run.
type Catalog struct {
	entries map[string]Entry
	ids     []string
}

// New builds a catalog from entries. Later duplicates of an id are ignored.
func New(entries []Entry) *Catalog {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, entry := range entries {
		entry.ID = strings.TrimSpace(entry.ID)
		if entry.ID == "" {
			continue
		}
		if _, exists := c.entries[entry.ID]; exists {
			continue
		}
		if entry.Name == "" {
			entry.Name = DisplayName(entry.ID)
		}
		c.entries[entry.ID] = entry
		c.ids = append(c.ids, entry.ID)
	}
	sortIDs(c.ids, c.entries)
	return c
}

// Lookup returns the entry for id.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	entry, ok := c.entries[id]
	return entry, ok
}

// IDs returns every id ordered by display name, ties broken by id.
func (c *Catalog) IDs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Entries returns entries in IDs order.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.entries[id])
	}
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ids)
}

// TotalSeconds sums every entry duration.
func (c *Catalog) TotalSeconds() float64 {
	var total float64
	for _, entry := range c.Entries() {
		total += entry.Duration
	}
	return total
}

// DisplayName is the base name of a clip path without its extension.
func DisplayName(id string) string {
	// Feeds produced on Windows carry backslash separators.
	base := filepath.Base(strings.ReplaceAll(id, `\`, "/"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func sortIDs(ids []string, entries map[string]Entry) {
	collator := collate.New(language.Und, collate.Loose, collate.Numeric)
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := entries[ids[i]], entries[ids[j]]
		if cmp := collator.CompareString(a.Name, b.Name); cmp != 0 {
			return cmp < 0
		}
		return a.ID < b.ID
	})
}

func logMalformed(logger *slog.Logger, path string, line int, id, raw string, err error) {
	logging.WarnWithContext(logger, "catalog duration malformed; treating as 0s", "catalog_duration_malformed",
		logging.String("feed", path),
		logging.Int("line", line),
		logging.String("clip", id),
		logging.String("duration_text", raw),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "re-run montage catalog ingest or fix the duration cell"),
		logging.String(logging.FieldImpact, "clip contributes 0s toward targets"),
	)
}
