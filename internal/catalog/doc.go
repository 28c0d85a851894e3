// Package catalog holds the in-memory table of source clips a run may draw
// from, and the ingestion step that builds the CSV feed it is loaded from.
//
// Entries are immutable once loaded. IDs returns identifiers in a stable,
// locale-aware order of display name so that a seeded selection is
// reproducible across machines.
package catalog
