package history_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"montage/internal/history"
	"montage/internal/testsupport"
)

func TestRecordAndGetRoundTripsInputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := &history.Composition{
		RunID:         "run-1",
		TaskID:        "row-2",
		Row:           2,
		OutputPath:    "/out/intro_montage.mp4",
		State:         history.StateDone,
		TargetSeconds: 120,
		TotalSeconds:  131,
		OutputSeconds: 130.9,
		Resets:        1,
		StartedAt:     started,
		FinishedAt:    started.Add(90 * time.Second),
		Inputs:        []string{"/clips/intro.mp4", "/clips/b.mp4", "/clips/a.mp4"},
	}
	if err := store.Record(ctx, c); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("expected id to be assigned")
	}

	got, err := store.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected composition")
	}
	if got.TaskID != "row-2" || got.Row != 2 || got.State != history.StateDone || got.Resets != 1 {
		t.Fatalf("unexpected composition: %#v", got)
	}
	if len(got.Inputs) != 3 || got.Inputs[0] != "/clips/intro.mp4" || got.Inputs[2] != "/clips/a.mp4" {
		t.Fatalf("inputs out of order: %v", got.Inputs)
	}
	if got.Elapsed() != 90*time.Second {
		t.Fatalf("elapsed = %v, want 90s", got.Elapsed())
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	got, err := store.Get(context.Background(), 999)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %#v", got)
	}
}

func TestRecordRejectsInvalidState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	err := store.Record(context.Background(), &history.Composition{TaskID: "row-1", State: "weird"})
	if err == nil {
		t.Fatal("expected error for invalid state")
	}
}

func TestListFilters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	records := []*history.Composition{
		{RunID: "run-a", TaskID: "row-1", State: history.StateDone, Inputs: []string{"x.mp4", "shared.mp4"}},
		{RunID: "run-a", TaskID: "row-2", State: history.StateFailed, Error: "tool_failed"},
		{RunID: "run-b", TaskID: "row-1", State: history.StateDone, Inputs: []string{"shared.mp4"}},
	}
	for _, rec := range records {
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	cases := []struct {
		name string
		opts history.ListOptions
		want []int64
	}{
		{"all newest first", history.ListOptions{}, []int64{records[2].ID, records[1].ID, records[0].ID}},
		{"limit", history.ListOptions{Limit: 1}, []int64{records[2].ID}},
		{"run", history.ListOptions{RunID: "run-a"}, []int64{records[1].ID, records[0].ID}},
		{"failed", history.ListOptions{OnlyFailed: true}, []int64{records[1].ID}},
		{"clip", history.ListOptions{Clip: "shared.mp4"}, []int64{records[2].ID, records[0].ID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.List(ctx, tc.opts)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d rows, want %d", len(got), len(tc.want))
			}
			for i, c := range got {
				if c.ID != tc.want[i] {
					t.Fatalf("row %d id = %d, want %d", i, c.ID, tc.want[i])
				}
			}
		})
	}
}

func TestPruneRemovesOldRowsAndInputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	old := &history.Composition{
		TaskID:    "row-1",
		State:     history.StateDone,
		StartedAt: time.Now().Add(-48 * time.Hour),
		Inputs:    []string{"a.mp4"},
	}
	fresh := &history.Composition{TaskID: "row-2", State: history.StateDone, Inputs: []string{"b.mp4"}}
	for _, rec := range []*history.Composition{old, fresh} {
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	rows, err := store.List(ctx, history.ListOptions{Clip: "a.mp4"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected pruned inputs to be gone, got %d rows", len(rows))
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	path := store.Path()
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := history.OpenPath(path); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
