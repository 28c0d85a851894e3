package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"montage/internal/logging"
	"montage/internal/media/ffprobe"
)

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestIngestProbesAndWritesFeed(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mtime := now.Add(-90 * time.Second)
	touch(t, filepath.Join(dir, "a.mp4"), mtime)
	touch(t, filepath.Join(dir, "B.MOV"), mtime)
	touch(t, filepath.Join(dir, "notes.txt"), mtime)
	touch(t, filepath.Join(dir, "sub", "c.mkv"), mtime)

	restore := ffprobe.SetRunnerForTests(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		path := args[len(args)-1]
		switch filepath.Base(path) {
		case "B.MOV":
			return nil, errors.New("invalid data found when processing input")
		case "c.mkv":
			return []byte(`{"format":{"duration":"125.9"}}`), nil
		default:
			return []byte(`{"format":{"duration":"40.2"}}`), nil
		}
	})
	defer restore()

	out := filepath.Join(t.TempDir(), "feed", "catalog.csv")
	var calls atomic.Int64
	report, err := Ingest(context.Background(), dir, out, IngestOptions{
		Workers:  2,
		Logger:   logging.NewNop(),
		Now:      func() time.Time { return now },
		Progress: func(int, int) { calls.Add(1) },
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Found != 3 || report.Added != 3 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if calls.Load() != 3 {
		t.Fatalf("progress calls = %d, want 3", calls.Load())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "\ufeffstt,file_path,duration,lastest_used_value\n") {
		t.Fatalf("unexpected header: %q", text)
	}
	for _, want := range []string{
		"1," + filepath.Join(dir, "B.MOV") + ",0:00,90",
		"2," + filepath.Join(dir, "a.mp4") + ",0:40,90",
		"3," + filepath.Join(dir, "sub", "c.mkv") + ",2:05,90",
	} {
		if !strings.Contains(text, want+"\n") {
			t.Fatalf("expected row %q in %q", want, text)
		}
	}

	cat, err := Load(out, 0, logging.NewNop())
	if err != nil {
		t.Fatalf("Load ingested feed: %v", err)
	}
	if cat.Len() != 3 {
		t.Fatalf("Len = %d, want 3", cat.Len())
	}
}

func TestIngestAppendKeepsExistingRows(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, "a.mp4"), now)

	restore := ffprobe.SetRunnerForTests(func(context.Context, string, ...string) ([]byte, error) {
		return []byte(`{"format":{"duration":"10"}}`), nil
	})
	defer restore()

	out := filepath.Join(t.TempDir(), "catalog.csv")
	if _, err := Ingest(context.Background(), dir, out, IngestOptions{}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	touch(t, filepath.Join(dir, "b.avi"), now)
	report, err := Ingest(context.Background(), dir, out, IngestOptions{Append: true})
	if err != nil {
		t.Fatalf("append ingest: %v", err)
	}
	if report.Kept != 1 || report.Added != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	cat, err := Load(out, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := cat.Lookup(filepath.Join(dir, "b.avi"))
	if !ok || entry.Seq != 2 {
		t.Fatalf("appended entry = %+v ok=%v, want seq 2", entry, ok)
	}
}

func TestIngestRejectsMissingFolder(t *testing.T) {
	_, err := Ingest(context.Background(), filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "c.csv"), IngestOptions{})
	if err == nil {
		t.Fatal("expected error for missing folder")
	}
}

func TestIngestHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.mp4"), time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := filepath.Join(t.TempDir(), "c.csv")
	if _, err := Ingest(ctx, dir, out, IngestOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatal("feed must not be written after cancellation")
	}
}
