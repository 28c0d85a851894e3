package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"montage/internal/logging"
	"montage/internal/services"
)

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	return path
}

func TestLoadParsesFeed(t *testing.T) {
	path := writeFeed(t, "\ufeffSTT,File_Path,Duration,lastest_used_value\n"+
		"1,/clips/b.mp4,1:05,120\n"+
		"2,\"/clips/a, comma.mp4\",0:40,30\n"+
		"3,/clips/c.mp4,1:00:00,0\n")

	cat, err := Load(path, 0, logging.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 3 {
		t.Fatalf("Len = %d, want 3", cat.Len())
	}
	entry, ok := cat.Lookup("/clips/b.mp4")
	if !ok {
		t.Fatal("expected /clips/b.mp4")
	}
	want := Entry{ID: "/clips/b.mp4", Name: "b", Duration: 65, Seq: 1, Freshness: 120}
	if entry != want {
		t.Fatalf("entry = %+v, want %+v", entry, want)
	}
	if got, _ := cat.Lookup("/clips/c.mp4"); got.Duration != 3600 {
		t.Fatalf("hour duration = %v", got.Duration)
	}
	if got := cat.IDs(); !reflect.DeepEqual(got, []string{"/clips/a, comma.mp4", "/clips/b.mp4", "/clips/c.mp4"}) {
		t.Fatalf("IDs = %v", got)
	}
}

func TestLoadMalformedDurationDegradesToZero(t *testing.T) {
	path := writeFeed(t, "stt,file_path,duration,lastest_used_value\n1,/clips/bad.mp4,oops,0\n2,/clips/ok.mp4,0:10,0\n")

	cat, err := Load(path, 0, logging.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry, ok := cat.Lookup("/clips/bad.mp4")
	if !ok {
		t.Fatal("malformed row should remain in the catalog")
	}
	if entry.Duration != 0 {
		t.Fatalf("duration = %v, want 0", entry.Duration)
	}

	filtered, err := Load(path, 1, logging.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := filtered.Lookup("/clips/bad.mp4"); ok {
		t.Fatal("min seconds should exclude zero-length rows")
	}
	if filtered.Len() != 1 {
		t.Fatalf("Len = %d, want 1", filtered.Len())
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"), 0, nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	path := writeFeed(t, "stt,path,duration\n1,/a.mp4,0:10\n")
	_, err = Load(path, 0, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing column, got %v", err)
	}
}

func TestLoadEmptyFeed(t *testing.T) {
	cat, err := Load(writeFeed(t, ""), 0, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 0 {
		t.Fatalf("Len = %d, want 0", cat.Len())
	}
}

func TestIDsUseCollationThenID(t *testing.T) {
	cat := New([]Entry{
		{ID: "/b/clip10.mp4", Duration: 1},
		{ID: "/a/Clip2.mp4", Duration: 1},
		{ID: "/z/alpha.mp4", Duration: 1},
		{ID: "/a/clip10.mp4", Duration: 1},
		{ID: "/a/clip10.mp4", Duration: 99},
	})
	want := []string{"/z/alpha.mp4", "/a/Clip2.mp4", "/a/clip10.mp4", "/b/clip10.mp4"}
	if got := cat.IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs = %v, want %v", got, want)
	}
	if entry, _ := cat.Lookup("/a/clip10.mp4"); entry.Duration != 1 {
		t.Fatalf("first duplicate should win, got %v", entry.Duration)
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"/clips/intro.mp4":     "intro",
		`D:\clips\outro.mov`:   "outro",
		"plain":                "plain",
		"/clips/two.parts.mkv": "two.parts",
	}
	for input, want := range cases {
		if got := DisplayName(input); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", input, got, want)
		}
	}
}
