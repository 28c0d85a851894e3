package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Clip is a source clip for WriteCatalog.
type Clip struct {
	Name    string
	Seconds int
}

// WriteCatalog creates one placeholder file per clip under dir and writes a
// catalog feed at path referencing them. It returns the clip paths in order.
func WriteCatalog(t testing.TB, path, dir string, clips ...Clip) []string {
	t.Helper()

	var b strings.Builder
	b.WriteString("stt,file_path,duration,lastest_used_value\n")
	paths := make([]string, len(clips))
	for i, clip := range clips {
		paths[i] = filepath.Join(dir, clip.Name)
		WriteFile(t, paths[i], 16)
		fmt.Fprintf(&b, "%d,%s,%d:%02d,0\n", i+1, paths[i], clip.Seconds/60, clip.Seconds%60)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write catalog %s: %v", path, err)
	}
	return paths
}
