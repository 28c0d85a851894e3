package textutil

import (
	"path/filepath"
	"strings"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. The result is trimmed of leading/trailing whitespace.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(fileNameReplacer.Replace(name))
}

// OutputFileName derives the composed output name from the first clip:
// "<basename without extension>_<suffix>.mp4".
func OutputFileName(firstClip, suffix string) string {
	base := filepath.Base(strings.TrimSpace(firstClip))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = SanitizeFileName(base)
	if base == "" || base == "." {
		base = "output"
	}
	suffix = SanitizeFileName(suffix)
	if suffix == "" {
		return base + ".mp4"
	}
	return base + "_" + suffix + ".mp4"
}
