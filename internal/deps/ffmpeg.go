package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// ResolveBinary returns the absolute path of the configured binary, falling
// back to name when nothing is configured.
func ResolveBinary(configured, name string) (string, error) {
	cmd := strings.TrimSpace(configured)
	if cmd == "" {
		cmd = name
	}
	resolved, err := lookPath(cmd)
	if err != nil {
		return "", fmt.Errorf("binary %q not found: %w", cmd, err)
	}
	return resolved, nil
}

// HasNVIDIA reports whether nvidia-smi is on PATH, which is how the
// normalizer decides that the h264_nvenc encoder can be used.
func HasNVIDIA() bool {
	_, err := lookPath("nvidia-smi")
	return err == nil
}
