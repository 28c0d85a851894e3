// Package concat joins normalized clips into one output with ffmpeg's
// concat demuxer, copying streams without re-encoding.
package concat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"montage/internal/deps"
	"montage/internal/fileutil"
	"montage/internal/logging"
	"montage/internal/media/ffmpeg"
	"montage/internal/services"
)

// ErrConcatFailure is returned when the join does not produce an output.
var ErrConcatFailure = fmt.Errorf("concat failed: %w", services.ErrExternalTool)

// ManifestName is the concat list written next to the artifacts.
const ManifestName = "concat_list.txt"

// Concatenator runs the stream-copy join.
type Concatenator struct {
	binary  string
	logger  *slog.Logger
	run     ffmpeg.Runner
	resolve func(configured, name string) (string, error)
}

// Option customizes a Concatenator.
type Option func(*Concatenator)

// WithCommandRunner injects a custom command runner (primarily for tests).
func WithCommandRunner(r ffmpeg.Runner) Option {
	return func(c *Concatenator) {
		if r != nil {
			c.run = r
		}
	}
}

// WithBinaryResolver overrides how the ffmpeg binary is located.
func WithBinaryResolver(fn func(configured, name string) (string, error)) Option {
	return func(c *Concatenator) {
		if fn != nil {
			c.resolve = fn
		}
	}
}

// New constructs a Concatenator for the given ffmpeg binary.
func New(binary string, logger *slog.Logger, opts ...Option) *Concatenator {
	c := &Concatenator{
		binary:  binary,
		logger:  logging.NewComponentLogger(logger, "concat"),
		run:     ffmpeg.Run,
		resolve: deps.ResolveBinary,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Concatenate joins artifacts, in order, into outputPath. The manifest is
// written beside the first artifact and removed on every path. Deleting the
// artifacts themselves is left to the caller.
func (c *Concatenator) Concatenate(ctx context.Context, artifacts []string, outputPath string) error {
	if len(artifacts) == 0 {
		return fmt.Errorf("%w: no artifacts to join", ErrConcatFailure)
	}
	binary, err := c.resolve(c.binary, "ffmpeg")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConcatFailure, err)
	}

	manifest, err := BuildManifest(artifacts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConcatFailure, err)
	}
	manifestPath := filepath.Join(filepath.Dir(artifacts[0]), ManifestName)
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		return services.Wrap(ErrConcatFailure, "concat", "write manifest", manifestPath, err)
	}
	defer func() {
		_ = os.Remove(manifestPath)
	}()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return services.Wrap(ErrConcatFailure, "concat", "ensure output dir", filepath.Dir(outputPath), err)
	}

	logger := logging.WithContext(ctx, c.logger)
	start := time.Now()
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", manifestPath, "-c", "copy", outputPath}
	if err := c.run(ctx, binary, args...); err != nil {
		_ = os.Remove(outputPath)
		if ctx.Err() != nil {
			return fmt.Errorf("concat canceled: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %s: %w", ErrConcatFailure, outputPath, err)
	}
	if !fileutil.FileExists(outputPath) {
		return fmt.Errorf("%w: %s was not created", ErrConcatFailure, outputPath)
	}

	logger.Info("concat completed",
		slog.String("output", outputPath),
		slog.Int("segments", len(artifacts)),
		slog.Duration("elapsed", time.Since(start)),
		slog.String(logging.FieldEventType, "concat_completed"),
	)
	return nil
}

// BuildManifest renders the concat demuxer list: one "file '<abs>'" line per
// artifact, with embedded single quotes escaped as '\''.
func BuildManifest(artifacts []string) (string, error) {
	var b strings.Builder
	for _, artifact := range artifacts {
		abs, err := filepath.Abs(artifact)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", artifact, err)
		}
		abs = filepath.ToSlash(abs)
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String(), nil
}
