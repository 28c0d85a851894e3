package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"montage/internal/config"
	"montage/internal/deps"
	"montage/internal/fileutil"
	"montage/internal/logging"
	"montage/internal/media/ffmpeg"
	"montage/internal/services"
)

var (
	// ErrToolUnavailable is returned before any job starts when ffmpeg cannot be resolved.
	ErrToolUnavailable = fmt.Errorf("transcoder unavailable: %w", services.ErrExternalTool)
	// ErrTranscodeFailure is returned when a clip's ffmpeg process fails.
	ErrTranscodeFailure = fmt.Errorf("transcode failed: %w", services.ErrExternalTool)
)

const defaultWorkers = 8

// Pipeline transcodes clips to a Profile.
type Pipeline struct {
	binary     string
	workers    int
	profile    Profile
	encoder    Encoder
	jobTimeout time.Duration
	logger     *slog.Logger
	run        ffmpeg.Runner
	resolve    func(configured, name string) (string, error)
	progress   func(done, total int)
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithCommandRunner injects a custom command runner (primarily for tests).
func WithCommandRunner(r ffmpeg.Runner) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.run = r
		}
	}
}

// WithBinaryResolver overrides how the ffmpeg binary is located.
func WithBinaryResolver(fn func(configured, name string) (string, error)) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.resolve = fn
		}
	}
}

// WithEncoder forces an encoder instead of probing for a GPU.
func WithEncoder(enc Encoder) Option {
	return func(p *Pipeline) {
		if enc != "" {
			p.encoder = enc
		}
	}
}

// WithProgress registers a callback invoked from workers after each clip.
func WithProgress(fn func(done, total int)) Option {
	return func(p *Pipeline) {
		p.progress = fn
	}
}

// New builds a pipeline from the normalize config section. The h264_nvenc
// encoder is chosen when use_nvenc is set and nvidia-smi is on PATH.
func New(cfg config.Normalize, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		binary:     cfg.FFmpegBinary,
		workers:    cfg.Workers,
		profile:    ProfileFromConfig(cfg),
		jobTimeout: time.Duration(cfg.JobTimeoutSeconds) * time.Second,
		logger:     logging.NewComponentLogger(logger, "normalize"),
		run:        ffmpeg.Run,
		resolve:    deps.ResolveBinary,
	}
	if p.workers <= 0 {
		p.workers = defaultWorkers
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.encoder == "" {
		p.encoder = EncoderX264
		if cfg.UseNVENC && deps.HasNVIDIA() {
			p.encoder = EncoderNVENC
		}
	}
	return p
}

// Encoder reports the video encoder the pipeline will use.
func (p *Pipeline) Encoder() Encoder {
	return p.encoder
}

// NormalizeAll transcodes clipIDs into workDir and returns the artifact
// paths in input order.
func (p *Pipeline) NormalizeAll(ctx context.Context, workDir string, clipIDs []string) ([]string, error) {
	if len(clipIDs) == 0 {
		return nil, nil
	}
	binary, err := p.resolve(p.binary, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrToolUnavailable, err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "normalize", "prepare work dir", workDir, err)
	}

	logger := logging.WithContext(ctx, p.logger)
	logger.Info("normalization started",
		slog.Int("clips", len(clipIDs)),
		slog.Int("workers", p.workers),
		slog.String("encoder", string(p.encoder)),
		slog.String(logging.FieldEventType, "normalize_started"),
	)
	start := time.Now()

	artifacts := make([]string, len(clipIDs))
	var done atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.workers)
	for i, clip := range clipIDs {
		output := filepath.Join(workDir, ArtifactName(i))
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			if err := p.transcode(groupCtx, binary, i, clip, output); err != nil {
				return err
			}
			artifacts[i] = output
			n := done.Add(1)
			logger.Debug("clip normalized",
				slog.Int("index", i),
				slog.String("clip", clip),
				slog.Int64("done", n),
			)
			if p.progress != nil {
				p.progress(int(n), len(clipIDs))
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		removeArtifacts(workDir, len(clipIDs))
		if ctx.Err() != nil && !errors.Is(err, ErrTranscodeFailure) {
			return nil, fmt.Errorf("normalize canceled: %w", ctx.Err())
		}
		return nil, err
	}

	logger.Info("normalization completed",
		slog.Int("clips", len(clipIDs)),
		slog.Duration("elapsed", time.Since(start)),
		slog.String(logging.FieldEventType, "normalize_completed"),
	)
	return artifacts, nil
}

func (p *Pipeline) transcode(ctx context.Context, binary string, index int, clip, output string) error {
	if !fileutil.FileExists(clip) {
		return fmt.Errorf("%w: clip %d %q: %w", ErrTranscodeFailure, index, clip, services.ErrNotFound)
	}
	jobCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	if err := p.run(jobCtx, binary, Args(clip, output, p.profile, p.encoder)...); err != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: clip %d %q exceeded %s: %w", ErrTranscodeFailure, index, clip, p.jobTimeout, services.ErrTimeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: clip %d %q: %w", ErrTranscodeFailure, index, clip, err)
	}
	return nil
}

// removeArtifacts deletes every normalized_<NNN>.mp4 a failed batch may have
// produced, including files ffmpeg left half-written.
func removeArtifacts(workDir string, count int) {
	for i := 0; i < count; i++ {
		_ = os.Remove(filepath.Join(workDir, ArtifactName(i)))
	}
}
