package normalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"montage/internal/config"
	"montage/internal/logging"
	"montage/internal/services"
)

func testConfig() config.Normalize {
	cfg := config.Default().Normalize
	cfg.FFmpegBinary = "ffmpeg"
	cfg.Workers = 5
	return cfg
}

func makeClips(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	clips := make([]string, n)
	for i := range clips {
		clips[i] = filepath.Join(dir, fmt.Sprintf("clip%d.mov", i))
		if err := os.WriteFile(clips[i], []byte("src"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return clips
}

func resolveStub(string, string) (string, error) { return "/usr/bin/ffmpeg", nil }

// writeOutput emulates ffmpeg by creating the last argument.
func writeOutput(args []string) error {
	return os.WriteFile(args[len(args)-1], []byte("normalized"), 0o644)
}

func TestArgsCPUProfile(t *testing.T) {
	p := ProfileFromConfig(testConfig())
	got := Args("in.mov", "out.mp4", p, EncoderX264)
	want := []string{
		"-y", "-fflags", "+genpts", "-i", "in.mov",
		"-vf", "scale=1920:1080:flags=lanczos,fps=60",
		"-c:v", "libx264", "-preset", "medium", "-profile:v", "main", "-level", "4.2",
		"-crf", "23", "-maxrate", "12M", "-bufsize", "16M",
		"-pix_fmt", "yuv420p", "-fps_mode", "cfr", "-r", "60",
		"-movflags", "+faststart",
		"-c:a", "aac", "-ar", "48000", "-b:a", "160k",
		"out.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("args mismatch\n got: %v\nwant: %v", got, want)
	}
}

func TestArgsNVENCProfile(t *testing.T) {
	p := ProfileFromConfig(testConfig())
	got := strings.Join(Args("in.mov", "out.mp4", p, EncoderNVENC), " ")
	for _, want := range []string{
		"-c:v h264_nvenc -profile:v main -rc vbr -cq 23 -b:v 12M -maxrate 12M -bufsize 24M -preset p4",
		"-pix_fmt yuv420p -fps_mode cfr -r 60",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}

func TestNVENCBufferSize(t *testing.T) {
	cases := map[string]string{"12M": "24M", "8m": "16M", "5000k": "16M", "M": "16M", "": "16M"}
	for in, want := range cases {
		if got := nvencBufferSize(in); got != want {
			t.Errorf("nvencBufferSize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArtifactName(t *testing.T) {
	if got := ArtifactName(7); got != "normalized_007.mp4" {
		t.Fatalf("ArtifactName(7) = %q", got)
	}
	if got := ArtifactName(1234); got != "normalized_1234.mp4" {
		t.Fatalf("ArtifactName(1234) = %q", got)
	}
}

func TestNormalizeAllPreservesOrderWithReversedLatencies(t *testing.T) {
	clips := makeClips(t, 5)
	workDir := t.TempDir()

	var mu sync.Mutex
	var finished []string
	runner := func(_ context.Context, _ string, args ...string) error {
		input := args[4]
		var idx int
		for i, c := range clips {
			if c == input {
				idx = i
			}
		}
		time.Sleep(time.Duration(len(clips)-idx) * 15 * time.Millisecond)
		mu.Lock()
		finished = append(finished, input)
		mu.Unlock()
		return writeOutput(args)
	}

	p := New(testConfig(), logging.NewNop(),
		WithCommandRunner(runner), WithBinaryResolver(resolveStub), WithEncoder(EncoderX264))
	artifacts, err := p.NormalizeAll(context.Background(), workDir, clips)
	if err != nil {
		t.Fatalf("NormalizeAll: %v", err)
	}

	for i, artifact := range artifacts {
		want := filepath.Join(workDir, ArtifactName(i))
		if artifact != want {
			t.Fatalf("artifact[%d] = %q, want %q", i, artifact, want)
		}
	}
	if finished[0] != clips[len(clips)-1] {
		t.Fatalf("expected last clip to finish first, got order %v", finished)
	}
}

func TestNormalizeAllBoundsConcurrency(t *testing.T) {
	clips := makeClips(t, 12)
	cfg := testConfig()
	cfg.Workers = 3

	var inflight, peak atomic.Int64
	var calls atomic.Int64
	runner := func(_ context.Context, _ string, args ...string) error {
		n := inflight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		calls.Add(1)
		return writeOutput(args)
	}

	var progress atomic.Int64
	p := New(cfg, nil, WithCommandRunner(runner), WithBinaryResolver(resolveStub),
		WithProgress(func(int, int) { progress.Add(1) }))
	if _, err := p.NormalizeAll(context.Background(), t.TempDir(), clips); err != nil {
		t.Fatalf("NormalizeAll: %v", err)
	}
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds 3 workers", peak.Load())
	}
	if calls.Load() != 12 || progress.Load() != 12 {
		t.Fatalf("calls=%d progress=%d, want 12", calls.Load(), progress.Load())
	}
}

func TestNormalizeAllFailsFastWhenToolMissing(t *testing.T) {
	var called atomic.Bool
	p := New(testConfig(), nil,
		WithCommandRunner(func(context.Context, string, ...string) error {
			called.Store(true)
			return nil
		}),
		WithBinaryResolver(func(string, string) (string, error) {
			return "", errors.New(`binary "ffmpeg" not found`)
		}),
	)
	_, err := p.NormalizeAll(context.Background(), t.TempDir(), makeClips(t, 2))
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool marker, got %v", err)
	}
	if called.Load() {
		t.Fatal("no job may launch when the tool is unavailable")
	}
}

func TestNormalizeAllRemovesArtifactsOnFailure(t *testing.T) {
	clips := makeClips(t, 4)
	workDir := t.TempDir()
	runner := func(ctx context.Context, _ string, args ...string) error {
		if err := writeOutput(args); err != nil {
			return err
		}
		if args[4] == clips[2] {
			return errors.New("exit status 1: Invalid data found when processing input")
		}
		return nil
	}

	p := New(testConfig(), nil, WithCommandRunner(runner), WithBinaryResolver(resolveStub))
	_, err := p.NormalizeAll(context.Background(), workDir, clips)
	if !errors.Is(err, ErrTranscodeFailure) {
		t.Fatalf("expected ErrTranscodeFailure, got %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(workDir, "normalized_*.mp4"))
	if len(matches) != 0 {
		t.Fatalf("expected artifacts removed, found %v", matches)
	}
}

func TestNormalizeAllMissingSourceClip(t *testing.T) {
	p := New(testConfig(), nil,
		WithCommandRunner(func(_ context.Context, _ string, args ...string) error { return writeOutput(args) }),
		WithBinaryResolver(resolveStub))
	_, err := p.NormalizeAll(context.Background(), t.TempDir(), []string{filepath.Join(t.TempDir(), "gone.mp4")})
	if !errors.Is(err, ErrTranscodeFailure) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected transcode failure wrapping ErrNotFound, got %v", err)
	}
}

func TestNormalizeAllJobTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.JobTimeoutSeconds = 1
	runner := func(ctx context.Context, _ string, _ ...string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	p := New(cfg, nil, WithCommandRunner(runner), WithBinaryResolver(resolveStub))
	_, err := p.NormalizeAll(context.Background(), t.TempDir(), makeClips(t, 1))
	if !errors.Is(err, ErrTranscodeFailure) || !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout transcode failure, got %v", err)
	}
}

func TestNormalizeAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(testConfig(), nil,
		WithCommandRunner(func(ctx context.Context, _ string, _ ...string) error { return ctx.Err() }),
		WithBinaryResolver(resolveStub))
	_, err := p.NormalizeAll(ctx, t.TempDir(), makeClips(t, 3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewSelectsEncoderFromPath(t *testing.T) {
	binDir := t.TempDir()
	t.Setenv("PATH", binDir)
	cfg := testConfig()
	cfg.UseNVENC = true

	if enc := New(cfg, nil).Encoder(); enc != EncoderX264 {
		t.Fatalf("without nvidia-smi expected libx264, got %s", enc)
	}
	if err := os.WriteFile(filepath.Join(binDir, "nvidia-smi"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if enc := New(cfg, nil).Encoder(); enc != EncoderNVENC {
		t.Fatalf("with nvidia-smi expected h264_nvenc, got %s", enc)
	}
	cfg.UseNVENC = false
	if enc := New(cfg, nil).Encoder(); enc != EncoderX264 {
		t.Fatalf("use_nvenc=false expected libx264, got %s", enc)
	}
}
