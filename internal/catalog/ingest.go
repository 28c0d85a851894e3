package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"montage/internal/logging"
	"montage/internal/media/ffprobe"
	"montage/internal/services"
)

// DefaultExtensions lists the container extensions picked up by Ingest.
var DefaultExtensions = []string{".mp4", ".avi", ".mkv", ".mov"}

const defaultIngestWorkers = 8

// IngestOptions tunes a catalog ingestion.
type IngestOptions struct {
	FFprobeBinary string
	Workers       int
	Extensions    []string
	// Append keeps rows of an existing feed and adds only unseen paths.
	Append   bool
	Logger   *slog.Logger
	Now      func() time.Time
	// Progress is called from worker goroutines after each probe.
	Progress func(done, total int)
}

// IngestReport summarizes an ingestion.
type IngestReport struct {
	Output   string
	Found    int
	Added    int
	Kept     int
	Failed   int
	Duration time.Duration
}

// Ingest scans dir for video files, probes their durations with a bounded
// pool of ffprobe workers and writes the resulting feed to out. A clip whose
// probe fails is recorded with a 0:00 duration.
func Ingest(ctx context.Context, dir, out string, opts IngestOptions) (IngestReport, error) {
	start := time.Now()
	logger := logging.NewComponentLogger(opts.Logger, "catalog")
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultIngestWorkers
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return IngestReport{}, services.Wrap(services.ErrValidation, "catalog", "resolve folder", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return IngestReport{}, services.Wrap(services.ErrNotFound, "catalog", "scan folder", fmt.Sprintf("%s is not a directory", root), err)
	}

	files, err := scanVideos(root, opts.Extensions)
	if err != nil {
		return IngestReport{}, services.Wrap(services.ErrTransient, "catalog", "scan folder", root, err)
	}
	report := IngestReport{Output: out, Found: len(files)}

	var existing []Entry
	if opts.Append {
		existing, err = readExistingFeed(out, logger)
		if err != nil {
			return report, err
		}
	}
	known := make(map[string]struct{}, len(existing))
	nextSeq := 1
	for _, entry := range existing {
		known[entry.ID] = struct{}{}
		if entry.Seq >= nextSeq {
			nextSeq = entry.Seq + 1
		}
	}
	pending := make([]string, 0, len(files))
	for _, path := range files {
		if _, ok := known[path]; ok {
			continue
		}
		pending = append(pending, path)
	}

	logger.Info("catalog ingest started",
		slog.String("folder", root),
		slog.Int("found", len(files)),
		slog.Int("new", len(pending)),
		slog.Int("workers", workers),
		slog.String(logging.FieldEventType, "catalog_ingest_started"),
	)

	probed := make([]Entry, len(pending))
	var failed, done atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i, path := range pending {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			entry := Entry{ID: path, Name: DisplayName(path), Seq: nextSeq + i}
			seconds, probeErr := ffprobe.ProbeDuration(groupCtx, opts.FFprobeBinary, path)
			if probeErr != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				failed.Add(1)
				logging.WarnWithContext(logger, "duration probe failed; recording 0:00", "catalog_probe_failed",
					slog.String("path", path),
					logging.Error(probeErr),
					slog.String(logging.FieldErrorHint, "verify the file plays and ffprobe is installed"),
					slog.String(logging.FieldImpact, "clip contributes 0s toward targets"),
				)
			}
			entry.Duration = seconds
			if stat, statErr := os.Stat(path); statErr == nil {
				entry.Freshness = int64(now().Sub(stat.ModTime()) / time.Second)
			}
			probed[i] = entry
			n := done.Add(1)
			if opts.Progress != nil {
				opts.Progress(int(n), len(pending))
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return report, err
	}

	all := append(existing, probed...)
	if err := WriteFeed(out, all); err != nil {
		return report, err
	}

	report.Added = len(probed)
	report.Kept = len(existing)
	report.Failed = int(failed.Load())
	report.Duration = time.Since(start)
	logger.Info("catalog ingest completed",
		slog.String("output", out),
		slog.Int("added", report.Added),
		slog.Int("kept", report.Kept),
		slog.Int("failed", report.Failed),
		slog.Duration("elapsed", report.Duration),
		slog.String(logging.FieldEventType, "catalog_ingest_completed"),
	)
	return report, nil
}

func scanVideos(root string, extensions []string) ([]string, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := allowed[strings.ToLower(filepath.Ext(d.Name()))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func readExistingFeed(path string, logger *slog.Logger) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrTransient, "catalog", "open existing feed", path, err)
	}
	defer file.Close()
	return readFeed(file, path, logger)
}
