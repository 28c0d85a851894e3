package catalog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"montage/internal/durationfmt"
	"montage/internal/fileutil"
	"montage/internal/services"
)

// Feed column names.
const (
	ColumnSeq       = "stt"
	ColumnPath      = "file_path"
	ColumnDuration  = "duration"
	ColumnFreshness = "lastest_used_value"
)

var feedHeader = []string{ColumnSeq, ColumnPath, ColumnDuration, ColumnFreshness}

const utf8BOM = "\ufeff"

// Load reads a catalog feed. Rows whose duration is below minSeconds are
// excluded. Malformed durations degrade to 0 and are logged; such rows are
// then excluded only when minSeconds is positive.
func Load(path string, minSeconds float64, logger *slog.Logger) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "catalog", "open feed", path, err)
		}
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "open feed", path, err)
	}
	defer file.Close()

	entries, err := readFeed(file, path, logger)
	if err != nil {
		return nil, err
	}

	kept := entries[:0]
	excluded := 0
	for _, entry := range entries {
		if entry.Duration < minSeconds {
			excluded++
			continue
		}
		kept = append(kept, entry)
	}
	if excluded > 0 && logger != nil {
		logger.Info("catalog entries below minimum excluded",
			slog.Int("excluded", excluded),
			slog.Float64("min_seconds", minSeconds),
			slog.String("event_type", "catalog_filtered"),
		)
	}
	return New(kept), nil
}

func readFeed(r io.Reader, path string, logger *slog.Logger) ([]Entry, error) {
	buffered := bufio.NewReader(r)
	if prefix, err := buffered.Peek(len(utf8BOM)); err == nil && string(prefix) == utf8BOM {
		_, _ = buffered.Discard(len(utf8BOM))
	}
	reader := csv.NewReader(buffered)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrValidation, "catalog", "read header", path, err)
	}
	columns := indexColumns(header)
	pathCol, ok := columns[ColumnPath]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "catalog", "read header", fmt.Sprintf("%s: missing %q column", path, ColumnPath), nil)
	}
	durationCol, ok := columns[ColumnDuration]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "catalog", "read header", fmt.Sprintf("%s: missing %q column", path, ColumnDuration), nil)
	}
	seqCol, hasSeq := columns[ColumnSeq]
	freshCol, hasFresh := columns[ColumnFreshness]

	var entries []Entry
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "catalog", "read row", fmt.Sprintf("%s line %d", path, line), err)
		}
		id := strings.Trim(strings.TrimSpace(cell(record, pathCol)), `"`)
		if id == "" {
			continue
		}
		raw := cell(record, durationCol)
		duration, parseErr := durationfmt.ParseStrict(raw)
		if parseErr != nil {
			logMalformed(logger, path, line, id, raw, parseErr)
		}
		entry := Entry{ID: id, Name: DisplayName(id), Duration: duration}
		if hasSeq {
			entry.Seq, _ = strconv.Atoi(strings.TrimSpace(cell(record, seqCol)))
		}
		if hasFresh {
			entry.Freshness = int64(durationfmt.Parse(cell(record, freshCol)))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func indexColumns(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, exists := columns[key]; !exists {
			columns[key] = i
		}
	}
	return columns
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// WriteFeed atomically writes entries as a catalog feed. The file carries a
// UTF-8 byte order mark so spreadsheet tools detect the encoding.
func WriteFeed(path string, entries []Entry) error {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	writer := csv.NewWriter(&buf)
	if err := writer.Write(feedHeader); err != nil {
		return err
	}
	for _, entry := range entries {
		record := []string{
			strconv.Itoa(entry.Seq),
			entry.ID,
			durationfmt.Format(entry.Duration),
			strconv.FormatInt(entry.Freshness, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "catalog", "write feed", path, err)
	}
	return nil
}
