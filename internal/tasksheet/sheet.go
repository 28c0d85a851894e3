package tasksheet

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"montage/internal/composer"
	"montage/internal/fileutil"
	"montage/internal/logging"
	"montage/internal/selection"
	"montage/internal/services"
)

// Column headers, matched case-insensitively.
const (
	ColumnFirst     = "first vids"
	ColumnSecond    = "second vids"
	ColumnThird     = "third vids"
	ColumnLength    = "desired length"
	ColumnOutputDir = "output directory"
	ColumnStatus    = "status"
)

// Status values written back to the sheet.
const (
	StatusAuto = "auto"
	StatusDone = "Done"
)

const utf8BOM = "\ufeff"

// ErrUnknownTask is returned by Report for outcomes whose task did not come
// from this sheet.
var ErrUnknownTask = fmt.Errorf("task not in sheet: %w", services.ErrNotFound)

// Sheet is an in-memory copy of the task sheet. It implements
// composer.TaskFeed and composer.ResultSink.
type Sheet struct {
	mu     sync.Mutex
	path   string
	bom    bool
	header []string
	rows   [][]string
	cols   map[string]int
	logger *slog.Logger
}

// Open reads the sheet at path. The first, length and status columns are
// required; an output directory column is added when missing.
func Open(path string, logger *slog.Logger) (*Sheet, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "tasksheet", "open", fmt.Sprintf("Task sheet %s does not exist", path), err)
		}
		return nil, fmt.Errorf("open task sheet: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	bom := false
	if prefix, err := reader.Peek(len(utf8BOM)); err == nil && string(prefix) == utf8BOM {
		_, _ = reader.Discard(len(utf8BOM))
		bom = true
	}

	records, err := readRecords(reader)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "tasksheet", "parse", fmt.Sprintf("Task sheet %s is not valid CSV", path), err)
	}
	if len(records) == 0 {
		return nil, services.Wrap(services.ErrValidation, "tasksheet", "parse", fmt.Sprintf("Task sheet %s has no header row", path), nil)
	}

	s := &Sheet{
		path:   path,
		bom:    bom,
		header: records[0],
		rows:   records[1:],
		logger: logging.NewComponentLogger(logger, "tasksheet"),
	}
	s.indexColumns()

	var missing []string
	for _, name := range []string{ColumnFirst, ColumnLength, ColumnStatus} {
		if _, ok := s.cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, services.Wrap(services.ErrValidation, "tasksheet", "header",
			fmt.Sprintf("Task sheet %s is missing columns: %s", path, strings.Join(missing, ", ")), nil)
	}
	if _, ok := s.cols[ColumnOutputDir]; !ok {
		s.header = append(s.header, ColumnOutputDir)
		s.indexColumns()
	}
	return s, nil
}

func readRecords(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader.ReadAll()
}

func (s *Sheet) indexColumns() {
	s.cols = make(map[string]int, len(s.header))
	for i, name := range s.header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, exists := s.cols[key]; !exists {
			s.cols[key] = i
		}
	}
}

// Path returns the sheet location.
func (s *Sheet) Path() string {
	return s.path
}

// Tasks returns one task per row with status "auto" and non-empty first
// clip and desired length. Rows with an unparsable length are skipped with
// a warning.
func (s *Sheet) Tasks(ctx context.Context) ([]selection.CompositionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []selection.CompositionTask
	for i, row := range s.rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.EqualFold(strings.TrimSpace(s.cell(row, ColumnStatus)), StatusAuto) {
			continue
		}
		first := cleanClip(s.cell(row, ColumnFirst))
		lengthRaw := strings.TrimSpace(s.cell(row, ColumnLength))
		if first == "" || lengthRaw == "" {
			continue
		}
		rowNum := i + 1
		minutes, err := strconv.ParseFloat(lengthRaw, 64)
		if err != nil || minutes <= 0 {
			logging.WarnWithContext(s.logger, "task row skipped", "task_row_invalid",
				logging.Int("row", rowNum),
				logging.String("desired_length", lengthRaw),
				logging.String(logging.FieldImpact, "row left as auto and not composed"),
				logging.String(logging.FieldErrorHint, "desired length must be a positive number of minutes"),
			)
			continue
		}
		tasks = append(tasks, selection.CompositionTask{
			ID:            TaskID(rowNum),
			Row:           rowNum,
			TargetSeconds: minutes * 60,
			First:         first,
			Second:        cleanClip(s.cell(row, ColumnSecond)),
			Third:         cleanClip(s.cell(row, ColumnThird)),
		})
	}
	return tasks, nil
}

// Report writes the outcome into the task's row and rewrites the sheet.
// Dry-run outcomes leave the sheet untouched.
func (s *Sheet) Report(_ context.Context, outcome composer.TaskOutcome) error {
	if outcome.State == composer.StatePlanned {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := outcome.Task.Row - 1
	if idx < 0 || idx >= len(s.rows) {
		return fmt.Errorf("%w: %s (row %d)", ErrUnknownTask, outcome.Task.ID, outcome.Task.Row)
	}
	row := s.padRow(idx)

	if outcome.State == composer.StateDone {
		outCol := s.cols[ColumnOutputDir]
		current := strings.TrimSpace(row[outCol])
		if current == "" || strings.EqualFold(current, "nan") {
			row[outCol] = outcome.OutputPath
		} else {
			row[outCol] = current + "\n" + outcome.OutputPath
		}
		row[s.cols[ColumnStatus]] = StatusDone
	} else {
		row[s.cols[ColumnStatus]] = "Failed: " + composer.FailureReason(outcome)
	}
	s.rows[idx] = row
	return s.save()
}

func (s *Sheet) padRow(idx int) []string {
	row := s.rows[idx]
	if len(row) < len(s.header) {
		padded := make([]string, len(s.header))
		copy(padded, row)
		row = padded
	}
	return row
}

func (s *Sheet) save() error {
	var buf bytes.Buffer
	if s.bom {
		buf.WriteString(utf8BOM)
	}
	writer := csv.NewWriter(&buf)
	if err := writer.Write(s.header); err != nil {
		return fmt.Errorf("encode task sheet header: %w", err)
	}
	for _, row := range s.rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("encode task sheet row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("encode task sheet: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "tasksheet", "save", "Failed to rewrite task sheet", err)
	}
	return nil
}

func (s *Sheet) cell(row []string, column string) string {
	idx, ok := s.cols[column]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// cleanClip strips whitespace and surrounding double quotes, which appear
// when paths are pasted from a file manager.
func cleanClip(value string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(value), `"`))
}

// TaskID names the task for a 1-based data row.
func TaskID(row int) string {
	return "row-" + strconv.Itoa(row)
}
