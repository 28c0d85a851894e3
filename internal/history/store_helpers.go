package history

import (
	"database/sql"
	"errors"
	"time"
)

func scanComposition(scanner interface{ Scan(dest ...any) error }) (*Composition, error) {
	var (
		c           Composition
		outputPath  sql.NullString
		state       string
		errMessage  sql.NullString
		underfilled int64
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&c.ID,
		&c.RunID,
		&c.TaskID,
		&c.Row,
		&outputPath,
		&state,
		&errMessage,
		&c.TargetSeconds,
		&c.TotalSeconds,
		&c.OutputSeconds,
		&underfilled,
		&c.Resets,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	c.OutputPath = outputPath.String
	c.State = State(state)
	c.Error = errMessage.String
	c.Underfilled = underfilled != 0
	if started, err := parseTimeString(startedRaw); err == nil {
		c.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			c.FinishedAt = finished
		}
	}
	return &c, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
