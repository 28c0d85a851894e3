package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const compositionColumns = "id, run_id, task_id, task_row, output_path, state, error_message, target_seconds, total_seconds, output_seconds, underfilled, resets, started_at, finished_at"

// Record inserts a composition and its ordered inputs in one transaction and
// assigns c.ID.
func (s *Store) Record(ctx context.Context, c *Composition) error {
	if c == nil {
		return errors.New("composition is nil")
	}
	if strings.TrimSpace(c.TaskID) == "" {
		return errors.New("composition task id is required")
	}
	if _, ok := ParseState(string(c.State)); !ok {
		return fmt.Errorf("invalid composition state %q", c.State)
	}
	ctx = ensureContext(ctx)
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin record tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO compositions (run_id, task_id, task_row, output_path, state, error_message,
				target_seconds, total_seconds, output_seconds, underfilled, resets, started_at, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.RunID,
			c.TaskID,
			c.Row,
			nullableString(c.OutputPath),
			string(c.State),
			nullableString(c.Error),
			c.TargetSeconds,
			c.TotalSeconds,
			c.OutputSeconds,
			boolToInt(c.Underfilled),
			c.Resets,
			c.StartedAt.UTC().Format(time.RFC3339Nano),
			nullableTime(c.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("insert composition: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("composition id: %w", err)
		}

		for pos, clip := range c.Inputs {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO composition_inputs (composition_id, position, clip_path) VALUES (?, ?, ?)",
				id, pos, clip,
			); err != nil {
				return fmt.Errorf("insert composition input %d: %w", pos, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit composition: %w", err)
		}
		c.ID = id
		return nil
	})
}

// Get fetches a composition by id. It returns nil, nil when absent.
func (s *Store) Get(ctx context.Context, id int64) (*Composition, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+compositionColumns+" FROM compositions WHERE id = ?", id)
	c, err := scanComposition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get composition %d: %w", id, err)
	}
	if err := s.loadInputs(ctx, []*Composition{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns compositions newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Composition, error) {
	ctx = ensureContext(ctx)

	var (
		where []string
		args  []any
	)
	if runID := strings.TrimSpace(opts.RunID); runID != "" {
		where = append(where, "run_id = ?")
		args = append(args, runID)
	}
	if opts.OnlyFailed {
		where = append(where, "state = ?")
		args = append(args, string(StateFailed))
	}
	if clip := strings.TrimSpace(opts.Clip); clip != "" {
		where = append(where, "id IN (SELECT composition_id FROM composition_inputs WHERE clip_path = ?)")
		args = append(args, clip)
	}

	query := "SELECT " + compositionColumns + " FROM compositions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list compositions: %w", err)
	}
	defer rows.Close()

	var out []*Composition
	for rows.Next() {
		c, err := scanComposition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan composition: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compositions: %w", err)
	}
	if err := s.loadInputs(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Prune deletes compositions that started before cutoff and returns how many
// rows were removed. Inputs are removed by cascade.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM compositions WHERE started_at < ?",
			cutoff.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return removed, nil
}

func (s *Store) loadInputs(ctx context.Context, comps []*Composition) error {
	if len(comps) == 0 {
		return nil
	}
	byID := make(map[int64]*Composition, len(comps))
	args := make([]any, 0, len(comps))
	for _, c := range comps {
		byID[c.ID] = c
		args = append(args, c.ID)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT composition_id, clip_path FROM composition_inputs WHERE composition_id IN ("+
			makePlaceholders(len(args))+") ORDER BY composition_id, position",
		args...,
	)
	if err != nil {
		return fmt.Errorf("load composition inputs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			clip string
		)
		if err := rows.Scan(&id, &clip); err != nil {
			return fmt.Errorf("scan composition input: %w", err)
		}
		if c := byID[id]; c != nil {
			c.Inputs = append(c.Inputs, clip)
		}
	}
	return rows.Err()
}
