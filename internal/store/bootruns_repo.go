package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rockinit/internal/core"
)

var ErrRunNotFound = errors.New("boot run not found")

func (s *Store) InsertBootRun(ctx context.Context, run *core.BootRun) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO boot_runs (id, status, started_at, ended_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.Status, run.StartedAt.UTC().Format(timeLayout), nullableTime(run.EndedAt))
	if err != nil {
		return fmt.Errorf("insert boot run: %w", err)
	}
	return nil
}

// AppendStage records the outcome of one stage of runID.
func (s *Store) AppendStage(ctx context.Context, runID string, stage core.StageResult) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO boot_stages (run_id, seq, name, status, changed, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, stage.Seq, stage.Name, stage.Status, boolToInt(stage.Changed), nullableString(stage.Error),
		stage.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert boot stage %s: %w", stage.Name, err)
	}
	return nil
}

func (s *Store) FinishBootRun(ctx context.Context, id string, status core.RunStatus, endedAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE boot_runs
		SET status = ?, ended_at = ?
		WHERE id = ?
	`, status, endedAt.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("finish boot run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetBootRun returns the run with its stages in sequence order.
func (s *Store) GetBootRun(ctx context.Context, id string) (*core.BootRun, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, status, started_at, ended_at
		FROM boot_runs WHERE id = ?
	`, id)
	run, err := scanBootRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT seq, name, status, changed, error, duration_ms
		FROM boot_stages WHERE run_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list boot stages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			stage    core.StageResult
			status   string
			changed  int
			errMsg   sql.NullString
			duration int64
		)
		if err := rows.Scan(&stage.Seq, &stage.Name, &status, &changed, &errMsg, &duration); err != nil {
			return nil, fmt.Errorf("scan boot stage: %w", err)
		}
		stage.Status = core.StageStatus(status)
		stage.Changed = changed != 0
		stage.Duration = time.Duration(duration) * time.Millisecond
		if errMsg.Valid {
			stage.Error = &errMsg.String
		}
		run.Stages = append(run.Stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

// ListBootRuns returns runs newest first, without their stages.
func (s *Store) ListBootRuns(ctx context.Context, limit, offset int) ([]*core.BootRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, status, started_at, ended_at
		FROM boot_runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list boot runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.BootRun
	for rows.Next() {
		run, err := scanBootRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// PruneBootRuns removes runs beyond the retention limit, oldest first.
func (s *Store) PruneBootRuns(ctx context.Context) error {
	if s.RunRetention <= 0 {
		return nil
	}
	if _, err := s.DB.ExecContext(ctx, `
		DELETE FROM boot_stages WHERE run_id IN (
			SELECT id FROM boot_runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)
	`, s.RunRetention); err != nil {
		return fmt.Errorf("prune boot stages: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `
		DELETE FROM boot_runs WHERE id IN (
			SELECT id FROM boot_runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)
	`, s.RunRetention); err != nil {
		return fmt.Errorf("prune boot runs: %w", err)
	}
	return nil
}

func scanBootRun(scanner interface {
	Scan(dest ...any) error
}) (*core.BootRun, error) {
	var (
		id        string
		status    string
		startedAt string
		endedAt   sql.NullString
	)
	if err := scanner.Scan(&id, &status, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan boot run: %w", err)
	}
	run := &core.BootRun{
		ID:        id,
		Status:    core.RunStatus(status),
		StartedAt: parseTime(startedAt),
	}
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		run.EndedAt = &t
	}
	return run, nil
}
