package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rockinit/internal/core"
)

var (
	ErrTaskNotFound = errors.New("task definition not found")
	ErrNameTaken    = errors.New("another task definition exists with the same name")
)

const taskColumns = `id, name, task_type, crontab, crontabwindow, json_meta, enabled`

// InsertTaskDefinition stores def and sets its ID.
func (s *Store) InsertTaskDefinition(ctx context.Context, def *core.TaskDefinition) error {
	meta, err := def.Meta.Encode()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO task_definitions (name, task_type, crontab, crontabwindow, json_meta, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, def.Name, def.TaskType, nullableString(def.Crontab), nullableString(def.CrontabWindow),
		meta, boolToInt(def.Enabled), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("insert task definition: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("task definition id: %w", err)
	}
	def.ID = id
	return nil
}

func (s *Store) UpdateTaskDefinition(ctx context.Context, def *core.TaskDefinition) error {
	meta, err := def.Meta.Encode()
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE task_definitions
		SET name = ?, task_type = ?, crontab = ?, crontabwindow = ?, json_meta = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, def.Name, def.TaskType, nullableString(def.Crontab), nullableString(def.CrontabWindow),
		meta, boolToInt(def.Enabled), time.Now().UTC().Format(timeLayout), def.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("update task definition: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task definition rows: %w", err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *Store) DeleteTaskDefinition(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM task_definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task definition: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *Store) GetTaskDefinition(ctx context.Context, id int64) (*core.TaskDefinition, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task_definitions WHERE id = ?`, id)
	def, err := scanTaskDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return def, nil
}

// ListTaskDefinitions returns every definition ordered by ID.
func (s *Store) ListTaskDefinitions(ctx context.Context) ([]*core.TaskDefinition, error) {
	return s.queryTaskDefinitions(ctx, `SELECT `+taskColumns+` FROM task_definitions ORDER BY id`)
}

// EnabledTaskDefinitions returns the enabled definitions ordered by ID.
func (s *Store) EnabledTaskDefinitions(ctx context.Context) ([]*core.TaskDefinition, error) {
	return s.queryTaskDefinitions(ctx, `SELECT `+taskColumns+` FROM task_definitions WHERE enabled = 1 ORDER BY id`)
}

func (s *Store) queryTaskDefinitions(ctx context.Context, query string) ([]*core.TaskDefinition, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query task definitions: %w", err)
	}
	defer rows.Close()
	var defs []*core.TaskDefinition
	for rows.Next() {
		def, err := scanTaskDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return defs, nil
}

func scanTaskDefinition(scanner interface {
	Scan(dest ...any) error
}) (*core.TaskDefinition, error) {
	var (
		id       int64
		name     string
		taskType string
		crontab  sql.NullString
		window   sql.NullString
		rawMeta  string
		enabled  int
	)
	if err := scanner.Scan(&id, &name, &taskType, &crontab, &window, &rawMeta, &enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task definition: %w", err)
	}
	meta, err := core.ParseMeta([]byte(rawMeta))
	if err != nil {
		return nil, fmt.Errorf("task definition %d: %w", id, err)
	}
	def := &core.TaskDefinition{
		ID:       id,
		Name:     name,
		TaskType: core.TaskType(taskType),
		Meta:     meta,
		Enabled:  enabled != 0,
	}
	if crontab.Valid {
		def.Crontab = &crontab.String
	}
	if window.Valid {
		def.CrontabWindow = &window.String
	}
	return def, nil
}
