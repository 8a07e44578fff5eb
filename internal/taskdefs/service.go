// Package taskdefs is the management boundary for task definitions: it validates
// input, persists it and regenerates the crontab after every change.
package taskdefs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"rockinit/internal/core"
)

// Store persists task definitions.
type Store interface {
	InsertTaskDefinition(ctx context.Context, def *core.TaskDefinition) error
	UpdateTaskDefinition(ctx context.Context, def *core.TaskDefinition) error
	DeleteTaskDefinition(ctx context.Context, id int64) error
	GetTaskDefinition(ctx context.Context, id int64) (*core.TaskDefinition, error)
	ListTaskDefinitions(ctx context.Context) ([]*core.TaskDefinition, error)
}

// Refresher regenerates the derived crontab.
type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// Input is a create or partial update request. Absent fields are left untouched on
// update. An empty crontab or crontabwindow clears the field. json_meta is accepted
// as an alias of meta, the name the stored column and responses use.
type Input struct {
	Name          *string         `json:"name"`
	TaskType      *string         `json:"task_type"`
	Crontab       *string         `json:"crontab"`
	CrontabWindow *string         `json:"crontabwindow"`
	Meta          json.RawMessage `json:"meta"`
	JSONMeta      json.RawMessage `json:"json_meta"`
	Enabled       json.RawMessage `json:"enabled"`
}

// Service serialises definition writes with the crontab refresh that follows them.
type Service struct {
	store   Store
	crontab Refresher
	logger  *slog.Logger

	mu sync.Mutex
}

// New creates a Service.
func New(store Store, crontab Refresher, logger *slog.Logger) *Service {
	return &Service{store: store, crontab: crontab, logger: logger}
}

// List returns every definition ordered by ID.
func (s *Service) List(ctx context.Context) ([]*core.TaskDefinition, error) {
	return s.store.ListTaskDefinitions(ctx)
}

// Get returns one definition or store.ErrTaskNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*core.TaskDefinition, error) {
	return s.store.GetTaskDefinition(ctx, id)
}

// Create validates in and stores a new definition. Name and task type are required;
// a definition without an explicit enabled flag is enabled.
func (s *Service) Create(ctx context.Context, in Input) (*core.TaskDefinition, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, &core.ValidationError{Field: "name", Message: "is required"}
	}
	if in.TaskType == nil {
		return nil, &core.ValidationError{Field: "task_type", Message: "is required"}
	}
	def := &core.TaskDefinition{Meta: core.Meta{}, Enabled: true}
	if err := apply(def, in); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.InsertTaskDefinition(ctx, def); err != nil {
		return nil, err
	}
	s.logger.Info("task definition created", "id", def.ID, "name", def.Name, "type", def.TaskType)
	s.refresh(ctx)
	return def, nil
}

// Update applies in on top of the stored definition. Meta keys are merged.
func (s *Service) Update(ctx context.Context, id int64, in Input) (*core.TaskDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, err := s.store.GetTaskDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(def, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTaskDefinition(ctx, def); err != nil {
		return nil, err
	}
	s.logger.Info("task definition updated", "id", def.ID, "name", def.Name)
	s.refresh(ctx)
	return def, nil
}

// Delete removes a definition and drops it from the crontab.
func (s *Service) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteTaskDefinition(ctx, id); err != nil {
		return err
	}
	s.logger.Info("task definition deleted", "id", id)
	s.refresh(ctx)
	return nil
}

// Refresh regenerates the crontab on demand.
func (s *Service) Refresh(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crontab.Refresh(ctx)
}

// refresh runs after a committed write; its failure does not undo the write.
func (s *Service) refresh(ctx context.Context) {
	changed, err := s.crontab.Refresh(ctx)
	if err != nil {
		s.logger.Error("refresh crontab", "err", err)
		return
	}
	if changed {
		s.logger.Info("crontab regenerated")
	}
}

// apply validates every present field of in and copies it onto def.
func apply(def *core.TaskDefinition, in Input) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return &core.ValidationError{Field: "name", Message: "cannot be empty"}
		}
		def.Name = name
	}
	if in.TaskType != nil {
		t := core.TaskType(strings.TrimSpace(*in.TaskType))
		if !t.Valid() {
			return &core.ValidationError{Field: "task_type", Message: "must be one of " + validTypes()}
		}
		def.TaskType = t
	}
	if in.Crontab != nil {
		expr := strings.TrimSpace(*in.Crontab)
		if expr == "" {
			def.Crontab = nil
		} else {
			if _, err := core.ParseCron(expr); err != nil {
				return &core.ValidationError{Field: "crontab", Message: err.Error()}
			}
			expr = core.NormalizeCron(expr)
			def.Crontab = &expr
		}
	}
	if in.CrontabWindow != nil {
		window := strings.TrimSpace(*in.CrontabWindow)
		switch {
		case window == "":
			def.CrontabWindow = nil
		case strings.ContainsAny(window, " \t\r\n"):
			return &core.ValidationError{Field: "crontabwindow", Message: "must not contain whitespace"}
		default:
			def.CrontabWindow = &window
		}
	}
	rawMeta := in.Meta
	if len(rawMeta) == 0 {
		rawMeta = in.JSONMeta
	} else if len(in.JSONMeta) > 0 {
		return &core.ValidationError{Field: "meta", Message: "give meta or json_meta, not both"}
	}
	if len(rawMeta) > 0 {
		meta, err := core.ParseMeta(rawMeta)
		if err != nil {
			return err
		}
		def.Meta = def.Meta.Merge(meta)
	}
	if len(in.Enabled) > 0 {
		enabled, err := parseBool(in.Enabled)
		if err != nil {
			return err
		}
		def.Enabled = enabled
	}
	return nil
}

func parseBool(raw json.RawMessage) (bool, error) {
	switch string(bytes.TrimSpace(raw)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, &core.ValidationError{Field: "enabled", Message: "must be a boolean"}
}

func validTypes() string {
	names := make([]string, 0, len(core.ValidTaskTypes))
	for _, t := range core.ValidTaskTypes {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

// NextRun returns the next time def fires after now, or nil when it is disabled or
// has no usable schedule.
func NextRun(def *core.TaskDefinition, now time.Time) *time.Time {
	if !def.Enabled || def.Crontab == nil {
		return nil
	}
	schedule, err := core.ParseCron(*def.Crontab)
	if err != nil {
		return nil
	}
	next := core.NextOccurrences(schedule, now, 1)
	if len(next) == 0 {
		return nil
	}
	return &next[0]
}
