package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rockinit/internal/core"
	"rockinit/internal/store"
	"rockinit/internal/taskdefs"

	"github.com/go-chi/chi/v5"
)

type taskResponse struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	TaskType      string    `json:"task_type"`
	Crontab       *string   `json:"crontab"`
	CrontabWindow *string   `json:"crontabwindow"`
	Meta          core.Meta `json:"json_meta"`
	Enabled       bool      `json:"enabled"`
	NextRunAt     *string   `json:"next_run_at,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskdefs.Input
	if !decodeBody(w, r, &req) {
		return
	}
	def, err := s.tasks.Create(r.Context(), req)
	if err != nil {
		s.writeTaskError(w, "create task", 0, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.taskToResponse(def))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	defs, err := s.tasks.List(r.Context())
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(defs))
	for _, d := range defs {
		res = append(res, s.taskToResponse(d))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	def, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeTaskError(w, "get task", id, err)
		return
	}
	writeJSON(w, http.StatusOK, s.taskToResponse(def))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	var req taskdefs.Input
	if !decodeBody(w, r, &req) {
		return
	}
	def, err := s.tasks.Update(r.Context(), id, req)
	if err != nil {
		s.writeTaskError(w, "update task", id, err)
		return
	}
	writeJSON(w, http.StatusOK, s.taskToResponse(def))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	if err := s.tasks.Delete(r.Context(), id); err != nil {
		s.writeTaskError(w, "delete task", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody reads a JSON request body into v. Unknown keys are rejected so a
// misspelled field cannot be dropped silently.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if field, found := strings.CutPrefix(err.Error(), "json: unknown field "); found {
			writeError(w, http.StatusBadRequest, "invalid_input", "unknown field "+field)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// writeTaskError maps the service error taxonomy onto HTTP statuses.
func (s *Server) writeTaskError(w http.ResponseWriter, op string, id int64, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_input", verr.Error())
	case errors.Is(err, store.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, store.ErrNameTaken):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.logger.Error(op, "task_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
	}
}

func taskIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "task id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) taskToResponse(def *core.TaskDefinition) taskResponse {
	meta := def.Meta
	if meta == nil {
		meta = core.Meta{}
	}
	var next *string
	if at := taskdefs.NextRun(def, time.Now().In(s.location)); at != nil {
		formatted := at.UTC().Format(time.RFC3339)
		next = &formatted
	}
	return taskResponse{
		ID:            def.ID,
		Name:          def.Name,
		TaskType:      string(def.TaskType),
		Crontab:       def.Crontab,
		CrontabWindow: def.CrontabWindow,
		Meta:          meta,
		Enabled:       def.Enabled,
		NextRunAt:     next,
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
