package api

import (
	"errors"
	"net/http"
	"time"

	"rockinit/internal/core"
	"rockinit/internal/store"

	"github.com/go-chi/chi/v5"
)

type stageResponse struct {
	Seq        int     `json:"seq"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Changed    bool    `json:"changed"`
	Error      *string `json:"error,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

type bootRunResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	StartedAt string          `json:"started_at"`
	EndedAt   *string         `json:"ended_at,omitempty"`
	Stages    []stageResponse `json:"stages,omitempty"`
}

func (s *Server) handleListBootRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit > 100 {
		limit = 100
	}
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	runs, err := s.store.ListBootRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list boot runs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list boot runs")
		return
	}
	resp := make([]bootRunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBootRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.store.GetBootRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "boot run not found")
		} else {
			s.logger.Error("get boot run", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load boot run")
		}
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

func runToResponse(run *core.BootRun) bootRunResponse {
	var ended *string
	if run.EndedAt != nil {
		formatted := run.EndedAt.UTC().Format(time.RFC3339)
		ended = &formatted
	}
	stages := make([]stageResponse, 0, len(run.Stages))
	for _, st := range run.Stages {
		stages = append(stages, stageResponse{
			Seq:        st.Seq,
			Name:       st.Name,
			Status:     string(st.Status),
			Changed:    st.Changed,
			Error:      st.Error,
			DurationMS: st.Duration.Milliseconds(),
		})
	}
	return bootRunResponse{
		ID:        run.ID,
		Status:    string(run.Status),
		StartedAt: run.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:   ended,
		Stages:    stages,
	}
}
