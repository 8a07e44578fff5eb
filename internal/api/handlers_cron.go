package api

import (
	"net/http"
	"strings"
	"time"

	"rockinit/internal/core"
)

// cronPreviewRequest checks a task definition schedule before it is saved.
type cronPreviewRequest struct {
	Crontab string `json:"crontab"`
	Now     string `json:"now,omitempty"`
	Count   int    `json:"count,omitempty"`
}

type cronPreviewResponse struct {
	Valid    bool     `json:"valid"`
	Crontab  string   `json:"crontab,omitempty"`
	NextRuns []string `json:"next_runs,omitempty"`
	Message  string   `json:"message,omitempty"`
}

const (
	defaultPreviewRuns = 5
	maxPreviewRuns     = 10
)

// handleCronPreview reports whether an expression would be accepted for a task
// definition, in the normalised form it would be stored in, with its next runs in
// the appliance time zone. A rejected expression is a 200 with valid=false.
func (s *Server) handleCronPreview(w http.ResponseWriter, r *http.Request) {
	var req cronPreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	expr := strings.TrimSpace(req.Crontab)
	if expr == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "crontab is required")
		return
	}
	base := time.Now()
	if req.Now != "" {
		parsed, err := time.Parse(time.RFC3339, req.Now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "now must be an RFC 3339 time")
			return
		}
		base = parsed
	}
	count := req.Count
	if count <= 0 || count > maxPreviewRuns {
		count = defaultPreviewRuns
	}

	schedule, err := core.ParseCron(expr)
	if err != nil {
		writeJSON(w, http.StatusOK, cronPreviewResponse{Message: err.Error()})
		return
	}
	runs := core.NextOccurrences(schedule, base.In(s.location), count)
	res := cronPreviewResponse{
		Valid:    true,
		Crontab:  core.NormalizeCron(expr),
		NextRuns: make([]string, 0, len(runs)),
	}
	for _, t := range runs {
		res.NextRuns = append(res.NextRuns, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetCrontab renders what the crontab would contain right now, without
// touching the installed file.
func (s *Server) handleGetCrontab(w http.ResponseWriter, r *http.Request) {
	data, err := s.crontab.Render(r.Context())
	if err != nil {
		s.logger.Error("render crontab", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to render crontab")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Crontab-Path", s.crontab.Path())
	_, _ = w.Write(data)
}

func (s *Server) handleRefreshCrontab(w http.ResponseWriter, r *http.Request) {
	changed, err := s.tasks.Refresh(r.Context())
	if err != nil {
		s.logger.Error("refresh crontab", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to refresh crontab")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "path": s.crontab.Path()})
}
