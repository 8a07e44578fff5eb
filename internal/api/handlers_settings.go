package api

import (
	"errors"
	"net/http"
	"time"

	"rockinit/internal/core"
	"rockinit/internal/settings"
	"rockinit/internal/store"

	"github.com/go-chi/chi/v5"
)

type mailSenderResponse struct {
	ID         int64  `json:"id"`
	SMTPServer string `json:"smtp_server"`
	Port       int    `json:"port"`
	Sender     string `json:"sender"`
	Receiver   string `json:"receiver"`
	Username   string `json:"username"`
	CreatedAt  string `json:"created_at"`
}

type listenerResponse struct {
	Service          string `json:"service"`
	NetworkInterface string `json:"network_interface"`
	ListenerPort     int    `json:"listener_port"`
}

func (s *Server) handleGetMailSender(w http.ResponseWriter, r *http.Request) {
	c, err := s.settings.MailSender(r.Context())
	if err != nil {
		s.writeSettingsError(w, "load mail sender", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "not_found", "no mail sender configured")
		return
	}
	writeJSON(w, http.StatusOK, mailSenderToResponse(c))
}

func (s *Server) handlePutMailSender(w http.ResponseWriter, r *http.Request) {
	var req settings.MailSenderInput
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := s.settings.SetMailSender(r.Context(), req)
	if err != nil {
		s.writeSettingsError(w, "save mail sender", err)
		return
	}
	writeJSON(w, http.StatusOK, mailSenderToResponse(c))
}

func (s *Server) handleGetListener(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	l, err := s.settings.Listener(r.Context(), name)
	if err != nil {
		s.writeSettingsError(w, "load listener", err)
		return
	}
	if l == nil {
		writeError(w, http.StatusNotFound, "not_found", "no listener configured for "+name)
		return
	}
	writeJSON(w, http.StatusOK, listenerResponse{Service: name, NetworkInterface: l.NetworkInterface, ListenerPort: l.ListenerPort})
}

func (s *Server) handlePutListener(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	var req settings.ListenerInput
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := s.settings.SetListener(r.Context(), name, req)
	if err != nil {
		s.writeSettingsError(w, "save listener", err)
		return
	}
	writeJSON(w, http.StatusOK, listenerResponse{Service: name, NetworkInterface: l.NetworkInterface, ListenerPort: l.ListenerPort})
}

func (s *Server) handleDeleteListener(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.ClearListener(r.Context(), chi.URLParam(r, "service")); err != nil {
		s.writeSettingsError(w, "clear listener", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeSettingsError(w http.ResponseWriter, op string, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_input", verr.Error())
	case errors.Is(err, store.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "not_found", "service not found")
	default:
		s.logger.Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
	}
}

func mailSenderToResponse(c *core.EmailClient) mailSenderResponse {
	return mailSenderResponse{
		ID:         c.ID,
		SMTPServer: c.SMTPServer,
		Port:       c.Port,
		Sender:     c.Sender,
		Receiver:   c.Receiver,
		Username:   c.Username,
		CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
	}
}
