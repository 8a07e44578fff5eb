package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"rockinit/internal/crontab"
	"rockinit/internal/settings"
	"rockinit/internal/store"
	"rockinit/internal/taskdefs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	tasks      *taskdefs.Service
	settings   *settings.Service
	store      *store.Store
	crontab    *crontab.Synthesizer
	mcp        http.Handler
	logger     *slog.Logger
	location   *time.Location
	authToken  string
}

// Options wires the collaborators of the HTTP API. Settings and MCP are optional.
type Options struct {
	Addr      string
	AuthToken string
	Tasks     *taskdefs.Service
	Settings  *settings.Service
	Store     *store.Store
	Crontab   *crontab.Synthesizer
	MCP       http.Handler
	Logger    *slog.Logger
	Location  *time.Location
}

// NewServer constructs the HTTP API server.
func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	location := opts.Location
	if location == nil {
		location = time.Local
	}
	s := &Server{
		router:    router,
		tasks:     opts.Tasks,
		settings:  opts.Settings,
		store:     opts.Store,
		crontab:   opts.Crontab,
		mcp:       opts.MCP,
		logger:    opts.Logger,
		location:  location,
		authToken: opts.AuthToken,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.mcp != nil {
		var mcpHandler http.Handler = s.mcp
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/cron/preview", s.handleCronPreview)
		r.Get("/crontab", s.handleGetCrontab)
		r.Post("/crontab/refresh", s.handleRefreshCrontab)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Put("/", s.handleUpdateTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
			})
		})

		r.Route("/boot-runs", func(r chi.Router) {
			r.Get("/", s.handleListBootRuns)
			r.Get("/{runID}", s.handleGetBootRun)
		})

		if s.settings != nil {
			r.Get("/mail-sender", s.handleGetMailSender)
			r.Put("/mail-sender", s.handlePutMailSender)
			r.Route("/services/{service}/listener", func(r chi.Router) {
				r.Get("/", s.handleGetListener)
				r.Put("/", s.handlePutListener)
				r.Delete("/", s.handleDeleteListener)
			})
		}
	})
}
