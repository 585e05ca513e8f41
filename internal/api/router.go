package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"hashhost/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RunStore is the read side of the run ledger.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*core.Run, error)
	ListRuns(ctx context.Context, script string, limit, offset int) ([]*core.Run, error)
}

// Trigger queues a sweep request for the watch session's debounce loop.
type Trigger interface {
	Trigger() bool
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	runs       RunStore
	trigger    Trigger
	sweepDir   string
	logger     *slog.Logger
	location   *time.Location
	authToken  string
}

// NewServer constructs the status API. runs may be nil when no ledger is
// configured; the run endpoints then answer 503. Sweep requests go through
// trigger and never sweep directly.
func NewServer(addr string, authToken string, runs RunStore, trigger Trigger, sweepDir string, logger *slog.Logger, location *time.Location) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if location == nil {
		location = time.Local
	}
	s := &Server{
		router:    router,
		runs:      runs,
		trigger:   trigger,
		sweepDir:  sweepDir,
		logger:    logger,
		location:  location,
		authToken: authToken,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

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
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/sweep", s.handleSweep)
		r.Post("/schedule/preview", s.handleSchedulePreview)

		r.Route("/runs", func(r chi.Router) {
			r.Use(s.requireLedger)
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleGetRun)
			r.Get("/{runID}/log", s.handleRunLog)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sweep_dir": s.sweepDir,
		"ledger":    s.runs != nil,
	})
}

func (s *Server) requireLedger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.runs == nil {
			writeError(w, http.StatusServiceUnavailable, "no_ledger", "run ledger is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}
