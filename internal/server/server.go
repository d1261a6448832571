// Package server exposes the connection registry, catalog introspection,
// password store, query tasks and comments over the explorer HTTP API.
//
// Every reply is a JSON envelope with HTTP status 200: {"data": ...} on
// success, {"error": "..."} on failure, {"error": "NEED-PASS",
// "pass_info": {...}} when a password is missing and {"error": "RETRY",
// "data": "<taskid>"} while a query runs. Only malformed requests get a 4xx.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/koustreak/sqlexplorer/internal/comments"
	"github.com/koustreak/sqlexplorer/internal/database"
	"github.com/koustreak/sqlexplorer/internal/logger"
	"github.com/koustreak/sqlexplorer/internal/registry"
	"github.com/koustreak/sqlexplorer/internal/task"
)

// Config holds the HTTP settings.
type Config struct {
	Addr     string
	BasePath string

	// PollWait is how long GET /query holds a request for an unfinished
	// task before answering RETRY.
	PollWait time.Duration

	// Token, when set, is required as "Authorization: token <Token>".
	Token string

	CORSOrigins []string

	// RateLimit is requests per second per client; zero disables it.
	RateLimit float64
	RateBurst int

	ShutdownTimeout time.Duration
}

// DefaultConfig listens on localhost under the extension's base path.
func DefaultConfig() *Config {
	return &Config{
		Addr:            "127.0.0.1:8890",
		BasePath:        "/jupyterlab-sql-explorer",
		PollWait:        118 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server wires the HTTP API to its stores.
type Server struct {
	cfg   Config
	reg   *registry.Registry
	notes *comments.Store
	tasks *task.Manager[*database.Result]
	log   *logger.Logger
	mux   chi.Router
}

// New builds the router. notes may be nil, in which case comments are
// neither stored nor overlaid.
func New(cfg *Config, reg *registry.Registry, notes *comments.Store, tasks *task.Manager[*database.Result], log *logger.Logger) *Server {
	s := &Server{
		cfg:   *cfg,
		reg:   reg,
		notes: notes,
		tasks: tasks,
		log:   logger.OrNop(log).Component("server"),
	}
	s.mux = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(accessLog(s.log))
	r.Use(chimw.Recoverer)

	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	if s.cfg.RateLimit > 0 {
		r.Use(rateLimit(s.cfg.RateLimit, s.cfg.RateBurst))
	}

	base := s.cfg.BasePath
	if base == "" {
		base = "/"
	}
	r.Route(base, func(r chi.Router) {
		if s.cfg.Token != "" {
			r.Use(requireToken(s.cfg.Token))
		}

		r.Get("/conns", s.listConns)
		r.Post("/conns", s.addConn)
		r.Put("/conns", s.addConn)
		r.Delete("/conns", s.deleteConn)

		r.Get("/dbtables", s.listDBTables)
		r.Get("/columns", s.listColumns)

		r.Post("/pass", s.setPass)
		r.Delete("/pass", s.clearPass)

		r.Post("/query", s.submitQuery)
		r.Get("/query", s.pollQuery)
		r.Delete("/query", s.cancelQuery)

		r.Post("/comments", s.addComment)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.With().Str("addr", s.cfg.Addr).Str("base_path", s.cfg.BasePath).Logger().Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
