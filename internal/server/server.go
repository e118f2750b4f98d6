// Package server exposes the chatbot over GraphQL (HTTP and WebSocket) and MCP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/raphaelgruber/moviechat/internal/session"
)

const (
	// defaultTurnBudget is used when HTTPServer gets no turn budget.
	defaultTurnBudget = 60 * time.Second
	// writeMargin is added to the turn budget so a timed-out turn can still
	// deliver its fallback answer.
	writeMargin = 30 * time.Second
)

// Server routes GraphQL operations to sessions. Answers never fail at the
// HTTP level: a failed turn is still a reply carrying the fallback answer.
type Server struct {
	sessions *session.Manager
	metrics  *metrics.Collector
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates the HTTP server for sessions.
func New(sessions *session.Manager, collector *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessions: sessions,
		metrics:  collector,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("/query", s.connectionSessions(s.graphQL()))
	s.mux.Handle("/playground", playground.Handler("moviechat GraphQL", "/query"))
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return RequestLogging(s.logger, s.mux)
}

// HTTPServer returns an http.Server for addr whose write timeout outlasts a
// turn of turnBudget. WebSocket connections are unaffected by the read and
// write timeouts: the upgrade clears the connection deadlines.
func (s *Server) HTTPServer(addr string, turnBudget time.Duration) *http.Server {
	if turnBudget <= 0 {
		turnBudget = defaultTurnBudget
	}
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      turnBudget + writeMargin,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// Shutdown stops srv, waiting up to timeout for in-flight turns.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
