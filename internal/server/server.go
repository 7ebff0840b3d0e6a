// Package server is the host command surface: a JSON HTTP API for session
// commands and a WebSocket per session for its event stream.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"player-session/internal/session"
)

// HealthFunc reports extra health details for GET /api/health.
type HealthFunc func() any

type Server struct {
	router       chi.Router
	sessions     *session.Manager
	health       HealthFunc
	pingInterval time.Duration
}

func NewServer(m *session.Manager, opts ...Option) *Server {
	srv := &Server{
		router:       chi.NewRouter(),
		sessions:     m,
		pingInterval: 15 * time.Second,
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  log.StandardLogger(),
		NoColor: true,
	}))
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

type Option func(*Server)

func WithHealth(fn HealthFunc) Option {
	return func(s *Server) { s.health = fn }
}

// WithPingInterval sets how often event sockets are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
