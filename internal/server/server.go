// Package server exposes the session core to secondary clients over HTTP:
// REST for commands and queries, SSE for the live event feed. It binds to
// loopback by default; it is a local relay, not a public API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/agentdesk/agentdesk/internal/cache"
	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/internal/logging"
	"github.com/agentdesk/agentdesk/internal/session"
	"github.com/agentdesk/agentdesk/pkg/types"
)

// StateLister lists every session's durable derived state. statedb.DB
// implements it.
type StateLister interface {
	ListStates(ctx context.Context) ([]*types.SessionState, error)
}

// Server is the local HTTP relay.
type Server struct {
	cfg     config.ServerConfig
	router  *chi.Mux
	httpSrv *http.Server

	bus    *event.Bus
	cache  *cache.Cache
	coord  *session.Coordinator
	states StateLister
	log    zerolog.Logger
}

// New creates a relay over the given session core.
func New(cfg config.ServerConfig, bus *event.Bus, ch *cache.Cache, coord *session.Coordinator, states StateLister) *Server {
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		bus:    bus,
		cache:  ch,
		coord:  coord,
		states: states,
		log:    logging.Component("server"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: SSE connections stay open indefinitely.
	}
	s.log.Info().Str("addr", s.cfg.Addr).Msg("relay listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the chi mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
