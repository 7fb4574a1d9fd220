// Package api provides the HTTP request surface: session and message
// CRUD, stream-status polling, partner links, and health probes.
//
// Identity arrives in the X-User-ID header, placed there by the
// authenticating proxy in front of this service.
package api

import (
	"errors"
	"net/http"

	"github.com/haven-chat/haven/internal/chat"
	"github.com/haven-chat/haven/internal/log"
	"github.com/haven-chat/haven/internal/registry"
	"github.com/haven-chat/haven/internal/store"
)

// userIDHeader carries the authenticated user's id.
const userIDHeader = "X-User-ID"

// Config contains the dependencies for the API server.
type Config struct {
	Logger   log.Logger
	Store    *store.Store
	Chat     *chat.Service
	Registry *registry.Registry
}

// Server is the HTTP API server.
type Server struct {
	mux      *http.ServeMux
	logger   log.Logger
	store    *store.Store
	chat     *chat.Service
	registry *registry.Registry
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if cfg.Chat == nil {
		return nil, errors.New("api: chat service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	s := &Server{
		mux:      http.NewServeMux(),
		logger:   cfg.Logger,
		store:    cfg.Store,
		chat:     cfg.Chat,
		registry: cfg.Registry,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)

	s.mux.HandleFunc("GET /api/user", s.handleGetUser)
	s.mux.HandleFunc("PUT /api/user", s.handlePutUser)

	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("PATCH /api/sessions/{id}", s.handleRenameSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleListMessages)
	s.mux.HandleFunc("POST /api/sessions/{id}/messages", s.handlePostMessage)
	s.mux.HandleFunc("GET /api/messages/{id}/stream-status", s.handleStreamStatus)

	s.mux.HandleFunc("GET /api/partners", s.handleListPartners)
	s.mux.HandleFunc("POST /api/partners", s.handleCreatePartner)
}

// Handler returns the mux wrapped in the recovery and logging middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = LoggingMiddleware(s.logger)(h)
	h = RecoveryMiddleware(s.logger)(h)
	return h
}

// Mux exposes the bare mux so additional routes, like the websocket
// endpoint, can be mounted behind the same middleware chain.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// userID extracts the authenticated user id, writing 401 when absent.
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return id, true
}
