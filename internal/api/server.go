// Package api provides the HTTP API server for Fathom.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fathomhq/fathom/internal/core"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	integrations *IntegrationsAPI
	hub          *EventHub
}

// NewServer creates the API server and wires its routes.
func NewServer(host string, port int, integrations *IntegrationsAPI, hub *EventHub) *Server {
	s := &Server{
		integrations: integrations,
		hub:          hub,
	}
	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		s.integrations.RegisterRoutes(r)
	})

	// WebSocket
	r.Get("/ws", s.hub.handleWebSocket)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router = r
}

// Start runs the server. Blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	fmt.Printf("API server starting on http://%s\n", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps a core error to an HTTP status. Unknown errors are
// treated as internal.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrMalformedState):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnsupportedProvider):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrReauthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrUpstreamAuth):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns the client-facing message for a core error.
// Provider internals stay in the logs; the body carries only the
// taxonomy-level reason.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrMalformedState):
		return "connection failed: invalid request state"
	case errors.Is(err, core.ErrUnsupportedProvider):
		return "unsupported provider"
	case errors.Is(err, core.ErrNotFound):
		return "not found"
	case errors.Is(err, core.ErrReauthRequired):
		return "re-authentication required, please reconnect this integration"
	case errors.Is(err, core.ErrPermissionDenied):
		return "insufficient permissions, please re-authenticate with elevated access"
	case errors.Is(err, core.ErrUpstreamAuth):
		return "provider rejected the authorization"
	case errors.Is(err, core.ErrUpstream):
		return "provider is temporarily unavailable, please retry"
	default:
		return "internal error"
	}
}
