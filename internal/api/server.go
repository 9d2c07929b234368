package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/V1vekW/OPTIC-SHIELD/internal/auth"
	"github.com/V1vekW/OPTIC-SHIELD/internal/config"
	"github.com/V1vekW/OPTIC-SHIELD/internal/hub"
	"github.com/V1vekW/OPTIC-SHIELD/internal/ingest"
	"github.com/V1vekW/OPTIC-SHIELD/internal/storage"
	"github.com/V1vekW/OPTIC-SHIELD/internal/validation"
)

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	store     storage.Store
	ingest    *ingest.Service
	hub       *hub.Hub
	verifier  *auth.Verifier
	tokens    *auth.JWTManager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
	upgrader  websocket.Upgrader
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, svc *ingest.Service, h *hub.Hub) *RESTServer {
	tokens := auth.NewJWTManager(&cfg.Auth)

	s := &RESTServer{
		config:    cfg,
		store:     store,
		ingest:    svc,
		hub:       h,
		verifier:  auth.NewVerifier(&cfg.Auth, tokens),
		tokens:    tokens,
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboard origins are not pinned; deployments front this
			// with their own proxy rules.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			"X-API-Key", "X-Device-ID", "X-Timestamp", "X-Signature",
		},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// deviceAuthMiddleware authenticates edge-device write requests. The
// body is read up front because the optional HMAC signature covers it;
// it is restored afterwards so handlers decode as usual.
func (s *RESTServer) deviceAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := s.verifier.VerifyRequest(r, body); err != nil {
			log.Warn().
				Err(err).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Msg("Device authentication failed")
			s.respondError(w, http.StatusUnauthorized, unauthorizedMessage(err))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// unauthorizedMessage strips the sentinel prefix for the wire
func unauthorizedMessage(err error) string {
	if errors.Is(err, auth.ErrUnauthorized) {
		return err.Error()
	}
	return "unauthorized"
}
