package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/auth"
	"github.com/rentloop/lease-coordinator/internal/bus"
	"github.com/rentloop/lease-coordinator/internal/config"
	"github.com/rentloop/lease-coordinator/internal/lease"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/review"
	"github.com/rentloop/lease-coordinator/internal/storage"
	"github.com/rentloop/lease-coordinator/internal/validation"
)

// Dependencies are the services the REST server routes requests to
type Dependencies struct {
	Store   storage.Store
	Leases  *lease.Manager
	Ledger  *notification.Ledger
	Bus     *bus.Bus
	Reviews *review.Service
	Auth    *auth.JWTManager
}

// RESTServer represents the REST API server
type RESTServer struct {
	config    config.APIConfig
	store     storage.Store
	leases    *lease.Manager
	ledger    *notification.Ledger
	bus       *bus.Bus
	reviews   *review.Service
	auth      *auth.JWTManager
	validator *validation.Validator
	upgrader  websocket.Upgrader
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg config.APIConfig, deps Dependencies) *RESTServer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &RESTServer{
		config:    cfg,
		store:     deps.Store,
		leases:    deps.Leases,
		ledger:    deps.Ledger,
		bus:       deps.Bus,
		reviews:   deps.Reviews,
		auth:      deps.Auth,
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
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

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Handler returns the routed handler
func (s *RESTServer) Handler() http.Handler {
	return s.router
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

type claimsKey struct{}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter browsers must use for WebSocket upgrades
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return ""
		}
		return parts[1]
	}
	return r.URL.Query().Get("access_token")
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey{}).(*auth.Claims)
	return claims
}

func (s *RESTServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
