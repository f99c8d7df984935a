package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/veilmarkets/oraclecore/internal/domain"
	"github.com/veilmarkets/oraclecore/internal/server/handler"
	"github.com/veilmarkets/oraclecore/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per window per client, 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Oracles     *handler.OracleHandler
	Votes       *handler.VoteHandler
	Resolutions *handler.ResolutionHandler
	Disputes    *handler.DisputeHandler
}

// Server is the headless HTTP API server for the resolution core.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting).
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market metadata.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("PUT /api/markets/{id}", handlers.Markets.UpsertMarket)

	// Oracle registry.
	mux.HandleFunc("POST /api/oracles", handlers.Oracles.RegisterOracle)
	mux.HandleFunc("GET /api/oracles/{address}", handlers.Oracles.GetOracle)
	mux.HandleFunc("DELETE /api/oracles/{address}", handlers.Oracles.DeactivateOracle)

	// Encrypted votes.
	mux.HandleFunc("POST /api/markets/{id}/votes", handlers.Votes.SubmitVote)
	mux.HandleFunc("GET /api/markets/{id}/votes", handlers.Votes.ListVotes)

	// Resolution lifecycle.
	mux.HandleFunc("POST /api/markets/{id}/resolution", handlers.Resolutions.RequestResolution)
	mux.HandleFunc("GET /api/markets/{id}/resolution", handlers.Resolutions.GetResolution)
	mux.HandleFunc("GET /api/markets/{id}/resolution/state", handlers.Resolutions.GetState)
	mux.HandleFunc("GET /api/markets/{id}/resolution/archive", handlers.Resolutions.GetArchive)
	mux.HandleFunc("POST /api/markets/{id}/aggregate", handlers.Resolutions.Aggregate)
	mux.HandleFunc("POST /api/markets/{id}/finalize", handlers.Resolutions.Finalize)

	// Disputes.
	mux.HandleFunc("POST /api/markets/{id}/disputes", handlers.Disputes.SubmitChallenge)
	mux.HandleFunc("GET /api/markets/{id}/disputes", handlers.Disputes.ListChallenges)
	mux.HandleFunc("POST /api/disputes/{id}/review", handlers.Disputes.ReviewChallenge)

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
