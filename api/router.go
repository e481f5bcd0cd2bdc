// Package api provides the HTTP surface for the signal processing core:
// webhook ingestion, read-only monitoring, and the realtime websocket
// upgrade (spec.md §6). It includes routing, handlers, and middleware.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/sherwood-labs/signalcore/config"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/health"
	"github.com/sherwood-labs/signalcore/ingest"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/realtime"
	"github.com/sherwood-labs/signalcore/tracing"
)

// NewRouter creates and configures the main HTTP router.
//
// Args:
//   - cfg: Application configuration
//   - ingestor: webhook ingestion pipeline
//   - signalStore, experimentStore, orderStore, positionStore: read models
//     for the monitoring/orders endpoints
//   - healthMonitor: queue depth and worker liveness snapshot source
//   - authVerifier: bearer token verifier (nil disables auth, dev mode only)
//   - wsManager: websocket manager mounted at /v1/realtime
//
// Returns:
//   - http.Handler: The configured router
func NewRouter(
	cfg *config.Config,
	ingestor *ingest.Ingestor,
	signalStore data.SignalStore,
	experimentStore data.ExperimentStore,
	orderStore data.OrderStore,
	positionStore data.PositionStore,
	healthMonitor *health.Monitor,
	authVerifier market.AuthVerifier,
	wsManager *realtime.WebSocketManager,
) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(TraceMiddleware)
	r.Use(middleware.RealIP)
	r.Use(zerologLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Rate limiting - prevent abuse
	// Global: 100 requests per minute per IP (protects against basic DoS)
	r.Use(httprate.LimitByIP(100, 1*time.Minute))
	// Burst protection: 20 requests per second per IP
	r.Use(httprate.LimitByIP(20, 1*time.Second))

	// Request body size limit - prevent memory exhaustion attacks
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Limit request body to 1MB
			r.Body = http.MaxBytesReader(w, r.Body, 1048576)
			next.ServeHTTP(w, r)
		})
	})

	// Security Headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	})

	// CORS middleware for frontend
	r.Use(newCORSMiddleware(cfg))

	h := NewHandler(ingestor, signalStore, experimentStore, orderStore, positionStore, healthMonitor)

	// Public routes
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "signalcore",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	r.Post("/webhook", h.WebhookHandler)

	if wsManager != nil {
		r.Get("/v1/realtime", wsManager.HandleWebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authVerifier))
		r.Use(AuditMiddleware)

		r.Get("/monitoring/status", h.MonitoringStatusHandler)
		r.Get("/orders", h.OrdersHandler)
	})

	return r
}

// zerologLogger is middleware that logs requests using zerolog.
// Includes the trace_id from context for request correlation.
func zerologLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger := tracing.Logger(r.Context())
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// newCORSMiddleware creates CORS middleware with origin whitelisting.
func newCORSMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is in allowed list
			allowed := false
			for _, allowedOrigin := range cfg.AllowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			// Set CORS headers if origin is allowed
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Signature")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			// Handle preflight request
			if r.Method == "OPTIONS" {
				if allowed {
					w.WriteHeader(http.StatusOK)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
