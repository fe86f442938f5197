/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  unique ID per request for tracing
  2. RealIP:     honor proxy headers for client IPs
  3. zap logger: structured request logging
  4. Recoverer:  panic recovery (500 instead of crash)
  5. CORS:       cross-origin requests for the mobile/staff frontends

ROUTE GROUPS:
  /api/users/*     customer-side loyalty operations
  /api/scan        staff-side code resolution
  /api/admin/*     adjustments and reconciliation
  /api/tiers       tier table
  /metrics         prometheus scrape endpoint
  /healthz         liveness

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig carries the router's deployment knobs.
type RouterConfig struct {
	AllowedOrigins []string
	Registry       *prometheus.Registry // nil disables /metrics
}

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/discounts", h.GetDiscountPreview)
			r.Post("/earn", h.Earn)
			r.Post("/redeem", h.Redeem)
			r.Post("/redeem-points", h.RedeemPoints)
			r.Post("/tokens", h.IssueTokens)
		})

		r.Post("/scan", h.Scan)
		r.Get("/tiers", h.ListTiers)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/users/{id}/adjust", h.Adjust)
			r.Get("/users/{id}/reconcile", h.Reconcile)
		})
	})

	r.Get("/healthz", h.Healthz)
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

// requestLogger logs one structured line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
