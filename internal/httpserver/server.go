package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gaslift/facilitator/internal/circuitbreaker"
	"github.com/gaslift/facilitator/internal/config"
	"github.com/gaslift/facilitator/internal/evm"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/internal/metrics"
	"github.com/gaslift/facilitator/internal/quota"
	"github.com/gaslift/facilitator/internal/ratelimit"
	"github.com/gaslift/facilitator/internal/scheme"
	"github.com/gaslift/facilitator/internal/settlement"
	"github.com/gaslift/facilitator/internal/verifier"
	"github.com/gaslift/facilitator/pkg/x402"
)

var serverStartTime = time.Now()

// PaymentVerifier is the verify-path dependency of the HTTP boundary.
type PaymentVerifier interface {
	Verify(ctx context.Context, p verifier.Payment) error
}

// Settler is the settle-path dependency of the HTTP boundary.
type Settler interface {
	Settle(ctx context.Context, p verifier.Payment, reqs x402.PaymentRequirements) settlement.Outcome
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	router   *scheme.Router
	verifier PaymentVerifier
	engine   Settler
	gate     *quota.Gate              // may be nil when quota is disabled
	pool     *evm.Pool                // health checks; may be nil in tests
	breakers *circuitbreaker.Manager  // may be nil
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, schemeRouter *scheme.Router, v PaymentVerifier, engine Settler,
	gate *quota.Gate, pool *evm.Pool, breakers *circuitbreaker.Manager,
	metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {

	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			router:   schemeRouter,
			verifier: v,
			engine:   engine,
			gate:     gate,
			pool:     pool,
			breakers: breakers,
			metrics:  metricsCollector,
			logger:   appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router, appLogger)
	return s
}

// ConfigureRouter attaches facilitator routes to an existing router, for
// embedding into a larger service.
func ConfigureRouter(router chi.Router, cfg *config.Config, schemeRouter *scheme.Router,
	v PaymentVerifier, engine Settler, gate *quota.Gate, pool *evm.Pool,
	breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {

	if router == nil {
		return
	}
	h := handlers{
		cfg:      cfg,
		router:   schemeRouter,
		verifier: v,
		engine:   engine,
		gate:     gate,
		pool:     pool,
		breakers: breakers,
		metrics:  metricsCollector,
		logger:   appLogger,
	}
	h.configureRouter(router, appLogger)
}

func (h handlers) configureRouter(router chi.Router, appLogger zerolog.Logger) {
	cfg := h.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"X-PAYMENT-RESPONSE", "X-x402-Transaction", "X-x402-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers first so every response carries them.
	router.Use(securityHeadersMiddleware)

	// Structured logging before RequestID so the context logger sees it.
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// Global and per-IP limiters run before any payer is identified; the
	// tier-derived per-payer limit is applied inside the handlers once the
	// payload names a payer.
	rateLimitCfg := ratelimit.Config{
		GlobalEnabled: cfg.RateLimit.GlobalEnabled,
		GlobalLimit:   cfg.RateLimit.GlobalLimit,
		GlobalWindow:  cfg.RateLimit.GlobalWindow.Duration,
		PerIPEnabled:  cfg.RateLimit.PerIPEnabled,
		PerIPLimit:    cfg.RateLimit.PerIPLimit,
		PerIPWindow:   cfg.RateLimit.PerIPWindow.Duration,
		Metrics:       h.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/healthz", h.health)
		r.Get(prefix+"/supported", h.supported)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Payment endpoints. Settlement waits on receipts and reconciliation, so
	// the timeout has to cover the clamped receipt wait plus one retry.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(6 * time.Minute))
		r.Post(prefix+"/verify", h.verify)
		r.Post(prefix+"/settle", h.settle)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
