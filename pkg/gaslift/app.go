// Package gaslift assembles the payment facilitator for embedding into a
// larger service or for standalone serving through cmd/facilitator.
package gaslift

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gaslift/facilitator/internal/circuitbreaker"
	"github.com/gaslift/facilitator/internal/config"
	"github.com/gaslift/facilitator/internal/dbpool"
	"github.com/gaslift/facilitator/internal/evm"
	"github.com/gaslift/facilitator/internal/httpserver"
	"github.com/gaslift/facilitator/internal/ledger"
	"github.com/gaslift/facilitator/internal/lifecycle"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/internal/metrics"
	"github.com/gaslift/facilitator/internal/monitoring"
	"github.com/gaslift/facilitator/internal/quota"
	"github.com/gaslift/facilitator/internal/scheme"
	"github.com/gaslift/facilitator/internal/settlement"
	"github.com/gaslift/facilitator/internal/signeroracle"
	"github.com/gaslift/facilitator/internal/sponsor"
	"github.com/gaslift/facilitator/internal/verifier"
)

// App wires the facilitator components for reuse or standalone serving.
type App struct {
	Config   *config.Config
	Engine   *settlement.Engine
	Verifier *verifier.Verifier
	Gate     *quota.Gate
	Ledger   ledger.Writer
	Sponsors sponsor.Repository
	Quotas   quota.Repository

	router           chi.Router
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	router      chi.Router
	ledger      ledger.Writer
	sponsorRepo sponsor.Repository
	quotaRepo   quota.Repository
	oracle      signeroracle.Oracle
}

// WithRouter registers routes onto an existing chi.Router instead of a new one.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithLedger injects a custom transaction ledger.
func WithLedger(w ledger.Writer) Option {
	return func(o *options) { o.ledger = w }
}

// WithSponsorRepository injects a custom sponsor registry.
func WithSponsorRepository(repo sponsor.Repository) Option {
	return func(o *options) { o.sponsorRepo = repo }
}

// WithQuotaRepository injects a custom tier/quota store.
func WithQuotaRepository(repo quota.Repository) Option {
	return func(o *options) { o.quotaRepo = repo }
}

// WithOracle injects a custom signer oracle, usually a fake in tests.
func WithOracle(oracle signeroracle.Oracle) Option {
	return func(o *options) { o.oracle = oracle }
}

// NewApp assembles the facilitator services for embedding.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("gaslift: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "gaslift-facilitator",
		Environment: cfg.Logging.Environment,
	})

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	app.metricsCollector = metricsCollector

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	pool := evm.NewPool(cfg.Facilitator.RPCURLs, breakers, metricsCollector)
	app.resourceManager.Register("rpc-pool", pool)

	// Postgres backends share one connection pool.
	var sharedDB *dbpool.SharedPool
	if cfg.Storage.Backend == "postgres" {
		if cfg.Storage.PostgresURL == "" {
			return nil, errors.New("gaslift: postgres backend requires storage.postgres_url")
		}
		var err error
		sharedDB, err = dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
		if err != nil {
			return nil, err
		}
		app.resourceManager.Register("postgres-pool", sharedDB)
	}

	if optState.ledger != nil {
		app.Ledger = optState.ledger
	} else {
		writerCfg := ledger.WriterConfig{
			Backend:         cfg.Storage.Backend,
			MongoDBURL:      cfg.Storage.MongoDBURL,
			MongoDBDatabase: cfg.Storage.MongoDBDatabase,
			Metrics:         metricsCollector,
		}
		if sharedDB != nil {
			writerCfg.PostgresDB = sharedDB.DB()
		}
		w, err := ledger.NewWriter(writerCfg)
		if err != nil {
			return nil, err
		}
		app.Ledger = w
		app.resourceManager.Register("ledger", w)
	}

	if optState.sponsorRepo != nil {
		app.Sponsors = optState.sponsorRepo
	} else {
		repoCfg := sponsor.RepositoryConfig{Backend: storageBackendFor(cfg)}
		if sharedDB != nil {
			repoCfg.PostgresDB = sharedDB.DB()
		}
		repo, err := sponsor.NewRepository(repoCfg)
		if err != nil {
			return nil, err
		}
		app.Sponsors = repo
		app.resourceManager.Register("sponsor-repository", repo)
	}

	if optState.quotaRepo != nil {
		app.Quotas = optState.quotaRepo
	} else {
		repoCfg := quota.RepositoryConfig{Backend: storageBackendFor(cfg)}
		if sharedDB != nil {
			repoCfg.PostgresDB = sharedDB.DB()
		}
		repo, err := quota.NewRepository(repoCfg)
		if err != nil {
			return nil, err
		}
		// Assignments are read on every request; cache them.
		app.Quotas = quota.NewCachedRepository(repo, time.Minute)
	}

	app.Gate = quota.NewGate(cfg.Quota, app.Quotas, metricsCollector)
	app.resourceManager.Register("quota-gate", app.Gate)

	oracle := optState.oracle
	if oracle == nil {
		oracle = signeroracle.NewClient(
			cfg.SignerOracle.URL,
			cfg.SignerOracle.Credential,
			cfg.SignerOracle.Timeout.Duration,
			breakers,
			metricsCollector,
		)
	}
	adapter := signeroracle.NewAdapter(oracle, pool,
		cfg.Settlement.ReceiptPoll.Duration, cfg.Settlement.ReceiptTimeout.Duration)

	app.Verifier = verifier.New(pool, metricsCollector)

	app.Engine = settlement.New(
		app.Verifier,
		sponsor.NewResolver(app.Sponsors),
		adapter,
		settlement.NewEVMStatePool(pool),
		app.Ledger,
		app.Gate,
		metricsCollector,
		settlement.Config{
			ReconcileDelay: cfg.Settlement.ReconcileDelay.Duration,
			LogScanWindow:  cfg.Settlement.LogScanWindow.Duration,
			MaxRetries:     cfg.Settlement.MaxRetries,
		},
	)

	if cfg.Monitoring.Enabled {
		monitor := monitoring.NewBalanceMonitor(
			cfg.Monitoring, app.Sponsors, monitoring.NewEVMReaderPool(pool), appLogger)
		monitor.Start(context.Background())
		app.resourceManager.Register("balance-monitor", monitor)
	}

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	schemeRouter := scheme.NewRouter(cfg.EnabledChains(), cfg.Facilitator.DeferredEscrow)

	httpserver.ConfigureRouter(app.router, cfg, schemeRouter,
		app.Verifier, app.Engine, app.Gate, pool, breakers, metricsCollector, appLogger)

	return app, nil
}

// storageBackendFor maps the storage backend to repository backends. The
// sponsor registry and quota store have no MongoDB implementation; a mongodb
// ledger deployment keeps them in memory.
func storageBackendFor(cfg *config.Config) string {
	if cfg.Storage.Backend == "postgres" {
		return "postgres"
	}
	return "memory"
}

// Router returns the chi router with facilitator routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases resources owned by the app in reverse construction order.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// NewHandler constructs an App and returns its handler plus a shutdown func.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for
// embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the
// facilitator.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
