package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Facilitator    FacilitatorConfig    `yaml:"facilitator"`
	SignerOracle   SignerOracleConfig   `yaml:"signer_oracle"`
	Settlement     SettlementConfig     `yaml:"settlement"`
	Quota          QuotaConfig          `yaml:"quota"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Storage        StorageConfig        `yaml:"storage"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics endpoint (leave empty to disable protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// FacilitatorConfig holds the payment-protocol configuration: which networks
// the service settles on and how to reach them.
type FacilitatorConfig struct {
	// Networks restricts the advertised networks (legacy names or CAIP-2).
	// Empty means every network in the chain registry.
	Networks []string `yaml:"networks"`

	// RPCURLs overrides JSON-RPC endpoints per legacy network name.
	// Chains absent from the map use their built-in defaults.
	RPCURLs map[string]string `yaml:"rpc_urls"`

	// DeferredEscrow is the escrow contract address for the deferred scheme.
	// Empty disables deferred: the scheme is only advertised when an escrow
	// is configured.
	DeferredEscrow string `yaml:"deferred_escrow"`
}

// SignerOracleConfig holds the remote transaction-signing service configuration.
// Sponsor wallet keys never touch this process; all submission goes through
// the oracle.
type SignerOracleConfig struct {
	URL        string   `yaml:"url"`
	Credential string   `yaml:"credential"` // bearer credential, usually set via FACILITATOR_ORACLE_CREDENTIAL
	Timeout    Duration `yaml:"timeout"`    // per-submission HTTP timeout (default: 60s)
}

// SettlementConfig tunes the settlement engine.
type SettlementConfig struct {
	ReceiptPoll    Duration `yaml:"receipt_poll"`     // receipt polling interval (default: 2s)
	ReceiptTimeout Duration `yaml:"receipt_timeout"`  // max wait for a submitted tx to mine (default: 90s)
	ReconcileDelay Duration `yaml:"reconcile_delay"`  // pause before reading authorizationState after a failure (default: 1s)
	LogScanWindow  Duration `yaml:"log_scan_window"`  // how far back to scan Transfer logs when recovering a lost tx hash (default: 60s)
	MaxRetries     int      `yaml:"max_retries"`      // resubmissions after a reconciled failure (default: 1)
}

// QuotaConfig holds per-payer tier and monthly quota configuration.
type QuotaConfig struct {
	Enabled     bool                  `yaml:"enabled"`      // Enable tier gating (default: true)
	DefaultTier string                `yaml:"default_tier"` // Tier for payers without an assignment (default: "free")
	Tiers       map[string]TierConfig `yaml:"tiers"`
}

// TierConfig defines the limits of one subscription tier.
type TierConfig struct {
	RateLimitPerMinute int   `yaml:"rate_limit_per_minute"` // settle requests per payer per minute
	MonthlyTxLimit     int64 `yaml:"monthly_tx_limit"`      // settlements per calendar month; -1 = unlimited
}

// RateLimitConfig holds rate limiting configuration.
// Provides multi-tier rate limiting to prevent spam while allowing legitimate use.
type RateLimitConfig struct {
	// Global rate limiting (across all users)
	GlobalEnabled bool     `yaml:"global_enabled"` // Enable global rate limiting
	GlobalLimit   int      `yaml:"global_limit"`   // Requests allowed per global window
	GlobalWindow  Duration `yaml:"global_window"`  // Time window for global limit

	// Per-IP rate limiting (first line of defense before any payer is identified)
	PerIPEnabled bool     `yaml:"per_ip_enabled"` // Enable per-IP rate limiting
	PerIPLimit   int      `yaml:"per_ip_limit"`   // Requests allowed per IP per window
	PerIPWindow  Duration `yaml:"per_ip_window"`  // Time window for per-IP limit
}

// StorageConfig holds storage backend configuration for the transaction
// ledger, sponsor registry, and tier assignments.
type StorageConfig struct {
	Backend         string             `yaml:"backend"`          // "memory", "postgres", or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string             `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string             `yaml:"mongodb_database"` // MongoDB database name
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`    // PostgreSQL connection pool settings
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// MonitoringConfig tunes the sponsor gas balance monitor. A sponsor wallet
// that runs out of native currency stops every settlement it backs, so the
// monitor alerts before that happens.
type MonitoringConfig struct {
	Enabled            bool              `yaml:"enabled"`              // Enable gas balance monitoring (default: false)
	CheckInterval      Duration          `yaml:"check_interval"`       // How often to poll balances (default: 5m)
	LowBalanceWei      string            `yaml:"low_balance_wei"`      // Alert threshold in wei, decimal string (default: 0.01 ether)
	AlertWebhookURL    string            `yaml:"alert_webhook_url"`    // Webhook POST target; empty disables alerting
	AlertCooldown      Duration          `yaml:"alert_cooldown"`       // Minimum time between alerts per wallet (default: 24h)
	Headers            map[string]string `yaml:"headers"`              // Extra headers for the webhook request
	BodyTemplate       string            `yaml:"body_template"`        // Optional text/template for the webhook body
	Timeout            Duration          `yaml:"timeout"`              // Webhook HTTP timeout (default: 10s)
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when external services are degraded.
type CircuitBreakerConfig struct {
	Enabled      bool                 `yaml:"enabled"`       // Enable circuit breakers (default: true)
	EVMRPC       BreakerServiceConfig `yaml:"evm_rpc"`       // EVM JSON-RPC circuit breaker
	SignerOracle BreakerServiceConfig `yaml:"signer_oracle"` // Signer oracle circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
