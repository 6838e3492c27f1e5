package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gaslift/facilitator/internal/chains"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	// Apply defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.SignerOracle.Timeout.Duration <= 0 {
		c.SignerOracle.Timeout = Duration{Duration: 60 * time.Second}
	}
	if c.Settlement.ReceiptPoll.Duration <= 0 {
		c.Settlement.ReceiptPoll = Duration{Duration: 2 * time.Second}
	}
	if c.Settlement.ReceiptTimeout.Duration <= 0 {
		c.Settlement.ReceiptTimeout = Duration{Duration: 90 * time.Second}
	}
	if c.Settlement.ReconcileDelay.Duration <= 0 {
		c.Settlement.ReconcileDelay = Duration{Duration: 1 * time.Second}
	}
	if c.Settlement.LogScanWindow.Duration <= 0 {
		c.Settlement.LogScanWindow = Duration{Duration: 60 * time.Second}
	}
	if c.Settlement.MaxRetries < 0 {
		c.Settlement.MaxRetries = 1
	}
	if c.Quota.DefaultTier == "" {
		c.Quota.DefaultTier = "free"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	// Every requested network must exist in the chain registry; a typo here
	// would silently advertise nothing.
	for _, network := range c.Facilitator.Networks {
		if _, err := chains.Resolve(network); err != nil {
			errs = append(errs, fmt.Sprintf("facilitator.networks: unknown network %q", network))
		}
	}
	for network := range c.Facilitator.RPCURLs {
		if _, err := chains.Resolve(network); err != nil {
			errs = append(errs, fmt.Sprintf("facilitator.rpc_urls: unknown network %q", network))
		}
	}

	if c.SignerOracle.URL == "" {
		errs = append(errs, "signer_oracle.url is required (FACILITATOR_ORACLE_URL)")
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when storage.backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required when storage.backend is 'mongodb'")
		}
		if c.Storage.MongoDBDatabase == "" {
			errs = append(errs, "storage.mongodb_database is required when storage.backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be one of memory, postgres, mongodb; got %q", c.Storage.Backend))
	}

	if c.Quota.Enabled {
		if _, ok := c.Quota.Tiers[c.Quota.DefaultTier]; !ok {
			errs = append(errs, fmt.Sprintf("quota.default_tier %q is not defined in quota.tiers", c.Quota.DefaultTier))
		}
		for name, tier := range c.Quota.Tiers {
			if tier.RateLimitPerMinute < 0 {
				errs = append(errs, fmt.Sprintf("quota.tiers.%s.rate_limit_per_minute must be >= 0", name))
			}
			if tier.MonthlyTxLimit < -1 {
				errs = append(errs, fmt.Sprintf("quota.tiers.%s.monthly_tx_limit must be >= -1", name))
			}
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// EnabledChains resolves the configured network list against the registry.
// An empty list enables every registered chain.
func (c *Config) EnabledChains() []chains.Chain {
	if len(c.Facilitator.Networks) == 0 {
		return chains.All()
	}

	seen := make(map[int64]bool)
	var out []chains.Chain
	for _, network := range c.Facilitator.Networks {
		chain, err := chains.Resolve(network)
		if err != nil {
			continue // validated at load time
		}
		if !seen[chain.ID] {
			seen[chain.ID] = true
			out = append(out, chain)
		}
	}
	return out
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25 // default
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5 // default
	}

	// Validate: maxIdle cannot exceed maxOpen
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute // default
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
