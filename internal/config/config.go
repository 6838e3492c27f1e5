package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Facilitator: FacilitatorConfig{
			RPCURLs: make(map[string]string),
		},
		SignerOracle: SignerOracleConfig{
			Timeout: Duration{Duration: 60 * time.Second},
		},
		Settlement: SettlementConfig{
			ReceiptPoll:    Duration{Duration: 2 * time.Second},
			ReceiptTimeout: Duration{Duration: 90 * time.Second},
			ReconcileDelay: Duration{Duration: 1 * time.Second},
			LogScanWindow:  Duration{Duration: 60 * time.Second},
			MaxRetries:     1,
		},
		Quota: QuotaConfig{
			Enabled:     true,
			DefaultTier: "free",
			Tiers: map[string]TierConfig{
				"free":       {RateLimitPerMinute: 10, MonthlyTxLimit: 100},
				"pro":        {RateLimitPerMinute: 60, MonthlyTxLimit: 10000},
				"enterprise": {RateLimitPerMinute: 600, MonthlyTxLimit: -1},
			},
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			GlobalEnabled: true,
			GlobalLimit:   1000,
			GlobalWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:  true,
			PerIPLimit:    120,
			PerIPWindow:   Duration{Duration: 1 * time.Minute},
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Monitoring: MonitoringConfig{
			CheckInterval: Duration{Duration: 5 * time.Minute},
			LowBalanceWei: "10000000000000000", // 0.01 ether
			AlertCooldown: Duration{Duration: 24 * time.Hour},
			Timeout:       Duration{Duration: 10 * time.Second},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			EVMRPC: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			SignerOracle: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
