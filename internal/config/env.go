package config

import (
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use FACILITATOR_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "FACILITATOR_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "FACILITATOR_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "FACILITATOR_ADMIN_METRICS_API_KEY")

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "FACILITATOR_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "FACILITATOR_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "FACILITATOR_ENVIRONMENT")

	// Facilitator config
	if v := os.Getenv("FACILITATOR_NETWORKS"); v != "" {
		c.Facilitator.Networks = splitCSV(v)
	}
	setIfEnv(&c.Facilitator.DeferredEscrow, "FACILITATOR_DEFERRED_ESCROW")
	// Per-network RPC overrides (FACILITATOR_RPC_URL_BASE_SEPOLIA=https://...)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "FACILITATOR_RPC_URL_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		name := strings.TrimPrefix(parts[0], "FACILITATOR_RPC_URL_")
		if name == "" {
			continue
		}
		if c.Facilitator.RPCURLs == nil {
			c.Facilitator.RPCURLs = make(map[string]string)
		}
		// FACILITATOR_RPC_URL_BASE_SEPOLIA -> "base-sepolia"
		network := strings.ToLower(strings.ReplaceAll(name, "_", "-"))
		c.Facilitator.RPCURLs[network] = parts[1]
	}

	// Signer oracle config
	setIfEnv(&c.SignerOracle.URL, "FACILITATOR_ORACLE_URL")
	setIfEnv(&c.SignerOracle.Credential, "FACILITATOR_ORACLE_CREDENTIAL")
	setDurationIfEnv(&c.SignerOracle.Timeout, "FACILITATOR_ORACLE_TIMEOUT")

	// Settlement config
	setDurationIfEnv(&c.Settlement.ReceiptPoll, "FACILITATOR_RECEIPT_POLL")
	setDurationIfEnv(&c.Settlement.ReceiptTimeout, "FACILITATOR_RECEIPT_TIMEOUT")
	setDurationIfEnv(&c.Settlement.ReconcileDelay, "FACILITATOR_RECONCILE_DELAY")
	setDurationIfEnv(&c.Settlement.LogScanWindow, "FACILITATOR_LOG_SCAN_WINDOW")

	// Quota config
	setBoolIfEnv(&c.Quota.Enabled, "FACILITATOR_QUOTA_ENABLED")
	setIfEnv(&c.Quota.DefaultTier, "FACILITATOR_QUOTA_DEFAULT_TIER")

	// Monitoring config
	setBoolIfEnv(&c.Monitoring.Enabled, "FACILITATOR_MONITORING_ENABLED")
	setIfEnv(&c.Monitoring.AlertWebhookURL, "FACILITATOR_MONITORING_WEBHOOK_URL")
	setIfEnv(&c.Monitoring.LowBalanceWei, "FACILITATOR_MONITORING_LOW_BALANCE_WEI")
	setDurationIfEnv(&c.Monitoring.CheckInterval, "FACILITATOR_MONITORING_CHECK_INTERVAL")

	// Storage config
	setIfEnv(&c.Storage.Backend, "FACILITATOR_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "FACILITATOR_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "FACILITATOR_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "FACILITATOR_MONGODB_DATABASE")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// splitCSV splits a comma separated list, trimming whitespace and dropping
// empty entries.
func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	// Ensure it starts with /
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	// Ensure it doesn't end with /
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
