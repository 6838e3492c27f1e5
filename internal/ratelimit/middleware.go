// Package ratelimit provides the edge limiters that run before any payer is
// identified: one global limiter across all clients and one per source IP.
// The tier-derived per-payer limit lives in the quota package and is applied
// inside the handlers once the payload names a payer.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/gaslift/facilitator/internal/metrics"
)

// Config holds the edge rate limits.
type Config struct {
	// Global limit across all clients, sized to protect the RPC pool.
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-IP limit, the fallback identity before a payment names a payer.
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

type limitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

func limitHandler(limitType, message string, window time.Duration, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	seconds := int(window.Seconds())
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ObserveRateLimit(limitType, "edge")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(limitResponse{
			Error:             "rate_limited",
			Message:           message,
			RetryAfterSeconds: seconds,
		})
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// GlobalLimiter limits total request throughput across all clients.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(limitHandler(
			"global",
			"service is at capacity, try again later",
			cfg.GlobalWindow,
			cfg.Metrics,
		)),
	)
}

// IPLimiter limits request throughput per source IP.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler(
			"per_ip",
			"too many requests from this address",
			cfg.PerIPWindow,
			cfg.Metrics,
		)),
	)
}
