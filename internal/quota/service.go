package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gaslift/facilitator/internal/config"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/internal/metrics"
)

// Gate enforces per-payer rate limits and monthly transaction quotas.
//
// The rate limit is checked before a payment is verified; the monthly quota
// is checked before verification but consumed only once verification
// succeeds, so invalid payments never burn quota.
type Gate struct {
	enabled     bool
	tiers       map[string]Tier
	defaultTier string
	limiter     *RateLimiter
	repo        Repository
	metrics     *metrics.Metrics

	// now is swappable for period-rollover tests.
	now func() time.Time
}

// NewGate builds a gate from configuration.
func NewGate(cfg config.QuotaConfig, repo Repository, m *metrics.Metrics) *Gate {
	tiers := make(map[string]Tier, len(cfg.Tiers))
	for name, tc := range cfg.Tiers {
		tiers[name] = Tier{
			Name:               name,
			RateLimitPerMinute: tc.RateLimitPerMinute,
			MonthlyTxLimit:     tc.MonthlyTxLimit,
		}
	}
	return &Gate{
		enabled:     cfg.Enabled,
		tiers:       tiers,
		defaultTier: cfg.DefaultTier,
		limiter:     NewRateLimiter(),
		repo:        repo,
		metrics:     m,
		now:         time.Now,
	}
}

// Enabled reports whether quota enforcement is on.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// TierFor resolves the payer's tier, falling back to the default tier when
// the payer has no assignment or the assignment names an unknown tier.
func (g *Gate) TierFor(ctx context.Context, payer string) Tier {
	name := g.defaultTier
	if g.repo != nil {
		assigned, err := g.repo.GetAssignment(ctx, payer)
		if err == nil {
			name = assigned
		} else if err != ErrNoAssignment {
			log := logger.FromContext(ctx)
			log.Warn().
				Err(err).
				Str("payer", logger.TruncateAddress(payer)).
				Msg("quota.assignment_lookup_failed")
		}
	}
	tier, ok := g.tiers[name]
	if !ok {
		tier, ok = g.tiers[g.defaultTier]
		if !ok {
			// No usable tier configured; treat as unlimited.
			return Tier{Name: name, RateLimitPerMinute: 0, MonthlyTxLimit: -1}
		}
	}
	return tier
}

// CheckRate counts one request against the payer's per-minute rate limit.
func (g *Gate) CheckRate(ctx context.Context, payer string) RateResult {
	if !g.enabled {
		return RateResult{Allowed: true, Remaining: -1}
	}

	tier := g.TierFor(ctx, payer)
	res := g.Allow(payer, tier)
	if !res.Allowed {
		g.metrics.ObserveRateLimit("payer", tier.Name)
		log := logger.FromContext(ctx)
		log.Info().
			Str("payer", logger.TruncateAddress(payer)).
			Str("tier", tier.Name).
			Int("limit", res.Limit).
			Msg("quota.rate_limited")
	}
	return res
}

// Allow counts one request against the tier's rate limit without side
// effects on metrics or logs.
func (g *Gate) Allow(payer string, tier Tier) RateResult {
	return g.limiter.Allow(strings.ToLower(payer), tier.RateLimitPerMinute)
}

// CheckQuota reports whether the payer has monthly quota remaining without
// consuming any. Returns a non-nil *ExceededError when the quota is
// exhausted.
func (g *Gate) CheckQuota(ctx context.Context, payer string) (*ExceededError, error) {
	if !g.enabled {
		return nil, nil
	}

	tier := g.TierFor(ctx, payer)
	if tier.Unlimited() {
		return nil, nil
	}

	period := PeriodFor(g.now())
	used, err := g.repo.Usage(ctx, payer, period)
	if err != nil {
		return nil, fmt.Errorf("read quota usage: %w", err)
	}
	if used >= tier.MonthlyTxLimit {
		g.metrics.ObserveQuotaReject(tier.Name)
		return &ExceededError{Used: used, Limit: tier.MonthlyTxLimit, PeriodEnd: period.End}, nil
	}
	return nil, nil
}

// Consume charges one settlement against the payer's monthly quota. Called
// after verification succeeds and before the transaction is submitted.
// Returns a *ExceededError when the increment pushes usage past the limit.
func (g *Gate) Consume(ctx context.Context, payer string) error {
	if !g.enabled {
		return nil
	}

	tier := g.TierFor(ctx, payer)
	if tier.Unlimited() {
		return nil
	}

	period := PeriodFor(g.now())
	used, err := g.repo.Increment(ctx, payer, period)
	if err != nil {
		return fmt.Errorf("consume quota: %w", err)
	}
	if used > tier.MonthlyTxLimit {
		g.metrics.ObserveQuotaReject(tier.Name)
		return &ExceededError{Used: used, Limit: tier.MonthlyTxLimit, PeriodEnd: period.End}
	}
	return nil
}

// Close releases the rate limiter and repository.
func (g *Gate) Close() error {
	g.limiter.Close()
	if g.repo != nil {
		return g.repo.Close()
	}
	return nil
}
