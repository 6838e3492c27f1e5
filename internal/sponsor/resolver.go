package sponsor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gaslift/facilitator/internal/logger"
)

// Resolver picks the sponsor wallet that pays gas for a payer's settlement.
// Lookup is two-tier: the highest-priority whitelist rule wins; otherwise a
// wallet directly owned by the payer is used.
type Resolver struct {
	repo Repository
}

// NewResolver creates a resolver over the given repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Find returns the sponsor wallet for a payer on a network.
// Returns ErrNotFound when no rule matches and the payer owns no wallet.
func (s *Resolver) Find(ctx context.Context, network, payer string) (SponsorWallet, error) {
	log := logger.FromContext(ctx)
	payer = strings.ToLower(payer)

	// Tier 1: whitelist rules, highest priority first.
	rules, err := s.repo.ListRules(ctx, network)
	if err != nil {
		return SponsorWallet{}, fmt.Errorf("sponsor: list rules: %w", err)
	}
	for _, rule := range rules {
		if !rule.Matches(payer) {
			continue
		}
		wallet, err := s.repo.GetWallet(ctx, rule.SponsorID)
		if errors.Is(err, ErrNotFound) {
			log.Warn().
				Str("rule_id", rule.ID).
				Str("sponsor_id", rule.SponsorID).
				Msg("sponsor.rule_points_to_missing_wallet")
			continue
		}
		if err != nil {
			return SponsorWallet{}, fmt.Errorf("sponsor: wallet lookup: %w", err)
		}
		if !wallet.Enabled {
			continue
		}
		log.Debug().
			Str("sponsor_id", wallet.ID).
			Str("rule_id", rule.ID).
			Str("payer", logger.TruncateAddress(payer)).
			Msg("sponsor.rule_matched")
		return wallet, nil
	}

	// Tier 2: wallet owned by the payer directly.
	wallet, err := s.repo.GetDedicatedWallet(ctx, network, payer)
	if err == nil {
		log.Debug().
			Str("sponsor_id", wallet.ID).
			Str("payer", logger.TruncateAddress(payer)).
			Msg("sponsor.owned_wallet")
		return wallet, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return SponsorWallet{}, fmt.Errorf("sponsor: owned lookup: %w", err)
	}

	return SponsorWallet{}, ErrNotFound
}
