package sponsor

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepository implements Repository with in-process maps. Intended for
// tests and single-node deployments without persistence.
type MemoryRepository struct {
	mu      sync.RWMutex
	wallets map[string]SponsorWallet // keyed by ID
	rules   map[string]SponsorRule   // keyed by ID
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		wallets: make(map[string]SponsorWallet),
		rules:   make(map[string]SponsorRule),
	}
}

// GetWallet retrieves a sponsor wallet by ID.
func (m *MemoryRepository) GetWallet(_ context.Context, id string) (SponsorWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[id]
	if !ok {
		return SponsorWallet{}, ErrNotFound
	}
	return w, nil
}

// GetDedicatedWallet finds the wallet dedicated to a payer on a network.
func (m *MemoryRepository) GetDedicatedWallet(_ context.Context, network, payer string) (SponsorWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payer = strings.ToLower(payer)
	for _, w := range m.wallets {
		if !w.Enabled || w.Network != network {
			continue
		}
		if w.UserWalletAddress != "" && strings.ToLower(w.UserWalletAddress) == payer {
			return w, nil
		}
	}
	return SponsorWallet{}, ErrNotFound
}

// ListRules returns enabled rules for a network, highest priority first.
func (m *MemoryRepository) ListRules(_ context.Context, network string) ([]SponsorRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []SponsorRule
	for _, r := range m.rules {
		if r.Enabled && r.Network == network {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// ListWallets returns every enabled sponsor wallet, ordered by ID for
// deterministic iteration.
func (m *MemoryRepository) ListWallets(_ context.Context) ([]SponsorWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []SponsorWallet
	for _, w := range m.wallets {
		if w.Enabled {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutWallet inserts or replaces a sponsor wallet.
func (m *MemoryRepository) PutWallet(_ context.Context, w SponsorWallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.ID] = w
	return nil
}

// PutRule inserts or replaces a routing rule.
func (m *MemoryRepository) PutRule(_ context.Context, r SponsorRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return nil
}

// Close is a no-op for the memory repository.
func (m *MemoryRepository) Close() error {
	return nil
}
