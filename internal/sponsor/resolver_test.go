package sponsor

import (
	"context"
	"errors"
	"testing"
)

const (
	network = "base-sepolia"
	agent   = "0xAaAa000000000000000000000000000000000001"
)

func seedWallet(t *testing.T, repo *MemoryRepository, id, owner string) SponsorWallet {
	t.Helper()
	w := SponsorWallet{
		ID:                id,
		UserWalletAddress: owner,
		Network:           network,
		SponsorAddress:    "0x9999000000000000000000000000000000000000",
		SignerHandle:      "handle-" + id,
		Enabled:           true,
	}
	if err := repo.PutWallet(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	return w
}

func seedRule(t *testing.T, repo *MemoryRepository, id, sponsorID string, priority int, whitelist ...string) {
	t.Helper()
	err := repo.PutRule(context.Background(), SponsorRule{
		ID:             id,
		Network:        network,
		SponsorID:      sponsorID,
		AgentWhitelist: whitelist,
		Priority:       priority,
		Enabled:        true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFindHighestPriorityRuleWins(t *testing.T) {
	repo := NewMemoryRepository()
	seedWallet(t, repo, "low", "")
	seedWallet(t, repo, "high", "")
	seedRule(t, repo, "r-low", "low", 1)
	seedRule(t, repo, "r-high", "high", 10)

	w, err := NewResolver(repo).Find(context.Background(), network, agent)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if w.ID != "high" {
		t.Errorf("wallet = %q, want high", w.ID)
	}
}

func TestFindWhitelistMatchesCaseInsensitively(t *testing.T) {
	repo := NewMemoryRepository()
	seedWallet(t, repo, "listed", "")
	seedWallet(t, repo, "open", "")
	// The whitelist stores a different case than the request presents.
	seedRule(t, repo, "r-listed", "listed", 10, "0xaaaa000000000000000000000000000000000001")
	seedRule(t, repo, "r-open", "open", 1)

	w, err := NewResolver(repo).Find(context.Background(), network, agent)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if w.ID != "listed" {
		t.Errorf("wallet = %q, want listed", w.ID)
	}

	// A payer outside the whitelist falls through to the open rule.
	w, err = NewResolver(repo).Find(context.Background(), network, "0xBbBb000000000000000000000000000000000002")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if w.ID != "open" {
		t.Errorf("wallet = %q, want open", w.ID)
	}
}

func TestFindSkipsDisabledWalletAndMissingWallet(t *testing.T) {
	repo := NewMemoryRepository()
	disabled := seedWallet(t, repo, "disabled", "")
	disabled.Enabled = false
	if err := repo.PutWallet(context.Background(), disabled); err != nil {
		t.Fatal(err)
	}
	seedWallet(t, repo, "fallback", "")
	seedRule(t, repo, "r-missing", "no-such-wallet", 30)
	seedRule(t, repo, "r-disabled", "disabled", 20)
	seedRule(t, repo, "r-fallback", "fallback", 10)

	w, err := NewResolver(repo).Find(context.Background(), network, agent)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if w.ID != "fallback" {
		t.Errorf("wallet = %q, want fallback", w.ID)
	}
}

func TestFindDedicatedWalletFallback(t *testing.T) {
	repo := NewMemoryRepository()
	seedWallet(t, repo, "mine", agent)

	w, err := NewResolver(repo).Find(context.Background(), network, agent)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if w.ID != "mine" {
		t.Errorf("wallet = %q, want mine", w.ID)
	}

	// No rule, no owned wallet: not found.
	_, err = NewResolver(repo).Find(context.Background(), network, "0xCcCc000000000000000000000000000000000003")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFindIgnoresOtherNetworks(t *testing.T) {
	repo := NewMemoryRepository()
	w := seedWallet(t, repo, "elsewhere", agent)
	w.Network = "polygon"
	if err := repo.PutWallet(context.Background(), w); err != nil {
		t.Fatal(err)
	}

	_, err := NewResolver(repo).Find(context.Background(), network, agent)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for a wallet on another network", err)
	}
}

func TestRuleMatches(t *testing.T) {
	open := SponsorRule{Enabled: true}
	if !open.Matches(agent) {
		t.Error("empty whitelist must match any payer")
	}

	disabled := SponsorRule{Enabled: false}
	if disabled.Matches(agent) {
		t.Error("disabled rule must never match")
	}

	listed := SponsorRule{Enabled: true, AgentWhitelist: []string{agent}}
	if !listed.Matches("0xaaaa000000000000000000000000000000000001") {
		t.Error("whitelist comparison must ignore case")
	}
	if listed.Matches("0xdddd000000000000000000000000000000000004") {
		t.Error("unlisted payer matched")
	}
}

func TestListWalletsEnabledSortedByID(t *testing.T) {
	repo := NewMemoryRepository()
	seedWallet(t, repo, "b", "")
	seedWallet(t, repo, "a", "")
	off := seedWallet(t, repo, "c", "")
	off.Enabled = false
	if err := repo.PutWallet(context.Background(), off); err != nil {
		t.Fatal(err)
	}

	wallets, err := repo.ListWallets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(wallets) != 2 || wallets[0].ID != "a" || wallets[1].ID != "b" {
		t.Errorf("wallets = %+v, want [a b]", wallets)
	}
}
