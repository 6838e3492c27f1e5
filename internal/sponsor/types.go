package sponsor

import (
	"strings"
	"time"
)

// SponsorWallet is a gas-paying wallet controlled through the signer oracle.
// The facilitator only ever sees the oracle handle, never key material.
type SponsorWallet struct {
	ID                string    `json:"id"`
	UserWalletAddress string    `json:"userWalletAddress"` // payer this wallet is dedicated to; empty for shared wallets
	Network           string    `json:"network"`
	SponsorAddress    string    `json:"sponsorAddress"` // on-chain address that pays gas
	SignerHandle      string    `json:"signerHandle"`   // opaque oracle handle used for submission
	SignerUserShare   string    `json:"signerUserShare,omitempty"`
	Enabled           bool      `json:"enabled"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// SponsorRule assigns shared sponsor wallets to groups of payers. Rules are
// evaluated by descending priority; the first enabled rule whose whitelist
// contains the payer (or whose whitelist is empty, meaning any payer) wins.
type SponsorRule struct {
	ID             string    `json:"id"`
	Network        string    `json:"network"`
	SponsorID      string    `json:"sponsorId"` // SponsorWallet.ID this rule routes to
	AgentWhitelist []string  `json:"agentWhitelist"`
	Priority       int       `json:"priority"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Matches reports whether the rule routes the given payer. Addresses are
// compared case-insensitively; EVM addresses have no canonical case on the
// wire.
func (r SponsorRule) Matches(payer string) bool {
	if !r.Enabled {
		return false
	}
	if len(r.AgentWhitelist) == 0 {
		return true
	}
	payer = strings.ToLower(payer)
	for _, addr := range r.AgentWhitelist {
		if strings.ToLower(addr) == payer {
			return true
		}
	}
	return false
}
