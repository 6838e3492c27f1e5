// Package ledger persists settlement outcomes for analytics. The chain is
// the ledger of record; these tables exist for reporting and sponsor cost
// tracking, and writes here never gate a payment response.
package ledger

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Transaction statuses recorded in the ledger.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// TransactionRecord is one settled payment. Unique on TxHash.
type TransactionRecord struct {
	TxHash          string    `json:"txHash" bson:"tx_hash"`
	Payer           string    `json:"payer" bson:"payer"`
	Recipient       string    `json:"recipient" bson:"recipient"`
	SponsorWalletID string    `json:"sponsorWalletId,omitempty" bson:"sponsor_wallet_id,omitempty"`
	AmountAtomic    string    `json:"amountAtomic" bson:"amount_atomic"`
	Asset           string    `json:"asset" bson:"asset"`
	Network         string    `json:"network" bson:"network"`
	ChainID         int64     `json:"chainId" bson:"chain_id"`
	Scheme          string    `json:"scheme" bson:"scheme"`
	Status          string    `json:"status" bson:"status"`
	VendorDomain    string    `json:"vendorDomain,omitempty" bson:"vendor_domain,omitempty"`
	VendorEndpoint  string    `json:"vendorEndpoint,omitempty" bson:"vendor_endpoint,omitempty"`
	CreatedAt       time.Time `json:"createdAt" bson:"created_at"`
}

// SponsorSpendRecord is one sponsor gas expenditure. Unique on
// (SponsorWalletID, TxHash).
type SponsorSpendRecord struct {
	SponsorWalletID string    `json:"sponsorWalletId" bson:"sponsor_wallet_id"`
	TxHash          string    `json:"txHash" bson:"tx_hash"`
	GasUsed         uint64    `json:"gasUsed" bson:"gas_used"`
	GasCostWei      string    `json:"gasCostWei" bson:"gas_cost_wei"`
	Agent           string    `json:"agent" bson:"agent"`
	ChainID         int64     `json:"chainId" bson:"chain_id"`
	SpentAt         time.Time `json:"spentAt" bson:"spent_at"`
}

// Writer records settlement outcomes. Implementations must be idempotent:
// recording the same tx hash twice is success, not an error.
type Writer interface {
	RecordTransaction(ctx context.Context, rec TransactionRecord) error
	RecordSponsorSpend(ctx context.Context, rec SponsorSpendRecord) error
	Close() error
}

// VendorFromResource splits a requirements.resource URL into the vendor
// domain and endpoint path. A bare or unparseable resource yields the raw
// string as the endpoint.
func VendorFromResource(resource string) (domain, endpoint string) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return "", ""
	}
	u, err := url.Parse(resource)
	if err != nil || u.Host == "" {
		return "", resource
	}
	endpoint = u.Path
	if endpoint == "" {
		endpoint = "/"
	}
	return u.Host, endpoint
}
