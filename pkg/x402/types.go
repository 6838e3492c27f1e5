package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Protocol versions accepted by the facilitator.
const (
	VersionV1 = 1
	VersionV2 = 2
)

// Payment schemes.
const (
	SchemeExact    = "exact"
	SchemeDeferred = "deferred"
)

// PaymentPayload is the x402 payment envelope carried in the X-PAYMENT header
// or in the verify/settle request body.
// Reference: https://github.com/coinbase/x402
type PaymentPayload struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	Payload     any    `json:"payload"` // scheme-dependent
}

// ExactEvmPayload is the scheme-specific payload for EVM `exact` payments:
// an EIP-3009 authorization plus the payer's EIP-712 signature over it.
type ExactEvmPayload struct {
	Signature     string                `json:"signature"`
	Authorization TransferAuthorization `json:"authorization"`
}

// TransferAuthorization mirrors the EIP-3009 TransferWithAuthorization message.
// Numeric fields are decimal strings of atomic units / unix seconds; the nonce
// is a 32-byte hex string.
type TransferAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PaymentRequirements describes what the vendor will accept for a resource.
// The facilitator never invents these; the vendor supplies them verbatim.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// VerifyResponse is the verdict returned by POST /verify.
// HTTP status is 200 for both outcomes; the body carries the result.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the terminal outcome of POST /settle.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
}

// SupportedKind is one (scheme, network) pair the facilitator can settle.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// Requirements.extra keys vendors use to override the EIP-712 domain
// name/version of a non-standard token.
const (
	ExtraTokenName    = "name"
	ExtraTokenVersion = "version"
)

// ExactPayload extracts the EVM exact-scheme payload from the envelope.
// The envelope's Payload field arrives as a decoded JSON object; it is
// round-tripped through json to reach the typed shape.
func (p PaymentPayload) ExactPayload() (ExactEvmPayload, error) {
	if p.Payload == nil {
		return ExactEvmPayload{}, errors.New("x402: missing payload")
	}
	raw, err := json.Marshal(p.Payload)
	if err != nil {
		return ExactEvmPayload{}, fmt.Errorf("x402: marshal payload: %w", err)
	}
	var evm ExactEvmPayload
	if err := json.Unmarshal(raw, &evm); err != nil {
		return ExactEvmPayload{}, fmt.Errorf("x402: parse exact payload: %w", err)
	}
	if evm.Signature == "" {
		return ExactEvmPayload{}, errors.New("x402: payload missing signature")
	}
	if evm.Authorization.From == "" || evm.Authorization.To == "" {
		return ExactEvmPayload{}, errors.New("x402: payload missing authorization addresses")
	}
	return evm, nil
}

// DecodePayment decodes a base64 (or raw JSON) x402 payment envelope.
func DecodePayment(header string) (PaymentPayload, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return PaymentPayload{}, errors.New("x402: empty payment")
	}

	var data []byte
	if strings.HasPrefix(raw, "{") {
		data = []byte(raw)
	} else {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(raw)
			if err != nil {
				return PaymentPayload{}, fmt.Errorf("x402: decode base64: %w", err)
			}
		}
		data = decoded
	}

	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("x402: parse payment payload: %w", err)
	}
	return payload, nil
}

// EncodePayment renders a payment envelope as the base64 wire form.
func EncodePayment(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("x402: marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
