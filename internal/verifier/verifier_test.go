package verifier

import (
	"context"
	"crypto/ecdsa"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/errors"
	"github.com/gaslift/facilitator/internal/evm"
	"github.com/gaslift/facilitator/pkg/x402"
)

const (
	payTo    = "0x2222222222222222222222222222222222222222"
	sigHex65 = "0x" + "11" + "1111111111111111111111111111111111111111111111111111111111111111" +
		"1111111111111111111111111111111111111111111111111111111111111111"
	nonceHex = "0x0000000000000000000000000000000000000000000000000000000000000007"
)

func validAuthorization() x402.TransferAuthorization {
	return x402.TransferAuthorization{
		From:        "0x1111111111111111111111111111111111111111",
		To:          payTo,
		Value:       "10000",
		ValidAfter:  "0",
		ValidBefore: "99999999999",
		Nonce:       nonceHex,
	}
}

func validPayload(auth x402.TransferAuthorization) x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: x402.VersionV2,
		Scheme:      x402.SchemeExact,
		Network:     "base-sepolia",
		Payload: x402.ExactEvmPayload{
			Signature:     sigHex65,
			Authorization: auth,
		},
	}
}

func validRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Resource:          "https://vendor.example/data",
		PayTo:             payTo,
		Asset:             "",
	}
}

func TestParseValid(t *testing.T) {
	p, err := Parse(validPayload(validAuthorization()), validRequirements())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Chain.Name != "base-sepolia" || p.Chain.ID != 84532 {
		t.Errorf("chain = %+v", p.Chain)
	}
	if p.Value.Cmp(big.NewInt(10000)) != 0 {
		t.Errorf("value = %s, want 10000", p.Value)
	}
	if p.Token != common.HexToAddress(p.Chain.USDCAddress) {
		t.Errorf("token = %s, want chain USDC", p.Token.Hex())
	}
	if p.TokenName != p.Chain.TokenName || p.TokenVersion != p.Chain.TokenVersion {
		t.Errorf("token domain = %q %q", p.TokenName, p.TokenVersion)
	}
	if p.Nonce[31] != 7 {
		t.Errorf("nonce = %x", p.Nonce)
	}
	if len(p.Signature) != 65 {
		t.Errorf("signature length = %d", len(p.Signature))
	}
}

func TestParseValueAtCeilingAllowed(t *testing.T) {
	auth := validAuthorization()
	auth.Value = "10000" // == maxAmountRequired
	if _, err := Parse(validPayload(auth), validRequirements()); err != nil {
		t.Fatalf("value equal to ceiling must pass: %v", err)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*x402.PaymentPayload, *x402.PaymentRequirements)
		code    errors.ErrorCode
	}{
		{
			name: "unknown network",
			mutate: func(p *x402.PaymentPayload, _ *x402.PaymentRequirements) {
				p.Network = "solana"
			},
			code: errors.ErrCodeUnsupportedNetwork,
		},
		{
			name: "malformed from address",
			mutate: func(p *x402.PaymentPayload, _ *x402.PaymentRequirements) {
				ep := p.Payload.(x402.ExactEvmPayload)
				ep.Authorization.From = "not-an-address"
				p.Payload = ep
			},
			code: errors.ErrCodeInvalidAuthorization,
		},
		{
			name: "negative value",
			mutate: func(p *x402.PaymentPayload, _ *x402.PaymentRequirements) {
				ep := p.Payload.(x402.ExactEvmPayload)
				ep.Authorization.Value = "-5"
				p.Payload = ep
			},
			code: errors.ErrCodeInvalidAuthorization,
		},
		{
			name: "value above ceiling",
			mutate: func(p *x402.PaymentPayload, _ *x402.PaymentRequirements) {
				ep := p.Payload.(x402.ExactEvmPayload)
				ep.Authorization.Value = "10001"
				p.Payload = ep
			},
			code: errors.ErrCodeInvalidAuthorization,
		},
		{
			name: "recipient mismatch",
			mutate: func(p *x402.PaymentPayload, _ *x402.PaymentRequirements) {
				ep := p.Payload.(x402.ExactEvmPayload)
				ep.Authorization.To = "0x9999999999999999999999999999999999999999"
				p.Payload = ep
			},
			code: errors.ErrCodeInvalidAuthorization,
		},
		{
			name: "short nonce",
			mutate: func(p *x402.PaymentPayload, _ *x402.PaymentRequirements) {
				ep := p.Payload.(x402.ExactEvmPayload)
				ep.Authorization.Nonce = "0x0102"
				p.Payload = ep
			},
			code: errors.ErrCodeInvalidAuthorization,
		},
		{
			name: "short signature",
			mutate: func(p *x402.PaymentPayload, _ *x402.PaymentRequirements) {
				ep := p.Payload.(x402.ExactEvmPayload)
				ep.Signature = "0x1234"
				p.Payload = ep
			},
			code: errors.ErrCodeInvalidAuthorization,
		},
		{
			name: "malformed ceiling",
			mutate: func(_ *x402.PaymentPayload, r *x402.PaymentRequirements) {
				r.MaxAmountRequired = "lots"
			},
			code: errors.ErrCodeInvalidField,
		},
		{
			name: "malformed asset override",
			mutate: func(_ *x402.PaymentPayload, r *x402.PaymentRequirements) {
				r.Asset = "usdc"
			},
			code: errors.ErrCodeInvalidField,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := validPayload(validAuthorization())
			reqs := validRequirements()
			tc.mutate(&payload, &reqs)

			_, err := Parse(payload, reqs)
			var verr x402.VerificationError
			if !stderrors.As(err, &verr) {
				t.Fatalf("expected VerificationError, got %v", err)
			}
			if verr.Code != tc.code {
				t.Errorf("code = %q, want %q", verr.Code, tc.code)
			}
		})
	}
}

func TestParseTokenDomainOverride(t *testing.T) {
	reqs := validRequirements()
	reqs.Asset = "0x4444444444444444444444444444444444444444"
	reqs.Extra = map[string]any{
		x402.ExtraTokenName:    "AltUSD",
		x402.ExtraTokenVersion: "1",
	}

	p, err := Parse(validPayload(validAuthorization()), reqs)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Token != common.HexToAddress(reqs.Asset) {
		t.Errorf("token = %s, want %s", p.Token.Hex(), reqs.Asset)
	}
	if p.TokenName != "AltUSD" || p.TokenVersion != "1" {
		t.Errorf("token domain = %q %q, want AltUSD 1", p.TokenName, p.TokenVersion)
	}
}

// --- Verify ---

type fakeReader struct {
	balance *big.Int
	balErr  error
	used    bool
	usedErr error
}

func (f fakeReader) BalanceOf(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return f.balance, f.balErr
}

func (f fakeReader) AuthorizationState(_ context.Context, _, _ common.Address, _ [32]byte) (bool, error) {
	return f.used, f.usedErr
}

type fakeReaderPool struct {
	reader ChainReader
	err    error
}

func (f fakeReaderPool) Reader(_ chains.Chain) (ChainReader, error) {
	return f.reader, f.err
}

func newTestVerifier(reader ChainReader, now time.Time) *Verifier {
	return &Verifier{
		readers: fakeReaderPool{reader: reader},
		now:     func() time.Time { return now },
	}
}

// signedPayment builds a payment signed by a fresh key. The From address is
// derived from the key so signature recovery matches.
func signedPayment(t *testing.T, key *ecdsa.PrivateKey) Payment {
	t.Helper()
	chain, err := chains.Resolve("base-sepolia")
	if err != nil {
		t.Fatalf("resolve chain: %v", err)
	}

	var nonce [32]byte
	nonce[31] = 9
	p := Payment{
		Chain:        chain,
		Token:        common.HexToAddress(chain.USDCAddress),
		TokenName:    chain.TokenName,
		TokenVersion: chain.TokenVersion,
		From:         crypto.PubkeyToAddress(key.PublicKey),
		To:           common.HexToAddress(payTo),
		Value:        big.NewInt(10000),
		ValidAfter:   big.NewInt(1000),
		ValidBefore:  big.NewInt(2000),
		Nonce:        nonce,
	}

	digest, err := evm.HashTransferAuthorization(p.TokenName, p.TokenVersion, p.Chain.ID, p.Token,
		evm.AuthorizationMessage{
			From:        p.From,
			To:          p.To,
			Value:       p.Value,
			ValidAfter:  p.ValidAfter,
			ValidBefore: p.ValidBefore,
			Nonce:       p.Nonce,
		})
	if err != nil {
		t.Fatalf("hash authorization: %v", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27
	p.Signature = sig
	return p
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func verifyCode(t *testing.T, err error) errors.ErrorCode {
	t.Helper()
	var verr x402.VerificationError
	if !stderrors.As(err, &verr) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	return verr.Code
}

func TestVerifyValid(t *testing.T) {
	p := signedPayment(t, mustKey(t))
	v := newTestVerifier(fakeReader{balance: big.NewInt(10000)}, time.Unix(1500, 0))

	if err := v.Verify(context.Background(), p); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifySignerMismatch(t *testing.T) {
	p := signedPayment(t, mustKey(t))
	// Claim a From the signature does not recover to.
	p.From = common.HexToAddress("0x1111111111111111111111111111111111111111")
	v := newTestVerifier(fakeReader{balance: big.NewInt(10000)}, time.Unix(1500, 0))

	err := v.Verify(context.Background(), p)
	if code := verifyCode(t, err); code != errors.ErrCodeSignerMismatch {
		t.Errorf("code = %q, want %q", code, errors.ErrCodeSignerMismatch)
	}
}

func TestVerifyTamperedFieldBreaksSignature(t *testing.T) {
	p := signedPayment(t, mustKey(t))
	p.Value = big.NewInt(9999) // signed over 10000

	v := newTestVerifier(fakeReader{balance: big.NewInt(10000)}, time.Unix(1500, 0))
	err := v.Verify(context.Background(), p)
	if code := verifyCode(t, err); code != errors.ErrCodeSignerMismatch {
		t.Errorf("code = %q, want %q", code, errors.ErrCodeSignerMismatch)
	}
}

func TestVerifyInsufficientBalance(t *testing.T) {
	p := signedPayment(t, mustKey(t))
	v := newTestVerifier(fakeReader{balance: big.NewInt(9999)}, time.Unix(1500, 0))

	err := v.Verify(context.Background(), p)
	if code := verifyCode(t, err); code != errors.ErrCodeInsufficientBalance {
		t.Errorf("code = %q, want %q", code, errors.ErrCodeInsufficientBalance)
	}
}

func TestVerifyTimingBoundaries(t *testing.T) {
	// Payment signed for [1000, 2000]. Both boundaries are inclusive-valid.
	cases := []struct {
		name string
		now  int64
		code errors.ErrorCode // "" means valid
	}{
		{name: "before window", now: 999, code: errors.ErrCodeNotYetValid},
		{name: "at validAfter", now: 1000},
		{name: "inside window", now: 1500},
		{name: "at validBefore", now: 2000},
		{name: "after window", now: 2001, code: errors.ErrCodeExpired},
	}

	key := mustKey(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := signedPayment(t, key)
			v := newTestVerifier(fakeReader{balance: big.NewInt(10000)}, time.Unix(tc.now, 0))

			err := v.Verify(context.Background(), p)
			if tc.code == "" {
				if err != nil {
					t.Fatalf("Verify: %v", err)
				}
				return
			}
			if code := verifyCode(t, err); code != tc.code {
				t.Errorf("code = %q, want %q", code, tc.code)
			}
		})
	}
}

func TestVerifyNonceUsed(t *testing.T) {
	p := signedPayment(t, mustKey(t))
	v := newTestVerifier(fakeReader{balance: big.NewInt(10000), used: true}, time.Unix(1500, 0))

	err := v.Verify(context.Background(), p)
	if code := verifyCode(t, err); code != errors.ErrCodeNonceUsed {
		t.Errorf("code = %q, want %q", code, errors.ErrCodeNonceUsed)
	}
}

func TestVerifyToleratesMissingAuthorizationState(t *testing.T) {
	// Tokens without the EIP-3009 view revert on authorizationState; the
	// payment proceeds and settlement reconciles if needed.
	p := signedPayment(t, mustKey(t))
	v := newTestVerifier(fakeReader{
		balance: big.NewInt(10000),
		usedErr: fmt.Errorf("execution reverted"),
	}, time.Unix(1500, 0))

	if err := v.Verify(context.Background(), p); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRPCErrorSurfaced(t *testing.T) {
	p := signedPayment(t, mustKey(t))
	v := newTestVerifier(fakeReader{balErr: fmt.Errorf("connection refused")}, time.Unix(1500, 0))

	err := v.Verify(context.Background(), p)
	if code := verifyCode(t, err); code != errors.ErrCodeRPCError {
		t.Errorf("code = %q, want %q", code, errors.ErrCodeRPCError)
	}
}

func TestPaymentKey(t *testing.T) {
	p := signedPayment(t, mustKey(t))

	same := p
	if same.Key() != p.Key() {
		t.Error("identical (from, nonce) must share one key")
	}

	other := p
	other.Nonce[0] = 0xaa
	if other.Key() == p.Key() {
		t.Error("different nonces must produce different keys")
	}

	if p.Key() != strings.ToLower(p.Key()) {
		t.Errorf("key = %q, want lowercase", p.Key())
	}
}
