// Package verifier validates x402 exact-scheme payments: EIP-712 signature
// recovery plus on-chain solvency and replay checks.
package verifier

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/errors"
	"github.com/gaslift/facilitator/internal/evm"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/internal/metrics"
	"github.com/gaslift/facilitator/pkg/x402"
)

// Payment is the canonical, fully parsed form of an exact-scheme payment.
// Downstream components (settlement, ledger) operate on this shape only.
type Payment struct {
	Chain        chains.Chain
	Token        common.Address
	TokenName    string
	TokenVersion string

	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
	Signature   []byte
}

// Key returns the settlement deduplication key: lowercase (from, nonce).
func (p Payment) Key() string {
	return strings.ToLower(p.From.Hex()) + ":" + common.Hash(p.Nonce).Hex()
}

// ChainReader is the read-only chain view verification consults.
type ChainReader interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	AuthorizationState(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error)
}

// ReaderPool yields the chain reader for one chain.
type ReaderPool interface {
	Reader(chain chains.Chain) (ChainReader, error)
}

// Verifier checks parsed payments against signatures and chain state.
type Verifier struct {
	readers ReaderPool
	metrics *metrics.Metrics

	// now is swappable for boundary tests.
	now func() time.Time
}

// New creates a verifier over the given client pool.
func New(pool *evm.Pool, m *metrics.Metrics) *Verifier {
	return &Verifier{readers: evmReaderPool{pool: pool}, metrics: m, now: time.Now}
}

type evmReaderPool struct {
	pool *evm.Pool
}

func (p evmReaderPool) Reader(chain chains.Chain) (ChainReader, error) {
	return p.pool.Client(chain)
}

// Parse converts the wire payload into the canonical Payment and runs the
// pure field checks: recipient match and amount ceiling. No I/O.
func Parse(payload x402.PaymentPayload, reqs x402.PaymentRequirements) (Payment, error) {
	chain, err := chains.Resolve(payload.Network)
	if err != nil {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeUnsupportedNetwork, err)
	}

	exact, err := payload.ExactPayload()
	if err != nil {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidAuthorization, err)
	}
	auth := exact.Authorization

	if !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidAuthorization,
			fmt.Errorf("malformed authorization address"))
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || value.Sign() < 0 {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidAuthorization,
			fmt.Errorf("malformed value %q", auth.Value))
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidAuthorization,
			fmt.Errorf("malformed validAfter %q", auth.ValidAfter))
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidAuthorization,
			fmt.Errorf("malformed validBefore %q", auth.ValidBefore))
	}

	nonce, err := evm.ParseNonce(auth.Nonce)
	if err != nil {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidAuthorization, err)
	}
	sig, err := evm.ParseSignature(exact.Signature)
	if err != nil {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidAuthorization, err)
	}
	if len(sig) != 65 {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidAuthorization,
			fmt.Errorf("signature must be 65 bytes, got %d", len(sig)))
	}

	// Recipient must be the vendor's payTo.
	if !strings.EqualFold(auth.To, reqs.PayTo) {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidAuthorization,
			fmt.Errorf("authorization pays %s, requirements demand %s", auth.To, reqs.PayTo))
	}

	// Amount must not exceed the vendor's ceiling.
	maxAmount, ok := new(big.Int).SetString(reqs.MaxAmountRequired, 10)
	if !ok {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidField,
			fmt.Errorf("malformed maxAmountRequired %q", reqs.MaxAmountRequired))
	}
	if value.Cmp(maxAmount) > 0 {
		return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidAuthorization,
			fmt.Errorf("value %s exceeds maxAmountRequired %s", value, maxAmount))
	}

	// Asset defaults to the chain's canonical USDC; vendors may name another
	// EIP-3009 token and override its EIP-712 domain via extra.
	token := chain.USDCAddress
	if reqs.Asset != "" {
		if !common.IsHexAddress(reqs.Asset) {
			return Payment{}, x402.NewVerificationError(errors.ErrCodeInvalidField,
				fmt.Errorf("malformed asset address %q", reqs.Asset))
		}
		token = reqs.Asset
	}
	tokenName, tokenVersion := chain.TokenName, chain.TokenVersion
	if v, ok := reqs.Extra[x402.ExtraTokenName].(string); ok && v != "" {
		tokenName = v
	}
	if v, ok := reqs.Extra[x402.ExtraTokenVersion].(string); ok && v != "" {
		tokenVersion = v
	}

	return Payment{
		Chain:        chain,
		Token:        common.HexToAddress(token),
		TokenName:    tokenName,
		TokenVersion: tokenVersion,
		From:         common.HexToAddress(auth.From),
		To:           common.HexToAddress(auth.To),
		Value:        value,
		ValidAfter:   validAfter,
		ValidBefore:  validBefore,
		Nonce:        nonce,
		Signature:    sig,
	}, nil
}

// Verify checks the signature, solvency, timing window, and replay state of
// a parsed payment. Returns nil when the payment is settleable.
// RPC failures surface as verdicts with the underlying reason; transport
// trouble is never hidden behind a generic "invalid".
func (v *Verifier) Verify(ctx context.Context, p Payment) error {
	start := time.Now()
	err := v.verify(ctx, p)
	if v.metrics != nil {
		v.metrics.ObserveVerification(p.Chain.Name, err == nil, time.Since(start))
	}
	return err
}

func (v *Verifier) verify(ctx context.Context, p Payment) error {
	log := logger.FromContext(ctx)

	// Signature recovery against the token's EIP-712 domain.
	signer, err := evm.RecoverAuthorizationSigner(
		p.TokenName, p.TokenVersion, p.Chain.ID, p.Token,
		evm.AuthorizationMessage{
			From:        p.From,
			To:          p.To,
			Value:       p.Value,
			ValidAfter:  p.ValidAfter,
			ValidBefore: p.ValidBefore,
			Nonce:       p.Nonce,
		},
		p.Signature,
	)
	if err != nil {
		return x402.NewVerificationError(errors.ErrCodeInvalidAuthorization, err)
	}
	if signer != p.From {
		log.Debug().
			Str("recovered", logger.TruncateAddress(signer.Hex())).
			Str("claimed", logger.TruncateAddress(p.From.Hex())).
			Msg("verify.signer_mismatch")
		return x402.NewVerificationError(errors.ErrCodeSignerMismatch,
			fmt.Errorf("recovered %s, claimed %s", signer.Hex(), p.From.Hex()))
	}

	reader, err := v.readers.Reader(p.Chain)
	if err != nil {
		return x402.NewVerificationError(errors.ErrCodeRPCError, err)
	}

	// Solvency.
	balance, err := reader.BalanceOf(ctx, p.Token, p.From)
	if err != nil {
		return x402.NewVerificationError(errors.ErrCodeRPCError, err)
	}
	if balance.Cmp(p.Value) < 0 {
		return x402.NewVerificationError(errors.ErrCodeInsufficientBalance,
			fmt.Errorf("balance %s < value %s", balance, p.Value))
	}

	// Timing window. Both boundaries are inclusive-valid: now == validBefore
	// and now == validAfter still pass.
	now := big.NewInt(v.now().Unix())
	if now.Cmp(p.ValidAfter) < 0 {
		return x402.NewVerificationError(errors.ErrCodeNotYetValid,
			fmt.Errorf("now %s < validAfter %s", now, p.ValidAfter))
	}
	if now.Cmp(p.ValidBefore) > 0 {
		return x402.NewVerificationError(errors.ErrCodeExpired,
			fmt.Errorf("now %s > validBefore %s", now, p.ValidBefore))
	}

	// Replay.
	used, err := reader.AuthorizationState(ctx, p.Token, p.From, p.Nonce)
	if err != nil {
		// Tokens without the EIP-3009 view revert on this call; proceed and
		// let the settlement engine re-check on failure.
		log.Warn().
			Err(err).
			Str("token", p.Token.Hex()).
			Msg("verify.authorization_state_unavailable")
		return nil
	}
	if used {
		return x402.NewVerificationError(errors.ErrCodeNonceUsed,
			fmt.Errorf("nonce %s already used by %s", common.Hash(p.Nonce).Hex(), p.From.Hex()))
	}

	return nil
}
