// Package settlement orchestrates payment execution: verify, resolve a
// sponsor, submit through the signer oracle, await the receipt, and reconcile
// against chain state on failure. Exactly-once submission per (from, nonce)
// is the package's central guarantee.
package settlement

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/errors"
	"github.com/gaslift/facilitator/internal/evm"
	"github.com/gaslift/facilitator/internal/ledger"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/internal/metrics"
	"github.com/gaslift/facilitator/internal/signeroracle"
	"github.com/gaslift/facilitator/internal/sponsor"
	"github.com/gaslift/facilitator/internal/verifier"
	"github.com/gaslift/facilitator/pkg/x402"
)

// Receipt polling never runs longer than this, regardless of what the vendor
// puts in maxTimeoutSeconds.
const maxReceiptWait = 5 * time.Minute

// NoteHashUnrecovered marks a success whose transaction hash could not be
// found by the log scan. The authorization is consumed on-chain; the chain is
// the truth even when we cannot name the transaction.
const NoteHashUnrecovered = "authorization consumed on-chain; transaction hash not recovered"

// Outcome is the terminal result of one settlement.
type Outcome struct {
	Success bool
	TxHash  string // may be empty on a reconciled success
	Payer   string

	// Failure classification.
	Code   errors.ErrorCode
	Reason string
	Err    error // underlying error for logs and structured responses

	// Receipt enrichment.
	Note       string
	SponsorID  string
	GasUsed    uint64
	GasCostWei *big.Int
}

// PaymentVerifier validates a parsed payment against signatures and chain
// state before submission.
type PaymentVerifier interface {
	Verify(ctx context.Context, p verifier.Payment) error
}

// SponsorFinder resolves the sponsor wallet that pays gas for a payer.
type SponsorFinder interface {
	Find(ctx context.Context, network, payer string) (sponsor.SponsorWallet, error)
}

// Submitter executes one transfer on-chain and waits for its receipt.
type Submitter interface {
	Execute(ctx context.Context, chain chains.Chain, wallet sponsor.SponsorWallet, tr signeroracle.Transfer) (signeroracle.Result, error)
}

// ChainState is the read-only chain view reconciliation consults.
type ChainState interface {
	AuthorizationState(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error)
	FindTransfer(ctx context.Context, token, from, to common.Address, value *big.Int, lookback int64) (common.Hash, bool, error)
}

// StatePool yields the chain-state view for one chain.
type StatePool interface {
	State(chain chains.Chain) (ChainState, error)
}

// QuotaGate consumes one unit of a payer's monthly quota. Called after a
// successful verify and before submission, so invalid signatures never burn
// quota.
type QuotaGate interface {
	Consume(ctx context.Context, payer string) error
}

// Config tunes the engine.
type Config struct {
	ReconcileDelay time.Duration // pause before consulting authorizationState after a failure
	LogScanWindow  time.Duration // duration of blocks scanned when recovering a lost tx hash
	MaxRetries     int           // resubmissions after a reconciled failure
}

// Engine executes settlements with in-flight deduplication.
type Engine struct {
	verifier PaymentVerifier
	sponsors SponsorFinder
	adapter  Submitter
	states   StatePool
	ledger   ledger.Writer
	quota    QuotaGate // may be nil
	metrics  *metrics.Metrics
	cfg      Config

	inflight *inflightMap
}

// New creates a settlement engine.
func New(v PaymentVerifier, sponsors SponsorFinder, adapter Submitter,
	states StatePool, lw ledger.Writer, quota QuotaGate, m *metrics.Metrics, cfg Config) *Engine {
	if cfg.ReconcileDelay <= 0 {
		cfg.ReconcileDelay = time.Second
	}
	if cfg.LogScanWindow <= 0 {
		cfg.LogScanWindow = time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 1
	}
	return &Engine{
		verifier: v,
		sponsors: sponsors,
		adapter:  adapter,
		states:   states,
		ledger:   lw,
		quota:    quota,
		metrics:  m,
		cfg:      cfg,
		inflight: newInflightMap(),
	}
}

// NewEVMStatePool adapts an RPC client pool to the StatePool the engine
// reconciles through.
func NewEVMStatePool(pool *evm.Pool) StatePool {
	return evmStatePool{pool: pool}
}

type evmStatePool struct {
	pool *evm.Pool
}

func (p evmStatePool) State(chain chains.Chain) (ChainState, error) {
	return p.pool.Client(chain)
}

// Settle verifies and executes a payment. Concurrent calls with the same
// (from, nonce) join the first call's execution and observe its outcome.
// The settlement itself runs on a context detached from the caller: a client
// disconnect must not cancel a chain-affecting operation mid-flight.
func (e *Engine) Settle(ctx context.Context, p verifier.Payment, reqs x402.PaymentRequirements) Outcome {
	key := p.Key()
	entry, owner := e.inflight.joinOrStart(key)

	if !owner {
		log := logger.FromContext(ctx)
		log.Info().
			Str("settlement_key", logger.TruncateAddress(key)).
			Msg("settle.joined_in_flight")
		outcome, err := entry.wait(ctx)
		if err != nil {
			return Outcome{
				Success: false,
				Payer:   p.From.Hex(),
				Code:    errors.ErrCodeTimeout,
				Reason:  x402.UserFriendlyMessage(errors.ErrCodeTimeout),
				Err:     err,
			}
		}
		return outcome
	}

	if e.metrics != nil {
		e.metrics.InFlightSettlements.Inc()
		defer e.metrics.InFlightSettlements.Dec()
	}

	start := time.Now()
	outcome := e.execute(context.WithoutCancel(ctx), p, reqs)
	e.inflight.finish(key, entry, outcome)

	if e.metrics != nil {
		e.metrics.ObserveSettlement(p.Chain.Name, outcome.Success, time.Since(start))
		if outcome.Success {
			e.metrics.ObserveSettlementAmount(p.Chain.Name, p.Token.Hex(), p.Value.Int64())
		}
	}
	return outcome
}

// InFlight reports the number of settlements currently executing.
func (e *Engine) InFlight() int {
	return e.inflight.size()
}

func (e *Engine) execute(ctx context.Context, p verifier.Payment, reqs x402.PaymentRequirements) Outcome {
	log := logger.FromContext(ctx)
	payer := p.From.Hex()

	// Init -> Verified | Failure
	if err := e.verifier.Verify(ctx, p); err != nil {
		// A nonce already consumed on-chain is terminal success, not failure:
		// the payment settled, whether by our own earlier attempt or by a
		// client resubmission that beat us. Settling the same (from, nonce)
		// twice must yield the same receipt.
		var verr x402.VerificationError
		if stderrors.As(err, &verr) && verr.Code == errors.ErrCodeNonceUsed {
			if state, serr := e.states.State(p.Chain); serr == nil {
				log.Info().
					Str("payer", logger.TruncateAddress(payer)).
					Str("network", p.Chain.Name).
					Msg("settle.nonce_already_consumed")
				outcome := e.recoveredSuccess(ctx, state, p, "", payer)
				e.writeLedger(ctx, p, reqs, outcome)
				return outcome
			}
		}
		return failureFromError(payer, err)
	}

	// Quota is consumed here, after verify succeeded: invalid payloads must
	// not burn a payer's monthly allowance.
	if e.quota != nil {
		if err := e.quota.Consume(ctx, payer); err != nil {
			return Outcome{
				Success: false,
				Payer:   payer,
				Code:    errors.ErrCodeQuotaExceeded,
				Reason:  x402.UserFriendlyMessage(errors.ErrCodeQuotaExceeded),
				Err:     err,
			}
		}
	}

	wallet, err := e.sponsors.Find(ctx, p.Chain.Name, payer)
	if err != nil {
		if stderrors.Is(err, sponsor.ErrNotFound) {
			return Outcome{
				Success: false,
				Payer:   payer,
				Code:    errors.ErrCodeNoSponsor,
				Reason:  x402.UserFriendlyMessage(errors.ErrCodeNoSponsor),
				Err:     err,
			}
		}
		return Outcome{
			Success: false,
			Payer:   payer,
			Code:    errors.ErrCodeDatabaseError,
			Reason:  x402.UserFriendlyMessage(errors.ErrCodeDatabaseError),
			Err:     err,
		}
	}

	// Vendors bound the wait through maxTimeoutSeconds; clamp it so a
	// misconfigured vendor cannot pin a worker for hours.
	submitCtx := ctx
	if reqs.MaxTimeoutSeconds > 0 {
		wait := time.Duration(reqs.MaxTimeoutSeconds) * time.Second
		if wait > maxReceiptWait {
			wait = maxReceiptWait
		}
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	transfer := signeroracle.Transfer{
		Token:       p.Token,
		From:        p.From,
		To:          p.To,
		Value:       p.Value,
		ValidAfter:  p.ValidAfter,
		ValidBefore: p.ValidBefore,
		Nonce:       p.Nonce,
		Signature:   p.Signature,
	}

	// Verified -> Submitted -> Confirming
	result, submitErr := e.adapter.Execute(submitCtx, p.Chain, wallet, transfer)
	if submitErr == nil {
		log.Info().
			Str("tx_hash", logger.TruncateAddress(result.TxHash)).
			Str("network", p.Chain.Name).
			Str("payer", logger.TruncateAddress(payer)).
			Msg("settle.confirmed")
		outcome := successOutcome(payer, wallet.ID, result)
		e.writeLedger(ctx, p, reqs, outcome)
		return outcome
	}

	// Confirming -> Reconciling
	outcome := e.reconcile(ctx, p, wallet, transfer, submitErr)
	if outcome.Success {
		e.writeLedger(ctx, p, reqs, outcome)
	}
	return outcome
}

// reconcile consults authorizationState after any reported failure. The chain
// is the source of truth: a "failed" submission whose nonce is consumed DID
// settle, and must be reported as success.
func (e *Engine) reconcile(ctx context.Context, p verifier.Payment,
	wallet sponsor.SponsorWallet, transfer signeroracle.Transfer, submitErr error) Outcome {

	log := logger.FromContext(ctx)
	payer := p.From.Hex()

	log.Warn().
		Err(submitErr).
		Str("network", p.Chain.Name).
		Str("payer", logger.TruncateAddress(payer)).
		Msg("settle.reconciling")

	state, err := e.states.State(p.Chain)
	if err != nil {
		return e.terminalFailure(p, payer, submitErr)
	}

	e.sleep(ctx, e.cfg.ReconcileDelay)

	used, err := state.AuthorizationState(ctx, p.Token, p.From, p.Nonce)
	if err != nil {
		// Cannot consult the chain; report the original failure.
		return e.terminalFailure(p, payer, submitErr)
	}
	if used {
		return e.recoveredSuccess(ctx, state, p, wallet.ID, payer)
	}

	// Nonce unused: the first attempt truly did not land. One retry.
	if e.cfg.MaxRetries < 1 {
		return e.terminalFailure(p, payer, submitErr)
	}
	if e.metrics != nil {
		e.metrics.ObserveSettlementRetry(p.Chain.Name)
	}
	log.Info().
		Str("network", p.Chain.Name).
		Str("payer", logger.TruncateAddress(payer)).
		Msg("settle.retrying")

	result, retryErr := e.adapter.Execute(ctx, p.Chain, wallet, transfer)
	if retryErr == nil {
		return successOutcome(payer, wallet.ID, result)
	}

	// Final consult: the retry may have landed despite the reported error.
	e.sleep(ctx, e.cfg.ReconcileDelay)
	used, err = state.AuthorizationState(ctx, p.Token, p.From, p.Nonce)
	if err == nil && used {
		return e.recoveredSuccess(ctx, state, p, wallet.ID, payer)
	}

	// The original error message names the first failure; the retry only
	// confirmed it.
	return e.terminalFailure(p, payer, submitErr)
}

// recoveredSuccess builds a success outcome for a consumed nonce, recovering
// the transaction hash from recent Transfer logs when possible.
func (e *Engine) recoveredSuccess(ctx context.Context, state ChainState, p verifier.Payment,
	sponsorID, payer string) Outcome {

	log := logger.FromContext(ctx)
	lookback := p.Chain.LogScanBlocks(e.cfg.LogScanWindow)

	txHash, found, err := state.FindTransfer(ctx, p.Token, p.From, p.To, p.Value, lookback)
	if err != nil || !found {
		if err != nil {
			log.Warn().Err(err).Msg("settle.hash_recovery_failed")
		}
		if e.metrics != nil {
			e.metrics.ObserveReconciliation(p.Chain.Name, "confirmed_success")
		}
		return Outcome{
			Success:   true,
			Payer:     payer,
			SponsorID: sponsorID,
			Note:      NoteHashUnrecovered,
		}
	}

	if e.metrics != nil {
		e.metrics.ObserveReconciliation(p.Chain.Name, "hash_recovered")
	}
	log.Info().
		Str("tx_hash", logger.TruncateAddress(txHash.Hex())).
		Str("network", p.Chain.Name).
		Msg("settle.hash_recovered")
	return Outcome{
		Success:   true,
		Payer:     payer,
		TxHash:    txHash.Hex(),
		SponsorID: sponsorID,
	}
}

func (e *Engine) terminalFailure(p verifier.Payment, payer string, submitErr error) Outcome {
	if e.metrics != nil {
		e.metrics.ObserveReconciliation(p.Chain.Name, "confirmed_failure")
	}

	code := errors.ErrCodeSubmissionError
	switch {
	case stderrors.Is(submitErr, signeroracle.ErrReverted):
		code = errors.ErrCodeReverted
	case stderrors.Is(submitErr, context.DeadlineExceeded):
		code = errors.ErrCodeTimeout
	}
	return Outcome{
		Success: false,
		Payer:   payer,
		Code:    code,
		Reason:  x402.UserFriendlyMessage(code),
		Err:     submitErr,
	}
}

// writeLedger records the terminal state. Failures here are logged and
// swallowed: the analytics store never gates a payment response.
func (e *Engine) writeLedger(ctx context.Context, p verifier.Payment, reqs x402.PaymentRequirements, outcome Outcome) {
	if e.ledger == nil || outcome.TxHash == "" {
		return
	}
	log := logger.FromContext(ctx)

	domain, endpoint := ledger.VendorFromResource(reqs.Resource)
	err := e.ledger.RecordTransaction(ctx, ledger.TransactionRecord{
		TxHash:          outcome.TxHash,
		Payer:           p.From.Hex(),
		Recipient:       p.To.Hex(),
		SponsorWalletID: outcome.SponsorID,
		AmountAtomic:    p.Value.String(),
		Asset:           p.Token.Hex(),
		Network:         p.Chain.Name,
		ChainID:         p.Chain.ID,
		Scheme:          x402.SchemeExact,
		Status:          ledger.StatusSuccess,
		VendorDomain:    domain,
		VendorEndpoint:  endpoint,
	})
	if err != nil {
		log.Error().Err(err).
			Str("tx_hash", logger.TruncateAddress(outcome.TxHash)).
			Msg("settle.ledger_write_failed")
	}

	if outcome.SponsorID == "" {
		return
	}
	gasCost := ""
	if outcome.GasCostWei != nil {
		gasCost = outcome.GasCostWei.String()
	}
	err = e.ledger.RecordSponsorSpend(ctx, ledger.SponsorSpendRecord{
		SponsorWalletID: outcome.SponsorID,
		TxHash:          outcome.TxHash,
		GasUsed:         outcome.GasUsed,
		GasCostWei:      gasCost,
		Agent:           p.From.Hex(),
		ChainID:         p.Chain.ID,
	})
	if err != nil {
		log.Error().Err(err).
			Str("sponsor_id", outcome.SponsorID).
			Str("tx_hash", logger.TruncateAddress(outcome.TxHash)).
			Msg("settle.spend_write_failed")
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func successOutcome(payer, sponsorID string, result signeroracle.Result) Outcome {
	return Outcome{
		Success:    true,
		Payer:      payer,
		TxHash:     result.TxHash,
		SponsorID:  sponsorID,
		GasUsed:    result.GasUsed,
		GasCostWei: result.GasCostWei,
	}
}

// failureFromError maps a verification error onto a terminal outcome.
func failureFromError(payer string, err error) Outcome {
	var verr x402.VerificationError
	if stderrors.As(err, &verr) {
		return Outcome{
			Success: false,
			Payer:   payer,
			Code:    verr.Code,
			Reason:  verr.Message,
			Err:     err,
		}
	}
	return Outcome{
		Success: false,
		Payer:   payer,
		Code:    errors.ErrCodeInternalError,
		Reason:  fmt.Sprintf("settlement failed: %v", err),
		Err:     err,
	}
}
