package httpserver

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gaslift/facilitator/internal/chains"
	apierrors "github.com/gaslift/facilitator/internal/errors"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/internal/quota"
	"github.com/gaslift/facilitator/internal/verifier"
	"github.com/gaslift/facilitator/pkg/responders"
	"github.com/gaslift/facilitator/pkg/x402"
)

// paymentRequest is the body shared by POST /verify and POST /settle.
type paymentRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// verify handles POST /verify. The verdict travels in the body; HTTP 200 is
// returned for both valid and invalid payments.
func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	setProtocolHeaders(w, requestID)

	var req paymentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "malformed request body")
		return
	}

	payment, chain, verdict := h.admit(w, r, req)
	if verdict != nil {
		responders.JSON(w, http.StatusOK, verdict)
		return
	}
	if payment == nil {
		return // admit already wrote a non-verdict response (rate limit)
	}
	setNetworkHeaders(w, chain, req.PaymentPayload.Scheme)

	if err := h.verifier.Verify(r.Context(), *payment); err != nil {
		responders.JSON(w, http.StatusOK, verdictFromError(err))
		return
	}

	responders.JSON(w, http.StatusOK, x402.VerifyResponse{
		IsValid: true,
		Payer:   payment.From.Hex(),
	})
}

// settle handles POST /settle. Terminal outcomes, success or final failure,
// are HTTP 200 with a V2 receipt; only the quota gate rejects with 402.
func (h *handlers) settle(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	setProtocolHeaders(w, requestID)

	var req paymentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "malformed request body")
		return
	}

	payment, chain, verdict := h.admit(w, r, req)
	if verdict != nil {
		// Envelope-level rejections never reach the chain; render them as a
		// failed receipt so settle callers always parse one shape.
		responders.JSON(w, http.StatusOK, failedReceipt(requestID, req, verdict.InvalidReason))
		return
	}
	if payment == nil {
		return
	}
	setNetworkHeaders(w, chain, req.PaymentPayload.Scheme)
	payer := payment.From.Hex()

	// Quota precheck: an exhausted payer is turned away before any signature
	// or chain work is spent on the request.
	if h.gate != nil {
		exceeded, err := h.gate.CheckQuota(r.Context(), payer)
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("settle.quota_check_failed")
		}
		if exceeded != nil {
			h.writeQuotaExceeded(w, req, exceeded)
			return
		}
	}

	outcome := h.engine.Settle(r.Context(), *payment, req.PaymentRequirements)

	// The engine consumes quota after verify; a limit crossed by a racing
	// request surfaces here.
	if !outcome.Success && outcome.Code == apierrors.ErrCodeQuotaExceeded {
		var exceeded *quota.ExceededError
		if stderrors.As(outcome.Err, &exceeded) {
			h.writeQuotaExceeded(w, req, exceeded)
			return
		}
	}

	receipt := receiptFromOutcome(requestID, chain, req.PaymentPayload.Scheme, *payment, outcome)
	if outcome.Success {
		w.Header().Set("X-x402-Transaction", outcome.TxHash)
		addSettlementHeader(w, x402.SettleResponse{
			Success:     true,
			Payer:       outcome.Payer,
			Transaction: outcome.TxHash,
			Network:     chain.Name,
		})
	}
	responders.JSON(w, http.StatusOK, receipt)
}

// supported handles GET /supported.
func (h *handlers) supported(w http.ResponseWriter, r *http.Request) {
	setProtocolHeaders(w, uuid.NewString())
	responders.JSON(w, http.StatusOK, x402.SupportedResponse{Kinds: h.router.Supported()})
}

// admit runs the pre-verification pipeline shared by verify and settle:
// envelope checks, payload parsing, and the tier-derived per-payer rate
// limit. It returns either a parsed payment, or a verdict the caller must
// render, or (nil, nil) when a response has already been written.
func (h *handlers) admit(w http.ResponseWriter, r *http.Request, req paymentRequest) (*verifier.Payment, chains.Chain, *x402.VerifyResponse) {
	// Envelope and inner payload must agree on the protocol version.
	if req.X402Version != 0 && req.X402Version != req.PaymentPayload.X402Version {
		return nil, chains.Chain{}, &x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("envelope version %d does not match payload version %d", req.X402Version, req.PaymentPayload.X402Version),
		}
	}

	chain, err := h.router.Validate(req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		return nil, chains.Chain{}, verdictFromError(err)
	}

	payment, err := verifier.Parse(req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		return nil, chains.Chain{}, verdictFromError(err)
	}

	if h.gate != nil {
		res := h.gate.CheckRate(r.Context(), payment.From.Hex())
		writeRateHeaders(w, res)
		if !res.Allowed {
			retryAfter := int(time.Until(res.ResetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeRateLimited,
				"per-payer rate limit exceeded", "retryAfterSeconds", retryAfter)
			return nil, chains.Chain{}, nil
		}
	}

	return &payment, chain, nil
}

// writeQuotaExceeded renders the 402 quota rejection with the accepts array
// describing what the vendor would take once the payer upgrades.
func (h *handlers) writeQuotaExceeded(w http.ResponseWriter, req paymentRequest, exceeded *quota.ExceededError) {
	responders.JSON(w, http.StatusPaymentRequired, map[string]any{
		"error":     string(apierrors.ErrCodeQuotaExceeded),
		"message":   "monthly transaction quota exhausted",
		"used":      exceeded.Used,
		"limit":     exceeded.Limit,
		"periodEnd": exceeded.PeriodEnd.UTC().Format(time.RFC3339),
		"accepts":   acceptsFor(req.PaymentRequirements),
	})
}

// verdictFromError maps component errors onto the wire verdict.
func verdictFromError(err error) *x402.VerifyResponse {
	var verr x402.VerificationError
	if stderrors.As(err, &verr) {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: verr.Message}
	}
	return &x402.VerifyResponse{IsValid: false, InvalidReason: "payment verification failed"}
}
