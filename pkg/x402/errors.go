package x402

import (
	"fmt"

	"github.com/gaslift/facilitator/internal/errors"
)

// VerificationError classifies failures encountered while validating or
// settling a payment authorization.
type VerificationError struct {
	Code    errors.ErrorCode // Machine-readable error code
	Message string           // User-friendly message
	Err     error            // Technical error for logging
}

func (e VerificationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e VerificationError) Unwrap() error {
	return e.Err
}

// NewVerificationError creates a verification error with a user-friendly message.
func NewVerificationError(code errors.ErrorCode, err error) VerificationError {
	return VerificationError{
		Code:    code,
		Message: UserFriendlyMessage(code),
		Err:     err,
	}
}

// UserFriendlyMessage converts error codes to short client-facing reasons.
// Raw RPC and signer-oracle error strings never reach the caller; these are
// the only texts the HTTP boundary emits.
func UserFriendlyMessage(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeInvalidAuthorization:
		return "authorization fields invalid"
	case errors.ErrCodeSignerMismatch:
		return "signer mismatch"
	case errors.ErrCodeInsufficientBalance:
		return "insufficient balance"
	case errors.ErrCodeNotYetValid:
		return "authorization not yet valid"
	case errors.ErrCodeExpired:
		return "authorization expired"
	case errors.ErrCodeNonceUsed:
		return "nonce already used or canceled"
	case errors.ErrCodeNoSponsor:
		return "no sponsor wallet available for payer"
	case errors.ErrCodeSubmissionError:
		return "transaction submission failed"
	case errors.ErrCodeReverted:
		return "transaction reverted on-chain"
	case errors.ErrCodeTimeout:
		return "settlement timed out"
	case errors.ErrCodeNetworkMismatch:
		return "payload and requirements disagree on network"
	case errors.ErrCodeSchemeMismatch:
		return "payload and requirements disagree on scheme"
	case errors.ErrCodeUnsupportedScheme:
		return "unsupported payment scheme"
	case errors.ErrCodeUnsupportedNetwork:
		return "unsupported network"
	case errors.ErrCodeRPCError:
		return "blockchain RPC unavailable"
	default:
		return fmt.Sprintf("payment verification failed: %s", code)
	}
}
