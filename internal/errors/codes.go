package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// Payment verification errors (pre-submit, surfaced with isValid:false)
const (
	// Field checks, signature recovery, or EIP-712 domain mismatch
	ErrCodeInvalidAuthorization ErrorCode = "invalid_authorization"
	ErrCodeSignerMismatch       ErrorCode = "signer_mismatch"

	// On-chain balance below the authorized value
	ErrCodeInsufficientBalance ErrorCode = "insufficient_balance"

	// Timing window violations
	ErrCodeNotYetValid ErrorCode = "not_yet_valid"
	ErrCodeExpired     ErrorCode = "expired"

	// Replay detected before submission
	ErrCodeNonceUsed ErrorCode = "nonce_used"
)

// Settlement errors (post-verify, surfaced with success:false)
const (
	ErrCodeNoSponsor       ErrorCode = "no_sponsor"
	ErrCodeSubmissionError ErrorCode = "submission_error"
	ErrCodeReverted        ErrorCode = "reverted"
	ErrCodeTimeout         ErrorCode = "timeout"
)

// Protocol/envelope errors
const (
	ErrCodeNetworkMismatch    ErrorCode = "network_mismatch"
	ErrCodeSchemeMismatch     ErrorCode = "scheme_mismatch"
	ErrCodeUnsupportedScheme  ErrorCode = "unsupported_scheme"
	ErrCodeUnsupportedNetwork ErrorCode = "unsupported_network"
	ErrCodeInvalidVersion     ErrorCode = "invalid_version"
	ErrCodeMissingField       ErrorCode = "missing_field"
	ErrCodeInvalidField       ErrorCode = "invalid_field"
)

// Gate errors
const (
	ErrCodeRateLimited   ErrorCode = "rate_limited"
	ErrCodeQuotaExceeded ErrorCode = "quota_exceeded"
)

// External service errors
const (
	ErrCodeRPCError     ErrorCode = "rpc_error"
	ErrCodeOracleError  ErrorCode = "oracle_error"
	ErrCodeNetworkError ErrorCode = "network_error"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient network/service issues, not verdicts.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRPCError,
		ErrCodeOracleError,
		ErrCodeNetworkError,
		ErrCodeTimeout,
		ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
// Verification verdicts are carried in a 200 body and never reach this path;
// these statuses cover envelope, gate, and infrastructure failures.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidVersion,
		ErrCodeUnsupportedScheme,
		ErrCodeUnsupportedNetwork:
		return 400

	case ErrCodeQuotaExceeded:
		return 402

	case ErrCodeRateLimited:
		return 429

	case ErrCodeRPCError,
		ErrCodeOracleError,
		ErrCodeNetworkError:
		return 502

	default:
		return 500
	}
}
