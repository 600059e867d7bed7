package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

// Each kind maps to exactly one HTTP status at the API boundary; the
// settlement engine and solver never see an HTTPStatus, only the
// ErrorType via errors.Is/As.
const (
	// Validation
	ErrInvalidQuote             ErrorType = "INVALID_QUOTE"
	ErrInvalidSignature         ErrorType = "INVALID_SIGNATURE"
	ErrQuoteExpired             ErrorType = "QUOTE_EXPIRED"
	ErrFillDeadlineBeforeDeposit ErrorType = "FILL_DEADLINE_BEFORE_DEPOSIT"
	ErrWrongChain               ErrorType = "WRONG_CHAIN"
	ErrBelowMinimumOrder        ErrorType = "BELOW_MINIMUM_ORDER"

	// Replay / state
	ErrNonceAlreadyUsed  ErrorType = "NONCE_ALREADY_USED"
	ErrOrderAlreadyExists ErrorType = "ORDER_ALREADY_EXISTS"
	ErrOrderNotFound     ErrorType = "ORDER_NOT_FOUND"
	ErrOrderNotDeposited ErrorType = "ORDER_NOT_DEPOSITED"
	ErrOrderNotExpired   ErrorType = "ORDER_NOT_EXPIRED"

	// Authorization
	ErrNotSolver             ErrorType = "NOT_SOLVER"
	ErrSolverNotRegistered   ErrorType = "SOLVER_NOT_REGISTERED"
	ErrSolverAlreadyRegistered ErrorType = "SOLVER_ALREADY_REGISTERED"

	// Economic
	ErrInsufficientBond    ErrorType = "INSUFFICIENT_BOND"
	ErrBelowMinimumBond    ErrorType = "BELOW_MINIMUM_BOND"
	ErrInsufficientDeposit ErrorType = "INSUFFICIENT_DEPOSIT"
	ErrNoExcessBalance     ErrorType = "NO_EXCESS_BALANCE"

	// Unstake lifecycle
	ErrUnstakeNotReady      ErrorType = "UNSTAKE_NOT_READY"
	ErrNoPendingUnstake     ErrorType = "NO_PENDING_UNSTAKE"
	ErrPendingUnstakeExists ErrorType = "PENDING_UNSTAKE_EXISTS"

	// Transport / aggregation
	ErrRateLimited   ErrorType = "RATE_LIMITED"
	ErrReadOnly      ErrorType = "READ_ONLY"
	ErrNoSolvers     ErrorType = "NO_SOLVERS"
	ErrVerifierMissing ErrorType = "VERIFIER_MISSING"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrInternal      ErrorType = "INTERNAL_ERROR"
	ErrNotFound      ErrorType = "NOT_FOUND"
	ErrUpstream      ErrorType = "UPSTREAM_ERROR"
)

// AppError is the standard error struct surfaced at the HTTP boundary.
// Internal packages (settlement, bond, noncebitmap, ...) return *AppError
// directly so the boundary never has to reclassify a bare error string.
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

// Wrap classifies a plain error as ErrInternal unless it is already an
// *AppError, in which case it passes through unchanged.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidQuote, ErrInvalidSignature, ErrQuoteExpired,
		ErrFillDeadlineBeforeDeposit, ErrWrongChain, ErrBelowMinimumOrder,
		ErrInvalidRequest, ErrNonceAlreadyUsed, ErrOrderAlreadyExists,
		ErrOrderNotDeposited, ErrOrderNotExpired, ErrBelowMinimumBond,
		ErrInsufficientDeposit, ErrNoExcessBalance, ErrUnstakeNotReady,
		ErrNoPendingUnstake, ErrPendingUnstakeExists, ErrInsufficientBond,
		ErrReadOnly:
		return http.StatusBadRequest
	case ErrNotSolver, ErrSolverNotRegistered:
		return http.StatusUnauthorized
	case ErrNotFound, ErrOrderNotFound:
		return http.StatusNotFound
	case ErrSolverAlreadyRegistered:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUpstream:
		return http.StatusBadGateway
	case ErrNoSolvers, ErrVerifierMissing:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrNonceAlreadyUsed:
		return "Request a fresh quote; this nonce has already been consumed."
	case ErrInsufficientBond:
		return "Solver must add bond or reduce reserved exposure."
	case ErrQuoteExpired:
		return "Request a new quote; the deposit window has elapsed."
	case ErrNoSolvers:
		return "No solvers are registered for this chain; try again later."
	case ErrVerifierMissing:
		return "The aggregator has no verifying contract configured for this chain."
	default:
		return ""
	}
}
