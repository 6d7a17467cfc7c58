package dto

import (
	"errors"
	"net/http"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/scheduler"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Input error codes
const (
	// ErrCodeValidation is used when request fields fail validation
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeConflict is used for general resource conflicts
	ErrCodeConflict = "ERR_CONFLICT"
)

// Reconciliation error codes
const (
	// ErrCodeNotConfigured is used when the store has no usable ledger
	ErrCodeNotConfigured = "ERR_LEDGER_NOT_CONFIGURED"
	// ErrCodeLedgerUnavailable is used when the ledger could not be consulted
	ErrCodeLedgerUnavailable = "ERR_LEDGER_UNAVAILABLE"
	// ErrCodeRunInProgress is used when a reconciliation run is already active
	ErrCodeRunInProgress = "ERR_RUN_IN_PROGRESS"
	// ErrCodeSchedulerStopped is used when the scheduler is not running
	ErrCodeSchedulerStopped = "ERR_SCHEDULER_NOT_RUNNING"
)

// Rate limiting error codes
const (
	// ErrCodeRateLimited is used when rate limit is exceeded
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeNotFound: http.StatusNotFound,
	ErrCodeConflict: http.StatusConflict,

	ErrCodeNotConfigured:     http.StatusUnprocessableEntity,
	ErrCodeLedgerUnavailable: http.StatusServiceUnavailable,
	ErrCodeRunInProgress:     http.StatusConflict,
	ErrCodeSchedulerStopped:  http.StatusServiceUnavailable,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// errorCodes maps sentinel errors to codes, first match wins
var errorCodes = []struct {
	err  error
	code string
}{
	{reconciliation.ErrInvalidRequest, ErrCodeInvalidInput},
	{reconciliation.ErrDeliveryNotFound, ErrCodeNotFound},
	{reconciliation.ErrVerificationNotFound, ErrCodeNotFound},
	{reconciliation.ErrNotConfigured, ErrCodeNotConfigured},
	{reconciliation.ErrLedgerUnavailable, ErrCodeLedgerUnavailable},
	{reconciliation.ErrLedgerAuthFailed, ErrCodeLedgerUnavailable},
	{reconciliation.ErrLedgerInvalidResponse, ErrCodeLedgerUnavailable},
	{reconciliation.ErrAlreadyReconciled, ErrCodeConflict},
	{scheduler.ErrRunAlreadyInProgress, ErrCodeRunInProgress},
	{scheduler.ErrSchedulerNotRunning, ErrCodeSchedulerStopped},
}

// ErrorCodeFor returns the error code of err, or ErrCodeInternal when err
// wraps none of the known sentinels
func ErrorCodeFor(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return ErrCodeInternal
}
