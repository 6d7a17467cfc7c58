package reconciliation

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrNotConfigured = errors.New("reconciliation: store ledger not configured")

	// Ledger errors
	ErrLedgerUnavailable     = errors.New("reconciliation: ledger temporarily unavailable")
	ErrLedgerAuthFailed      = errors.New("reconciliation: ledger authentication failed")
	ErrLedgerInvalidResponse = errors.New("reconciliation: invalid ledger response")

	// Lookup errors
	ErrDeliveryNotFound     = errors.New("reconciliation: delivery not found")
	ErrVerificationNotFound = errors.New("reconciliation: verification entry not found")
	ErrAlreadyReconciled    = errors.New("reconciliation: delivery already reconciled")

	ErrInvalidRequest = errors.New("reconciliation: invalid verification request")
)

// LedgerErrorKind classifies a failed ledger request
type LedgerErrorKind string

const (
	LedgerErrorNetwork         LedgerErrorKind = "network"
	LedgerErrorAuth            LedgerErrorKind = "auth"
	LedgerErrorInvalidResponse LedgerErrorKind = "invalid_response"
)

// LedgerError describes a failed ledger request. It matches the sentinel of
// its kind with errors.Is.
type LedgerError struct {
	Kind       LedgerErrorKind
	StatusCode int
	URL        string
	Filter     string
	Err        error
}

func (e *LedgerError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("ledger %s error: HTTP %d (filter %s): %v", e.Kind, e.StatusCode, e.Filter, e.Err)
	}
	return fmt.Sprintf("ledger %s error (filter %s): %v", e.Kind, e.Filter, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause
func (e *LedgerError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *LedgerError) sentinel() error {
	switch e.Kind {
	case LedgerErrorAuth:
		return ErrLedgerAuthFailed
	case LedgerErrorInvalidResponse:
		return ErrLedgerInvalidResponse
	default:
		return ErrLedgerUnavailable
	}
}
