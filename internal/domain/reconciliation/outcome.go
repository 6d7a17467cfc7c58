package reconciliation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// VerificationStatus is what an interactive caller shows for a delivery
type VerificationStatus string

const (
	// VerificationStatusVerified means the invoice exists and is free
	VerificationStatusVerified VerificationStatus = "VERIFIED"
	// VerificationStatusNotFound means no ledger row matched
	VerificationStatusNotFound VerificationStatus = "NOT_FOUND"
	// VerificationStatusClaimed means another delivery already holds the invoice
	VerificationStatusClaimed VerificationStatus = "CLAIMED"
	// VerificationStatusUnavailable means the ledger could not be consulted
	VerificationStatusUnavailable VerificationStatus = "UNAVAILABLE"
	// VerificationStatusNotConfigured means the store has no usable ledger
	VerificationStatusNotConfigured VerificationStatus = "NOT_CONFIGURED"
)

func (s VerificationStatus) String() string {
	return string(s)
}

// StatusFor maps a match outcome to a verification status, before any
// claim check.
func StatusFor(exists bool, t MatchType) VerificationStatus {
	switch {
	case exists:
		return VerificationStatusVerified
	case t == MatchTypeError:
		return VerificationStatusUnavailable
	default:
		return VerificationStatusNotFound
	}
}

// VerificationOutcome is the result of verifying one delivery
type VerificationOutcome struct {
	DeliveryID       uuid.UUID          `json:"delivery_id"`
	StoreID          uuid.UUID          `json:"store_id"`
	Status           VerificationStatus `json:"status"`
	Exists           bool               `json:"exists"`
	MatchType        MatchType          `json:"match_type"`
	InvoiceReference string             `json:"invoice_reference,omitempty"`
	CacheHit         bool               `json:"cache_hit"`
	ClaimedBy        *uuid.UUID         `json:"claimed_by,omitempty"`
	CheckedAt        time.Time          `json:"checked_at"`
	Message          string             `json:"message,omitempty"`
	Diagnostics      *MatchDiagnostics  `json:"diagnostics,omitempty"`
}

// ErrorOutcome is the outcome for a delivery whose verification failed
func ErrorOutcome(deliveryID, storeID uuid.UUID, err error, now time.Time) VerificationOutcome {
	status := VerificationStatusUnavailable
	if errors.Is(err, ErrNotConfigured) {
		status = VerificationStatusNotConfigured
	}
	return VerificationOutcome{
		DeliveryID: deliveryID,
		StoreID:    storeID,
		Status:     status,
		MatchType:  MatchTypeError,
		CheckedAt:  now.UTC(),
		Message:    err.Error(),
	}
}
