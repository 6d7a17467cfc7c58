package reconciliation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultVerificationTTL is how long a verification stays fresh
const DefaultVerificationTTL = 24 * time.Hour

// VerificationEntry is the cached outcome of verifying one delivery
type VerificationEntry struct {
	DeliveryID uuid.UUID
	StoreID    uuid.UUID
	// InvoiceReference and SupplierName are the inputs that were searched
	InvoiceReference string
	SupplierName     string
	Exists           bool
	MatchType        MatchType
	// MatchedReference is the ledger invoice reference of the matched row
	MatchedReference string
	IsValid          bool
	// VerifiedAt is the first verification; a re-check only moves LastCheckedAt
	VerifiedAt    time.Time
	LastCheckedAt time.Time
}

// NewVerificationEntry records a chain result. Errors produce an invalid
// entry so that the next lookup goes back to the ledger.
func NewVerificationEntry(q MatchQuery, res MatchResult, now time.Time) *VerificationEntry {
	now = now.UTC()
	return &VerificationEntry{
		DeliveryID:       q.DeliveryID,
		StoreID:          q.StoreID,
		InvoiceReference: q.InvoiceReference,
		SupplierName:     q.SupplierName,
		Exists:           res.Found,
		MatchType:        res.MatchType,
		MatchedReference: res.Invoice,
		IsValid:          res.MatchType != MatchTypeError,
		VerifiedAt:       now,
		LastCheckedAt:    now,
	}
}

// IsFresh reports whether the entry can be served without asking the
// ledger. An entry exactly ttl old is stale.
func (e *VerificationEntry) IsFresh(now time.Time, ttl time.Duration) bool {
	return e.IsValid && now.Sub(e.LastCheckedAt) < ttl
}

// SearchedFor reports whether the entry was produced for the same inputs
func (e *VerificationEntry) SearchedFor(invoiceReference, supplierName string) bool {
	return strings.TrimSpace(e.InvoiceReference) == strings.TrimSpace(invoiceReference) &&
		strings.TrimSpace(e.SupplierName) == strings.TrimSpace(supplierName)
}

// CacheStats summarizes a store's verification entries
type CacheStats struct {
	Total   int64 `json:"total"`
	Valid   int64 `json:"valid"`
	Expired int64 `json:"expired"`
}

// VerificationRepository persists verification entries, one per delivery
type VerificationRepository interface {
	// FindByDeliveryID returns ErrVerificationNotFound when absent
	FindByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (*VerificationEntry, error)

	// Upsert inserts or replaces the entry of entry.DeliveryID
	Upsert(ctx context.Context, entry *VerificationEntry) error

	// Invalidate marks the delivery's entry invalid. Absent entries are
	// not an error.
	Invalidate(ctx context.Context, deliveryID uuid.UUID) error

	// Stats counts entries of a store. Entries last checked at or before
	// cutoff are expired; valid entries are valid and newer than cutoff.
	Stats(ctx context.Context, storeID uuid.UUID, cutoff time.Time) (CacheStats, error)

	// DeleteExpired removes entries last checked at or before cutoff and
	// returns how many were removed. uuid.Nil means every store.
	DeleteExpired(ctx context.Context, storeID uuid.UUID, cutoff time.Time) (int64, error)
}
