package models

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/google/uuid"
)

// VerificationCacheEntryModel is the persistence model for a cached
// verification, keyed by delivery.
type VerificationCacheEntryModel struct {
	DeliveryID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	StoreID          uuid.UUID `gorm:"type:uuid;not null;index:idx_verification_cache_store_checked,priority:1"`
	InvoiceReference string    `gorm:"type:varchar(100);not null;default:''"`
	SupplierName     string    `gorm:"type:varchar(255);not null;default:''"`
	InvoiceExists    bool      `gorm:"not null;default:false"`
	MatchType        string    `gorm:"type:varchar(20);not null"`
	MatchedReference string    `gorm:"type:varchar(100);not null;default:''"`
	IsValid          bool      `gorm:"not null"`
	VerifiedAt       time.Time `gorm:"not null"`
	LastCheckedAt    time.Time `gorm:"not null;index:idx_verification_cache_store_checked,priority:2"`
}

// TableName returns the table name for GORM
func (VerificationCacheEntryModel) TableName() string {
	return "verification_cache_entries"
}

// ToDomain converts the persistence model to a domain VerificationEntry
func (m *VerificationCacheEntryModel) ToDomain() *reconciliation.VerificationEntry {
	return &reconciliation.VerificationEntry{
		DeliveryID:       m.DeliveryID,
		StoreID:          m.StoreID,
		InvoiceReference: m.InvoiceReference,
		SupplierName:     m.SupplierName,
		Exists:           m.InvoiceExists,
		MatchType:        reconciliation.MatchType(m.MatchType),
		MatchedReference: m.MatchedReference,
		IsValid:          m.IsValid,
		VerifiedAt:       m.VerifiedAt.UTC(),
		LastCheckedAt:    m.LastCheckedAt.UTC(),
	}
}

// FromDomain populates the persistence model from a domain VerificationEntry
func (m *VerificationCacheEntryModel) FromDomain(e *reconciliation.VerificationEntry) {
	m.DeliveryID = e.DeliveryID
	m.StoreID = e.StoreID
	m.InvoiceReference = e.InvoiceReference
	m.SupplierName = e.SupplierName
	m.InvoiceExists = e.Exists
	m.MatchType = string(e.MatchType)
	m.MatchedReference = e.MatchedReference
	m.IsValid = e.IsValid
	m.VerifiedAt = e.VerifiedAt.UTC()
	m.LastCheckedAt = e.LastCheckedAt.UTC()
}
