package persistence

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StoreScope restricts a query to one store. uuid.Nil leaves the query
// unscoped, which maintenance jobs use to sweep every store.
func StoreScope(storeID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if storeID == uuid.Nil {
			return db
		}
		return db.Where("store_id = ?", storeID)
	}
}

// CheckedAtOrBefore selects verification entries last checked at or before cutoff
func CheckedAtOrBefore(cutoff time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("last_checked_at <= ?", cutoff.UTC())
	}
}

// PendingReconciliation selects delivered deliveries with a BL number, no
// invoice reference and no reconciliation.
func PendingReconciliation(db *gorm.DB) *gorm.DB {
	return db.
		Where("status = ?", reconciliation.DeliveryStatusDelivered.String()).
		Where("TRIM(bl_number) <> ''").
		Where("TRIM(invoice_reference) = ''").
		Where("reconciled = ?", false)
}
