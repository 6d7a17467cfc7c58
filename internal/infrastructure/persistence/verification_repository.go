package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormVerificationRepository implements reconciliation.VerificationRepository
// on the verification_cache_entries table
type GormVerificationRepository struct {
	db *gorm.DB
}

// NewGormVerificationRepository creates a new GormVerificationRepository
func NewGormVerificationRepository(db *gorm.DB) *GormVerificationRepository {
	return &GormVerificationRepository{db: db}
}

// FindByDeliveryID returns the delivery's entry
func (r *GormVerificationRepository) FindByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (*reconciliation.VerificationEntry, error) {
	var m models.VerificationCacheEntryModel
	if err := r.db.WithContext(ctx).First(&m, "delivery_id = ?", deliveryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reconciliation.ErrVerificationNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// recheckColumns are overwritten when a delivery is verified again;
// verified_at keeps the first verification time
var recheckColumns = []string{
	"store_id",
	"invoice_reference",
	"supplier_name",
	"invoice_exists",
	"match_type",
	"matched_reference",
	"is_valid",
	"last_checked_at",
}

// Upsert inserts the entry or overwrites the delivery's previous one
func (r *GormVerificationRepository) Upsert(ctx context.Context, entry *reconciliation.VerificationEntry) error {
	var m models.VerificationCacheEntryModel
	m.FromDomain(entry)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "delivery_id"}},
			DoUpdates: clause.AssignmentColumns(recheckColumns),
		}).
		Create(&m).Error
}

// Invalidate marks the delivery's entry invalid so the next lookup misses
func (r *GormVerificationRepository) Invalidate(ctx context.Context, deliveryID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.VerificationCacheEntryModel{}).
		Where("delivery_id = ?", deliveryID).
		Update("is_valid", false).Error
}

// Stats counts the store's entries relative to cutoff
func (r *GormVerificationRepository) Stats(ctx context.Context, storeID uuid.UUID, cutoff time.Time) (reconciliation.CacheStats, error) {
	cutoff = cutoff.UTC()
	var row struct {
		Total   int64
		Valid   int64
		Expired int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.VerificationCacheEntryModel{}).
		Scopes(StoreScope(storeID)).
		Select(
			"COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN is_valid = ? AND last_checked_at > ? THEN 1 ELSE 0 END), 0) AS valid, "+
				"COALESCE(SUM(CASE WHEN last_checked_at <= ? THEN 1 ELSE 0 END), 0) AS expired",
			true, cutoff, cutoff,
		).
		Scan(&row).Error
	if err != nil {
		return reconciliation.CacheStats{}, err
	}
	return reconciliation.CacheStats{Total: row.Total, Valid: row.Valid, Expired: row.Expired}, nil
}

// DeleteExpired removes entries last checked at or before cutoff
func (r *GormVerificationRepository) DeleteExpired(ctx context.Context, storeID uuid.UUID, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Scopes(StoreScope(storeID), CheckedAtOrBefore(cutoff)).
		Delete(&models.VerificationCacheEntryModel{})
	return result.RowsAffected, result.Error
}

var _ reconciliation.VerificationRepository = (*GormVerificationRepository)(nil)
