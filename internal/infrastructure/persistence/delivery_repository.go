package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormDeliveryRepository implements reconciliation.DeliveryRepository using GORM
type GormDeliveryRepository struct {
	db *gorm.DB
}

// NewGormDeliveryRepository creates a new GormDeliveryRepository
func NewGormDeliveryRepository(db *gorm.DB) *GormDeliveryRepository {
	return &GormDeliveryRepository{db: db}
}

// FindByID finds a delivery by its ID
func (r *GormDeliveryRepository) FindByID(ctx context.Context, id uuid.UUID) (*reconciliation.Delivery, error) {
	var m models.DeliveryModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reconciliation.ErrDeliveryNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindPendingReconciliation returns up to limit deliveries awaiting
// reconciliation, oldest first. limit <= 0 means no limit.
func (r *GormDeliveryRepository) FindPendingReconciliation(ctx context.Context, limit int) ([]reconciliation.Delivery, error) {
	query := r.db.WithContext(ctx).Scopes(PendingReconciliation).Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.DeliveryModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	deliveries := make([]reconciliation.Delivery, 0, len(rows))
	for i := range rows {
		deliveries = append(deliveries, *rows[i].ToDomain())
	}
	return deliveries, nil
}

// ApplyReconciliation writes the matched invoice onto a delivery that is not
// reconciled yet. Only the reconciliation columns are updated.
func (r *GormDeliveryRepository) ApplyReconciliation(ctx context.Context, id uuid.UUID, update reconciliation.ReconciliationUpdate) error {
	if strings.TrimSpace(update.InvoiceReference) == "" {
		return fmt.Errorf("%w: invoice reference is required", reconciliation.ErrInvalidRequest)
	}

	result := r.db.WithContext(ctx).
		Model(&models.DeliveryModel{}).
		Where("id = ? AND reconciled = ?", id, false).
		Updates(map[string]any{
			"invoice_reference": update.InvoiceReference,
			"invoice_amount":    update.InvoiceAmount,
			"reconciled":        true,
			"reconciled_at":     update.ReconciledAt.UTC(),
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Nothing updated: tell a missing delivery from one already reconciled.
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return reconciliation.ErrAlreadyReconciled
}

// FindClaimingDelivery returns another delivery of the store holding the
// invoice reference, compared case-insensitively, or nil when none does.
func (r *GormDeliveryRepository) FindClaimingDelivery(ctx context.Context, storeID uuid.UUID, invoiceReference string, excludeID uuid.UUID) (*reconciliation.Delivery, error) {
	ref := strings.TrimSpace(invoiceReference)
	if ref == "" {
		return nil, nil
	}

	var m models.DeliveryModel
	err := r.db.WithContext(ctx).
		Scopes(StoreScope(storeID)).
		Where("id <> ?", excludeID).
		Where("LOWER(TRIM(invoice_reference)) = ?", strings.ToLower(ref)).
		Order("created_at ASC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Save inserts or fully replaces a delivery. Deliveries are owned by the
// delivery module; the engine itself only calls ApplyReconciliation.
func (r *GormDeliveryRepository) Save(ctx context.Context, d *reconciliation.Delivery) error {
	var m models.DeliveryModel
	m.FromDomain(d)
	return r.db.WithContext(ctx).Save(&m).Error
}

var _ reconciliation.DeliveryRepository = (*GormDeliveryRepository)(nil)
