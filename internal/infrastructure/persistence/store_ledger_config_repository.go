package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStoreLedgerConfigRepository implements
// reconciliation.StoreLedgerConfigRepository using GORM
type GormStoreLedgerConfigRepository struct {
	db *gorm.DB
}

// NewGormStoreLedgerConfigRepository creates a new GormStoreLedgerConfigRepository
func NewGormStoreLedgerConfigRepository(db *gorm.DB) *GormStoreLedgerConfigRepository {
	return &GormStoreLedgerConfigRepository{db: db}
}

// FindByStoreID loads the store's binding together with its connection
func (r *GormStoreLedgerConfigRepository) FindByStoreID(ctx context.Context, storeID uuid.UUID) (*reconciliation.StoreLedgerConfig, error) {
	var m models.StoreLedgerConfigModel
	err := r.db.WithContext(ctx).
		Preload("LedgerConnection").
		First(&m, "store_id = ?", storeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no ledger binding for store %s", reconciliation.ErrNotConfigured, storeID)
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// SaveConnection inserts or replaces a ledger connection
func (r *GormStoreLedgerConfigRepository) SaveConnection(ctx context.Context, c *reconciliation.LedgerConnection) error {
	var m models.LedgerConnectionModel
	m.FromDomain(c)
	return r.db.WithContext(ctx).Save(&m).Error
}

// Save binds a store to cfg.Connection, which must already be saved
func (r *GormStoreLedgerConfigRepository) Save(ctx context.Context, cfg *reconciliation.StoreLedgerConfig) error {
	if cfg.Connection == nil {
		return fmt.Errorf("%w: store binding needs a connection", reconciliation.ErrInvalidRequest)
	}
	var m models.StoreLedgerConfigModel
	m.FromDomain(cfg)
	return r.db.WithContext(ctx).
		Omit("LedgerConnection").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

var _ reconciliation.StoreLedgerConfigRepository = (*GormStoreLedgerConfigRepository)(nil)
