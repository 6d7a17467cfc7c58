package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.DeliveryModel{},
		&models.LedgerConnectionModel{},
		&models.StoreLedgerConfigModel{},
		&models.VerificationCacheEntryModel{},
	))
	return db
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newDelivery(storeID uuid.UUID, bl string) *reconciliation.Delivery {
	delivered := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return &reconciliation.Delivery{
		ID:           uuid.New(),
		StoreID:      storeID,
		SupplierName: "Brasserie du Nord",
		BLNumber:     bl,
		BLAmount:     amount("120.50"),
		Status:       reconciliation.DeliveryStatusDelivered,
		DeliveredAt:  &delivered,
	}
}

func saveDelivery(t *testing.T, repo *GormDeliveryRepository, d *reconciliation.Delivery) {
	t.Helper()
	require.NoError(t, repo.Save(context.Background(), d))
}
