package models

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/google/uuid"
)

// LedgerConnectionModel is the persistence model for a ledger endpoint
type LedgerConnectionModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name           string    `gorm:"type:varchar(100);not null;uniqueIndex"`
	BaseURL        string    `gorm:"type:varchar(500);not null"`
	APIToken       string    `gorm:"column:api_token;type:varchar(500);not null"`
	TimeoutSeconds int       `gorm:"not null;default:0"`
	TimestampModel
}

// TableName returns the table name for GORM
func (LedgerConnectionModel) TableName() string {
	return "ledger_connections"
}

// ToDomain converts the persistence model to a domain LedgerConnection
func (m *LedgerConnectionModel) ToDomain() *reconciliation.LedgerConnection {
	return &reconciliation.LedgerConnection{
		ID:       m.ID,
		Name:     m.Name,
		BaseURL:  m.BaseURL,
		APIToken: m.APIToken,
		Timeout:  time.Duration(m.TimeoutSeconds) * time.Second,
	}
}

// FromDomain populates the persistence model from a domain LedgerConnection
func (m *LedgerConnectionModel) FromDomain(c *reconciliation.LedgerConnection) {
	m.ID = c.ID
	m.Name = c.Name
	m.BaseURL = c.BaseURL
	m.APIToken = c.APIToken
	m.TimeoutSeconds = int(c.Timeout / time.Second)
}

// StoreLedgerConfigModel binds a store to a table of a ledger connection
type StoreLedgerConfigModel struct {
	StoreID            uuid.UUID              `gorm:"type:uuid;primaryKey"`
	LedgerConnectionID uuid.UUID              `gorm:"type:uuid;not null;index"`
	LedgerConnection   *LedgerConnectionModel `gorm:"foreignKey:LedgerConnectionID"`
	TableID            string                 `gorm:"type:varchar(100);not null"`
	InvoiceColumn      string                 `gorm:"type:varchar(100);not null"`
	BLNumberColumn     string                 `gorm:"column:bl_number_column;type:varchar(100);not null"`
	AmountColumn       string                 `gorm:"type:varchar(100);not null"`
	SupplierColumn     string                 `gorm:"type:varchar(100);not null"`
	DateColumn         string                 `gorm:"type:varchar(100);not null;default:''"`
	TimestampModel
}

// TableName returns the table name for GORM
func (StoreLedgerConfigModel) TableName() string {
	return "store_ledger_configs"
}

// ToDomain converts the persistence model to a domain StoreLedgerConfig.
// The connection is nil unless it was preloaded.
func (m *StoreLedgerConfigModel) ToDomain() *reconciliation.StoreLedgerConfig {
	cfg := &reconciliation.StoreLedgerConfig{
		StoreID: m.StoreID,
		TableID: m.TableID,
		Columns: reconciliation.ColumnMapping{
			InvoiceColumn:  m.InvoiceColumn,
			BLNumberColumn: m.BLNumberColumn,
			AmountColumn:   m.AmountColumn,
			SupplierColumn: m.SupplierColumn,
			DateColumn:     m.DateColumn,
		},
	}
	if m.LedgerConnection != nil {
		cfg.Connection = m.LedgerConnection.ToDomain()
	}
	return cfg
}

// FromDomain populates the persistence model from a domain StoreLedgerConfig
func (m *StoreLedgerConfigModel) FromDomain(c *reconciliation.StoreLedgerConfig) {
	m.StoreID = c.StoreID
	if c.Connection != nil {
		m.LedgerConnectionID = c.Connection.ID
	}
	m.TableID = c.TableID
	m.InvoiceColumn = c.Columns.InvoiceColumn
	m.BLNumberColumn = c.Columns.BLNumberColumn
	m.AmountColumn = c.Columns.AmountColumn
	m.SupplierColumn = c.Columns.SupplierColumn
	m.DateColumn = c.Columns.DateColumn
}
