package models

import (
	"time"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeliveryModel is the persistence model for a delivery
type DeliveryModel struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey"`
	StoreID          uuid.UUID        `gorm:"type:uuid;not null;index"`
	SupplierName     string           `gorm:"type:varchar(255);not null;default:''"`
	BLNumber         string           `gorm:"column:bl_number;type:varchar(100);not null;default:''"`
	BLAmount         *decimal.Decimal `gorm:"column:bl_amount;type:decimal(18,4)"`
	InvoiceReference string           `gorm:"type:varchar(100);not null;default:''"`
	InvoiceAmount    *decimal.Decimal `gorm:"type:decimal(18,4)"`
	Reconciled       bool             `gorm:"not null;default:false"`
	ReconciledAt     *time.Time
	Status           string `gorm:"type:varchar(20);not null;default:'PENDING'"`
	DeliveredAt      *time.Time
	TimestampModel
}

// TableName returns the table name for GORM
func (DeliveryModel) TableName() string {
	return "deliveries"
}

// ToDomain converts the persistence model to a domain Delivery
func (m *DeliveryModel) ToDomain() *reconciliation.Delivery {
	return &reconciliation.Delivery{
		ID:               m.ID,
		StoreID:          m.StoreID,
		SupplierName:     m.SupplierName,
		BLNumber:         m.BLNumber,
		BLAmount:         m.BLAmount,
		InvoiceReference: m.InvoiceReference,
		InvoiceAmount:    m.InvoiceAmount,
		Reconciled:       m.Reconciled,
		ReconciledAt:     utcPtr(m.ReconciledAt),
		Status:           reconciliation.DeliveryStatus(m.Status),
		DeliveredAt:      utcPtr(m.DeliveredAt),
	}
}

// FromDomain populates the persistence model from a domain Delivery
func (m *DeliveryModel) FromDomain(d *reconciliation.Delivery) {
	m.ID = d.ID
	m.StoreID = d.StoreID
	m.SupplierName = d.SupplierName
	m.BLNumber = d.BLNumber
	m.BLAmount = d.BLAmount
	m.InvoiceReference = d.InvoiceReference
	m.InvoiceAmount = d.InvoiceAmount
	m.Reconciled = d.Reconciled
	m.ReconciledAt = d.ReconciledAt
	m.Status = d.Status.String()
	m.DeliveredAt = d.DeliveredAt
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
