package reconciliation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeliveryStatus is the lifecycle status of a delivery. Only DELIVERED
// deliveries are picked up by scheduled reconciliation.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusCancelled DeliveryStatus = "CANCELLED"
)

func (s DeliveryStatus) String() string {
	return string(s)
}

// Delivery is the subset of a delivery record the engine reads and writes
type Delivery struct {
	ID               uuid.UUID
	StoreID          uuid.UUID
	SupplierName     string
	BLNumber         string
	BLAmount         *decimal.Decimal
	InvoiceReference string
	InvoiceAmount    *decimal.Decimal
	Reconciled       bool
	ReconciledAt     *time.Time
	Status           DeliveryStatus
	DeliveredAt      *time.Time
}

// NeedsReconciliation reports whether the scheduler should look this
// delivery up by its BL number.
func (d *Delivery) NeedsReconciliation() bool {
	return d.Status == DeliveryStatusDelivered &&
		strings.TrimSpace(d.BLNumber) != "" &&
		strings.TrimSpace(d.InvoiceReference) == "" &&
		!d.Reconciled
}

// ReferenceAmount is the amount used for amount-based matching: the invoice
// amount when known, otherwise the BL amount.
func (d *Delivery) ReferenceAmount() *decimal.Decimal {
	if d.InvoiceAmount != nil {
		return d.InvoiceAmount
	}
	return d.BLAmount
}

// ApplyMatch records a matched invoice on the delivery
func (d *Delivery) ApplyMatch(invoiceReference string, amount *decimal.Decimal, at time.Time) error {
	if d.Reconciled {
		return ErrAlreadyReconciled
	}
	if strings.TrimSpace(invoiceReference) == "" {
		return ErrInvalidRequest
	}
	at = at.UTC()
	d.InvoiceReference = invoiceReference
	d.InvoiceAmount = amount
	d.Reconciled = true
	d.ReconciledAt = &at
	return nil
}

// ReconciliationUpdate is the only write the engine performs on a delivery
type ReconciliationUpdate struct {
	InvoiceReference string
	InvoiceAmount    *decimal.Decimal
	ReconciledAt     time.Time
}

// DeliveryRepository gives keyed access to deliveries
type DeliveryRepository interface {
	// FindByID returns ErrDeliveryNotFound when the delivery does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*Delivery, error)

	// FindPendingReconciliation returns delivered deliveries with a BL number
	// and no invoice reference, oldest first.
	FindPendingReconciliation(ctx context.Context, limit int) ([]Delivery, error)

	// ApplyReconciliation writes the invoice reference, invoice amount and
	// reconciled flag. It leaves every other column untouched.
	ApplyReconciliation(ctx context.Context, id uuid.UUID, update ReconciliationUpdate) error

	// FindClaimingDelivery returns another delivery of the store already
	// holding invoiceReference, or nil when there is none.
	FindClaimingDelivery(ctx context.Context, storeID uuid.UUID, invoiceReference string, excludeID uuid.UUID) (*Delivery, error)
}
