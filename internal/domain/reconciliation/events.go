package reconciliation

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/reconciliation/internal/domain/shared"
)

const (
	// AggregateTypeDelivery is the aggregate type of delivery events
	AggregateTypeDelivery = "Delivery"

	// EventTypeDeliveryReconciled is published when a delivery is matched
	// to an invoice and written back
	EventTypeDeliveryReconciled = "DeliveryReconciled"
)

// DeliveryReconciledEvent is published after a delivery's invoice fields
// were written back
type DeliveryReconciledEvent struct {
	shared.BaseDomainEvent
	StoreID          uuid.UUID        `json:"store_id"`
	InvoiceReference string           `json:"invoice_reference"`
	InvoiceAmount    *decimal.Decimal `json:"invoice_amount,omitempty"`
	MatchType        MatchType        `json:"match_type"`
}

// NewDeliveryReconciledEvent creates the event for a reconciled delivery
func NewDeliveryReconciledEvent(d *Delivery, matchType MatchType) *DeliveryReconciledEvent {
	return &DeliveryReconciledEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeDeliveryReconciled, AggregateTypeDelivery, d.ID),
		StoreID:          d.StoreID,
		InvoiceReference: d.InvoiceReference,
		InvoiceAmount:    d.InvoiceAmount,
		MatchType:        matchType,
	}
}
