package reconciliation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/domain/shared"
)

// CacheInvalidator drops a delivery's cached verification
type CacheInvalidator interface {
	Invalidate(ctx context.Context, deliveryID uuid.UUID) error
}

// DeliveryReconciledHandler handles DeliveryReconciledEvent and invalidates
// the delivery's verification entry, which predates the write-back
type DeliveryReconciledHandler struct {
	invalidator CacheInvalidator
	logger      *zap.Logger
}

// NewDeliveryReconciledHandler creates a new handler for delivery reconciled events
func NewDeliveryReconciledHandler(invalidator CacheInvalidator, logger *zap.Logger) *DeliveryReconciledHandler {
	return &DeliveryReconciledHandler{
		invalidator: invalidator,
		logger:      logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *DeliveryReconciledHandler) EventTypes() []string {
	return []string{reconciliation.EventTypeDeliveryReconciled}
}

// Handle invalidates the verification entry of the reconciled delivery
func (h *DeliveryReconciledHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	reconciled, ok := event.(*reconciliation.DeliveryReconciledEvent)
	if !ok {
		h.logger.Error("unexpected event type",
			zap.String("expected", reconciliation.EventTypeDeliveryReconciled),
			zap.String("actual", event.EventType()),
		)
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			reconciliation.EventTypeDeliveryReconciled, event.EventType())
	}

	if err := h.invalidator.Invalidate(ctx, reconciled.AggregateID()); err != nil {
		return fmt.Errorf("failed to invalidate verification of delivery %s: %w", reconciled.AggregateID(), err)
	}

	h.logger.Info("verification invalidated after reconciliation",
		zap.String("delivery_id", reconciled.AggregateID().String()),
		zap.String("store_id", reconciled.StoreID.String()),
		zap.String("invoice_reference", reconciled.InvoiceReference),
		zap.String("match_type", reconciled.MatchType.String()),
	)
	return nil
}
