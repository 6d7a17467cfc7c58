package strategy

import (
	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/strategy/matching"
)

// NewMatchingRegistryWithDefaults registers the standard chain: invoice
// reference, BL number, supplier + amount, supplier + date.
func NewMatchingRegistryWithDefaults(client reconciliation.LedgerClient, opts matching.Options) (*MatchingRegistry, error) {
	r := NewMatchingRegistry()

	chain := []reconciliation.MatchingStrategy{
		matching.NewInvoiceReferenceStrategy(client),
		matching.NewBLNumberStrategy(client),
		matching.NewSupplierAmountStrategy(client, opts),
		matching.NewSupplierDateStrategy(client, opts),
	}
	for _, s := range chain {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}
