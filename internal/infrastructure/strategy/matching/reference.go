package matching

import (
	"context"
	"strings"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/domain/shared/strategy"
)

// ReferenceStrategy looks a delivery up by a reference column: the invoice
// reference or the BL number. The ledger is asked for a case-insensitive
// equality; rows are then confirmed on the normalized reference and gated on
// the supplier name.
type ReferenceStrategy struct {
	strategy.BaseStrategy
	client    reconciliation.LedgerClient
	matchType reconciliation.MatchType
	column    func(reconciliation.ColumnMapping) string
	input     func(reconciliation.MatchQuery) string
	read      func(reconciliation.LedgerRow) string
}

// NewInvoiceReferenceStrategy matches on the delivery's invoice reference
func NewInvoiceReferenceStrategy(client reconciliation.LedgerClient) *ReferenceStrategy {
	return &ReferenceStrategy{
		BaseStrategy: strategy.NewBaseStrategy(NameInvoiceReference, strategy.StrategyTypeMatching,
			"Match the ledger invoice column against the delivery's invoice reference"),
		client:    client,
		matchType: reconciliation.MatchTypeInvoiceRef,
		column:    func(m reconciliation.ColumnMapping) string { return m.InvoiceColumn },
		input:     func(q reconciliation.MatchQuery) string { return q.InvoiceReference },
		read:      reconciliation.LedgerRow.Invoice,
	}
}

// NewBLNumberStrategy matches on the delivery's BL number
func NewBLNumberStrategy(client reconciliation.LedgerClient) *ReferenceStrategy {
	return &ReferenceStrategy{
		BaseStrategy: strategy.NewBaseStrategy(NameBLNumber, strategy.StrategyTypeMatching,
			"Match the ledger BL column against the delivery's BL number"),
		client:    client,
		matchType: reconciliation.MatchTypeBLNumber,
		column:    func(m reconciliation.ColumnMapping) string { return m.BLNumberColumn },
		input:     func(q reconciliation.MatchQuery) string { return q.BLNumber },
		read:      reconciliation.LedgerRow.BLNumber,
	}
}

func (s *ReferenceStrategy) MatchType() reconciliation.MatchType {
	return s.matchType
}

func (s *ReferenceStrategy) Applicable(cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) bool {
	return cfg != nil && s.column(cfg.Columns) != "" && reconciliation.NormalizeReference(s.input(q)) != ""
}

// Attempt returns the first row whose reference matches and whose supplier
// passes the supplier check. When the query carries no supplier name the
// reference alone decides.
func (s *ReferenceStrategy) Attempt(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) reconciliation.MatchResult {
	ref := strings.TrimSpace(s.input(q))
	filter := reconciliation.Filter{reconciliation.Like(s.column(cfg.Columns), ref)}

	rows, err := s.client.FetchRows(ctx, cfg, filter)
	if err != nil {
		return failure(s.matchType, filter, err)
	}

	confirmed := 0
	for _, rec := range rows {
		row := reconciliation.NewLedgerRow(rec, cfg.Columns)
		if !reconciliation.ReferencesMatch(s.read(row), ref) {
			continue
		}
		confirmed++
		if supplierAccepted(row, q) {
			return reconciliation.MatchFromRow(s.matchType, row, filter.String(), len(rows))
		}
	}

	return miss(s.matchType, filter, len(rows), confirmed > 0)
}

func supplierAccepted(row reconciliation.LedgerRow, q reconciliation.MatchQuery) bool {
	if reconciliation.NormalizeKey(q.SupplierName) == "" {
		return true
	}
	return reconciliation.SuppliersMatch(row.Supplier(), q.SupplierName)
}

func failure(t reconciliation.MatchType, filter reconciliation.Filter, err error) reconciliation.MatchResult {
	return reconciliation.MatchResult{
		MatchType: t,
		Err:       err,
		Diagnostics: reconciliation.MatchDiagnostics{
			Criteria:     filter.String(),
			ErrorMessage: err.Error(),
		},
	}
}

func miss(t reconciliation.MatchType, filter reconciliation.Filter, rows int, supplierMismatch bool) reconciliation.MatchResult {
	return reconciliation.MatchResult{
		MatchType: t,
		Diagnostics: reconciliation.MatchDiagnostics{
			Criteria:         filter.String(),
			RowsReturned:     rows,
			SupplierMismatch: supplierMismatch,
		},
	}
}

var _ reconciliation.MatchingStrategy = (*ReferenceStrategy)(nil)
