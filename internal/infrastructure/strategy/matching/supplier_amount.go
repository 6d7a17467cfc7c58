package matching

import (
	"context"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/domain/shared/strategy"
)

// SupplierAmountStrategy matches a row whose amount is within tolerance of
// the delivery amount and whose supplier fuzzy-matches.
type SupplierAmountStrategy struct {
	strategy.BaseStrategy
	client reconciliation.LedgerClient
	opts   Options
}

// NewSupplierAmountStrategy creates the supplier + amount strategy
func NewSupplierAmountStrategy(client reconciliation.LedgerClient, opts Options) *SupplierAmountStrategy {
	return &SupplierAmountStrategy{
		BaseStrategy: strategy.NewBaseStrategy(NameSupplierAmount, strategy.StrategyTypeMatching,
			"Match supplier name and amount within tolerance"),
		client: client,
		opts:   opts.withDefaults(),
	}
}

func (s *SupplierAmountStrategy) MatchType() reconciliation.MatchType {
	return reconciliation.MatchTypeSupplierAmount
}

func (s *SupplierAmountStrategy) Applicable(cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) bool {
	return cfg != nil && cfg.Columns.AmountColumn != "" && q.Amount != nil &&
		reconciliation.NormalizeKey(q.SupplierName) != ""
}

func (s *SupplierAmountStrategy) Attempt(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) reconciliation.MatchResult {
	amount := *q.Amount
	tol := s.opts.AmountTolerance
	filter := reconciliation.Filter(reconciliation.AmountBetween(cfg.Columns.AmountColumn, amount.Sub(tol), amount.Add(tol)))

	rows, err := s.client.FetchRows(ctx, cfg, filter)
	if err != nil {
		return failure(s.MatchType(), filter, err)
	}

	for _, rec := range rows {
		row := reconciliation.NewLedgerRow(rec, cfg.Columns)
		got, ok := row.Amount()
		if !ok || got.Sub(amount).Abs().GreaterThan(tol) {
			continue
		}
		if reconciliation.SuppliersMatch(row.Supplier(), q.SupplierName) {
			return reconciliation.MatchFromRow(s.MatchType(), row, filter.String(), len(rows))
		}
	}
	return miss(s.MatchType(), filter, len(rows), false)
}

var _ reconciliation.MatchingStrategy = (*SupplierAmountStrategy)(nil)
