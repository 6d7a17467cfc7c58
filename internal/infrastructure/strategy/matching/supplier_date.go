package matching

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/domain/shared/strategy"
)

// SupplierDateStrategy matches a row dated within the window around the
// delivery date whose supplier fuzzy-matches. Stores without a mapped date
// column skip it.
type SupplierDateStrategy struct {
	strategy.BaseStrategy
	client reconciliation.LedgerClient
	opts   Options
}

// NewSupplierDateStrategy creates the supplier + date window strategy
func NewSupplierDateStrategy(client reconciliation.LedgerClient, opts Options) *SupplierDateStrategy {
	return &SupplierDateStrategy{
		BaseStrategy: strategy.NewBaseStrategy(NameSupplierDate, strategy.StrategyTypeMatching,
			"Match supplier name and invoice date within a window"),
		client: client,
		opts:   opts.withDefaults(),
	}
}

func (s *SupplierDateStrategy) MatchType() reconciliation.MatchType {
	return reconciliation.MatchTypeSupplierDate
}

func (s *SupplierDateStrategy) Applicable(cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) bool {
	return cfg != nil && cfg.Columns.DateColumn != "" && cfg.Columns.SupplierColumn != "" &&
		searchToken(q.SupplierName) != ""
}

func (s *SupplierDateStrategy) Attempt(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) reconciliation.MatchResult {
	ref := q.ReferenceDate
	if ref.IsZero() {
		ref = s.opts.Now()
	}
	ref = ref.UTC()
	from, to := ref.Add(-s.opts.DateWindow), ref.Add(s.opts.DateWindow)

	filter := reconciliation.Filter{reconciliation.Like(cfg.Columns.SupplierColumn, "%"+searchToken(q.SupplierName)+"%")}
	filter = append(filter, reconciliation.DateBetween(cfg.Columns.DateColumn, from, to)...)

	rows, err := s.client.FetchRows(ctx, cfg, filter)
	if err != nil {
		return failure(s.MatchType(), filter, err)
	}

	// The ledger compares dates by day; widen to whole days on this side too.
	lo := truncateDay(from)
	hi := truncateDay(to).Add(24*time.Hour - time.Nanosecond)
	for _, rec := range rows {
		row := reconciliation.NewLedgerRow(rec, cfg.Columns)
		if d, ok := row.Date(); ok && (d.Before(lo) || d.After(hi)) {
			continue
		}
		if reconciliation.SuppliersMatch(row.Supplier(), q.SupplierName) {
			return reconciliation.MatchFromRow(s.MatchType(), row, filter.String(), len(rows))
		}
	}
	return miss(s.MatchType(), filter, len(rows), false)
}

// searchToken picks the first word of at least three characters of a
// supplier name for the server-side like filter, so that "ACME Corp" still
// finds rows labelled "Acme". Shorter names fall back to their longest word.
func searchToken(name string) string {
	best := ""
	for _, w := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		n := len([]rune(w))
		if n >= 3 {
			return w
		}
		if n > len([]rune(best)) {
			best = w
		}
	}
	return best
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var _ reconciliation.MatchingStrategy = (*SupplierDateStrategy)(nil)
