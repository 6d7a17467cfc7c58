package reconciliation

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
)

// Matcher drives the matching chain for one delivery
type Matcher struct {
	chain  []reconciliation.MatchingStrategy
	logger *zap.Logger
}

// NewMatcher creates a matcher over strategies in chain order
func NewMatcher(chain []reconciliation.MatchingStrategy, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{chain: chain, logger: logger}
}

// Match tries each applicable strategy in order. The first found row wins;
// a ledger failure aborts the chain with MatchTypeError; exhaustion returns
// MatchTypeNone.
func (m *Matcher) Match(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) reconciliation.MatchResult {
	ctx, span := telemetry.StartSpan(ctx, "reconciliation.match", trace.SpanKindInternal,
		telemetry.SpanAttrDeliveryID, q.DeliveryID,
		telemetry.SpanAttrStoreID, q.StoreID,
	)
	defer span.End()

	log := m.logger.With(
		zap.String("delivery_id", q.DeliveryID.String()),
		zap.String("store_id", q.StoreID.String()),
	)

	attempted := make([]reconciliation.MatchType, 0, len(m.chain))
	supplierMismatch := false

	for _, s := range m.chain {
		if !s.Applicable(cfg, q) {
			continue
		}
		attempted = append(attempted, s.MatchType())

		res := s.Attempt(ctx, cfg, q)
		if res.Err != nil {
			log.Warn("Matching aborted by ledger error",
				zap.String("strategy", s.Name()),
				zap.Error(res.Err),
			)
			failed := reconciliation.FailedMatch(res.Err, attempted)
			failed.Diagnostics.Criteria = res.Diagnostics.Criteria
			telemetry.SetAttributes(span, telemetry.SpanAttrMatchType, failed.MatchType.String())
			telemetry.RecordError(span, res.Err)
			return failed
		}
		if res.Found {
			res.Diagnostics.Attempted = attempted
			log.Debug("Ledger row matched",
				zap.String("match_type", res.MatchType.String()),
				zap.String("invoice", res.Invoice),
			)
			telemetry.SetAttributes(span, telemetry.SpanAttrMatchType, res.MatchType.String())
			return res
		}
		if res.Diagnostics.SupplierMismatch {
			supplierMismatch = true
			log.Info("Reference matched but supplier differs",
				zap.String("strategy", s.Name()),
				zap.String("supplier", q.SupplierName),
				zap.Int("rows", res.Diagnostics.RowsReturned),
			)
		}
	}

	res := reconciliation.NoMatch(attempted)
	res.Diagnostics.SupplierMismatch = supplierMismatch
	telemetry.SetAttributes(span, telemetry.SpanAttrMatchType, res.MatchType.String())
	return res
}
