package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
)

// DefaultRunLimit caps the deliveries examined by one run
const DefaultRunLimit = 500

// ReconciliationExecutor performs one reconciliation run: every pending
// delivery is looked up by BL number, one after another, and matched
// deliveries are written back.
type ReconciliationExecutor struct {
	deliveries reconciliation.DeliveryRepository
	configs    reconciliation.StoreLedgerConfigRepository
	strategy   reconciliation.MatchingStrategy
	publisher  shared.EventPublisher
	metrics    *telemetry.ReconciliationMetrics
	logger     *zap.Logger
	limit      int
	now        func() time.Time
}

// ExecutorOption configures a ReconciliationExecutor
type ExecutorOption func(*ReconciliationExecutor)

// WithPublisher publishes DeliveryReconciled after each write-back
func WithPublisher(p shared.EventPublisher) ExecutorOption {
	return func(e *ReconciliationExecutor) {
		e.publisher = p
	}
}

// WithExecutorMetrics records per-delivery outcomes
func WithExecutorMetrics(m *telemetry.ReconciliationMetrics) ExecutorOption {
	return func(e *ReconciliationExecutor) {
		e.metrics = m
	}
}

// WithRunLimit caps the deliveries examined per run
func WithRunLimit(limit int) ExecutorOption {
	return func(e *ReconciliationExecutor) {
		if limit > 0 {
			e.limit = limit
		}
	}
}

// WithExecutorClock replaces time.Now
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *ReconciliationExecutor) {
		e.now = now
	}
}

// NewReconciliationExecutor creates an executor around the BL number
// strategy. Scheduled runs query the ledger directly and bypass the
// verification cache.
func NewReconciliationExecutor(
	deliveries reconciliation.DeliveryRepository,
	configs reconciliation.StoreLedgerConfigRepository,
	blStrategy reconciliation.MatchingStrategy,
	logger *zap.Logger,
	opts ...ExecutorOption,
) *ReconciliationExecutor {
	e := &ReconciliationExecutor{
		deliveries: deliveries,
		configs:    configs,
		strategy:   blStrategy,
		logger:     logger,
		limit:      DefaultRunLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// storeConfig is a memoized config lookup
type storeConfig struct {
	cfg *reconciliation.StoreLedgerConfig
	err error
}

// Execute fills run with the outcome of every pending delivery. It returns
// an error only when the pending deliveries cannot be listed.
func (e *ReconciliationExecutor) Execute(ctx context.Context, run *ReconciliationRun) error {
	ctx, span := telemetry.StartSpan(ctx, "reconciliation.run", trace.SpanKindInternal,
		telemetry.SpanAttrRunID, run.ID,
	)
	defer span.End()

	pending, err := e.deliveries.FindPendingReconciliation(ctx, e.limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to list pending deliveries: %w", err)
	}
	run.Total = len(pending)
	telemetry.SetAttributes(span, telemetry.SpanAttrBatchSize, len(pending))

	configs := make(map[uuid.UUID]storeConfig)
	for i := range pending {
		if ctx.Err() != nil {
			return nil
		}
		item := e.reconcile(ctx, &pending[i], configs, run.ID)
		run.Add(item)
		e.metrics.RecordRunDelivery(ctx, string(item.Outcome))
	}
	return nil
}

func (e *ReconciliationExecutor) reconcile(ctx context.Context, d *reconciliation.Delivery, configs map[uuid.UUID]storeConfig, runID uuid.UUID) (item RunItem) {
	item = RunItem{DeliveryID: d.ID, StoreID: d.StoreID, BLNumber: d.BLNumber}
	log := e.logger.With(
		zap.String("run_id", runID.String()),
		zap.String("delivery_id", d.ID.String()),
		zap.String("store_id", d.StoreID.String()),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while reconciling delivery", zap.Any("panic", r), zap.Stack("stack"))
			item.Outcome = DeliveryOutcomeError
			item.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	sc, ok := configs[d.StoreID]
	if !ok {
		sc.cfg, sc.err = e.configs.FindByStoreID(ctx, d.StoreID)
		if sc.err == nil {
			sc.err = sc.cfg.Validate()
		}
		configs[d.StoreID] = sc
	}
	if sc.err != nil {
		item.Error = sc.err.Error()
		if errors.Is(sc.err, reconciliation.ErrNotConfigured) {
			item.Outcome = DeliveryOutcomeSkipped
			log.Debug("Store ledger not configured, skipping delivery")
		} else {
			item.Outcome = DeliveryOutcomeError
			log.Error("Failed to load store ledger config", zap.Error(sc.err))
		}
		return item
	}

	q := reconciliation.MatchQuery{
		DeliveryID:   d.ID,
		StoreID:      d.StoreID,
		BLNumber:     d.BLNumber,
		SupplierName: d.SupplierName,
		Amount:       d.ReferenceAmount(),
	}
	if d.DeliveredAt != nil {
		q.ReferenceDate = d.DeliveredAt.UTC()
	}
	if !e.strategy.Applicable(sc.cfg, q) {
		item.Outcome = DeliveryOutcomeSkipped
		return item
	}

	res := e.strategy.Attempt(ctx, sc.cfg, q)
	item.MatchType = res.MatchType
	switch {
	case res.Err != nil:
		item.Outcome = DeliveryOutcomeError
		item.Error = res.Err.Error()
		log.Warn("Ledger lookup failed", zap.Error(res.Err))
		return item
	case !res.Found:
		item.Outcome = DeliveryOutcomeNotFound
		if res.Diagnostics.SupplierMismatch {
			log.Info("BL number matched but supplier differs", zap.String("supplier", d.SupplierName))
		}
		return item
	}

	amount := res.Amount
	if amount == nil {
		amount = d.InvoiceAmount
	}
	if err := d.ApplyMatch(res.Invoice, amount, e.now()); err != nil {
		item.Outcome = DeliveryOutcomeSkipped
		item.Error = err.Error()
		return item
	}

	err := e.deliveries.ApplyReconciliation(ctx, d.ID, reconciliation.ReconciliationUpdate{
		InvoiceReference: d.InvoiceReference,
		InvoiceAmount:    d.InvoiceAmount,
		ReconciledAt:     *d.ReconciledAt,
	})
	switch {
	case errors.Is(err, reconciliation.ErrAlreadyReconciled):
		item.Outcome = DeliveryOutcomeSkipped
		item.Error = err.Error()
		return item
	case err != nil:
		item.Outcome = DeliveryOutcomeError
		item.Error = err.Error()
		log.Error("Failed to write back reconciliation", zap.Error(err))
		return item
	}

	item.Outcome = DeliveryOutcomeReconciled
	item.InvoiceReference = d.InvoiceReference
	log.Info("Delivery reconciled",
		zap.String("bl_number", d.BLNumber),
		zap.String("invoice_reference", d.InvoiceReference),
		zap.String("match_type", res.MatchType.String()),
	)

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, reconciliation.NewDeliveryReconciledEvent(d, res.MatchType)); err != nil {
			log.Warn("Failed to publish delivery reconciled event", zap.Error(err))
		}
	}
	return item
}
