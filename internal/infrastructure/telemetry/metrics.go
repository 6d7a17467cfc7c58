package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// Counter is a monotonically increasing int64 metric
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a new Counter metric.
func NewCounter(meter metric.Meter, name, description, unit string) (*Counter, error) {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return &Counter{counter: c}, nil
}

// Add increments the counter by value
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by 1
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Histogram records a float64 distribution
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram creates a histogram with explicit bucket boundaries
func NewHistogram(meter metric.Meter, name, description, unit string, boundaries []float64) (*Histogram, error) {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(description),
		metric.WithUnit(unit),
	}
	if len(boundaries) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(boundaries...))
	}
	h, err := meter.Float64Histogram(name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return &Histogram{histogram: h}, nil
}

// RecordDuration records d in seconds
func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// Metric attribute keys
var (
	AttrStoreID   = attribute.Key("store_id")
	AttrMatchType = attribute.Key("match_type")
	AttrStatus    = attribute.Key("status")
	AttrCacheHit  = attribute.Key("cache_hit")
	AttrOutcome   = attribute.Key("outcome")
)

// LedgerDurationBuckets cover fast responses up to the 10s client timeout
var LedgerDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// ReconciliationMetrics records verification, ledger and scheduler activity
type ReconciliationMetrics struct {
	verifications  *Counter
	ledgerRequests *Counter
	ledgerDuration *Histogram
	runs           *Counter
	runDeliveries  *Counter
	cleanupDeleted *Counter
}

// NewReconciliationMetrics registers the reconciliation instruments on meter
func NewReconciliationMetrics(meter metric.Meter) (*ReconciliationMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &ReconciliationMetrics{}
	var err error
	if m.verifications, err = NewCounter(meter, "erp_reconciliation_verifications_total",
		"Delivery verifications by match type and cache usage", "{verifications}"); err != nil {
		return nil, err
	}
	if m.ledgerRequests, err = NewCounter(meter, "erp_reconciliation_ledger_requests_total",
		"Requests sent to invoice ledgers", "{requests}"); err != nil {
		return nil, err
	}
	if m.ledgerDuration, err = NewHistogram(meter, "erp_reconciliation_ledger_request_duration_seconds",
		"Invoice ledger request latency", "s", LedgerDurationBuckets); err != nil {
		return nil, err
	}
	if m.runs, err = NewCounter(meter, "erp_reconciliation_runs_total",
		"Scheduled reconciliation runs by final status", "{runs}"); err != nil {
		return nil, err
	}
	if m.runDeliveries, err = NewCounter(meter, "erp_reconciliation_run_deliveries_total",
		"Deliveries processed by scheduled runs by outcome", "{deliveries}"); err != nil {
		return nil, err
	}
	if m.cleanupDeleted, err = NewCounter(meter, "erp_reconciliation_cache_cleanup_deleted_total",
		"Expired verification entries removed", "{entries}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordVerification counts one verification outcome. Safe on a nil receiver.
func (m *ReconciliationMetrics) RecordVerification(ctx context.Context, matchType, status string, cacheHit bool) {
	if m == nil {
		return
	}
	m.verifications.Inc(ctx, AttrMatchType.String(matchType), AttrStatus.String(status), AttrCacheHit.Bool(cacheHit))
}

// RecordLedgerRequest counts one ledger request and its latency. outcome is
// "ok" or the error kind.
func (m *ReconciliationMetrics) RecordLedgerRequest(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ledgerRequests.Inc(ctx, AttrOutcome.String(outcome))
	m.ledgerDuration.RecordDuration(ctx, d, AttrOutcome.String(outcome))
}

// RecordRun counts a finished scheduler run
func (m *ReconciliationMetrics) RecordRun(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.runs.Inc(ctx, AttrStatus.String(status))
}

// RecordRunDelivery counts one delivery processed by a scheduler run
func (m *ReconciliationMetrics) RecordRunDelivery(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.runDeliveries.Inc(ctx, AttrOutcome.String(outcome))
}

// RecordCleanup counts verification entries removed by a cleanup
func (m *ReconciliationMetrics) RecordCleanup(ctx context.Context, deleted int64) {
	if m == nil || deleted <= 0 {
		return
	}
	m.cleanupDeleted.Add(ctx, deleted)
}
