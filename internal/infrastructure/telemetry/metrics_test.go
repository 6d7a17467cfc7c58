package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewReconciliationMetrics_NilMeter(t *testing.T) {
	m, err := NewReconciliationMetrics(nil)
	assert.ErrorIs(t, err, ErrMeterNil)
	assert.Nil(t, m)
}

func TestReconciliationMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewReconciliationMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordVerification(ctx, "BL_NUMBER", "VERIFIED", false)
	m.RecordVerification(ctx, "BL_NUMBER", "VERIFIED", true)
	m.RecordLedgerRequest(ctx, "ok", 120*time.Millisecond)
	m.RecordLedgerRequest(ctx, "network", 10*time.Second)
	m.RecordRun(ctx, "SUCCESS")
	m.RecordRunDelivery(ctx, "RECONCILED")
	m.RecordCleanup(ctx, 3)
	m.RecordCleanup(ctx, 0)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["erp_reconciliation_verifications_total"]))
	assert.Equal(t, int64(2), sumOf(t, data["erp_reconciliation_ledger_requests_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["erp_reconciliation_runs_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["erp_reconciliation_run_deliveries_total"]))
	assert.Equal(t, int64(3), sumOf(t, data["erp_reconciliation_cache_cleanup_deleted_total"]))

	hist, ok := data["erp_reconciliation_ledger_request_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestReconciliationMetrics_NilReceiver(t *testing.T) {
	var m *ReconciliationMetrics
	assert.NotPanics(t, func() {
		m.RecordVerification(context.Background(), "NONE", "NOT_FOUND", false)
		m.RecordLedgerRequest(context.Background(), "ok", time.Second)
		m.RecordRun(context.Background(), "FAILED")
		m.RecordCleanup(context.Background(), 1)
	})
}

func TestProviders_Disabled(t *testing.T) {
	p, err := NewProviders(context.Background(), Config{Enabled: false}, zapNop())
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}
