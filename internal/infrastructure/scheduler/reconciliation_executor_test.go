package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/erp/reconciliation/internal/domain/shared/strategy"
	"github.com/erp/reconciliation/internal/infrastructure/strategy/matching"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestLogger() *zap.Logger {
	return zap.NewNop()
}

type fakeDeliveryRepository struct {
	mu      sync.Mutex
	pending []reconciliation.Delivery
	listErr error
	applied map[uuid.UUID]reconciliation.ReconciliationUpdate
	applyFn func(id uuid.UUID) error
}

func (r *fakeDeliveryRepository) FindByID(ctx context.Context, id uuid.UUID) (*reconciliation.Delivery, error) {
	return nil, reconciliation.ErrDeliveryNotFound
}

func (r *fakeDeliveryRepository) FindPendingReconciliation(ctx context.Context, limit int) ([]reconciliation.Delivery, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := append([]reconciliation.Delivery(nil), r.pending...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeDeliveryRepository) ApplyReconciliation(ctx context.Context, id uuid.UUID, update reconciliation.ReconciliationUpdate) error {
	if r.applyFn != nil {
		if err := r.applyFn(id); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied == nil {
		r.applied = make(map[uuid.UUID]reconciliation.ReconciliationUpdate)
	}
	r.applied[id] = update
	return nil
}

func (r *fakeDeliveryRepository) FindClaimingDelivery(ctx context.Context, storeID uuid.UUID, invoiceReference string, excludeID uuid.UUID) (*reconciliation.Delivery, error) {
	return nil, nil
}

type fakeConfigRepository struct {
	mu      sync.Mutex
	configs map[uuid.UUID]*reconciliation.StoreLedgerConfig
	err     error
	lookups int
}

func (r *fakeConfigRepository) FindByStoreID(ctx context.Context, storeID uuid.UUID) (*reconciliation.StoreLedgerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.err != nil {
		return nil, r.err
	}
	cfg, ok := r.configs[storeID]
	if !ok {
		return nil, fmt.Errorf("%w: store %s", reconciliation.ErrNotConfigured, storeID)
	}
	return cfg, nil
}

// scriptedBLStrategy answers per BL number
type scriptedBLStrategy struct {
	strategy.BaseStrategy
	mu      sync.Mutex
	results map[string]reconciliation.MatchResult
	panicOn string
	calls   []string
}

func newScriptedBLStrategy() *scriptedBLStrategy {
	return &scriptedBLStrategy{
		BaseStrategy: strategy.NewBaseStrategy("bl_number", strategy.StrategyTypeMatching, "scripted"),
		results:      make(map[string]reconciliation.MatchResult),
	}
}

func (s *scriptedBLStrategy) MatchType() reconciliation.MatchType {
	return reconciliation.MatchTypeBLNumber
}

func (s *scriptedBLStrategy) Applicable(cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) bool {
	return q.BLNumber != ""
}

func (s *scriptedBLStrategy) Attempt(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) reconciliation.MatchResult {
	s.mu.Lock()
	s.calls = append(s.calls, q.BLNumber)
	s.mu.Unlock()
	if q.BLNumber == s.panicOn {
		panic("malformed row")
	}
	if res, ok := s.results[q.BLNumber]; ok {
		return res
	}
	return reconciliation.MatchResult{MatchType: reconciliation.MatchTypeBLNumber}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func configuredStore() (uuid.UUID, *reconciliation.StoreLedgerConfig) {
	storeID := uuid.New()
	return storeID, &reconciliation.StoreLedgerConfig{
		StoreID:    storeID,
		Connection: &reconciliation.LedgerConnection{BaseURL: "http://ledger.invalid", APIToken: "t"},
		TableID:    "tbl",
		Columns: reconciliation.ColumnMapping{
			InvoiceColumn: "Invoice", BLNumberColumn: "BL", AmountColumn: "Amount", SupplierColumn: "Supplier",
		},
	}
}

func pendingDelivery(storeID uuid.UUID, bl string) reconciliation.Delivery {
	return reconciliation.Delivery{
		ID:           uuid.New(),
		StoreID:      storeID,
		SupplierName: "ACME Corp",
		BLNumber:     bl,
		Status:       reconciliation.DeliveryStatusDelivered,
	}
}

// ---------------------------------------------------------------------------
// ReconciliationExecutor Tests
// ---------------------------------------------------------------------------

func TestReconciliationExecutor_Execute(t *testing.T) {
	storeID, cfg := configuredStore()
	unconfiguredStore := uuid.New()

	matched := pendingDelivery(storeID, "BL-2024-007")
	unmatched := pendingDelivery(storeID, "BL-2024-008")
	failing := pendingDelivery(storeID, "BL-2024-009")
	skipped := pendingDelivery(unconfiguredStore, "BL-2024-010")
	skipped2 := pendingDelivery(unconfiguredStore, "BL-2024-011")

	amount := decimal.NewFromFloat(1250.5)
	bl := newScriptedBLStrategy()
	bl.results["BL-2024-007"] = reconciliation.MatchResult{
		Found: true, MatchType: reconciliation.MatchTypeBLNumber, Invoice: "INV-1001", Amount: &amount,
	}
	bl.results["BL-2024-009"] = reconciliation.MatchResult{
		MatchType: reconciliation.MatchTypeBLNumber,
		Err:       &reconciliation.LedgerError{Kind: reconciliation.LedgerErrorNetwork, Err: errors.New("timeout")},
	}

	deliveries := &fakeDeliveryRepository{
		pending: []reconciliation.Delivery{matched, unmatched, failing, skipped, skipped2},
	}
	configs := &fakeConfigRepository{configs: map[uuid.UUID]*reconciliation.StoreLedgerConfig{storeID: cfg}}
	publisher := &recordingPublisher{}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	exec := NewReconciliationExecutor(deliveries, configs, bl, newTestLogger(),
		WithPublisher(publisher),
		WithExecutorClock(func() time.Time { return now }),
	)
	run := NewReconciliationRun(RunTriggerManual, now)
	require.NoError(t, exec.Execute(context.Background(), run))

	assert.Equal(t, 5, run.Total)
	assert.Equal(t, 1, run.Reconciled)
	assert.Equal(t, 1, run.NotFound)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 2, run.Skipped)
	require.Len(t, run.Items, 5)
	assert.Equal(t, DeliveryOutcomeReconciled, run.Items[0].Outcome)
	assert.Equal(t, "INV-1001", run.Items[0].InvoiceReference)
	assert.Equal(t, DeliveryOutcomeNotFound, run.Items[1].Outcome)
	assert.Equal(t, DeliveryOutcomeError, run.Items[2].Outcome)
	assert.Contains(t, run.Items[2].Error, "timeout")
	assert.Equal(t, DeliveryOutcomeSkipped, run.Items[3].Outcome)

	// sequential, never contacting the ledger for unconfigured stores
	assert.Equal(t, []string{"BL-2024-007", "BL-2024-008", "BL-2024-009"}, bl.calls)
	// one lookup per store per run
	assert.Equal(t, 2, configs.lookups)

	require.Len(t, deliveries.applied, 1)
	update := deliveries.applied[matched.ID]
	assert.Equal(t, "INV-1001", update.InvoiceReference)
	require.NotNil(t, update.InvoiceAmount)
	assert.True(t, amount.Equal(*update.InvoiceAmount))
	assert.Equal(t, now, update.ReconciledAt)

	require.Len(t, publisher.events, 1)
	event, ok := publisher.events[0].(*reconciliation.DeliveryReconciledEvent)
	require.True(t, ok)
	assert.Equal(t, matched.ID, event.AggregateID())
	assert.Equal(t, "INV-1001", event.InvoiceReference)
}

func TestReconciliationExecutor_ListFailure(t *testing.T) {
	exec := NewReconciliationExecutor(
		&fakeDeliveryRepository{listErr: errors.New("db down")},
		&fakeConfigRepository{}, newScriptedBLStrategy(), newTestLogger())

	err := exec.Execute(context.Background(), NewReconciliationRun(RunTriggerSchedule, time.Now()))
	assert.ErrorContains(t, err, "db down")
}

func TestReconciliationExecutor_PanicAffectsOnlyItsDelivery(t *testing.T) {
	storeID, cfg := configuredStore()
	bl := newScriptedBLStrategy()
	bl.panicOn = "BL-BAD"
	bl.results["BL-GOOD"] = reconciliation.MatchResult{Found: true, MatchType: reconciliation.MatchTypeBLNumber, Invoice: "INV-9"}

	deliveries := &fakeDeliveryRepository{pending: []reconciliation.Delivery{
		pendingDelivery(storeID, "BL-BAD"),
		pendingDelivery(storeID, "BL-GOOD"),
	}}
	exec := NewReconciliationExecutor(deliveries,
		&fakeConfigRepository{configs: map[uuid.UUID]*reconciliation.StoreLedgerConfig{storeID: cfg}},
		bl, newTestLogger())

	run := NewReconciliationRun(RunTriggerSchedule, time.Now())
	require.NoError(t, exec.Execute(context.Background(), run))

	assert.Equal(t, DeliveryOutcomeError, run.Items[0].Outcome)
	assert.Contains(t, run.Items[0].Error, "panic")
	assert.Equal(t, DeliveryOutcomeReconciled, run.Items[1].Outcome)
}

func TestReconciliationExecutor_AlreadyReconciledIsSkipped(t *testing.T) {
	storeID, cfg := configuredStore()
	bl := newScriptedBLStrategy()
	bl.results["BL-1"] = reconciliation.MatchResult{Found: true, MatchType: reconciliation.MatchTypeBLNumber, Invoice: "INV-1"}

	publisher := &recordingPublisher{}
	deliveries := &fakeDeliveryRepository{
		pending: []reconciliation.Delivery{pendingDelivery(storeID, "BL-1")},
		applyFn: func(uuid.UUID) error { return reconciliation.ErrAlreadyReconciled },
	}
	exec := NewReconciliationExecutor(deliveries,
		&fakeConfigRepository{configs: map[uuid.UUID]*reconciliation.StoreLedgerConfig{storeID: cfg}},
		bl, newTestLogger(), WithPublisher(publisher))

	run := NewReconciliationRun(RunTriggerSchedule, time.Now())
	require.NoError(t, exec.Execute(context.Background(), run))

	assert.Equal(t, 1, run.Skipped)
	assert.Empty(t, publisher.events)
}

func TestReconciliationExecutor_StopsWhenCancelled(t *testing.T) {
	storeID, cfg := configuredStore()
	bl := newScriptedBLStrategy()
	deliveries := &fakeDeliveryRepository{pending: []reconciliation.Delivery{
		pendingDelivery(storeID, "BL-1"),
		pendingDelivery(storeID, "BL-2"),
	}}
	exec := NewReconciliationExecutor(deliveries,
		&fakeConfigRepository{configs: map[uuid.UUID]*reconciliation.StoreLedgerConfig{storeID: cfg}},
		bl, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run := NewReconciliationRun(RunTriggerSchedule, time.Now())
	require.NoError(t, exec.Execute(ctx, run))

	assert.Equal(t, 2, run.Total)
	assert.Empty(t, run.Items)
	assert.Empty(t, bl.calls)
}

func TestReconciliationExecutor_RunLimit(t *testing.T) {
	storeID, cfg := configuredStore()
	deliveries := &fakeDeliveryRepository{pending: []reconciliation.Delivery{
		pendingDelivery(storeID, "BL-1"),
		pendingDelivery(storeID, "BL-2"),
		pendingDelivery(storeID, "BL-3"),
	}}
	exec := NewReconciliationExecutor(deliveries,
		&fakeConfigRepository{configs: map[uuid.UUID]*reconciliation.StoreLedgerConfig{storeID: cfg}},
		newScriptedBLStrategy(), newTestLogger(), WithRunLimit(2))

	run := NewReconciliationRun(RunTriggerSchedule, time.Now())
	require.NoError(t, exec.Execute(context.Background(), run))
	assert.Equal(t, 2, run.Total)
}

// ---------------------------------------------------------------------------
// ReconciliationRun Tests
// ---------------------------------------------------------------------------

func TestReconciliationRun_Complete(t *testing.T) {
	tests := []struct {
		name  string
		items []DeliveryOutcome
		want  RunStatus
	}{
		{"empty run", nil, RunStatusSuccess},
		{"all reconciled or skipped", []DeliveryOutcome{DeliveryOutcomeReconciled, DeliveryOutcomeSkipped}, RunStatusSuccess},
		{"some failures", []DeliveryOutcome{DeliveryOutcomeNotFound, DeliveryOutcomeError}, RunStatusPartial},
		{"only failures", []DeliveryOutcome{DeliveryOutcomeError, DeliveryOutcomeError, DeliveryOutcomeSkipped}, RunStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			run := NewReconciliationRun(RunTriggerSchedule, start)
			for _, o := range tt.items {
				run.Add(RunItem{DeliveryID: uuid.New(), Outcome: o})
			}
			run.Complete(start.Add(time.Second))

			assert.Equal(t, tt.want, run.Status)
			assert.Equal(t, time.Second, run.Duration())
		})
	}
}

// staticLedger returns the same rows for every filter
type staticLedger struct {
	rows  []reconciliation.LedgerRecord
	calls int
}

func (l *staticLedger) FetchRows(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, filter reconciliation.Filter) ([]reconciliation.LedgerRecord, error) {
	l.calls++
	return l.rows, nil
}

func TestReconciliationExecutor_BLNumberStrategyWritesBack(t *testing.T) {
	storeID, cfg := configuredStore()
	d := pendingDelivery(storeID, "BL-2024-007")
	d.SupplierName = "Acme"

	ledger := &staticLedger{rows: []reconciliation.LedgerRecord{
		{"Invoice": "F-2024-042", "BL": "bl-2024-007", "Amount": "1250.50", "Supplier": "ACME Corp"},
	}}
	deliveries := &fakeDeliveryRepository{pending: []reconciliation.Delivery{d}}
	publisher := &recordingPublisher{}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	exec := NewReconciliationExecutor(deliveries,
		&fakeConfigRepository{configs: map[uuid.UUID]*reconciliation.StoreLedgerConfig{storeID: cfg}},
		matching.NewBLNumberStrategy(ledger), newTestLogger(),
		WithPublisher(publisher),
		WithExecutorClock(func() time.Time { return now }),
	)
	run := NewReconciliationRun(RunTriggerManual, now)
	require.NoError(t, exec.Execute(context.Background(), run))

	require.Len(t, run.Items, 1)
	assert.Equal(t, DeliveryOutcomeReconciled, run.Items[0].Outcome)
	assert.Equal(t, reconciliation.MatchTypeBLNumber, run.Items[0].MatchType)

	update, ok := deliveries.applied[d.ID]
	require.True(t, ok)
	assert.Equal(t, "F-2024-042", update.InvoiceReference)
	require.NotNil(t, update.InvoiceAmount)
	assert.True(t, decimal.RequireFromString("1250.50").Equal(*update.InvoiceAmount))
	assert.Equal(t, now, update.ReconciledAt)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, 1, ledger.calls)
}

func TestReconciliationExecutor_BLNumberStrategyRejectsOtherSupplier(t *testing.T) {
	storeID, cfg := configuredStore()
	d := pendingDelivery(storeID, "BL-2024-007")
	d.SupplierName = "Acme"

	ledger := &staticLedger{rows: []reconciliation.LedgerRecord{
		{"Invoice": "F-2024-042", "BL": "BL-2024-007", "Amount": "1250.50", "Supplier": "Other Co"},
	}}
	deliveries := &fakeDeliveryRepository{pending: []reconciliation.Delivery{d}}
	publisher := &recordingPublisher{}

	exec := NewReconciliationExecutor(deliveries,
		&fakeConfigRepository{configs: map[uuid.UUID]*reconciliation.StoreLedgerConfig{storeID: cfg}},
		matching.NewBLNumberStrategy(ledger), newTestLogger(),
		WithPublisher(publisher),
	)
	run := NewReconciliationRun(RunTriggerManual, time.Now())
	require.NoError(t, exec.Execute(context.Background(), run))

	require.Len(t, run.Items, 1)
	assert.Equal(t, DeliveryOutcomeNotFound, run.Items[0].Outcome)
	assert.Empty(t, deliveries.applied)
	assert.Empty(t, publisher.events)
}
