package reconciliation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/domain/shared/strategy"
)

// MockDeliveryRepository is a mock implementation of DeliveryRepository
type MockDeliveryRepository struct {
	mock.Mock
}

func (m *MockDeliveryRepository) FindByID(ctx context.Context, id uuid.UUID) (*reconciliation.Delivery, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Delivery), args.Error(1)
}

func (m *MockDeliveryRepository) FindPendingReconciliation(ctx context.Context, limit int) ([]reconciliation.Delivery, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]reconciliation.Delivery), args.Error(1)
}

func (m *MockDeliveryRepository) ApplyReconciliation(ctx context.Context, id uuid.UUID, update reconciliation.ReconciliationUpdate) error {
	args := m.Called(ctx, id, update)
	return args.Error(0)
}

func (m *MockDeliveryRepository) FindClaimingDelivery(ctx context.Context, storeID uuid.UUID, invoiceReference string, excludeID uuid.UUID) (*reconciliation.Delivery, error) {
	args := m.Called(ctx, storeID, invoiceReference, excludeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Delivery), args.Error(1)
}

// MockStoreLedgerConfigRepository is a mock implementation of StoreLedgerConfigRepository
type MockStoreLedgerConfigRepository struct {
	mock.Mock
}

func (m *MockStoreLedgerConfigRepository) FindByStoreID(ctx context.Context, storeID uuid.UUID) (*reconciliation.StoreLedgerConfig, error) {
	args := m.Called(ctx, storeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.StoreLedgerConfig), args.Error(1)
}

// memVerificationRepository keeps entries in a map
type memVerificationRepository struct {
	mu         sync.Mutex
	entries    map[uuid.UUID]reconciliation.VerificationEntry
	upserts    int
	findErr    error
	upsertErr  error
	lastCutoff time.Time
}

func newMemVerificationRepository() *memVerificationRepository {
	return &memVerificationRepository{entries: make(map[uuid.UUID]reconciliation.VerificationEntry)}
}

func (r *memVerificationRepository) FindByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (*reconciliation.VerificationEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	e, ok := r.entries[deliveryID]
	if !ok {
		return nil, reconciliation.ErrVerificationNotFound
	}
	return &e, nil
}

func (r *memVerificationRepository) Upsert(ctx context.Context, entry *reconciliation.VerificationEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.entries[entry.DeliveryID] = *entry
	return nil
}

func (r *memVerificationRepository) Invalidate(ctx context.Context, deliveryID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[deliveryID]; ok {
		e.IsValid = false
		r.entries[deliveryID] = e
	}
	return nil
}

func (r *memVerificationRepository) Stats(ctx context.Context, storeID uuid.UUID, cutoff time.Time) (reconciliation.CacheStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCutoff = cutoff
	var stats reconciliation.CacheStats
	for _, e := range r.entries {
		if e.StoreID != storeID {
			continue
		}
		stats.Total++
		expired := !e.LastCheckedAt.After(cutoff)
		if expired {
			stats.Expired++
		} else if e.IsValid {
			stats.Valid++
		}
	}
	return stats, nil
}

func (r *memVerificationRepository) DeleteExpired(ctx context.Context, storeID uuid.UUID, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCutoff = cutoff
	var deleted int64
	for id, e := range r.entries {
		if storeID != uuid.Nil && e.StoreID != storeID {
			continue
		}
		if !e.LastCheckedAt.After(cutoff) {
			delete(r.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memVerificationRepository) get(id uuid.UUID) (reconciliation.VerificationEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *memVerificationRepository) upsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upserts
}

// fakeStrategy returns a canned result and records its queries
type fakeStrategy struct {
	strategy.BaseStrategy
	matchType  reconciliation.MatchType
	applicable bool
	result     reconciliation.MatchResult
	delay      time.Duration

	calls     atomic.Int32
	mu        sync.Mutex
	lastQuery reconciliation.MatchQuery
}

func newFakeStrategy(t reconciliation.MatchType, result reconciliation.MatchResult) *fakeStrategy {
	return &fakeStrategy{
		BaseStrategy: strategy.NewBaseStrategy(string(t), strategy.StrategyTypeMatching, "fake "+string(t)),
		matchType:    t,
		applicable:   true,
		result:       result,
	}
}

func (s *fakeStrategy) MatchType() reconciliation.MatchType { return s.matchType }

func (s *fakeStrategy) Applicable(cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) bool {
	return s.applicable
}

func (s *fakeStrategy) Attempt(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) reconciliation.MatchResult {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastQuery = q
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.result
}

func (s *fakeStrategy) query() reconciliation.MatchQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

func found(t reconciliation.MatchType, invoice string) reconciliation.MatchResult {
	return reconciliation.MatchResult{Found: true, MatchType: t, Invoice: invoice}
}

func miss(t reconciliation.MatchType) reconciliation.MatchResult {
	return reconciliation.MatchResult{MatchType: t}
}

func validStoreConfig(storeID uuid.UUID) *reconciliation.StoreLedgerConfig {
	return &reconciliation.StoreLedgerConfig{
		StoreID: storeID,
		Connection: &reconciliation.LedgerConnection{
			ID:       uuid.New(),
			Name:     "main",
			BaseURL:  "http://ledger.invalid",
			APIToken: "token",
		},
		TableID: "tbl_invoices",
		Columns: reconciliation.ColumnMapping{
			InvoiceColumn:  "Invoice",
			BLNumberColumn: "BL",
			AmountColumn:   "Amount",
			SupplierColumn: "Supplier",
		},
	}
}

// fakeClock is a settable clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// gatedStrategy holds every attempt until release is closed. It finds the
// invoice only when the query searches for invoice.
type gatedStrategy struct {
	strategy.BaseStrategy
	invoice string
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGatedStrategy(invoice string) *gatedStrategy {
	return &gatedStrategy{
		BaseStrategy: strategy.NewBaseStrategy("gated", strategy.StrategyTypeMatching, "gated invoice lookup"),
		invoice:      invoice,
		started:      make(chan struct{}, 16),
		release:      make(chan struct{}),
	}
}

func (s *gatedStrategy) MatchType() reconciliation.MatchType { return reconciliation.MatchTypeInvoiceRef }

func (s *gatedStrategy) Applicable(cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) bool {
	return true
}

func (s *gatedStrategy) Attempt(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) reconciliation.MatchResult {
	s.calls.Add(1)
	s.started <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
		return reconciliation.MatchResult{MatchType: reconciliation.MatchTypeInvoiceRef, Err: ctx.Err()}
	}
	if reconciliation.ReferencesMatch(q.InvoiceReference, s.invoice) {
		return found(reconciliation.MatchTypeInvoiceRef, s.invoice)
	}
	return miss(reconciliation.MatchTypeInvoiceRef)
}
