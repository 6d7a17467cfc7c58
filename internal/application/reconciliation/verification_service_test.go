package reconciliation

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
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/cache"
)

type serviceFixture struct {
	deliveries *MockDeliveryRepository
	configs    *MockStoreLedgerConfigRepository
	entries    *memVerificationRepository
	clock      *fakeClock
	bl         *fakeStrategy
	service    *VerificationService
	storeID    uuid.UUID
}

func newServiceFixture(t *testing.T, blResult reconciliation.MatchResult, opts ...VerificationServiceOption) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		deliveries: new(MockDeliveryRepository),
		configs:    new(MockStoreLedgerConfigRepository),
		entries:    newMemVerificationRepository(),
		clock:      newFakeClock(),
		bl:         newFakeStrategy(reconciliation.MatchTypeBLNumber, blResult),
		storeID:    uuid.New(),
	}
	f.configs.On("FindByStoreID", mock.Anything, f.storeID).Return(validStoreConfig(f.storeID), nil).Maybe()
	f.deliveries.On("FindClaimingDelivery", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, nil).Maybe()

	matcher := NewMatcher([]reconciliation.MatchingStrategy{f.bl}, zap.NewNop())
	opts = append([]VerificationServiceOption{WithClock(f.clock.Now)}, opts...)
	f.service = NewVerificationService(f.deliveries, f.configs, f.entries, matcher, opts...)
	return f
}

// request carries every field so the delivery store is never consulted
func (f *serviceFixture) request(deliveryID uuid.UUID) VerificationRequest {
	amount := decimal.NewFromFloat(1250.50)
	date := f.clock.Now().Add(-48 * time.Hour)
	return VerificationRequest{
		DeliveryID:       deliveryID,
		StoreID:          f.storeID,
		InvoiceReference: "INV-1001",
		SupplierName:     "ACME Corp",
		BLNumber:         "BL-2024-007",
		Amount:           &amount,
		ReferenceDate:    &date,
	}
}

func TestVerificationService_MissThenHit(t *testing.T) {
	f := newServiceFixture(t, found(reconciliation.MatchTypeBLNumber, "INV-1001"))
	ctx := context.Background()
	req := f.request(uuid.New())

	first, err := f.service.GetOrVerify(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.VerificationStatusVerified, first.Status)
	assert.True(t, first.Exists)
	assert.False(t, first.CacheHit)
	assert.Equal(t, reconciliation.MatchTypeBLNumber, first.MatchType)
	assert.Equal(t, "INV-1001", first.InvoiceReference)
	require.NotNil(t, first.Diagnostics)

	f.clock.Advance(time.Hour)
	second, err := f.service.GetOrVerify(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Exists, second.Exists)
	assert.Equal(t, first.MatchType, second.MatchType)
	assert.Nil(t, second.Diagnostics)

	assert.EqualValues(t, 1, f.bl.calls.Load())
	assert.Equal(t, 1, f.entries.upsertCount())
}

func TestVerificationService_ExpiryIsStrict(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		wantCalls int32
	}{
		{"just inside the window", reconciliation.DefaultVerificationTTL - time.Nanosecond, 1},
		{"exactly the window", reconciliation.DefaultVerificationTTL, 2},
		{"past the window", reconciliation.DefaultVerificationTTL + time.Minute, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, miss(reconciliation.MatchTypeBLNumber))
			req := f.request(uuid.New())

			_, err := f.service.GetOrVerify(context.Background(), req)
			require.NoError(t, err)

			f.clock.Advance(tt.age)
			out, err := f.service.GetOrVerify(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, f.bl.calls.Load())
			assert.Equal(t, tt.wantCalls == 1, out.CacheHit)
			assert.Equal(t, reconciliation.VerificationStatusNotFound, out.Status)
		})
	}
}

func TestVerificationService_ChangedInputsBypassCache(t *testing.T) {
	f := newServiceFixture(t, miss(reconciliation.MatchTypeBLNumber))
	req := f.request(uuid.New())

	_, err := f.service.GetOrVerify(context.Background(), req)
	require.NoError(t, err)

	req.InvoiceReference = "INV-2002"
	out, err := f.service.GetOrVerify(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, out.CacheHit)
	assert.EqualValues(t, 2, f.bl.calls.Load())
	e, ok := f.entries.get(req.DeliveryID)
	require.True(t, ok)
	assert.Equal(t, "INV-2002", e.InvoiceReference)
}

func TestVerificationService_LedgerErrorIsNotCached(t *testing.T) {
	f := newServiceFixture(t, reconciliation.MatchResult{
		MatchType: reconciliation.MatchTypeBLNumber,
		Err:       &reconciliation.LedgerError{Kind: reconciliation.LedgerErrorNetwork, Err: errors.New("timeout")},
	})
	req := f.request(uuid.New())

	out, err := f.service.GetOrVerify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.VerificationStatusUnavailable, out.Status)
	assert.Equal(t, reconciliation.MatchTypeError, out.MatchType)
	assert.False(t, out.Exists)
	assert.Contains(t, out.Message, "timeout")

	e, ok := f.entries.get(req.DeliveryID)
	require.True(t, ok, "error results are still written")
	assert.False(t, e.IsValid)

	_, err = f.service.GetOrVerify(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.bl.calls.Load())
}

func TestVerificationService_NotConfigured(t *testing.T) {
	tests := []struct {
		name   string
		config *reconciliation.StoreLedgerConfig
		err    error
	}{
		{"no configuration", nil, fmt.Errorf("%w: store has no ledger", reconciliation.ErrNotConfigured)},
		{"missing token", func() *reconciliation.StoreLedgerConfig {
			cfg := validStoreConfig(uuid.Nil)
			cfg.Connection.APIToken = ""
			return cfg
		}(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deliveries := new(MockDeliveryRepository)
			configs := new(MockStoreLedgerConfigRepository)
			entries := newMemVerificationRepository()
			bl := newFakeStrategy(reconciliation.MatchTypeBLNumber, found(reconciliation.MatchTypeBLNumber, "INV-1"))
			storeID := uuid.New()
			if tt.config == nil {
				configs.On("FindByStoreID", mock.Anything, storeID).Return(nil, tt.err)
			} else {
				configs.On("FindByStoreID", mock.Anything, storeID).Return(tt.config, nil)
			}

			svc := NewVerificationService(deliveries, configs, entries,
				NewMatcher([]reconciliation.MatchingStrategy{bl}, nil))
			out, err := svc.GetOrVerify(context.Background(), VerificationRequest{
				DeliveryID:       uuid.New(),
				StoreID:          storeID,
				InvoiceReference: "INV-1",
				SupplierName:     "ACME",
				BLNumber:         "BL-1",
				Amount:           &decimal.Zero,
				ReferenceDate:    &time.Time{},
			})

			require.NoError(t, err)
			assert.Equal(t, reconciliation.VerificationStatusNotConfigured, out.Status)
			assert.Equal(t, reconciliation.MatchTypeError, out.MatchType)
			assert.False(t, out.Exists)
			assert.Zero(t, bl.calls.Load())
			assert.Zero(t, entries.upsertCount())
			deliveries.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
		})
	}
}

func TestVerificationService_ConfigStoreFailure(t *testing.T) {
	deliveries := new(MockDeliveryRepository)
	configs := new(MockStoreLedgerConfigRepository)
	storeID := uuid.New()
	configs.On("FindByStoreID", mock.Anything, storeID).Return(nil, errors.New("connection refused"))

	svc := NewVerificationService(deliveries, configs, newMemVerificationRepository(), NewMatcher(nil, nil))
	f := &serviceFixture{clock: newFakeClock(), storeID: storeID}
	req := f.request(uuid.New())

	_, err := svc.GetOrVerify(context.Background(), req)
	require.Error(t, err)

	out, err := svc.VerifyOne(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.VerificationStatusUnavailable, out.Status)
	assert.Equal(t, reconciliation.MatchTypeError, out.MatchType)
}

func TestVerificationService_ClaimedInvoice(t *testing.T) {
	f := newServiceFixture(t, found(reconciliation.MatchTypeBLNumber, "INV-1001"))
	deliveryID := uuid.New()
	claimer := &reconciliation.Delivery{ID: uuid.New(), StoreID: f.storeID, InvoiceReference: "inv-1001"}

	f.deliveries.ExpectedCalls = nil
	f.deliveries.On("FindClaimingDelivery", mock.Anything, f.storeID, "INV-1001", deliveryID).Return(claimer, nil)

	out, err := f.service.GetOrVerify(context.Background(), f.request(deliveryID))
	require.NoError(t, err)

	assert.Equal(t, reconciliation.VerificationStatusClaimed, out.Status)
	assert.True(t, out.Exists)
	require.NotNil(t, out.ClaimedBy)
	assert.Equal(t, claimer.ID, *out.ClaimedBy)
	f.deliveries.AssertExpectations(t)
}

func TestVerificationService_ClaimCheckFailureKeepsVerified(t *testing.T) {
	f := newServiceFixture(t, found(reconciliation.MatchTypeBLNumber, "INV-1001"))
	f.deliveries.ExpectedCalls = nil
	f.deliveries.On("FindClaimingDelivery", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("db down"))

	out, err := f.service.GetOrVerify(context.Background(), f.request(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, reconciliation.VerificationStatusVerified, out.Status)
	assert.Nil(t, out.ClaimedBy)
}

func TestVerificationService_FillsRequestFromDelivery(t *testing.T) {
	f := newServiceFixture(t, miss(reconciliation.MatchTypeBLNumber))
	blAmount := decimal.NewFromInt(980)
	deliveredAt := time.Date(2024, 2, 20, 15, 0, 0, 0, time.UTC)
	d := &reconciliation.Delivery{
		ID:           uuid.New(),
		StoreID:      f.storeID,
		SupplierName: "Acme",
		BLNumber:     "bl-2024-007",
		BLAmount:     &blAmount,
		Status:       reconciliation.DeliveryStatusDelivered,
		DeliveredAt:  &deliveredAt,
	}
	f.deliveries.On("FindByID", mock.Anything, d.ID).Return(d, nil)

	out, err := f.service.GetOrVerify(context.Background(), VerificationRequest{DeliveryID: d.ID})
	require.NoError(t, err)
	assert.Equal(t, f.storeID, out.StoreID)

	q := f.bl.query()
	assert.Equal(t, f.storeID, q.StoreID)
	assert.Equal(t, "bl-2024-007", q.BLNumber)
	assert.Equal(t, "Acme", q.SupplierName)
	require.NotNil(t, q.Amount)
	assert.True(t, blAmount.Equal(*q.Amount))
	assert.Equal(t, deliveredAt, q.ReferenceDate)
}

func TestVerificationService_InvalidRequests(t *testing.T) {
	f := newServiceFixture(t, miss(reconciliation.MatchTypeBLNumber))

	_, err := f.service.GetOrVerify(context.Background(), VerificationRequest{})
	assert.ErrorIs(t, err, reconciliation.ErrInvalidRequest)

	unknown := uuid.New()
	f.deliveries.On("FindByID", mock.Anything, unknown).Return(nil, reconciliation.ErrDeliveryNotFound)
	_, err = f.service.VerifyOne(context.Background(), VerificationRequest{DeliveryID: unknown})
	assert.ErrorIs(t, err, reconciliation.ErrDeliveryNotFound)

	empty := uuid.New()
	f.deliveries.On("FindByID", mock.Anything, empty).
		Return(&reconciliation.Delivery{ID: empty, StoreID: f.storeID}, nil)
	_, err = f.service.GetOrVerify(context.Background(), VerificationRequest{DeliveryID: empty})
	assert.ErrorIs(t, err, reconciliation.ErrInvalidRequest)
}

func TestVerificationService_CacheStoreFailuresDegrade(t *testing.T) {
	f := newServiceFixture(t, found(reconciliation.MatchTypeBLNumber, "INV-1001"))
	f.entries.findErr = errors.New("read timeout")
	f.entries.upsertErr = errors.New("write timeout")

	out, err := f.service.GetOrVerify(context.Background(), f.request(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, reconciliation.VerificationStatusVerified, out.Status)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 1, f.entries.upsertCount())
}

func TestVerificationService_ConcurrentMissesQueryLedgerOnce(t *testing.T) {
	f := newServiceFixture(t, found(reconciliation.MatchTypeBLNumber, "INV-1001"),
		WithLocker(cache.NewInMemoryVerificationLocker()))
	f.bl.delay = 50 * time.Millisecond
	req := f.request(uuid.New())

	const callers = 10
	var wg sync.WaitGroup
	outcomes := make([]*reconciliation.VerificationOutcome, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.service.GetOrVerify(context.Background(), req)
			assert.NoError(t, err)
			outcomes[i] = out
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.bl.calls.Load())
	for _, out := range outcomes {
		require.NotNil(t, out)
		assert.Equal(t, reconciliation.VerificationStatusVerified, out.Status)
	}
}

func TestVerificationService_InvalidateForcesLedgerLookup(t *testing.T) {
	f := newServiceFixture(t, miss(reconciliation.MatchTypeBLNumber))
	req := f.request(uuid.New())

	_, err := f.service.GetOrVerify(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, f.service.Invalidate(context.Background(), req.DeliveryID))

	out, err := f.service.GetOrVerify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.EqualValues(t, 2, f.bl.calls.Load())

	assert.ErrorIs(t, f.service.Invalidate(context.Background(), uuid.Nil), reconciliation.ErrInvalidRequest)
}

func TestVerificationService_StatsAndCleanup(t *testing.T) {
	f := newServiceFixture(t, miss(reconciliation.MatchTypeBLNumber))
	ctx := context.Background()

	_, err := f.service.GetOrVerify(ctx, f.request(uuid.New()))
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)
	_, err = f.service.GetOrVerify(ctx, f.request(uuid.New()))
	require.NoError(t, err)

	stats, err := f.service.GetCacheStats(ctx, f.storeID)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.CacheStats{Total: 2, Valid: 1, Expired: 1}, stats)
	assert.Equal(t, f.clock.Now().Add(-24*time.Hour), f.entries.lastCutoff)

	deleted, err := f.service.CleanupExpired(ctx, f.storeID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	deleted, err = f.service.CleanupExpired(ctx, f.storeID)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	_, err = f.service.GetCacheStats(ctx, uuid.Nil)
	assert.ErrorIs(t, err, reconciliation.ErrInvalidRequest)
}

func newGatedServiceFixture(t *testing.T, invoice string) (*serviceFixture, *gatedStrategy) {
	t.Helper()
	f := newServiceFixture(t, miss(reconciliation.MatchTypeBLNumber))
	g := newGatedStrategy(invoice)
	matcher := NewMatcher([]reconciliation.MatchingStrategy{g}, zap.NewNop())
	f.service = NewVerificationService(f.deliveries, f.configs, f.entries, matcher, WithClock(f.clock.Now))
	return f, g
}

func waitStarted(t *testing.T, g *gatedStrategy) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("ledger lookup did not start")
	}
}

func TestVerificationService_ConcurrentCallersWithDifferentInputs(t *testing.T) {
	f, g := newGatedServiceFixture(t, "INV-A")
	deliveryID := uuid.New()

	reqA := f.request(deliveryID)
	reqA.InvoiceReference = "INV-A"
	reqB := f.request(deliveryID)
	reqB.InvoiceReference = "INV-B"

	var wg sync.WaitGroup
	var outA, outB *reconciliation.VerificationOutcome
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		outA, err = f.service.GetOrVerify(context.Background(), reqA)
		assert.NoError(t, err)
	}()
	waitStarted(t, g)
	go func() {
		defer wg.Done()
		var err error
		outB, err = f.service.GetOrVerify(context.Background(), reqB)
		assert.NoError(t, err)
	}()
	// B searches for something else, so it gets a lookup of its own
	waitStarted(t, g)
	close(g.release)
	wg.Wait()

	require.NotNil(t, outA)
	require.NotNil(t, outB)
	assert.True(t, outA.Exists)
	assert.Equal(t, "INV-A", outA.InvoiceReference)
	assert.False(t, outB.Exists)
	assert.Equal(t, reconciliation.MatchTypeNone, outB.MatchType)
	assert.Empty(t, outB.InvoiceReference)
	assert.EqualValues(t, 2, g.calls.Load())
}

func TestVerificationService_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f, g := newGatedServiceFixture(t, "INV-1001")
	req := f.request(uuid.New())

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	var errA error
	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		_, errA = f.service.GetOrVerify(ctxA, req)
	}()
	waitStarted(t, g)

	var outB *reconciliation.VerificationOutcome
	var errB error
	doneB := make(chan struct{})
	go func() {
		defer close(doneB)
		outB, errB = f.service.GetOrVerify(context.Background(), req)
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	<-doneA
	assert.ErrorIs(t, errA, context.Canceled)

	close(g.release)
	<-doneB
	require.NoError(t, errB)
	require.NotNil(t, outB)
	assert.Equal(t, reconciliation.VerificationStatusVerified, outB.Status)
	assert.True(t, outB.Exists)
	assert.Equal(t, reconciliation.MatchTypeInvoiceRef, outB.MatchType)
	assert.EqualValues(t, 1, g.calls.Load())

	entry, ok := f.entries.get(req.DeliveryID)
	require.True(t, ok)
	assert.True(t, entry.IsValid)
	assert.True(t, entry.Exists)
}
