package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
)

// DefaultLockTTL bounds how long one verification holds the delivery lock
const DefaultLockTTL = 60 * time.Second

// VerificationRequest asks whether a delivery's invoice exists in the
// store's ledger. Empty optional fields are filled from the stored delivery.
type VerificationRequest struct {
	DeliveryID       uuid.UUID
	StoreID          uuid.UUID
	InvoiceReference string
	SupplierName     string
	BLNumber         string
	Amount           *decimal.Decimal
	ReferenceDate    *time.Time
}

// needsDelivery reports whether any field could still come from the delivery
func (r VerificationRequest) needsDelivery() bool {
	return r.StoreID == uuid.Nil ||
		strings.TrimSpace(r.InvoiceReference) == "" ||
		strings.TrimSpace(r.SupplierName) == "" ||
		strings.TrimSpace(r.BLNumber) == "" ||
		r.Amount == nil ||
		r.ReferenceDate == nil
}

func (r VerificationRequest) withDelivery(d *reconciliation.Delivery) VerificationRequest {
	if r.StoreID == uuid.Nil {
		r.StoreID = d.StoreID
	}
	if strings.TrimSpace(r.InvoiceReference) == "" {
		r.InvoiceReference = d.InvoiceReference
	}
	if strings.TrimSpace(r.SupplierName) == "" {
		r.SupplierName = d.SupplierName
	}
	if strings.TrimSpace(r.BLNumber) == "" {
		r.BLNumber = d.BLNumber
	}
	if r.Amount == nil {
		r.Amount = d.ReferenceAmount()
	}
	if r.ReferenceDate == nil {
		r.ReferenceDate = d.DeliveredAt
	}
	return r
}

func (r VerificationRequest) query() reconciliation.MatchQuery {
	q := reconciliation.MatchQuery{
		DeliveryID:       r.DeliveryID,
		StoreID:          r.StoreID,
		InvoiceReference: strings.TrimSpace(r.InvoiceReference),
		BLNumber:         strings.TrimSpace(r.BLNumber),
		SupplierName:     strings.TrimSpace(r.SupplierName),
		Amount:           r.Amount,
	}
	if r.ReferenceDate != nil {
		q.ReferenceDate = r.ReferenceDate.UTC()
	}
	return q
}

// VerificationServiceOption configures a VerificationService
type VerificationServiceOption func(*VerificationService)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) VerificationServiceOption {
	return func(s *VerificationService) {
		s.logger = logger
	}
}

// WithLocker serializes cache misses of one delivery across processes
func WithLocker(locker reconciliation.VerificationLocker) VerificationServiceOption {
	return func(s *VerificationService) {
		s.locker = locker
	}
}

// WithMetrics records verification outcomes
func WithMetrics(m *telemetry.ReconciliationMetrics) VerificationServiceOption {
	return func(s *VerificationService) {
		s.metrics = m
	}
}

// WithCacheTTL overrides the 24h freshness window
func WithCacheTTL(ttl time.Duration) VerificationServiceOption {
	return func(s *VerificationService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLockTTL overrides how long a verification may hold the delivery lock
func WithLockTTL(ttl time.Duration) VerificationServiceOption {
	return func(s *VerificationService) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) VerificationServiceOption {
	return func(s *VerificationService) {
		s.now = now
	}
}

// VerificationService answers "does this delivery's invoice exist", serving
// fresh cached answers and asking the ledger otherwise. The verification
// repository is the only cache; nothing is memoized in process.
type VerificationService struct {
	deliveries reconciliation.DeliveryRepository
	configs    reconciliation.StoreLedgerConfigRepository
	entries    reconciliation.VerificationRepository
	matcher    *Matcher
	locker     reconciliation.VerificationLocker
	metrics    *telemetry.ReconciliationMetrics
	logger     *zap.Logger

	inflight singleflight.Group
	ttl      time.Duration
	lockTTL  time.Duration
	now      func() time.Time
}

// NewVerificationService creates a verification service
func NewVerificationService(
	deliveries reconciliation.DeliveryRepository,
	configs reconciliation.StoreLedgerConfigRepository,
	entries reconciliation.VerificationRepository,
	matcher *Matcher,
	opts ...VerificationServiceOption,
) *VerificationService {
	s := &VerificationService{
		deliveries: deliveries,
		configs:    configs,
		entries:    entries,
		matcher:    matcher,
		logger:     zap.NewNop(),
		ttl:        reconciliation.DefaultVerificationTTL,
		lockTTL:    DefaultLockTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is the freshness window of verification entries
func (s *VerificationService) TTL() time.Duration {
	return s.ttl
}

// verification is what one cache miss produces, shared by concurrent callers
type verification struct {
	entry    *reconciliation.VerificationEntry
	result   reconciliation.MatchResult
	cacheHit bool
}

// GetOrVerify returns the verification outcome of a delivery. Ledger and
// configuration problems are reported in the outcome; the error is reserved
// for invalid requests and failures to reach the delivery or config stores.
func (s *VerificationService) GetOrVerify(ctx context.Context, req VerificationRequest) (*reconciliation.VerificationOutcome, error) {
	if req.DeliveryID == uuid.Nil {
		return nil, fmt.Errorf("%w: delivery id is required", reconciliation.ErrInvalidRequest)
	}

	ctx, span := telemetry.StartSpan(ctx, "reconciliation.verify", trace.SpanKindInternal,
		telemetry.SpanAttrDeliveryID, req.DeliveryID,
	)
	defer span.End()

	req, err := s.complete(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrStoreID, req.StoreID)

	log := s.logger.With(
		zap.String("delivery_id", req.DeliveryID.String()),
		zap.String("store_id", req.StoreID.String()),
	)

	cfg, err := s.configs.FindByStoreID(ctx, req.StoreID)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		if !errors.Is(err, reconciliation.ErrNotConfigured) {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to load ledger config: %w", err)
		}
		log.Debug("Store ledger not configured", zap.Error(err))
		outcome := reconciliation.ErrorOutcome(req.DeliveryID, req.StoreID, err, s.now())
		s.record(ctx, &outcome)
		return &outcome, nil
	}

	q := req.query()
	v, hit := s.cached(ctx, q, log)
	if !hit {
		v, err = s.verifyShared(ctx, cfg, q)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	outcome := s.outcome(v)
	if outcome.Exists {
		s.checkClaim(ctx, &outcome, v.entry, log)
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrMatchType, outcome.MatchType.String(),
		telemetry.SpanAttrCacheHit, outcome.CacheHit,
	)
	s.record(ctx, &outcome)
	return &outcome, nil
}

// VerifyOne verifies a single delivery. Only an invalid request is returned
// as an error; every other failure becomes an UNAVAILABLE outcome.
func (s *VerificationService) VerifyOne(ctx context.Context, req VerificationRequest) (*reconciliation.VerificationOutcome, error) {
	outcome, err := s.GetOrVerify(ctx, req)
	if err == nil {
		return outcome, nil
	}
	if errors.Is(err, reconciliation.ErrInvalidRequest) || errors.Is(err, reconciliation.ErrDeliveryNotFound) {
		return nil, err
	}
	s.logger.Error("Verification failed",
		zap.String("delivery_id", req.DeliveryID.String()),
		zap.Error(err),
	)
	failed := reconciliation.ErrorOutcome(req.DeliveryID, req.StoreID, err, s.now())
	s.record(ctx, &failed)
	return &failed, nil
}

// complete fills the request's missing fields from the stored delivery. An
// unknown delivery is fine as long as the request names its store.
func (s *VerificationService) complete(ctx context.Context, req VerificationRequest) (VerificationRequest, error) {
	if !req.needsDelivery() {
		return req, nil
	}
	d, err := s.deliveries.FindByID(ctx, req.DeliveryID)
	switch {
	case err == nil:
		req = req.withDelivery(d)
	case errors.Is(err, reconciliation.ErrDeliveryNotFound):
		if req.StoreID == uuid.Nil {
			return req, err
		}
	default:
		if req.StoreID == uuid.Nil {
			return req, fmt.Errorf("failed to load delivery: %w", err)
		}
		s.logger.Warn("Failed to load delivery, verifying with request fields only",
			zap.String("delivery_id", req.DeliveryID.String()),
			zap.Error(err),
		)
	}
	if strings.TrimSpace(req.InvoiceReference) == "" &&
		strings.TrimSpace(req.BLNumber) == "" &&
		strings.TrimSpace(req.SupplierName) == "" {
		return req, fmt.Errorf("%w: nothing to search for", reconciliation.ErrInvalidRequest)
	}
	return req, nil
}

// cached returns the delivery's entry when it is fresh and was produced for
// the same inputs. Read failures count as a miss.
func (s *VerificationService) cached(ctx context.Context, q reconciliation.MatchQuery, log *zap.Logger) (verification, bool) {
	entry, err := s.entries.FindByDeliveryID(ctx, q.DeliveryID)
	if err != nil {
		if !errors.Is(err, reconciliation.ErrVerificationNotFound) {
			log.Warn("Verification cache read failed, treating as miss", zap.Error(err))
		}
		return verification{}, false
	}
	if !entry.IsFresh(s.now(), s.ttl) || !entry.SearchedFor(q.InvoiceReference, q.SupplierName) {
		return verification{}, false
	}
	return verification{
		entry:    entry,
		result:   resultFromEntry(entry),
		cacheHit: true,
	}, true
}

// verifyShared collapses concurrent misses of one delivery that search for
// the same inputs into a single ledger lookup. The lookup serves every
// waiting caller, so it ignores the first caller's cancellation and is
// bounded by the lock TTL instead.
func (s *VerificationService) verifyShared(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) (verification, error) {
	ch := s.inflight.DoChan(q.Key(), func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTTL)
		defer cancel()
		return s.verifyLocked(shared, cfg, q)
	})
	select {
	case <-ctx.Done():
		return verification{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return verification{}, r.Err
		}
		return r.Val.(verification), nil
	}
}

func (s *VerificationService) verifyLocked(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, q reconciliation.MatchQuery) (verification, error) {
	log := s.logger.With(zap.String("delivery_id", q.DeliveryID.String()))

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, reconciliation.VerificationLockKey(q.DeliveryID.String()), s.lockTTL)
		switch {
		case err == nil:
			defer release()
			// Another process may have verified while we waited
			if v, hit := s.cached(ctx, q, log); hit {
				return v, nil
			}
		case ctx.Err() != nil:
			return verification{}, ctx.Err()
		case errors.Is(err, reconciliation.ErrLockNotObtained):
			log.Debug("Verification lock busy, verifying anyway")
		default:
			log.Warn("Verification lock unavailable, verifying anyway", zap.Error(err))
		}
	}

	res := s.matcher.Match(ctx, cfg, q)
	entry := reconciliation.NewVerificationEntry(q, res, s.now())
	if err := s.entries.Upsert(ctx, entry); err != nil {
		log.Error("Failed to store verification entry", zap.Error(err))
	}
	return verification{entry: entry, result: res}, nil
}

func (s *VerificationService) outcome(v verification) reconciliation.VerificationOutcome {
	e := v.entry
	out := reconciliation.VerificationOutcome{
		DeliveryID:       e.DeliveryID,
		StoreID:          e.StoreID,
		Status:           reconciliation.StatusFor(e.Exists, e.MatchType),
		Exists:           e.Exists,
		MatchType:        e.MatchType,
		InvoiceReference: e.MatchedReference,
		CacheHit:         v.cacheHit,
		CheckedAt:        e.LastCheckedAt,
	}
	if !v.cacheHit {
		diag := v.result.Diagnostics
		out.Diagnostics = &diag
	}
	if v.result.Err != nil {
		out.Message = v.result.Err.Error()
	}
	return out
}

// checkClaim downgrades a found invoice to CLAIMED when another delivery of
// the store already holds it. Lookup failures keep the VERIFIED status.
func (s *VerificationService) checkClaim(ctx context.Context, out *reconciliation.VerificationOutcome, e *reconciliation.VerificationEntry, log *zap.Logger) {
	ref := strings.TrimSpace(e.MatchedReference)
	if ref == "" {
		ref = strings.TrimSpace(e.InvoiceReference)
	}
	if ref == "" {
		return
	}
	claim, err := s.deliveries.FindClaimingDelivery(ctx, e.StoreID, ref, e.DeliveryID)
	if err != nil {
		log.Warn("Claim check failed", zap.Error(err))
		return
	}
	if claim == nil {
		return
	}
	out.Status = reconciliation.VerificationStatusClaimed
	out.ClaimedBy = &claim.ID
	log.Info("Invoice already claimed by another delivery",
		zap.String("invoice", ref),
		zap.String("claimed_by", claim.ID.String()),
	)
}

func (s *VerificationService) record(ctx context.Context, out *reconciliation.VerificationOutcome) {
	s.metrics.RecordVerification(ctx, out.MatchType.String(), out.Status.String(), out.CacheHit)
}

// Invalidate marks the delivery's entry stale so the next lookup asks the
// ledger again
func (s *VerificationService) Invalidate(ctx context.Context, deliveryID uuid.UUID) error {
	if deliveryID == uuid.Nil {
		return fmt.Errorf("%w: delivery id is required", reconciliation.ErrInvalidRequest)
	}
	if err := s.entries.Invalidate(ctx, deliveryID); err != nil {
		return fmt.Errorf("failed to invalidate verification: %w", err)
	}
	s.logger.Debug("Verification invalidated", zap.String("delivery_id", deliveryID.String()))
	return nil
}

// GetCacheStats counts a store's entries. Entries older than the TTL are
// expired whatever their validity.
func (s *VerificationService) GetCacheStats(ctx context.Context, storeID uuid.UUID) (reconciliation.CacheStats, error) {
	if storeID == uuid.Nil {
		return reconciliation.CacheStats{}, fmt.Errorf("%w: store id is required", reconciliation.ErrInvalidRequest)
	}
	stats, err := s.entries.Stats(ctx, storeID, s.cutoff())
	if err != nil {
		return reconciliation.CacheStats{}, fmt.Errorf("failed to compute cache stats: %w", err)
	}
	return stats, nil
}

// CleanupExpired deletes entries older than the TTL. uuid.Nil cleans every
// store. Running it twice deletes nothing the second time.
func (s *VerificationService) CleanupExpired(ctx context.Context, storeID uuid.UUID) (int64, error) {
	deleted, err := s.entries.DeleteExpired(ctx, storeID, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verifications: %w", err)
	}
	s.metrics.RecordCleanup(ctx, deleted)
	if deleted > 0 {
		s.logger.Info("Expired verifications deleted",
			zap.String("store_id", storeID.String()),
			zap.Int64("deleted", deleted),
		)
	}
	return deleted, nil
}

func (s *VerificationService) cutoff() time.Time {
	return s.now().UTC().Add(-s.ttl)
}

func resultFromEntry(e *reconciliation.VerificationEntry) reconciliation.MatchResult {
	return reconciliation.MatchResult{
		Found:     e.Exists,
		MatchType: e.MatchType,
		Invoice:   e.MatchedReference,
	}
}
