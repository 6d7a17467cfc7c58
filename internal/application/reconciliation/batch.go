package reconciliation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
)

const (
	// DefaultBatchSize is how many deliveries are verified concurrently
	DefaultBatchSize = 5
	// DefaultBatchPause spaces consecutive groups to spare the ledger's rate limit
	DefaultBatchPause = 500 * time.Millisecond
)

// Verifier verifies one delivery
type Verifier interface {
	VerifyOne(ctx context.Context, req VerificationRequest) (*reconciliation.VerificationOutcome, error)
}

// BatchOrchestrator verifies many deliveries in small concurrent groups
type BatchOrchestrator struct {
	verifier Verifier
	size     int
	pause    time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewBatchOrchestrator creates a batch orchestrator. Non-positive size and
// negative pause fall back to the defaults.
func NewBatchOrchestrator(verifier Verifier, size int, pause time.Duration, logger *zap.Logger) *BatchOrchestrator {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if pause < 0 {
		pause = DefaultBatchPause
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchOrchestrator{
		verifier: verifier,
		size:     size,
		pause:    pause,
		now:      time.Now,
		logger:   logger,
	}
}

// VerifyBatch returns exactly one outcome per request, in request order.
// Groups run one after another with a pause in between; a failing or
// panicking item only affects its own outcome. Once ctx is done the
// remaining items are reported as errors without being attempted.
func (b *BatchOrchestrator) VerifyBatch(ctx context.Context, reqs []VerificationRequest) []reconciliation.VerificationOutcome {
	outcomes := make([]reconciliation.VerificationOutcome, len(reqs))
	if len(reqs) == 0 {
		return outcomes
	}

	ctx, span := telemetry.StartSpan(ctx, "reconciliation.verify_batch", trace.SpanKindInternal,
		telemetry.SpanAttrBatchSize, len(reqs),
	)
	defer span.End()

	for start := 0; start < len(reqs); start += b.size {
		if start > 0 && b.pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(b.pause):
			}
		}
		if err := ctx.Err(); err != nil {
			for i := start; i < len(reqs); i++ {
				outcomes[i] = b.failed(reqs[i], fmt.Errorf("batch cancelled: %w", err))
			}
			b.logger.Warn("Batch verification cancelled",
				zap.Int("completed", start),
				zap.Int("total", len(reqs)),
			)
			telemetry.RecordError(span, err)
			return outcomes
		}

		end := min(start+b.size, len(reqs))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = b.verifyItem(ctx, reqs[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	b.logger.Debug("Batch verification completed", zap.Int("total", len(reqs)))
	return outcomes
}

func (b *BatchOrchestrator) verifyItem(ctx context.Context, req VerificationRequest) (out reconciliation.VerificationOutcome) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic while verifying delivery",
				zap.String("delivery_id", req.DeliveryID.String()),
				zap.Any("panic", r),
			)
			out = b.failed(req, fmt.Errorf("verification panicked: %v", r))
		}
	}()

	outcome, err := b.verifier.VerifyOne(ctx, req)
	if err != nil {
		return b.failed(req, err)
	}
	if outcome == nil {
		return b.failed(req, fmt.Errorf("%w: empty outcome", reconciliation.ErrLedgerUnavailable))
	}
	return *outcome
}

func (b *BatchOrchestrator) failed(req VerificationRequest, err error) reconciliation.VerificationOutcome {
	return reconciliation.ErrorOutcome(req.DeliveryID, req.StoreID, err, b.now())
}
