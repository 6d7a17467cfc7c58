package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appreconciliation "github.com/erp/reconciliation/internal/application/reconciliation"
	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/scheduler"
	"github.com/erp/reconciliation/internal/interfaces/http/dto"
)

// DefaultMaxBatchSize bounds a batch request when no limit is configured
const DefaultMaxBatchSize = 200

// VerificationService is the interactive verification API
type VerificationService interface {
	VerifyOne(ctx context.Context, req appreconciliation.VerificationRequest) (*reconciliation.VerificationOutcome, error)
	Invalidate(ctx context.Context, deliveryID uuid.UUID) error
	GetCacheStats(ctx context.Context, storeID uuid.UUID) (reconciliation.CacheStats, error)
	CleanupExpired(ctx context.Context, storeID uuid.UUID) (int64, error)
	TTL() time.Duration
}

// BatchVerifier verifies many deliveries in bounded waves
type BatchVerifier interface {
	VerifyBatch(ctx context.Context, reqs []appreconciliation.VerificationRequest) []reconciliation.VerificationOutcome
}

// RunScheduler starts reconciliation runs and keeps their history
type RunScheduler interface {
	RunOnce(ctx context.Context, trigger scheduler.RunTrigger) (*scheduler.ReconciliationRun, error)
	TriggerNow(ctx context.Context) (uuid.UUID, error)
	History(limit int) []*scheduler.ReconciliationRun
	FindRun(id uuid.UUID) (*scheduler.ReconciliationRun, bool)
	IsRunning() bool
}

// ReconciliationHandler handles delivery verification and reconciliation runs
type ReconciliationHandler struct {
	BaseHandler
	verifier     VerificationService
	batch        BatchVerifier
	runs         RunScheduler
	maxBatchSize int
}

// NewReconciliationHandler creates a new ReconciliationHandler
func NewReconciliationHandler(verifier VerificationService, batch BatchVerifier, runs RunScheduler, maxBatchSize int) *ReconciliationHandler {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &ReconciliationHandler{
		verifier:     verifier,
		batch:        batch,
		runs:         runs,
		maxBatchSize: maxBatchSize,
	}
}

// VerifyDelivery godoc
// @ID           verifyReconciliationDelivery
// @Summary      Verify a delivery against the invoice ledger
// @Description  Returns the cached outcome when fresh, otherwise queries the store's ledger. The body is optional.
// @Tags         reconciliation
// @Accept       json
// @Produce      json
// @Param        id path string true "Delivery ID" format(uuid)
// @Param        request body VerifyDeliveryRequest false "Search overrides"
// @Success      200 {object} APIResponse[VerificationResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /reconciliation/deliveries/{id}/verify [post]
func (h *ReconciliationHandler) VerifyDelivery(c *gin.Context) {
	deliveryID, ok := h.bindDeliveryID(c)
	if !ok {
		return
	}

	var req VerifyDeliveryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BindError(c, err)
			return
		}
	}

	outcome, err := h.verifier.VerifyOne(c.Request.Context(), req.toVerificationRequest(deliveryID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toVerificationResponse(outcome))
}

// VerifyBatch godoc
// @ID           verifyReconciliationBatch
// @Summary      Verify several deliveries
// @Description  Verifies deliveries in waves of bounded concurrency. Results keep request order; a failing delivery yields an UNAVAILABLE result without failing the batch.
// @Tags         reconciliation
// @Accept       json
// @Produce      json
// @Param        request body BatchVerifyRequest true "Deliveries to verify"
// @Success      200 {object} APIResponse[BatchVerifyResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /reconciliation/verify/batch [post]
func (h *ReconciliationHandler) VerifyBatch(c *gin.Context) {
	var req BatchVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	if len(req.Items) > h.maxBatchSize {
		h.ValidationError(c, []dto.ValidationDetail{{
			Field:   "items",
			Message: fmt.Sprintf("Must contain at most %d deliveries", h.maxBatchSize),
		}})
		return
	}

	reqs := make([]appreconciliation.VerificationRequest, 0, len(req.Items))
	for _, item := range req.Items {
		reqs = append(reqs, item.toVerificationRequest(uuid.MustParse(item.DeliveryID)))
	}

	outcomes := h.batch.VerifyBatch(c.Request.Context(), reqs)
	h.Success(c, toBatchVerifyResponse(outcomes))
}

// InvalidateVerification godoc
// @ID           invalidateReconciliationVerification
// @Summary      Invalidate a delivery's cached verification
// @Description  The next verification of the delivery queries the ledger again
// @Tags         reconciliation
// @Produce      json
// @Param        id path string true "Delivery ID" format(uuid)
// @Success      204
// @Failure      400 {object} ErrorResponse
// @Router       /reconciliation/deliveries/{id}/verification [delete]
func (h *ReconciliationHandler) InvalidateVerification(c *gin.Context) {
	deliveryID, ok := h.bindDeliveryID(c)
	if !ok {
		return
	}
	if err := h.verifier.Invalidate(c.Request.Context(), deliveryID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// GetCacheStats godoc
// @ID           getReconciliationCacheStats
// @Summary      Get verification cache statistics of a store
// @Tags         reconciliation
// @Produce      json
// @Param        store_id path string true "Store ID" format(uuid)
// @Success      200 {object} APIResponse[CacheStatsResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /reconciliation/stores/{store_id}/cache/stats [get]
func (h *ReconciliationHandler) GetCacheStats(c *gin.Context) {
	storeID, ok := h.bindStoreID(c)
	if !ok {
		return
	}
	stats, err := h.verifier.GetCacheStats(c.Request.Context(), storeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, CacheStatsResponse{
		StoreID: storeID.String(),
		Total:   stats.Total,
		Valid:   stats.Valid,
		Expired: stats.Expired,
		TTL:     h.verifier.TTL().String(),
	})
}

// CleanupExpired godoc
// @ID           cleanupReconciliationCache
// @Summary      Delete a store's expired verifications
// @Tags         reconciliation
// @Produce      json
// @Param        store_id path string true "Store ID" format(uuid)
// @Success      200 {object} APIResponse[CleanupResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /reconciliation/stores/{store_id}/cache/expired [delete]
func (h *ReconciliationHandler) CleanupExpired(c *gin.Context) {
	storeID, ok := h.bindStoreID(c)
	if !ok {
		return
	}
	deleted, err := h.verifier.CleanupExpired(c.Request.Context(), storeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, CleanupResponse{StoreID: storeID.String(), Deleted: deleted})
}

// TriggerRun godoc
// @ID           triggerReconciliationRun
// @Summary      Start a reconciliation run now
// @Description  Runs in the background and answers 202 with the run ID. With wait=true, or while the scheduler is stopped, the run completes before the response.
// @Tags         reconciliation
// @Produce      json
// @Param        wait query bool false "Wait for the run to complete"
// @Success      200 {object} APIResponse[RunResponse]
// @Success      202 {object} APIResponse[TriggerRunResponse]
// @Failure      409 {object} ErrorResponse
// @Router       /reconciliation/runs [post]
func (h *ReconciliationHandler) TriggerRun(c *gin.Context) {
	var req TriggerRunRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BindError(c, err)
		return
	}

	if !req.Wait && h.runs.IsRunning() {
		id, err := h.runs.TriggerNow(c.Request.Context())
		switch {
		case err == nil:
			h.Accepted(c, TriggerRunResponse{RunID: id.String(), Status: string(scheduler.RunStatusRunning)})
			return
		case !errors.Is(err, scheduler.ErrSchedulerNotRunning):
			h.HandleError(c, err)
			return
		}
		// stopped between the check and the trigger: run inline
	}

	run, err := h.runs.RunOnce(c.Request.Context(), scheduler.RunTriggerManual)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toRunResponse(run, true))
}

// ListRuns godoc
// @ID           listReconciliationRuns
// @Summary      List recent reconciliation runs
// @Description  Newest first, without per-delivery items
// @Tags         reconciliation
// @Produce      json
// @Param        limit query int false "Maximum runs to return" minimum(1) maximum(100)
// @Success      200 {object} APIResponse[[]RunResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /reconciliation/runs [get]
func (h *ReconciliationHandler) ListRuns(c *gin.Context) {
	var req ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BindError(c, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = 20
	}

	history := h.runs.History(req.Limit)
	runs := make([]RunResponse, 0, len(history))
	for _, run := range history {
		runs = append(runs, toRunResponse(run, false))
	}
	h.Success(c, runs)
}

// GetRun godoc
// @ID           getReconciliationRun
// @Summary      Get a reconciliation run with its per-delivery items
// @Tags         reconciliation
// @Produce      json
// @Param        id path string true "Run ID" format(uuid)
// @Success      200 {object} APIResponse[RunResponse]
// @Failure      404 {object} ErrorResponse
// @Router       /reconciliation/runs/{id} [get]
func (h *ReconciliationHandler) GetRun(c *gin.Context) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}
	run, ok := h.runs.FindRun(uuid.MustParse(uri.ID))
	if !ok {
		h.NotFound(c, "Reconciliation run not found")
		return
	}
	h.Success(c, toRunResponse(run, true))
}
