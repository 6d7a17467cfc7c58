package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/erp/reconciliation/internal/interfaces/http/router"
)

// ReconciliationRoutes creates the route group for delivery verification and
// reconciliation runs. ledgerGuard protects the endpoints that fan out to the
// ledger.
func ReconciliationRoutes(handler *ReconciliationHandler, ledgerGuard gin.HandlerFunc) *router.DomainGroup {
	group := router.NewDomainGroup("reconciliation", "/reconciliation")

	// Single delivery
	group.POST("/deliveries/:id/verify", handler.VerifyDelivery)
	group.DELETE("/deliveries/:id/verification", handler.InvalidateVerification)

	// Batch
	group.POST("/verify/batch", ledgerGuard, handler.VerifyBatch)

	// Verification cache
	group.GET("/stores/:store_id/cache/stats", handler.GetCacheStats)
	group.DELETE("/stores/:store_id/cache/expired", handler.CleanupExpired)

	// Scheduler runs
	group.POST("/runs", ledgerGuard, handler.TriggerRun)
	group.GET("/runs", handler.ListRuns)
	group.GET("/runs/:id", handler.GetRun)

	return group
}
