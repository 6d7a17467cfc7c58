package handler

import (
	"time"

	"github.com/google/uuid"

	appreconciliation "github.com/erp/reconciliation/internal/application/reconciliation"
	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/scheduler"
)

// VerifyDeliveryRequest carries optional overrides for a verification.
// Empty fields are read from the stored delivery.
// @Description Optional search criteria overriding the stored delivery fields
type VerifyDeliveryRequest struct {
	StoreID          string     `json:"store_id" binding:"omitempty,uuid" example:"550e8400-e29b-41d4-a716-446655440001"`
	InvoiceReference string     `json:"invoice_reference" binding:"max=100" example:"FAC-2024-0042"`
	SupplierName     string     `json:"supplier_name" binding:"max=200" example:"ACME Corp"`
	BLNumber         string     `json:"bl_number" binding:"max=100" example:"BL-2024-007"`
	Amount           *float64   `json:"amount" binding:"omitempty,gte=0" example:"1250.50"`
	ReferenceDate    *time.Time `json:"reference_date" example:"2024-03-01T00:00:00Z"`
}

// toVerificationRequest converts the body into an application request
func (r VerifyDeliveryRequest) toVerificationRequest(deliveryID uuid.UUID) appreconciliation.VerificationRequest {
	req := appreconciliation.VerificationRequest{
		DeliveryID:       deliveryID,
		InvoiceReference: r.InvoiceReference,
		SupplierName:     r.SupplierName,
		BLNumber:         r.BLNumber,
		ReferenceDate:    r.ReferenceDate,
	}
	if r.StoreID != "" {
		req.StoreID = uuid.MustParse(r.StoreID)
	}
	if r.Amount != nil {
		req.Amount = toDecimalPtr(*r.Amount)
	}
	return req
}

// BatchVerifyItem is one delivery of a batch verification
// @Description One delivery to verify, with optional overrides
type BatchVerifyItem struct {
	DeliveryID string `json:"delivery_id" binding:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	VerifyDeliveryRequest
}

// BatchVerifyRequest represents a batch verification request
// @Description Request body for verifying several deliveries
type BatchVerifyRequest struct {
	Items []BatchVerifyItem `json:"items" binding:"required,min=1,dive"`
}

// VerificationDiagnosticsResponse explains how an outcome was reached
// @Description Matching diagnostics for a delivery that was not found
type VerificationDiagnosticsResponse struct {
	Criteria         string         `json:"criteria,omitempty" example:"(Reference,eq,BL-2024-007)"`
	RowsReturned     int            `json:"rows_returned" example:"1"`
	Attempted        []string       `json:"attempted,omitempty" example:"INVOICE_REF,BL_NUMBER"`
	SupplierMismatch bool           `json:"supplier_mismatch" example:"false"`
	MatchedRow       map[string]any `json:"matched_row,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// VerificationResponse represents the verification outcome of one delivery
// @Description Verification outcome of a delivery
type VerificationResponse struct {
	DeliveryID       string                           `json:"delivery_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	StoreID          string                           `json:"store_id" example:"550e8400-e29b-41d4-a716-446655440001"`
	Status           string                           `json:"status" example:"VERIFIED" enums:"VERIFIED,NOT_FOUND,CLAIMED,UNAVAILABLE,NOT_CONFIGURED"`
	Exists           bool                             `json:"exists" example:"true"`
	MatchType        string                           `json:"match_type" example:"BL_NUMBER" enums:"INVOICE_REF,BL_NUMBER,SUPPLIER_AMOUNT,SUPPLIER_DATE,NONE,ERROR"`
	InvoiceReference string                           `json:"invoice_reference,omitempty" example:"FAC-2024-0042"`
	CacheHit         bool                             `json:"cache_hit" example:"false"`
	ClaimedBy        string                           `json:"claimed_by,omitempty" example:"550e8400-e29b-41d4-a716-446655440009"`
	CheckedAt        string                           `json:"checked_at" example:"2024-03-01T09:00:00Z"`
	Message          string                           `json:"message,omitempty" example:"ledger temporarily unavailable"`
	Diagnostics      *VerificationDiagnosticsResponse `json:"diagnostics,omitempty"`
}

func toVerificationResponse(o *reconciliation.VerificationOutcome) VerificationResponse {
	resp := VerificationResponse{
		DeliveryID:       o.DeliveryID.String(),
		StoreID:          o.StoreID.String(),
		Status:           o.Status.String(),
		Exists:           o.Exists,
		MatchType:        o.MatchType.String(),
		InvoiceReference: o.InvoiceReference,
		CacheHit:         o.CacheHit,
		CheckedAt:        o.CheckedAt.UTC().Format(time.RFC3339),
		Message:          o.Message,
	}
	if o.ClaimedBy != nil {
		resp.ClaimedBy = o.ClaimedBy.String()
	}
	if d := o.Diagnostics; d != nil {
		diag := &VerificationDiagnosticsResponse{
			Criteria:         d.Criteria,
			RowsReturned:     d.RowsReturned,
			SupplierMismatch: d.SupplierMismatch,
			MatchedRow:       d.MatchedRow,
			Error:            d.ErrorMessage,
		}
		for _, t := range d.Attempted {
			diag.Attempted = append(diag.Attempted, t.String())
		}
		resp.Diagnostics = diag
	}
	return resp
}

// BatchVerifySummary counts batch results by status
// @Description Batch result counts per verification status
type BatchVerifySummary struct {
	Total         int `json:"total" example:"12"`
	Verified      int `json:"verified" example:"9"`
	NotFound      int `json:"not_found" example:"1"`
	Claimed       int `json:"claimed" example:"1"`
	Unavailable   int `json:"unavailable" example:"1"`
	NotConfigured int `json:"not_configured" example:"0"`
}

// BatchVerifyResponse represents the results of a batch verification
// @Description Batch verification results, in request order
type BatchVerifyResponse struct {
	Results []VerificationResponse `json:"results"`
	Summary BatchVerifySummary     `json:"summary"`
}

func toBatchVerifyResponse(outcomes []reconciliation.VerificationOutcome) BatchVerifyResponse {
	resp := BatchVerifyResponse{
		Results: make([]VerificationResponse, 0, len(outcomes)),
		Summary: BatchVerifySummary{Total: len(outcomes)},
	}
	for i := range outcomes {
		resp.Results = append(resp.Results, toVerificationResponse(&outcomes[i]))
		switch outcomes[i].Status {
		case reconciliation.VerificationStatusVerified:
			resp.Summary.Verified++
		case reconciliation.VerificationStatusNotFound:
			resp.Summary.NotFound++
		case reconciliation.VerificationStatusClaimed:
			resp.Summary.Claimed++
		case reconciliation.VerificationStatusNotConfigured:
			resp.Summary.NotConfigured++
		default:
			resp.Summary.Unavailable++
		}
	}
	return resp
}

// CacheStatsResponse represents verification cache counts of a store
// @Description Verification cache statistics of a store
type CacheStatsResponse struct {
	StoreID string `json:"store_id" example:"550e8400-e29b-41d4-a716-446655440001"`
	Total   int64  `json:"total" example:"120"`
	Valid   int64  `json:"valid" example:"100"`
	Expired int64  `json:"expired" example:"20"`
	TTL     string `json:"ttl" example:"24h0m0s"`
}

// CleanupResponse reports how many expired entries were deleted
// @Description Result of an expired cache cleanup
type CleanupResponse struct {
	StoreID string `json:"store_id" example:"550e8400-e29b-41d4-a716-446655440001"`
	Deleted int64  `json:"deleted" example:"20"`
}

// TriggerRunRequest represents the query of a manual run trigger
type TriggerRunRequest struct {
	Wait bool `form:"wait"`
}

// TriggerRunResponse is returned when a run was started in the background
// @Description Identifier of a reconciliation run started in the background
type TriggerRunResponse struct {
	RunID  string `json:"run_id" example:"550e8400-e29b-41d4-a716-446655440010"`
	Status string `json:"status" example:"RUNNING"`
}

// ListRunsRequest represents the query of the run history
type ListRunsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// RunItemResponse represents the result of one delivery within a run
// @Description Outcome of one delivery within a reconciliation run
type RunItemResponse struct {
	DeliveryID       string `json:"delivery_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	StoreID          string `json:"store_id" example:"550e8400-e29b-41d4-a716-446655440001"`
	BLNumber         string `json:"bl_number" example:"BL-2024-007"`
	Outcome          string `json:"outcome" example:"RECONCILED" enums:"RECONCILED,NOT_FOUND,ERROR,SKIPPED"`
	MatchType        string `json:"match_type,omitempty" example:"BL_NUMBER"`
	InvoiceReference string `json:"invoice_reference,omitempty" example:"FAC-2024-0042"`
	Error            string `json:"error,omitempty"`
}

// RunResponse represents a reconciliation run
// @Description Reconciliation run summary
type RunResponse struct {
	ID          string            `json:"id" example:"550e8400-e29b-41d4-a716-446655440010"`
	Trigger     string            `json:"trigger" example:"SCHEDULE" enums:"SCHEDULE,MANUAL"`
	Status      string            `json:"status" example:"SUCCESS" enums:"RUNNING,SUCCESS,PARTIAL,FAILED,CANCELLED"`
	StartedAt   string            `json:"started_at" example:"2024-03-01T09:00:00Z"`
	CompletedAt string            `json:"completed_at,omitempty" example:"2024-03-01T09:00:12Z"`
	Duration    string            `json:"duration" example:"12s"`
	Error       string            `json:"error,omitempty"`
	Total       int               `json:"total" example:"40"`
	Reconciled  int               `json:"reconciled" example:"31"`
	NotFound    int               `json:"not_found" example:"6"`
	Failed      int               `json:"failed" example:"1"`
	Skipped     int               `json:"skipped" example:"2"`
	Items       []RunItemResponse `json:"items,omitempty"`
}

func toRunResponse(run *scheduler.ReconciliationRun, withItems bool) RunResponse {
	resp := RunResponse{
		ID:         run.ID.String(),
		Trigger:    string(run.Trigger),
		Status:     string(run.Status),
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		Duration:   run.Duration().Round(time.Millisecond).String(),
		Error:      run.Error,
		Total:      run.Total,
		Reconciled: run.Reconciled,
		NotFound:   run.NotFound,
		Failed:     run.Failed,
		Skipped:    run.Skipped,
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	if withItems {
		resp.Items = make([]RunItemResponse, 0, len(run.Items))
		for _, item := range run.Items {
			resp.Items = append(resp.Items, RunItemResponse{
				DeliveryID:       item.DeliveryID.String(),
				StoreID:          item.StoreID.String(),
				BLNumber:         item.BLNumber,
				Outcome:          string(item.Outcome),
				MatchType:        item.MatchType.String(),
				InvoiceReference: item.InvoiceReference,
				Error:            item.Error,
			})
		}
	}
	return resp
}
