package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
)

// RunStatus is the final status of a reconciliation run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSuccess   RunStatus = "SUCCESS"
	RunStatusPartial   RunStatus = "PARTIAL"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// RunTrigger tells what started a run
type RunTrigger string

const (
	RunTriggerSchedule RunTrigger = "SCHEDULE"
	RunTriggerManual   RunTrigger = "MANUAL"
)

// DeliveryOutcome is what a run did with one delivery
type DeliveryOutcome string

const (
	DeliveryOutcomeReconciled DeliveryOutcome = "RECONCILED"
	DeliveryOutcomeNotFound   DeliveryOutcome = "NOT_FOUND"
	DeliveryOutcomeError      DeliveryOutcome = "ERROR"
	DeliveryOutcomeSkipped    DeliveryOutcome = "SKIPPED"
)

// RunItem is the result of one delivery within a run
type RunItem struct {
	DeliveryID       uuid.UUID                `json:"delivery_id"`
	StoreID          uuid.UUID                `json:"store_id"`
	BLNumber         string                   `json:"bl_number"`
	Outcome          DeliveryOutcome          `json:"outcome"`
	MatchType        reconciliation.MatchType `json:"match_type,omitempty"`
	InvoiceReference string                   `json:"invoice_reference,omitempty"`
	Error            string                   `json:"error,omitempty"`
}

// ReconciliationRun summarizes one pass over the pending deliveries
type ReconciliationRun struct {
	ID          uuid.UUID  `json:"id"`
	Trigger     RunTrigger `json:"trigger"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	Total      int       `json:"total"`
	Reconciled int       `json:"reconciled"`
	NotFound   int       `json:"not_found"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Items      []RunItem `json:"items"`
}

// NewReconciliationRun starts a run record
func NewReconciliationRun(trigger RunTrigger, now time.Time) *ReconciliationRun {
	return &ReconciliationRun{
		ID:        uuid.New(),
		Trigger:   trigger,
		Status:    RunStatusRunning,
		StartedAt: now.UTC(),
		Items:     []RunItem{},
	}
}

// Add records one delivery's outcome
func (r *ReconciliationRun) Add(item RunItem) {
	r.Items = append(r.Items, item)
	switch item.Outcome {
	case DeliveryOutcomeReconciled:
		r.Reconciled++
	case DeliveryOutcomeNotFound:
		r.NotFound++
	case DeliveryOutcomeError:
		r.Failed++
	case DeliveryOutcomeSkipped:
		r.Skipped++
	}
}

// Complete closes the run. A run where every attempted delivery failed is
// FAILED; one with some failures is PARTIAL.
func (r *ReconciliationRun) Complete(now time.Time) {
	at := now.UTC()
	r.CompletedAt = &at
	switch {
	case r.Failed == 0:
		r.Status = RunStatusSuccess
	case r.Reconciled+r.NotFound > 0:
		r.Status = RunStatusPartial
	default:
		r.Status = RunStatusFailed
	}
}

// Fail closes a run that could not proceed
func (r *ReconciliationRun) Fail(err error, now time.Time) {
	at := now.UTC()
	r.CompletedAt = &at
	r.Status = RunStatusFailed
	r.Error = err.Error()
}

// Cancel closes a run interrupted by shutdown
func (r *ReconciliationRun) Cancel(now time.Time) {
	at := now.UTC()
	r.CompletedAt = &at
	r.Status = RunStatusCancelled
}

// Duration is how long the run took, zero while running
func (r *ReconciliationRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// clone returns a deep copy safe to hand out of the history
func (r *ReconciliationRun) clone() *ReconciliationRun {
	c := *r
	c.Items = append([]RunItem(nil), r.Items...)
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
