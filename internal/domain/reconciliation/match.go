package reconciliation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/reconciliation/internal/domain/shared/strategy"
)

// MatchType tells which strategy produced a result
type MatchType string

const (
	MatchTypeInvoiceRef     MatchType = "INVOICE_REF"
	MatchTypeBLNumber       MatchType = "BL_NUMBER"
	MatchTypeSupplierAmount MatchType = "SUPPLIER_AMOUNT"
	MatchTypeSupplierDate   MatchType = "SUPPLIER_DATE"
	MatchTypeNone           MatchType = "NONE"
	MatchTypeError          MatchType = "ERROR"
)

func (t MatchType) String() string {
	return string(t)
}

// IsValid returns true if the match type is known
func (t MatchType) IsValid() bool {
	switch t {
	case MatchTypeInvoiceRef, MatchTypeBLNumber, MatchTypeSupplierAmount,
		MatchTypeSupplierDate, MatchTypeNone, MatchTypeError:
		return true
	default:
		return false
	}
}

// MatchQuery holds what is known about a delivery when searching the ledger
type MatchQuery struct {
	DeliveryID       uuid.UUID
	StoreID          uuid.UUID
	InvoiceReference string
	BLNumber         string
	SupplierName     string
	Amount           *decimal.Decimal
	ReferenceDate    time.Time
}

// Key identifies the ledger lookups a query would issue. Queries with equal
// keys search the same rows; the ledger compares case-insensitively.
func (q MatchQuery) Key() string {
	fold := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	amount := ""
	if q.Amount != nil {
		amount = q.Amount.String()
	}
	date := ""
	if !q.ReferenceDate.IsZero() {
		date = q.ReferenceDate.UTC().Format(time.RFC3339Nano)
	}
	return strings.Join([]string{
		q.DeliveryID.String(),
		q.StoreID.String(),
		fold(q.InvoiceReference),
		fold(q.BLNumber),
		fold(q.SupplierName),
		amount,
		date,
	}, "\x00")
}

// MatchDiagnostics explains how a result was reached. Never persisted.
type MatchDiagnostics struct {
	Criteria     string       `json:"criteria,omitempty"`
	RowsReturned int          `json:"rows_returned"`
	MatchedRow   LedgerRecord `json:"matched_row,omitempty"`
	ErrorMessage string       `json:"error,omitempty"`
	Attempted    []MatchType  `json:"attempted,omitempty"`
	// SupplierMismatch is set when rows matched on reference but every one
	// of them failed the supplier check.
	SupplierMismatch bool `json:"supplier_mismatch"`
}

// MatchResult is the outcome of one strategy or of the whole chain
type MatchResult struct {
	Found       bool
	MatchType   MatchType
	Invoice     string
	Amount      *decimal.Decimal
	Supplier    string
	Date        *time.Time
	Err         error
	Diagnostics MatchDiagnostics
}

// MatchFromRow builds a found result from a ledger row
func MatchFromRow(t MatchType, row LedgerRow, criteria string, rows int) MatchResult {
	res := MatchResult{
		Found:     true,
		MatchType: t,
		Invoice:   row.Invoice(),
		Supplier:  row.Supplier(),
		Diagnostics: MatchDiagnostics{
			Criteria:     criteria,
			RowsReturned: rows,
			MatchedRow:   row.Record(),
		},
	}
	if amount, ok := row.Amount(); ok {
		res.Amount = &amount
	}
	if date, ok := row.Date(); ok {
		res.Date = &date
	}
	return res
}

// NoMatch is the result of an exhausted chain
func NoMatch(attempted []MatchType) MatchResult {
	return MatchResult{
		MatchType:   MatchTypeNone,
		Diagnostics: MatchDiagnostics{Attempted: attempted},
	}
}

// FailedMatch is the result of a chain aborted by err
func FailedMatch(err error, attempted []MatchType) MatchResult {
	return MatchResult{
		MatchType: MatchTypeError,
		Err:       err,
		Diagnostics: MatchDiagnostics{
			ErrorMessage: err.Error(),
			Attempted:    attempted,
		},
	}
}

// MatchingStrategy is one step of the matching chain
type MatchingStrategy interface {
	strategy.Strategy

	// MatchType is reported on results found by this strategy
	MatchType() MatchType

	// Applicable reports whether the query and the store's column mapping
	// carry the inputs this strategy needs
	Applicable(cfg *StoreLedgerConfig, q MatchQuery) bool

	// Attempt queries the ledger once. A ledger failure is returned in
	// MatchResult.Err; a miss is Found=false with a nil Err.
	Attempt(ctx context.Context, cfg *StoreLedgerConfig, q MatchQuery) MatchResult
}
