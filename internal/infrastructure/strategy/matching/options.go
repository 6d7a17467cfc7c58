// Package matching provides the ledger matching strategies, one per way of
// locating a delivery's invoice row.
package matching

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	NameInvoiceReference = "invoice_reference"
	NameBLNumber         = "bl_number"
	NameSupplierAmount   = "supplier_amount"
	NameSupplierDate     = "supplier_date"
)

// Options tunes the fuzzy strategies
type Options struct {
	// AmountTolerance is the accepted absolute amount difference. Default: 0.01
	AmountTolerance decimal.Decimal
	// DateWindow is the accepted distance from the reference date. Default: 7 days
	DateWindow time.Duration
	// Now supplies the reference date when a query has none
	Now func() time.Time
}

// DefaultOptions returns the standard tolerances
func DefaultOptions() Options {
	return Options{
		AmountTolerance: decimal.NewFromFloat(0.01),
		DateWindow:      7 * 24 * time.Hour,
		Now:             time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AmountTolerance.IsPositive() {
		d.AmountTolerance = o.AmountTolerance
	}
	if o.DateWindow > 0 {
		d.DateWindow = o.DateWindow
	}
	if o.Now != nil {
		d.Now = o.Now
	}
	return d
}
