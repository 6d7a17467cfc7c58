package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerConnection is a ledger endpoint and its credentials
type LedgerConnection struct {
	ID       uuid.UUID
	Name     string
	BaseURL  string
	APIToken string
	// Timeout overrides the client default when positive
	Timeout time.Duration
}

// ColumnMapping names the ledger columns holding each field. DateColumn is
// optional; without it date matching has no server-side window.
type ColumnMapping struct {
	InvoiceColumn  string
	BLNumberColumn string
	AmountColumn   string
	SupplierColumn string
	DateColumn     string
}

// Validate checks that every required column is mapped
func (m ColumnMapping) Validate() error {
	required := []struct {
		name, value string
	}{
		{"invoice column", m.InvoiceColumn},
		{"BL number column", m.BLNumberColumn},
		{"amount column", m.AmountColumn},
		{"supplier column", m.SupplierColumn},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s is not mapped", ErrNotConfigured, r.name)
		}
	}
	return nil
}

// StoreLedgerConfig binds a store to a ledger table
type StoreLedgerConfig struct {
	StoreID    uuid.UUID
	Connection *LedgerConnection
	TableID    string
	Columns    ColumnMapping
}

// Validate returns an error wrapping ErrNotConfigured when the store cannot
// be reconciled. A nil config is not configured.
func (c *StoreLedgerConfig) Validate() error {
	if c == nil {
		return ErrNotConfigured
	}
	if c.Connection == nil {
		return fmt.Errorf("%w: no ledger connection", ErrNotConfigured)
	}
	if strings.TrimSpace(c.Connection.BaseURL) == "" {
		return fmt.Errorf("%w: ledger endpoint is empty", ErrNotConfigured)
	}
	if strings.TrimSpace(c.Connection.APIToken) == "" {
		return fmt.Errorf("%w: ledger token is empty", ErrNotConfigured)
	}
	if strings.TrimSpace(c.TableID) == "" {
		return fmt.Errorf("%w: ledger table is empty", ErrNotConfigured)
	}
	return c.Columns.Validate()
}

// LedgerRecord is one opaque ledger row keyed by column name
type LedgerRecord map[string]any

// LedgerRow reads a LedgerRecord through a column mapping. Columns outside
// the mapping are never read.
type LedgerRow struct {
	record  LedgerRecord
	columns ColumnMapping
}

// NewLedgerRow binds a record to a mapping
func NewLedgerRow(record LedgerRecord, columns ColumnMapping) LedgerRow {
	return LedgerRow{record: record, columns: columns}
}

func (r LedgerRow) Invoice() string  { return r.text(r.columns.InvoiceColumn) }
func (r LedgerRow) BLNumber() string { return r.text(r.columns.BLNumberColumn) }
func (r LedgerRow) Supplier() string { return r.text(r.columns.SupplierColumn) }

// Amount parses the amount column
func (r LedgerRow) Amount() (decimal.Decimal, bool) {
	switch v := r.value(r.columns.AmountColumn).(type) {
	case nil:
		return decimal.Zero, false
	case float64:
		return decimal.NewFromFloat(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	default:
		d, err := decimal.NewFromString(normalizeAmount(fmt.Sprint(v)))
		return d, err == nil
	}
}

// normalizeAmount turns "1 234,50", "1.234,50" and "1,234.50" into "1234.50"
func normalizeAmount(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma > dot && strings.Count(s, ",") == 1:
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	default:
		return strings.ReplaceAll(s, ",", "")
	}
}

var ledgerDateLayouts = []string{
	time.RFC3339,
	time.DateTime,
	time.DateOnly,
	"02/01/2006",
}

// Date parses the date column when one is mapped. Dates without a zone are
// read as UTC.
func (r LedgerRow) Date() (time.Time, bool) {
	if r.columns.DateColumn == "" {
		return time.Time{}, false
	}
	s := r.text(r.columns.DateColumn)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range ledgerDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Record returns only the mapped columns of the row, for diagnostics
func (r LedgerRow) Record() LedgerRecord {
	out := LedgerRecord{}
	for _, col := range []string{
		r.columns.InvoiceColumn, r.columns.BLNumberColumn, r.columns.AmountColumn,
		r.columns.SupplierColumn, r.columns.DateColumn,
	} {
		if v, ok := r.record[col]; ok && col != "" {
			out[col] = v
		}
	}
	return out
}

func (r LedgerRow) value(column string) any {
	if column == "" || r.record == nil {
		return nil
	}
	return r.record[column]
}

func (r LedgerRow) text(column string) string {
	switch v := r.value(column).(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// LedgerClient queries a store's ledger table. Implementations perform
// exactly one request per call and never retry.
type LedgerClient interface {
	FetchRows(ctx context.Context, cfg *StoreLedgerConfig, filter Filter) ([]LedgerRecord, error)
}

// StoreLedgerConfigRepository loads per-store ledger configuration
type StoreLedgerConfigRepository interface {
	// FindByStoreID returns an error wrapping ErrNotConfigured when the store
	// has no ledger configuration.
	FindByStoreID(ctx context.Context, storeID uuid.UUID) (*StoreLedgerConfig, error)
}
