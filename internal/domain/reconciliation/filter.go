package reconciliation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FilterOp is a comparison supported by the ledger's where-clause dialect
type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpLike FilterOp = "like"
	OpGte  FilterOp = "gte"
	OpLte  FilterOp = "lte"
)

// Condition is a single column comparison
type Condition struct {
	Column string
	Op     FilterOp
	// Sub is the optional comparison sub-operator, e.g. exactDate
	Sub   string
	Value string
}

// String renders the condition as (column,op[,sub],value)
func (c Condition) String() string {
	parts := []string{c.Column, string(c.Op)}
	if c.Sub != "" {
		parts = append(parts, c.Sub)
	}
	parts = append(parts, c.Value)
	return "(" + strings.Join(parts, ",") + ")"
}

// Filter is a conjunction of conditions
type Filter []Condition

// String renders the filter in the ledger's where syntax
func (f Filter) String() string {
	parts := make([]string, len(f))
	for i, c := range f {
		parts[i] = c.String()
	}
	return strings.Join(parts, "~and")
}

// The where dialect has no escaping; separators inside a like value become
// single-character wildcards.
var likeReplacer = strings.NewReplacer(",", "_", "(", "_", ")", "_", "~", "_")

// Eq matches column values equal to value
func Eq(column, value string) Condition {
	return Condition{Column: column, Op: OpEq, Value: value}
}

// Like matches column values case-insensitively against pattern; % is a
// wildcard. Without wildcards it behaves as case-insensitive equality.
func Like(column, pattern string) Condition {
	return Condition{Column: column, Op: OpLike, Value: likeReplacer.Replace(pattern)}
}

// AmountBetween matches amounts in the closed range [min, max]
func AmountBetween(column string, min, max decimal.Decimal) []Condition {
	return []Condition{
		{Column: column, Op: OpGte, Value: min.String()},
		{Column: column, Op: OpLte, Value: max.String()},
	}
}

// DateBetween matches dates in the closed range [from, to], compared by day
func DateBetween(column string, from, to time.Time) []Condition {
	return []Condition{
		{Column: column, Op: OpGte, Sub: "exactDate", Value: from.UTC().Format(time.DateOnly)},
		{Column: column, Op: OpLte, Sub: "exactDate", Value: to.UTC().Format(time.DateOnly)},
	}
}
