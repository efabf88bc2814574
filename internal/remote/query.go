package remote

import (
	"fmt"
	"strconv"
	"time"
)

// Op is a column comparison understood by every data backend
type Op string

const (
	OpEq  Op = "eq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Filter is one column comparison
type Filter struct {
	Column string
	Op     Op
	Value  interface{}
}

// String renders the filter the way change-feed subscriptions expect it, e.g. "user_id=eq.5"
func (f Filter) String() string {
	return f.Column + "=" + string(f.Op) + "." + FormatValue(f.Value)
}

// Order is a single-column sort
type Order struct {
	Column    string
	Ascending bool
}

// Query describes a table read (or the row set an update/delete applies to).
// Builder methods return a modified copy so a base query can be shared.
type Query struct {
	Table   string
	Filters []Filter
	Order   *Order
	Limit   int
}

// From starts a query against table
func From(table string) Query {
	return Query{Table: table}
}

func (q Query) where(col string, op Op, v interface{}) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Column: col, Op: op, Value: v})
	return q
}

func (q Query) Eq(col string, v interface{}) Query  { return q.where(col, OpEq, v) }
func (q Query) Gt(col string, v interface{}) Query  { return q.where(col, OpGt, v) }
func (q Query) Gte(col string, v interface{}) Query { return q.where(col, OpGte, v) }
func (q Query) Lt(col string, v interface{}) Query  { return q.where(col, OpLt, v) }
func (q Query) Lte(col string, v interface{}) Query { return q.where(col, OpLte, v) }

// OrderBy sets the sort column and direction
func (q Query) OrderBy(col string, ascending bool) Query {
	q.Order = &Order{Column: col, Ascending: ascending}
	return q
}

// WithLimit caps the row count; n <= 0 means no limit
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Validate rejects queries a backend cannot execute
func (q Query) Validate() error {
	if q.Table == "" {
		return fmt.Errorf("query has no table")
	}
	for _, f := range q.Filters {
		if f.Column == "" {
			return fmt.Errorf("filter on %s has no column", q.Table)
		}
		switch f.Op {
		case OpEq, OpGt, OpGte, OpLt, OpLte:
		default:
			return fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	return nil
}

// FormatValue renders a filter value as backends expect it in a URL or change filter
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return "null"
		}
		return x.UTC().Format(time.RFC3339Nano)
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return "null"
	default:
		return fmt.Sprint(x)
	}
}
