package datastore

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var ErrQueryFrozen = errors.New("query is frozen")

type FilterOperator int

const (
	Equal FilterOperator = iota
	NotEqual
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	In
)

func (op FilterOperator) String() string {
	switch op {
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	case In:
		return "IN"
	}
	return fmt.Sprintf("FilterOperator(%d)", int(op))
}

type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

func (dir SortDirection) String() string {
	if dir == Descending {
		return "DESC"
	}
	return "ASC"
}

type FilterPredicate struct {
	Property string
	Operator FilterOperator
	Value    Value
}

func (f FilterPredicate) String() string {
	return fmt.Sprintf("%s %s %s", f.Property, f.Operator, f.Value)
}

type SortPredicate struct {
	Property  string
	Direction SortDirection
}

func (s SortPredicate) String() string {
	return fmt.Sprintf("%s %s", s.Property, s.Direction)
}

// Query is a native query over a single kind. It is built up by a single owner and then
// frozen, after which every mutator fails with ErrQueryFrozen.
type Query struct {
	kind     string
	filters  []FilterPredicate
	sorts    []SortPredicate
	ancestor *Key
	keysOnly bool
	frozen   bool
}

func NewQuery(kind string) *Query {
	return &Query{
		kind: kind,
	}
}

func (q *Query) AddFilter(property string, op FilterOperator, value Value) error {
	if q.frozen {
		return ErrQueryFrozen
	}
	if op == In && value.TypeID != TypeIDList {
		return errors.Errorf("IN filter on property %s requires a list value, got %s", property, value.TypeID)
	}
	if op != In && value.TypeID == TypeIDList {
		return errors.Errorf("%s filter on property %s can't hold a list value", op, property)
	}
	q.filters = append(q.filters, FilterPredicate{
		Property: property,
		Operator: op,
		Value:    value,
	})
	return nil
}

func (q *Query) AddSort(property string, direction SortDirection) error {
	if q.frozen {
		return ErrQueryFrozen
	}
	q.sorts = append(q.sorts, SortPredicate{
		Property:  property,
		Direction: direction,
	})
	return nil
}

func (q *Query) SetAncestor(ancestor *Key) error {
	if q.frozen {
		return ErrQueryFrozen
	}
	q.ancestor = ancestor
	return nil
}

func (q *Query) SetKeysOnly() error {
	if q.frozen {
		return ErrQueryFrozen
	}
	q.keysOnly = true
	return nil
}

// Freeze ends the build phase of the query.
func (q *Query) Freeze() {
	q.frozen = true
}

func (q *Query) Frozen() bool {
	return q.frozen
}

func (q *Query) Kind() string {
	return q.kind
}

func (q *Query) Filters() []FilterPredicate {
	out := make([]FilterPredicate, len(q.filters))
	copy(out, q.filters)
	return out
}

func (q *Query) Sorts() []SortPredicate {
	out := make([]SortPredicate, len(q.sorts))
	copy(out, q.sorts)
	return out
}

func (q *Query) Ancestor() *Key {
	return q.ancestor
}

func (q *Query) KeysOnly() bool {
	return q.keysOnly
}

// HasSort reports whether the query is already sorted by the given property, in any direction.
func (q *Query) HasSort(property string) bool {
	for i := range q.sorts {
		if q.sorts[i].Property == property {
			return true
		}
	}
	return false
}

func (q *Query) String() string {
	builder := &strings.Builder{}
	builder.WriteString("SELECT ")
	if q.keysOnly {
		builder.WriteString("__key__")
	} else {
		builder.WriteString("*")
	}
	builder.WriteString(" FROM ")
	builder.WriteString(q.kind)

	if len(q.filters) > 0 || q.ancestor != nil {
		builder.WriteString(" WHERE ")
		for i, f := range q.filters {
			if i != 0 {
				builder.WriteString(" AND ")
			}
			builder.WriteString(f.String())
		}
		if q.ancestor != nil {
			if len(q.filters) > 0 {
				builder.WriteString(" AND ")
			}
			builder.WriteString("__ancestor__ is ")
			builder.WriteString(q.ancestor.String())
		}
	}

	if len(q.sorts) > 0 {
		builder.WriteString(" ORDER BY ")
		for i, s := range q.sorts {
			if i != 0 {
				builder.WriteString(", ")
			}
			builder.WriteString(s.String())
		}
	}

	return builder.String()
}
