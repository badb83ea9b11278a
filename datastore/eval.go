package datastore

import (
	"sort"
)

// Matches reports whether the entity satisfies every filter and the ancestor constraint of the query.
// A multi-valued property satisfies a filter when any of its elements does.
// Entities lacking a filtered or sorted property never match, like in an index-backed store.
func Matches(e *Entity, q *Query) bool {
	if q.ancestor != nil && !e.Key.HasAncestor(q.ancestor) {
		return false
	}

	for i := range q.filters {
		value, ok := e.Property(q.filters[i].Property)
		if !ok {
			return false
		}
		if !anyElement(value, func(elem Value) bool { return matchesFilter(elem, &q.filters[i]) }) {
			return false
		}
	}

	for i := range q.sorts {
		if _, ok := e.Property(q.sorts[i].Property); !ok {
			return false
		}
	}

	return true
}

func anyElement(value Value, pred func(Value) bool) bool {
	if value.TypeID != TypeIDList {
		return pred(value)
	}
	for _, elem := range value.List {
		if pred(elem) {
			return true
		}
	}
	return false
}

func matchesFilter(value Value, f *FilterPredicate) bool {
	switch f.Operator {
	case Equal:
		return value.Compare(f.Value) == 0
	case NotEqual:
		return value.Compare(f.Value) != 0
	case LessThan:
		return value.Compare(f.Value) < 0
	case LessThanOrEqual:
		return value.Compare(f.Value) <= 0
	case GreaterThan:
		return value.Compare(f.Value) > 0
	case GreaterThanOrEqual:
		return value.Compare(f.Value) >= 0
	case In:
		for _, candidate := range f.Value.List {
			if value.Compare(candidate) == 0 {
				return true
			}
		}
		return false
	default:
		panic("unexhaustive filter operator match")
	}
}

// SortEntities orders entities by the query sorts, falling back to ascending key order.
// A multi-valued property sorts by its smallest element ascending and its largest descending.
func SortEntities(entities []*Entity, sorts []SortPredicate) {
	sort.SliceStable(entities, func(i, j int) bool {
		return CompareEntities(entities[i], entities[j], sorts) < 0
	})
}

func CompareEntities(a, b *Entity, sorts []SortPredicate) int {
	for _, s := range sorts {
		aValue, _ := a.Property(s.Property)
		bValue, _ := b.Property(s.Property)
		cmp := sortValue(aValue, s.Direction).Compare(sortValue(bValue, s.Direction))
		if cmp == 0 {
			continue
		}
		if s.Direction == Descending {
			return -cmp
		}
		return cmp
	}
	return a.Key.Compare(b.Key)
}

func sortValue(value Value, direction SortDirection) Value {
	if value.TypeID != TypeIDList || len(value.List) == 0 {
		return value
	}
	out := value.List[0]
	for _, elem := range value.List[1:] {
		cmp := elem.Compare(out)
		if (direction == Ascending && cmp < 0) || (direction == Descending && cmp > 0) {
			out = elem
		}
	}
	return out
}

// Project shapes a matching entity the way the query asks for it.
func Project(e *Entity, q *Query) *Entity {
	if q.keysOnly {
		return e.KeysOnly()
	}
	return e.Clone()
}
