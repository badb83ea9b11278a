package expression

import (
	"strconv"
)

type QueryType int

const (
	QueryTypeSelect QueryType = iota
	QueryTypeBulkDelete
)

func (t QueryType) String() string {
	if t == QueryTypeBulkDelete {
		return "DELETE"
	}
	return "SELECT"
}

// Language is the query language a compilation came from. It only changes
// details like the wildcard accepted by matches().
type Language int

const (
	LanguageJDOQL Language = iota
	LanguageJPQL
)

type JoinType int

const (
	JoinInner JoinType = iota
	JoinInnerFetch
	JoinLeftOuter
	JoinLeftOuterFetch
)

// Join is a from-clause join like "JOIN o.customer c". Path is the related member on the
// candidate, Alias names the joined object in the filter. Class may be left empty, in which
// case the related class of the member is used.
type Join struct {
	Type  JoinType
	Path  *Expression
	Alias string
	Class string
}

type Direction int

const (
	Ascending Direction = iota
	Descending
)

type Ordering struct {
	Expression *Expression
	Direction  Direction
}

// NoUpperBound marks a range without an upper bound.
const NoUpperBound = -1

// Range selects the results with indices in [FromIncl, ToExcl).
type Range struct {
	FromIncl int64
	ToExcl   int64
}

// ExtensionCursor is the extension holding the start cursor of a query,
// either a *datastore.Cursor or its encoded string.
const ExtensionCursor = "cursor"

// Compilation is a generic compiled object query.
type Compilation struct {
	Type           QueryType
	Language       Language
	CandidateClass string
	CandidateAlias string
	// Subclasses includes instances of subclasses of the candidate class.
	Subclasses bool
	From       []Join
	// Variables declares explicit variables by name and class.
	Variables map[string]string
	Filter    *Expression
	Ordering  []Ordering
	// Result is the projection. Empty means the candidate objects themselves.
	Result     []*Expression
	Range      *Range
	Subqueries []string
	// ExcludeFromTransaction runs ancestor queries outside the current transaction.
	ExcludeFromTransaction bool
	// Extensions holds store specific settings, see ExtensionCursor.
	Extensions map[string]interface{}
}

// SymbolClass returns the class bound to an alias or variable.
func (c *Compilation) SymbolClass(symbol string) (string, bool) {
	if symbol == "" {
		return "", false
	}
	if symbol == c.CandidateAlias {
		return c.CandidateClass, true
	}
	if class, ok := c.Variables[symbol]; ok {
		return class, true
	}
	for i := range c.From {
		if c.From[i].Alias == symbol {
			return c.From[i].Class, true
		}
	}
	return "", false
}

// Parameters holds bound parameter values. Positional parameters are stored under their decimal position.
type Parameters map[string]interface{}

// Lookup finds the value of a parameter, first by name, then by its position.
func (p Parameters) Lookup(param *Parameter) (interface{}, bool) {
	if param.Name != "" {
		if v, ok := p[param.Name]; ok {
			return v, true
		}
	}
	v, ok := p[strconv.Itoa(param.Position)]
	return v, ok
}
