package query

import (
	"strconv"
	"strings"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/expression"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/metadata"
)

type ResultType int

const (
	ResultTypeEntity ResultType = iota
	ResultTypeKeysOnly
)

func (t ResultType) String() string {
	if t == ResultTypeKeysOnly {
		return "keys only"
	}
	return "entity"
}

// QueryData is the state of one query compilation.
// The compiler is its only writer, the native queries are frozen once compilation succeeds.
type QueryData struct {
	Class *metadata.Class
	Query *datastore.Query

	// JoinQuery is the keys-only query on the joined class, nil without a join.
	JoinQuery        *datastore.Query
	JoinClass        *metadata.Class
	JoinVariable     string
	JoinSortProperty string

	// BatchKeys holds the keys of a primary key IN filter, nil if there is none.
	BatchKeys []*datastore.Key

	QueryType              expression.QueryType
	ResultType             ResultType
	Count                  bool
	Projection             []string
	Range                  *expression.Range
	ExcludeFromTransaction bool
	// StartCursor continues the results of an earlier execution, nil to start from the beginning.
	StartCursor *datastore.Cursor

	// FilterComplete and OrderComplete are false if the in-memory fallback dropped a filter or a sort.
	FilterComplete bool
	OrderComplete  bool

	insideOr   bool
	orProperty string
	orFilters  orAccumulator
}

// orAccumulator collects the values of equality filters joined by 'or', per property in insertion order.
type orAccumulator struct {
	properties []string
	values     map[string][]datastore.Value
}

func (acc *orAccumulator) add(property string, values ...datastore.Value) {
	if acc.values == nil {
		acc.values = make(map[string][]datastore.Value)
	}
	if _, ok := acc.values[property]; !ok {
		acc.properties = append(acc.properties, property)
	}
	acc.values[property] = append(acc.values[property], values...)
}

func (qd *QueryData) String() string {
	var sb strings.Builder
	sb.WriteString(qd.Query.String())
	if qd.JoinQuery != nil {
		sb.WriteString(" JOIN ")
		sb.WriteString(qd.JoinQuery.String())
		sb.WriteString(" ON ")
		sb.WriteString(qd.JoinSortProperty)
	}
	if qd.Range != nil {
		sb.WriteString(" RANGE ")
		sb.WriteString(rangeString(qd.Range))
	}
	if qd.StartCursor != nil {
		sb.WriteString(" CURSOR ")
		sb.WriteString(qd.StartCursor.Encode())
	}
	if !qd.FilterComplete {
		sb.WriteString(" (incomplete filter)")
	}
	if !qd.OrderComplete {
		sb.WriteString(" (incomplete order)")
	}
	return sb.String()
}

func rangeString(r *expression.Range) string {
	opts := fetchOptions(r, 0)
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(opts.Offset))
	sb.WriteString(",")
	if opts.Limit == datastore.NoLimit {
		sb.WriteString("*")
	} else {
		sb.WriteString(strconv.Itoa(opts.Offset + opts.Limit))
	}
	return sb.String()
}
