package query

import (
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/expression"
)

type Strategy int

const (
	DirectScan Strategy = iota
	BatchLookup
	MergeJoin
)

func (s Strategy) String() string {
	switch s {
	case DirectScan:
		return "direct scan"
	case BatchLookup:
		return "batch lookup"
	case MergeJoin:
		return "merge join"
	}
	return "unknown"
}

type Plan struct {
	Strategy Strategy
	// BulkDelete deletes the identified entities instead of returning them.
	BulkDelete bool
}

// Select chooses how to execute a compiled query.
// Keys are looked up directly only if the primary key IN filter is the only filter and nothing is sorted.
func Select(qd *QueryData) Plan {
	plan := Plan{
		Strategy:   DirectScan,
		BulkDelete: qd.QueryType == expression.QueryTypeBulkDelete,
	}
	switch {
	case qd.BatchKeys != nil && len(qd.Query.Filters()) == 1 && len(qd.Query.Sorts()) == 0:
		plan.Strategy = BatchLookup
	case qd.JoinQuery != nil:
		plan.Strategy = MergeJoin
	}
	return plan
}
