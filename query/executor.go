package query

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/expression"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/query/cache"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/query/join"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/query/lazy"
)

// Executor runs compiled queries against a datastore.
type Executor struct {
	Service datastore.Service
	// Materializer turns entities into result objects. Without one, results are the entities themselves.
	Materializer Materializer
	// KeyCache, if set, receives the result keys of every fully read result.
	// Deletes invalidate its entries if it implements InvalidateKeys.
	KeyCache lazy.KeySink
	// AccurateDeleteCount makes batch deletes count the keys which actually exist.
	AccurateDeleteCount bool
	ChunkSize           int
	Logger              logrus.FieldLogger
}

// keyInvalidator is implemented by key sinks which can drop the cached results of deleted keys.
type keyInvalidator interface {
	InvalidateKeys(keys []*datastore.Key)
}

func (e *Executor) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// Execute runs a select query. Results are read from the datastore as they are accessed.
// Ancestor queries run in the given transaction, unless excluded from it.
func (e *Executor) Execute(ctx context.Context, txn datastore.Transaction, qd *QueryData, params expression.Parameters) (*lazy.StreamingResult[interface{}], error) {
	plan := Select(qd)
	if plan.BulkDelete {
		return nil, errors.New("bulk delete queries have to be run with Delete")
	}
	e.logger().WithFields(logrus.Fields{
		"plan": plan.Strategy.String(),
		"kind": qd.Query.Kind(),
	}).Debug("executing query")

	it, err := e.iterator(ctx, txn, qd, plan)
	if err != nil {
		return nil, err
	}

	var cacheKey string
	if e.KeyCache != nil {
		cacheKey = cache.CacheKey(qd.String(), params)
	}
	var opts []lazy.Option
	if endCursorSupported(qd, plan) {
		opts = append(opts, lazy.WithCursor(qd.StartCursor, qd.Query.Sorts()))
	}
	return lazy.NewStreaming[interface{}](it, qd.transformer(e.Materializer), e.KeyCache, cacheKey, opts...), nil
}

// endCursorSupported reports whether results of the query expose an end cursor.
// That is the case for limited scans whose entities carry the sorted properties.
func endCursorSupported(qd *QueryData, plan Plan) bool {
	if plan.Strategy != DirectScan || qd.Range == nil || qd.Range.ToExcl == expression.NoUpperBound {
		return false
	}
	return !qd.Query.KeysOnly() || len(qd.Query.Sorts()) == 0
}

// Delete runs a bulk delete query and returns the number of deleted entities.
// Entities removed concurrently between the scan and the delete are still counted.
func (e *Executor) Delete(ctx context.Context, txn datastore.Transaction, qd *QueryData) (int, error) {
	plan := Select(qd)
	if !plan.BulkDelete {
		return 0, errors.New("only bulk delete queries can be run with Delete")
	}
	e.logger().WithFields(logrus.Fields{
		"plan": plan.Strategy.String(),
		"kind": qd.Query.Kind(),
	}).Debug("executing bulk delete")

	var keys []*datastore.Key
	var count int
	switch plan.Strategy {
	case BatchLookup:
		keys = uniqueKeys(qd.BatchKeys)
		count = len(keys)
		if e.AccurateDeleteCount {
			entities, err := e.lookup(ctx, txn, qd)
			if err != nil {
				return 0, err
			}
			keys = keys[:0]
			for _, entity := range entities {
				keys = append(keys, entity.Key)
			}
			count = len(keys)
		}

	default:
		it, err := e.iterator(ctx, txn, qd, plan)
		if err != nil {
			return 0, err
		}
		if keys, err = datastore.DrainKeys(it); err != nil {
			return 0, errors.Wrap(err, "couldn't read keys to delete")
		}
		count = len(keys)
	}

	if len(keys) > 0 {
		if err := e.Service.Delete(ctx, txn, keys); err != nil {
			return 0, errors.Wrap(translateError(err), "couldn't delete entities")
		}
		if invalidator, ok := e.KeyCache.(keyInvalidator); ok {
			invalidator.InvalidateKeys(keys)
		}
	}
	return count, nil
}

func (e *Executor) iterator(ctx context.Context, txn datastore.Transaction, qd *QueryData, plan Plan) (datastore.Iterator, error) {
	opts := fetchOptions(qd.Range, e.ChunkSize)
	if qd.StartCursor != nil && plan.Strategy != DirectScan {
		return nil, errors.Errorf("cursors can't be used with a %s", plan.Strategy)
	}
	opts.StartCursor = qd.StartCursor

	switch plan.Strategy {
	case BatchLookup:
		entities, err := e.lookup(ctx, txn, qd)
		if err != nil {
			return nil, err
		}
		entities = datastore.ApplyFetchOptions(entities, opts)
		if qd.Query.KeysOnly() {
			for i := range entities {
				entities[i] = entities[i].KeysOnly()
			}
		}
		return datastore.NewSliceIterator(entities), nil

	case MergeJoin:
		// Offset and limit can't be pushed into either side of the join.
		scanOpts := fetchOptions(nil, e.ChunkSize)
		parents, err := e.Service.Prepare(ctx, nil, qd.Query, scanOpts)
		if err != nil {
			return nil, errors.Wrap(translateError(err), "couldn't prepare query")
		}
		children, err := e.Service.Prepare(ctx, nil, qd.JoinQuery, scanOpts)
		if err != nil {
			parents.Close()
			return nil, errors.Wrap(translateError(err), "couldn't prepare join query")
		}
		merge := join.NewMergeJoin(
			&translatingIterator{Iterator: parents},
			&translatingIterator{Iterator: children},
			qd.JoinSortProperty,
		)
		return join.NewSlice(merge, opts.Offset, opts.Limit), nil
	}

	it, err := e.Service.Prepare(ctx, scanTransaction(txn, qd), qd.Query, opts)
	if err != nil {
		return nil, errors.Wrap(translateError(err), "couldn't prepare query")
	}
	return &translatingIterator{Iterator: it}, nil
}

// lookup gets the batch keys of the query in their order, skipping missing entities
// and entities outside of the ancestor.
func (e *Executor) lookup(ctx context.Context, txn datastore.Transaction, qd *QueryData) ([]*datastore.Entity, error) {
	keys := uniqueKeys(qd.BatchKeys)
	entities, err := e.Service.Get(ctx, txn, keys)
	if err != nil {
		return nil, errors.Wrap(translateError(err), "couldn't get entities")
	}

	ancestor := qd.Query.Ancestor()
	out := make([]*datastore.Entity, 0, len(entities))
	for _, entity := range entities {
		if entity == nil {
			continue
		}
		if ancestor != nil && !entity.Key.HasAncestor(ancestor) {
			continue
		}
		out = append(out, entity)
	}
	return out, nil
}

func scanTransaction(txn datastore.Transaction, qd *QueryData) datastore.Transaction {
	if qd.Query.Ancestor() == nil || qd.ExcludeFromTransaction {
		return nil
	}
	return txn
}

func uniqueKeys(keys []*datastore.Key) []*datastore.Key {
	seen := make(map[string]bool, len(keys))
	out := make([]*datastore.Key, 0, len(keys))
	for _, key := range keys {
		encoded := string(key.Marshal())
		if seen[encoded] {
			continue
		}
		seen[encoded] = true
		out = append(out, key)
	}
	return out
}

// fetchOptions translates a query range into offset and limit.
func fetchOptions(r *expression.Range, chunkSize int) datastore.FetchOptions {
	opts := datastore.DefaultFetchOptions()
	opts.ChunkSize = chunkSize
	if r == nil {
		return opts
	}
	opts.Offset = int(r.FromIncl)
	if r.ToExcl != expression.NoUpperBound {
		limit := r.ToExcl - r.FromIncl
		if limit < 0 {
			limit = 0
		}
		opts.Limit = int(limit)
	}
	return opts
}
