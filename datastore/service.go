package datastore

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

var (
	ErrEndOfIterator   = errors.New("end of iterator")
	ErrNotFound        = errors.New("entity not found")
	ErrIllegalArgument = errors.New("illegal argument")
	ErrTimeout         = errors.New("datastore timeout")
)

// Iterator is a forward-only cursor over query results.
// Next returns ErrEndOfIterator once the results are exhausted.
type Iterator interface {
	Next() (*Entity, error)
	io.Closer
}

// NoLimit disables the limit of a FetchOptions.
const NoLimit = -1

type FetchOptions struct {
	// StartCursor, if set, starts the results after the cursor position. Offset is applied after it.
	StartCursor *Cursor
	Offset      int
	Limit       int
	ChunkSize   int
}

func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		Limit: NoLimit,
	}
}

// Check validates the options against the query they are used with.
func (opts FetchOptions) Check(q *Query) error {
	if opts.StartCursor == nil {
		return nil
	}
	return errors.Wrap(opts.StartCursor.Check(q.Sorts()), "invalid start cursor")
}

// Transaction groups writes. A nil Transaction means the operation runs on its own.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Service is the native store client.
// Queries with no sort predicates return entities in ascending key order.
type Service interface {
	NewTransaction(ctx context.Context) (Transaction, error)
	Prepare(ctx context.Context, txn Transaction, q *Query, opts FetchOptions) (Iterator, error)
	// Get returns the entities for the given keys, in the same order, with nil for missing ones.
	Get(ctx context.Context, txn Transaction, keys []*Key) ([]*Entity, error)
	Put(ctx context.Context, txn Transaction, entities []*Entity) error
	Delete(ctx context.Context, txn Transaction, keys []*Key) error
	// AllocateIDs reserves n consecutive ids for the kind and returns the first one.
	AllocateIDs(ctx context.Context, kind string, n int) (int64, error)
}

// SliceIterator iterates over an in-memory slice of entities.
type SliceIterator struct {
	entities []*Entity
	index    int
}

func NewSliceIterator(entities []*Entity) *SliceIterator {
	return &SliceIterator{
		entities: entities,
	}
}

func (it *SliceIterator) Next() (*Entity, error) {
	if it.index >= len(it.entities) {
		return nil, ErrEndOfIterator
	}
	out := it.entities[it.index]
	it.index++
	return out, nil
}

func (it *SliceIterator) Close() error {
	return nil
}

// ApplyFetchOptions slices an already sorted result list by offset and limit.
func ApplyFetchOptions(entities []*Entity, opts FetchOptions) []*Entity {
	if opts.Offset > 0 {
		if opts.Offset >= len(entities) {
			return nil
		}
		entities = entities[opts.Offset:]
	}
	if opts.Limit >= 0 && opts.Limit < len(entities) {
		entities = entities[:opts.Limit]
	}
	return entities
}

// DrainKeys reads the iterator to the end and returns the keys of all entities, closing it afterwards.
func DrainKeys(it Iterator) ([]*Key, error) {
	var keys []*Key
	for {
		e, err := it.Next()
		if errors.Cause(err) == ErrEndOfIterator {
			break
		} else if err != nil {
			it.Close()
			return nil, err
		}
		keys = append(keys, e.Key)
	}
	if err := it.Close(); err != nil {
		return nil, errors.Wrap(err, "couldn't close iterator")
	}
	return keys, nil
}
