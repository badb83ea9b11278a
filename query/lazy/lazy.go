package lazy

import (
	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

var ErrIndexOutOfRange = errors.New("index out of range")

// Transformer turns a native entity into a result element.
type Transformer[T any] func(entity *datastore.Entity) (T, error)

type state int

const (
	stateNotStarted state = iota
	stateResolving
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateNotStarted:
		return "not started"
	case stateResolving:
		return "resolving"
	case stateExhausted:
		return "exhausted"
	}
	return "unknown"
}

type Option func(options *options)

type options struct {
	trackKeys   bool
	trackCursor bool
	start       *datastore.Cursor
	sorts       []datastore.SortPredicate
}

// WithKeyTracking records the key of every resolved entity, see ResolvedKeys.
func WithKeyTracking() Option {
	return func(options *options) {
		options.trackKeys = true
	}
}

// WithCursor tracks the position after the last resolved entity in the order of the given sorts,
// starting at start, see Cursor.
func WithCursor(start *datastore.Cursor, sorts []datastore.SortPredicate) Option {
	return func(options *options) {
		options.trackCursor = true
		options.start = start
		options.sorts = sorts
	}
}

// LazyResult is a read-only list over a forward-only source.
// Elements are pulled from the source and transformed only when an index at or past them is requested,
// and kept afterwards, so each source entity is read at most once.
// A LazyResult must not be used from multiple goroutines.
type LazyResult[T any] struct {
	source    datastore.Iterator
	transform Transformer[T]
	trackKeys bool

	trackCursor bool
	sorts       []datastore.SortPredicate
	cursor      *datastore.Cursor

	state    state
	resolved []T
	keys     []*datastore.Key
	// pending is an entity read from the source whose transformation failed.
	pending *datastore.Entity
	err     error
	closed  bool
}

func New[T any](source datastore.Iterator, transform Transformer[T], opts ...Option) *LazyResult[T] {
	options := &options{}
	for _, opt := range opts {
		opt(options)
	}

	return &LazyResult[T]{
		source:    source,
		transform: transform,
		trackKeys: options.trackKeys,

		trackCursor: options.trackCursor,
		sorts:       options.sorts,
		cursor:      options.start,
	}
}

// resolveNext resolves one more element. It returns false once the source is exhausted.
func (r *LazyResult[T]) resolveNext() (bool, error) {
	if r.state == stateExhausted {
		return false, nil
	}
	if r.closed {
		return false, errors.New("result is closed")
	}
	r.state = stateResolving

	entity := r.pending
	if entity == nil {
		var err error
		entity, err = r.source.Next()
		if errors.Cause(err) == datastore.ErrEndOfIterator {
			r.state = stateExhausted
			return false, nil
		} else if err != nil {
			r.err = err
			return false, errors.Wrap(err, "couldn't get next entity")
		}
	}

	value, err := r.transform(entity)
	if err != nil {
		r.pending = entity
		r.err = err
		return false, errors.Wrapf(err, "couldn't transform entity %s", entity.Key)
	}
	r.pending = nil
	r.err = nil

	r.resolved = append(r.resolved, value)
	if r.trackKeys {
		r.keys = append(r.keys, entity.Key)
	}
	if r.trackCursor {
		r.cursor = datastore.NewCursor(entity, r.sorts)
	}
	return true, nil
}

// Get returns the element at index i, resolving the elements up to it first.
func (r *LazyResult[T]) Get(i int) (T, error) {
	var zero T
	if i < 0 {
		return zero, errors.Wrapf(ErrIndexOutOfRange, "index %d", i)
	}
	for len(r.resolved) <= i {
		ok, err := r.resolveNext()
		if err != nil {
			return zero, errors.Wrapf(err, "couldn't resolve index %d", len(r.resolved))
		}
		if !ok {
			return zero, errors.Wrapf(ErrIndexOutOfRange, "index %d with size %d", i, len(r.resolved))
		}
	}
	return r.resolved[i], nil
}

// Size resolves the whole result and returns its length.
func (r *LazyResult[T]) Size() (int, error) {
	if err := r.ResolveAll(); err != nil {
		return 0, err
	}
	return len(r.resolved), nil
}

func (r *LazyResult[T]) ResolveAll() error {
	for {
		ok, err := r.resolveNext()
		if err != nil {
			return errors.Wrapf(err, "couldn't resolve index %d", len(r.resolved))
		}
		if !ok {
			return nil
		}
	}
}

// Resolved returns the number of elements resolved so far.
func (r *LazyResult[T]) Resolved() int {
	return len(r.resolved)
}

func (r *LazyResult[T]) Exhausted() bool {
	return r.state == stateExhausted
}

// Err returns the error of the last pull, if it failed.
func (r *LazyResult[T]) Err() error {
	return r.err
}

// ResolvedKeys returns the keys of the resolved entities in resolution order.
// It is empty unless key tracking is enabled.
func (r *LazyResult[T]) ResolvedKeys() []*datastore.Key {
	out := make([]*datastore.Key, len(r.keys))
	copy(out, r.keys)
	return out
}

// Cursor returns the position after the last resolved entity. It is nil without WithCursor,
// and the start position while nothing has been resolved.
func (r *LazyResult[T]) Cursor() *datastore.Cursor {
	return r.cursor
}

func (r *LazyResult[T]) Iterator() *Iterator[T] {
	return &Iterator[T]{
		result: r,
	}
}

// Close releases the source. Resolved elements stay readable.
func (r *LazyResult[T]) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.source.Close(); err != nil {
		return errors.Wrap(err, "couldn't close source iterator")
	}
	return nil
}

// Iterator walks a LazyResult, reusing the elements resolved by earlier reads.
type Iterator[T any] struct {
	result *LazyResult[T]
	index  int
}

// Next returns datastore.ErrEndOfIterator after the last element.
func (it *Iterator[T]) Next() (T, error) {
	value, err := it.result.Get(it.index)
	if err != nil {
		if errors.Cause(err) == ErrIndexOutOfRange {
			return value, datastore.ErrEndOfIterator
		}
		return value, err
	}
	it.index++
	return value, nil
}

// Index returns the index of the element the next call to Next returns.
func (it *Iterator[T]) Index() int {
	return it.index
}
