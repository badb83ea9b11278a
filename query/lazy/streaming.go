package lazy

import (
	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

// KeySink receives the keys of a fully read result.
type KeySink interface {
	Put(cacheKey string, keys []*datastore.Key)
}

// StreamingResult is a LazyResult which, when it has a KeySink, reads the rest of its source
// on close and hands the keys of all results to the sink under the given cache key.
// Without a sink, closing stops reading from the source.
type StreamingResult[T any] struct {
	*LazyResult[T]
	sink     KeySink
	cacheKey string
}

// NewStreaming creates a StreamingResult. A nil sink disables key caching.
func NewStreaming[T any](source datastore.Iterator, transform Transformer[T], sink KeySink, cacheKey string, opts ...Option) *StreamingResult[T] {
	if sink != nil {
		opts = append(opts, WithKeyTracking())
	}
	return &StreamingResult[T]{
		LazyResult: New(source, transform, opts...),
		sink:       sink,
		cacheKey:   cacheKey,
	}
}

func (r *StreamingResult[T]) Close() error {
	if r.closed {
		return nil
	}

	// A failed pull leaves the result incomplete, so its keys must not be cached.
	if r.sink != nil && r.Err() == nil {
		if err := r.ResolveAll(); err != nil {
			if closeErr := r.LazyResult.Close(); closeErr != nil {
				return errors.Wrapf(err, "couldn't resolve result before closing, closing failed too: %s", closeErr)
			}
			return errors.Wrap(err, "couldn't resolve result before closing")
		}
		r.sink.Put(r.cacheKey, r.ResolvedKeys())
	}

	return r.LazyResult.Close()
}

// EndCursor resolves the whole result and returns the position after its last entity,
// or the start position if it is empty. It is nil for results created without WithCursor.
func (r *StreamingResult[T]) EndCursor() (*datastore.Cursor, error) {
	if !r.trackCursor {
		return nil, nil
	}
	if err := r.ResolveAll(); err != nil {
		return nil, errors.Wrap(err, "couldn't resolve result for its end cursor")
	}
	return r.cursor, nil
}
