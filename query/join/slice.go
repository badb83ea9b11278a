package join

import (
	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
)

// Slice skips the first offset entities of its source and returns at most limit of the rest.
// A negative limit means no limit.
type Slice struct {
	source    datastore.Iterator
	toSkip    int
	remaining int
}

func NewSlice(source datastore.Iterator, offset, limit int) *Slice {
	return &Slice{
		source:    source,
		toSkip:    offset,
		remaining: limit,
	}
}

func (s *Slice) Next() (*datastore.Entity, error) {
	for s.toSkip > 0 {
		if _, err := s.source.Next(); err != nil {
			if errors.Cause(err) == datastore.ErrEndOfIterator {
				s.toSkip = 0
				s.remaining = 0
				return nil, datastore.ErrEndOfIterator
			}
			return nil, errors.Wrap(err, "couldn't skip entity")
		}
		s.toSkip--
	}

	if s.remaining == 0 {
		return nil, datastore.ErrEndOfIterator
	}
	entity, err := s.source.Next()
	if err != nil {
		if errors.Cause(err) == datastore.ErrEndOfIterator {
			s.remaining = 0
			return nil, datastore.ErrEndOfIterator
		}
		return nil, err
	}
	if s.remaining > 0 {
		s.remaining--
	}
	return entity, nil
}

func (s *Slice) Close() error {
	return s.source.Close()
}
